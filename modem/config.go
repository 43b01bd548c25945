package modem

import (
	"log/slog"
	"time"
)

// EventHandler handles the payload of one kind of status line. A returned
// error is logged and counted; it never stops the Loop.
type EventHandler func(payload string) error

// Config holds the modem configuration. Build one with NewConfigBuilder.
type Config struct {
	dialer        Dialer
	pins          Pins
	logger        *slog.Logger
	metrics       *Metrics
	atTimeout     time.Duration
	pollInterval  time.Duration
	idleInterval  time.Duration
	maxLineLength int
	alarmWindow   time.Duration
	wakePulse     time.Duration
	powerPulse    time.Duration
	payloadDelay  time.Duration
	dialect       Dialect
	connectID     int
	handlers      map[string]EventHandler
	onStateChange func(from, to State)
	onMessage     func(Message)
	onPublished   func(PublishResult)
	onConnect     func()
	onDisconnect  func(code int)
	now           func() time.Time
}

func (c *Config) validate() error {
	if c.dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.atTimeout <= 0 {
		c.atTimeout = 5 * time.Second
	}
	if c.pollInterval <= 0 {
		c.pollInterval = time.Second
	}
	if c.idleInterval <= 0 {
		c.idleInterval = 100 * time.Millisecond
	}
	if c.alarmWindow <= 0 {
		c.alarmWindow = time.Hour
	}
	if c.wakePulse <= 0 {
		c.wakePulse = time.Second
	}
	if c.powerPulse <= 0 {
		c.powerPulse = time.Second
	}
	if c.now == nil {
		c.now = time.Now
	}
}

// ConfigBuilder assembles a Config.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder returns a builder with every option at its default.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

// WithDialer sets how the transport is opened. Required.
func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.dialer = d
	return b
}

// WithPins sets the GPIO collaborator used for power sequencing, the wake
// pulse and the alarm interrupt.
func (b *ConfigBuilder) WithPins(p Pins) *ConfigBuilder {
	b.config.pins = p
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.logger = l
	return b
}

func (b *ConfigBuilder) WithMetrics(m *Metrics) *ConfigBuilder {
	b.config.metrics = m
	return b
}

// WithATTimeout sets the deadline applied to a command when the caller's
// context has none. Defaults to 5s.
func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.atTimeout = d
	return b
}

// WithPollInterval sets the default interval between WaitFor checks.
// Defaults to 1s.
func (b *ConfigBuilder) WithPollInterval(d time.Duration) *ConfigBuilder {
	b.config.pollInterval = d
	return b
}

// WithIdleInterval sets how long the Loop sleeps when the transport had no
// data. Defaults to 100ms.
func (b *ConfigBuilder) WithIdleInterval(d time.Duration) *ConfigBuilder {
	b.config.idleInterval = d
	return b
}

func (b *ConfigBuilder) WithMaxLineLength(n int) *ConfigBuilder {
	b.config.maxLineLength = n
	return b
}

// WithAlarmWindow sets the refractory window of the alarm latch. Defaults
// to one hour.
func (b *ConfigBuilder) WithAlarmWindow(d time.Duration) *ConfigBuilder {
	b.config.alarmWindow = d
	return b
}

func (b *ConfigBuilder) WithWakePulse(d time.Duration) *ConfigBuilder {
	b.config.wakePulse = d
	return b
}

func (b *ConfigBuilder) WithPowerPulse(d time.Duration) *ConfigBuilder {
	b.config.powerPulse = d
	return b
}

// WithPayloadLineDelay paces payload uploads: the payload is written one
// line at a time with this delay in between. The BC66 drops certificate
// bytes when they arrive faster than it can store them.
func (b *ConfigBuilder) WithPayloadLineDelay(d time.Duration) *ConfigBuilder {
	b.config.payloadDelay = d
	return b
}

func (b *ConfigBuilder) WithConnDialect(d Dialect) *ConfigBuilder {
	b.config.dialect = d
	return b
}

// WithConnectID sets the MQTT connection index used by the MQTT helpers.
func (b *ConfigBuilder) WithConnectID(id int) *ConfigBuilder {
	b.config.connectID = id
	return b
}

// WithEventHandler registers fn for status lines named name, replacing the
// built-in handler if there is one.
func (b *ConfigBuilder) WithEventHandler(name string, fn EventHandler) *ConfigBuilder {
	if b.config.handlers == nil {
		b.config.handlers = make(map[string]EventHandler)
	}
	b.config.handlers[name] = fn
	return b
}

// OnStateChange is called from the Loop after every state transition.
// Callbacks must not block and must not issue commands.
func (b *ConfigBuilder) OnStateChange(fn func(from, to State)) *ConfigBuilder {
	b.config.onStateChange = fn
	return b
}

func (b *ConfigBuilder) OnMessage(fn func(Message)) *ConfigBuilder {
	b.config.onMessage = fn
	return b
}

func (b *ConfigBuilder) OnPublished(fn func(PublishResult)) *ConfigBuilder {
	b.config.onPublished = fn
	return b
}

func (b *ConfigBuilder) OnConnect(fn func()) *ConfigBuilder {
	b.config.onConnect = fn
	return b
}

func (b *ConfigBuilder) OnDisconnect(fn func(code int)) *ConfigBuilder {
	b.config.onDisconnect = fn
	return b
}

// WithClock replaces time.Now, mainly for alarm debounce tests.
func (b *ConfigBuilder) WithClock(now func() time.Time) *ConfigBuilder {
	b.config.now = now
	return b
}

// Build validates the configuration and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.setDefaults()
	return c, nil
}
