package modem

import (
	"io"
	"sync"
)

// TestTransport is a test helper that simulates a blocking transport using channels.
// This is needed because the Loop's reader goroutine continuously reads from the transport,
// and we need reads to block until data is available (like a real serial port would).
//
// Writes are recorded. A responder installed with OnWrite plays the modem:
// it sees every write and returns the lines the modem answers with.
type TestTransport struct {
	mu       sync.Mutex
	readChan chan []byte
	// done is closed by Close. readChan is never closed so that senders
	// cannot panic or block past Close.
	done    chan struct{}
	closed  bool
	written []string
	respond func(written string) []string

	// rest holds the part of a queued chunk that did not fit into the
	// caller's buffer. Only Read touches it.
	rest []byte
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		readChan: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
}

// OnWrite installs fn as the modem side of the conversation.
func (t *TestTransport) OnWrite(fn func(written string) []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.respond = fn
}

// Written returns every write so far, in order.
func (t *TestTransport) Written() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.written...)
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	t.written = append(t.written, string(p))
	respond := t.respond
	t.mu.Unlock()

	if respond != nil {
		for _, line := range respond(string(p)) {
			t.SendData(line)
		}
	}
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	if len(t.rest) == 0 {
		// Queued data is delivered before EOF.
		select {
		case t.rest = <-t.readChan:
		default:
			select {
			case t.rest = <-t.readChan:
			case <-t.done:
				return 0, io.EOF
			}
		}
	}
	n = copy(p, t.rest)
	t.rest = t.rest[n:]
	return n, nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	return nil
}

// SendData queues data to be read by the transport.
// This simulates receiving data from the modem.
// It blocks while the read buffer is full and returns once the transport
// is closed.
func (t *TestTransport) SendData(data string) {
	select {
	case t.readChan <- []byte(data):
	case <-t.done:
	}
}
