package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"watchible.io/modemd/modem"
)

// Report is the telemetry record published to the state topic.
type Report struct {
	ID             string    `json:"id"`
	CCID           string    `json:"ccid"`
	Alarm          bool      `json:"alarm"`
	Temperature    *float64  `json:"temperature"`
	BatteryVoltage string    `json:"battery_voltage"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewReport assembles a report from the modem identity. Temperature is left
// out (null) when it cannot be read.
func NewReport(id modem.Identity, alarm bool, temperature *float64, now time.Time) Report {
	return Report{
		ID:             uuid.NewString(),
		CCID:           id.CCID,
		Alarm:          alarm,
		Temperature:    temperature,
		BatteryVoltage: id.Battery,
		Timestamp:      now.UTC(),
	}
}

// Marshal encodes the report as the publish payload.
func (r Report) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// ReadTemperature reads a sysfs thermal zone, which reports millidegrees
// Celsius.
func ReadTemperature(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	milli, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return float64(milli) / 1000, nil
}
