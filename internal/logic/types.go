// Package logic debounces the router's control inputs (override switch,
// diversion switch, rotation button and off-peak signal) and turns stable
// transitions into events.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// State represents the logical state of a control input.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

// InputID identifies a control input.
type InputID int

const (
	InputOverride InputID = iota
	InputDiversionOff
	InputRotate
	InputOffPeak

	numInputs
)

func (id InputID) String() string {
	switch id {
	case InputOverride:
		return "override"
	case InputDiversionOff:
		return "diversion_off"
	case InputRotate:
		return "rotate"
	case InputOffPeak:
		return "off_peak"
	}
	return "unknown"
}

// EventType represents a state transition event.
type EventType string

const (
	EventOverrideOn     EventType = "OVERRIDE_ON"
	EventOverrideOff    EventType = "OVERRIDE_OFF"
	EventDiversionOff   EventType = "DIVERSION_OFF"
	EventDiversionOn    EventType = "DIVERSION_ON"
	EventRotatePressed  EventType = "ROTATE_PRESSED"
	EventRotateReleased EventType = "ROTATE_RELEASED"
	EventOffPeakStart   EventType = "OFF_PEAK_START"
	EventOffPeakEnd     EventType = "OFF_PEAK_END"
)

// Event represents a debounced transition of one input.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Input     InputID
	State     State
}

// ChannelState tracks debounce state for a single input.
type ChannelState struct {
	// Current stable (debounced) state
	Stable State
	// Pending state during debounce
	Pending State
	// Time when pending state was first observed
	PendingSince time.Time
	// Whether we have established a baseline
	Baselined bool
}

// Input represents a single sample of logical input states.
// true = asserted; inputs are active low on the board and already inverted.
type Input struct {
	Override     bool
	DiversionOff bool
	Rotate       bool
	OffPeak      bool
	Time         time.Time
}

func (in Input) value(id InputID) bool {
	switch id {
	case InputOverride:
		return in.Override
	case InputDiversionOff:
		return in.DiversionOff
	case InputRotate:
		return in.Rotate
	case InputOffPeak:
		return in.OffPeak
	}
	return false
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	OverrideOn    int
	OverrideOff   int
	DiversionOff  int
	DiversionOn   int
	Rotations     int
	OffPeakStarts int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}
