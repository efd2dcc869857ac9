// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"math"
	"time"

	"github.com/sweeney/pv-router/internal/control"
)

// Topic is the MQTT topic for periodic telemetry.
const Topic = "energy/pvrouter/telemetry"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "energy/pvrouter/system"

// Publisher publishes router data to MQTT.
type Publisher interface {
	// Publish sends one telemetry record to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(t control.Telemetry) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the telemetry message payload structure.
type Payload struct {
	PVRouter TelemetryPayload `json:"pvrouter"`
}

// TelemetryPayload contains one datalogging period.
type TelemetryPayload struct {
	Timestamp     string         `json:"timestamp"`
	GridW         float64        `json:"grid_w"`
	DivertedW     float64        `json:"diverted_w"`
	Vrms          float64        `json:"vrms"`
	DivertedWh    uint32         `json:"diverted_wh"`
	BucketJ       float64        `json:"bucket_j"`
	Temperatures  []*float64     `json:"temperatures,omitempty"`
	AbsenceS      int64          `json:"absence_s"`
	OffPeak       bool           `json:"off_peak"`
	DiversionOff  bool           `json:"diversion_off"`
	Loads         []LoadPayload  `json:"loads"`
	Priorities    []int          `json:"priorities"`
	RelayAverageW *int32         `json:"relay_average_w,omitempty"`
	Relays        []RelayPayload `json:"relays,omitempty"`
}

// LoadPayload reports one load.
type LoadPayload struct {
	ID     int     `json:"id"`
	OnPct  float64 `json:"on_pct"`
	Forced bool    `json:"forced,omitempty"`
}

// RelayPayload reports one relay.
type RelayPayload struct {
	Pin       int   `json:"pin"`
	On        bool  `json:"on"`
	DurationS int64 `json:"duration_s"`
}

// round1 keeps one decimal; sensor resolution does not justify more.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// FormatPayload creates the JSON payload for a telemetry record.
func FormatPayload(t control.Telemetry) ([]byte, error) {
	p := TelemetryPayload{
		Timestamp:    t.Timestamp.UTC().Format(time.RFC3339),
		GridW:        round1(t.GridW),
		DivertedW:    round1(t.DivertedW),
		Vrms:         round1(t.Vrms),
		DivertedWh:   t.DivertedWh,
		BucketJ:      round1(t.BucketJ),
		AbsenceS:     int64(t.Absence / time.Second),
		OffPeak:      t.OffPeak,
		DiversionOff: t.DiversionOff,
		Loads:        []LoadPayload{},
		Priorities:   []int{},
	}
	for _, v := range t.Temperatures {
		if v == nil {
			p.Temperatures = append(p.Temperatures, nil)
			continue
		}
		r := round1(*v)
		p.Temperatures = append(p.Temperatures, &r)
	}
	for _, l := range t.Loads {
		p.Loads = append(p.Loads, LoadPayload{ID: l.ID, OnPct: round1(l.OnPercent), Forced: l.Forced})
	}
	p.Priorities = append(p.Priorities, t.Priorities...)
	if len(t.Relays) > 0 {
		avg := t.RelayAverageW
		p.RelayAverageW = &avg
		for _, r := range t.Relays {
			p.Relays = append(p.Relays, RelayPayload{Pin: r.Pin, On: r.On, DurationS: int64(r.Duration / time.Second)})
		}
	}
	return json.Marshal(Payload{PVRouter: p})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

var _ control.TelemetrySink = Publisher(nil)
