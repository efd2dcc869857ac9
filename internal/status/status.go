// Package status provides a thread-safe status tracker for the pv-router daemon.
// It is read by HTTP handlers and lifecycle events, and doubles as the energy display.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/pv-router/internal/control"
	"github.com/sweeney/pv-router/internal/logic"
	"github.com/sweeney/pv-router/internal/router"
)

// NetworkInfo contains network state.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs          int64
	DebounceMs      int64
	HeartbeatMs     int64
	DatalogPeriodMs int64
	Broker          string
	HTTPAddr        string
	WSBroker        string // Websocket broker URL for browser MQTT (empty = disabled)
	ADC             string
	Loads           int
	Rotation        string
}

// Energy is the last display update.
type Energy struct {
	Active           bool
	DivertedWh       uint32
	DiversionEnabled bool
	LoadForced       bool
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Baselined     bool
	Running       bool
	OffPeak       bool
	Counts        logic.EventCounts
	Energy        Energy
	Telemetry     *control.Telemetry
	Faults        router.Faults
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets the input and engine state. Called from runLoop on every tick.
func (t *Tracker) Update(baselined, running, offPeak bool, counts logic.EventCounts, faults router.Faults) {
	t.mu.Lock()
	t.snap.Baselined = baselined
	t.snap.Running = running
	t.snap.OffPeak = offPeak
	t.snap.Counts = counts
	t.snap.Faults = faults
	t.mu.Unlock()
}

// ShowEnergy records a display update.
func (t *Tracker) ShowEnergy(active bool, wh uint32, diversionEnabled, loadForced bool) {
	t.mu.Lock()
	t.snap.Energy = Energy{
		Active:           active,
		DivertedWh:       wh,
		DiversionEnabled: diversionEnabled,
		LoadForced:       loadForced,
	}
	t.mu.Unlock()
}

// SetTelemetry stores the latest telemetry record.
func (t *Tracker) SetTelemetry(tel control.Telemetry) {
	// copy the slices so the caller may reuse its record
	tel.Temperatures = append([]*float64(nil), tel.Temperatures...)
	tel.Loads = append([]control.LoadTelemetry(nil), tel.Loads...)
	tel.Priorities = append([]int(nil), tel.Priorities...)
	tel.Relays = append([]control.RelayTelemetry(nil), tel.Relays...)
	t.mu.Lock()
	t.snap.Telemetry = &tel
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

var _ control.Display = (*Tracker)(nil)
