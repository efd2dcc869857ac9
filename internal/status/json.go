package status

import (
	"encoding/json"
	"math"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Ready         bool         `json:"ready"`
	Running       bool         `json:"running"`
	OffPeak       bool         `json:"off_peak"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Energy        EnergyJSON   `json:"energy"`
	Power         *PowerJSON   `json:"power,omitempty"`
	Counts        CountsJSON   `json:"event_counts"`
	Faults        FaultsJSON   `json:"faults"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// EnergyJSON is the display state.
type EnergyJSON struct {
	Active           bool   `json:"active"`
	DivertedWh       uint32 `json:"diverted_wh"`
	DiversionEnabled bool   `json:"diversion_enabled"`
	LoadForced       bool   `json:"load_forced"`
}

// PowerJSON summarises the last datalogging period.
type PowerJSON struct {
	Timestamp    string     `json:"timestamp"`
	GridW        float64    `json:"grid_w"`
	DivertedW    float64    `json:"diverted_w"`
	Vrms         float64    `json:"vrms"`
	Temperatures []*float64 `json:"temperatures,omitempty"`
	LoadsOnPct   []float64  `json:"loads_on_pct"`
	Priorities   []int      `json:"priorities"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	OverrideOn    int `json:"override_on"`
	OverrideOff   int `json:"override_off"`
	DiversionOff  int `json:"diversion_off"`
	DiversionOn   int `json:"diversion_on"`
	Rotations     int `json:"rotations"`
	OffPeakStarts int `json:"off_peak_starts"`
}

// FaultsJSON is the JSON representation of the fast-path fault counters.
type FaultsJSON struct {
	Sequence        uint64 `json:"sequence"`
	PinWrite        uint64 `json:"pin_write"`
	DroppedDatalogs uint64 `json:"dropped_datalogs"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs          int64  `json:"poll_ms"`
	DebounceMs      int64  `json:"debounce_ms"`
	HeartbeatMs     int64  `json:"heartbeat_ms"`
	DatalogPeriodMs int64  `json:"datalog_period_ms"`
	Broker          string `json:"broker"`
	HTTPAddr        string `json:"http_addr"`
	WSBroker        string `json:"ws_broker,omitempty"`
	ADC             string `json:"adc"`
	Loads           int    `json:"loads"`
	Rotation        string `json:"rotation"`
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Ready:         snap.Baselined,
		Running:       snap.Running,
		OffPeak:       snap.OffPeak,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Energy: EnergyJSON{
			Active:           snap.Energy.Active,
			DivertedWh:       snap.Energy.DivertedWh,
			DiversionEnabled: snap.Energy.DiversionEnabled,
			LoadForced:       snap.Energy.LoadForced,
		},
		Counts: CountsJSON{
			OverrideOn:    snap.Counts.OverrideOn,
			OverrideOff:   snap.Counts.OverrideOff,
			DiversionOff:  snap.Counts.DiversionOff,
			DiversionOn:   snap.Counts.DiversionOn,
			Rotations:     snap.Counts.Rotations,
			OffPeakStarts: snap.Counts.OffPeakStarts,
		},
		Faults: FaultsJSON{
			Sequence:        snap.Faults.Sequence,
			PinWrite:        snap.Faults.PinWrite,
			DroppedDatalogs: snap.Faults.DroppedDatalogs,
		},
		Config: ConfigJSON{
			PollMs:          snap.Config.PollMs,
			DebounceMs:      snap.Config.DebounceMs,
			HeartbeatMs:     snap.Config.HeartbeatMs,
			DatalogPeriodMs: snap.Config.DatalogPeriodMs,
			Broker:          snap.Config.Broker,
			HTTPAddr:        snap.Config.HTTPAddr,
			WSBroker:        snap.Config.WSBroker,
			ADC:             snap.Config.ADC,
			Loads:           snap.Config.Loads,
			Rotation:        snap.Config.Rotation,
		},
	}

	if tel := snap.Telemetry; tel != nil {
		p := &PowerJSON{
			Timestamp:    tel.Timestamp.UTC().Format(time.RFC3339),
			GridW:        round1(tel.GridW),
			DivertedW:    round1(tel.DivertedW),
			Vrms:         round1(tel.Vrms),
			Temperatures: tel.Temperatures,
			LoadsOnPct:   []float64{},
			Priorities:   append([]int{}, tel.Priorities...),
		}
		for _, l := range tel.Loads {
			p.LoadsOnPct = append(p.LoadsOnPct, round1(l.OnPercent))
		}
		inner.Power = p
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
