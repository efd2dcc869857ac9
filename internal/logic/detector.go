package logic

import "time"

// Detector tracks input states and detects debounced transitions.
type Detector struct {
	debounceDuration time.Duration
	inputs           [numInputs]ChannelState
	baselined        bool
	startTime        time.Time
	eventCounts      EventCounts
	lastHeartbeat    time.Time
}

// NewDetector creates a new transition detector with the given debounce duration.
// The startTime is used for calculating uptime in heartbeat events.
func NewDetector(debounceDuration time.Duration, startTime time.Time) *Detector {
	return &Detector{
		debounceDuration: debounceDuration,
		startTime:        startTime,
		lastHeartbeat:    startTime,
	}
}

// Process takes a new input sample and returns any events that should be emitted.
// Events are only returned after baseline is established and on state transitions,
// in InputID order when several inputs settle on the same sample.
func (d *Detector) Process(input Input) []Event {
	var changed [numInputs]bool
	for id := InputID(0); id < numInputs; id++ {
		changed[id] = d.processChannel(&d.inputs[id], boolToState(input.value(id)), input.Time)
	}

	if !d.baselined {
		d.baselined = true
		for id := range d.inputs {
			if !d.inputs[id].Baselined {
				d.baselined = false
			}
		}
		return nil // No events until baseline established
	}

	var events []Event
	for id := InputID(0); id < numInputs; id++ {
		if !changed[id] {
			continue
		}
		st := d.inputs[id].Stable
		ev := Event{
			Timestamp: input.Time,
			Type:      eventTypeForTransition(id, st),
			Input:     id,
			State:     st,
		}
		d.count(ev.Type)
		events = append(events, ev)
	}
	return events
}

// processChannel handles debounce logic for a single input.
// Returns true if the stable state changed.
func (d *Detector) processChannel(ch *ChannelState, newState State, now time.Time) bool {
	// First time seeing this input
	if !ch.Baselined {
		if ch.Pending == "" || ch.Pending != newState {
			// Start observing, or restart after a change during baseline
			ch.Pending = newState
			ch.PendingSince = now
			if d.debounceDuration > 0 {
				return false
			}
		}

		if now.Sub(ch.PendingSince) >= d.debounceDuration {
			ch.Stable = newState
			ch.Baselined = true
			ch.Pending = ""
		}
		return false
	}

	if newState == ch.Stable {
		ch.Pending = ""
		return false
	}

	if ch.Pending != newState {
		ch.Pending = newState
		ch.PendingSince = now
	}

	if now.Sub(ch.PendingSince) >= d.debounceDuration {
		ch.Stable = newState
		ch.Pending = ""
		return true
	}
	return false
}

func (d *Detector) count(t EventType) {
	switch t {
	case EventOverrideOn:
		d.eventCounts.OverrideOn++
	case EventOverrideOff:
		d.eventCounts.OverrideOff++
	case EventDiversionOff:
		d.eventCounts.DiversionOff++
	case EventDiversionOn:
		d.eventCounts.DiversionOn++
	case EventRotatePressed:
		d.eventCounts.Rotations++
	case EventOffPeakStart:
		d.eventCounts.OffPeakStarts++
	}
}

func boolToState(b bool) State {
	if b {
		return StateOn
	}
	return StateOff
}

func eventTypeForTransition(id InputID, to State) EventType {
	on := to == StateOn
	switch id {
	case InputOverride:
		if on {
			return EventOverrideOn
		}
		return EventOverrideOff
	case InputDiversionOff:
		if on {
			return EventDiversionOff
		}
		return EventDiversionOn
	case InputRotate:
		if on {
			return EventRotatePressed
		}
		return EventRotateReleased
	default:
		if on {
			return EventOffPeakStart
		}
		return EventOffPeakEnd
	}
}

// IsBaselined returns whether the detector has established a baseline.
func (d *Detector) IsBaselined() bool {
	return d.baselined
}

// Stable returns the debounced state of one input. It is empty before the
// input is baselined.
func (d *Detector) Stable(id InputID) State {
	return d.inputs[id].Stable
}

// Asserted reports whether an input is debounced ON.
func (d *Detector) Asserted(id InputID) bool {
	return d.inputs[id].Stable == StateOn
}

// EventCountsSnapshot returns a copy of the event counters.
func (d *Detector) EventCountsSnapshot() EventCounts {
	return d.eventCounts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if not yet baselined, if the
// interval has not elapsed, or if interval is <= 0 (disabled).
func (d *Detector) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if !d.baselined {
		return nil
	}

	if now.Sub(d.lastHeartbeat) < interval {
		return nil
	}

	d.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(d.startTime),
		Counts:    d.eventCounts,
	}
}
