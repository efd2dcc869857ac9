package logic

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

// baselined returns a detector with every input OFF and baseline established.
func baselined(t *testing.T) *Detector {
	t.Helper()
	d := NewDetector(250*time.Millisecond, t0)
	d.Process(Input{Time: at(0)})
	d.Process(Input{Time: at(250)})
	if !d.IsBaselined() {
		t.Fatal("detector should be baselined")
	}
	return d
}

func TestNewDetector(t *testing.T) {
	d := NewDetector(250*time.Millisecond, t0)
	if d == nil {
		t.Fatal("NewDetector returned nil")
	}
	if d.debounceDuration != 250*time.Millisecond {
		t.Errorf("expected debounce duration 250ms, got %v", d.debounceDuration)
	}
	if d.baselined {
		t.Error("new detector should not be baselined")
	}
	if !d.lastHeartbeat.Equal(t0) {
		t.Errorf("expected lastHeartbeat %v, got %v", t0, d.lastHeartbeat)
	}
}

func TestBaselineEstablishment(t *testing.T) {
	d := NewDetector(250*time.Millisecond, t0)

	events := d.Process(Input{Override: true, Time: at(0)})
	if len(events) != 0 {
		t.Errorf("expected no events during baseline, got %d", len(events))
	}
	if d.IsBaselined() {
		t.Error("should not be baselined after first sample")
	}

	d.Process(Input{Override: true, Time: at(200)})
	if d.IsBaselined() {
		t.Error("should not be baselined before debounce period")
	}

	events = d.Process(Input{Override: true, Time: at(250)})
	if len(events) != 0 {
		t.Errorf("expected no events at baseline establishment, got %d", len(events))
	}
	if !d.IsBaselined() {
		t.Error("should be baselined after debounce period")
	}
	if d.Stable(InputOverride) != StateOn {
		t.Errorf("override: got %s, want ON", d.Stable(InputOverride))
	}
	if d.Stable(InputOffPeak) != StateOff {
		t.Errorf("off-peak: got %s, want OFF", d.Stable(InputOffPeak))
	}
}

func TestBaselineResetOnChange(t *testing.T) {
	d := NewDetector(250*time.Millisecond, t0)

	d.Process(Input{Time: at(0)})
	d.Process(Input{OffPeak: true, Time: at(100)})
	d.Process(Input{OffPeak: true, Time: at(250)})
	if d.IsBaselined() {
		t.Error("baseline should restart when an input changes")
	}

	d.Process(Input{OffPeak: true, Time: at(350)})
	if !d.IsBaselined() {
		t.Error("should be baselined 250ms after the last change")
	}
	if !d.Asserted(InputOffPeak) {
		t.Error("off-peak should be asserted")
	}
}

func TestStableBeforeBaseline(t *testing.T) {
	d := NewDetector(250*time.Millisecond, t0)
	if d.Stable(InputOverride) != "" {
		t.Errorf("expected empty state before baseline, got %q", d.Stable(InputOverride))
	}
	if d.Asserted(InputOverride) {
		t.Error("nothing is asserted before baseline")
	}
}

func TestTransitionEvents(t *testing.T) {
	tests := []struct {
		name  string
		input Input
		id    InputID
		on    EventType
		off   EventType
	}{
		{"override", Input{Override: true}, InputOverride, EventOverrideOn, EventOverrideOff},
		{"diversion", Input{DiversionOff: true}, InputDiversionOff, EventDiversionOff, EventDiversionOn},
		{"rotate", Input{Rotate: true}, InputRotate, EventRotatePressed, EventRotateReleased},
		{"off-peak", Input{OffPeak: true}, InputOffPeak, EventOffPeakStart, EventOffPeakEnd},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := baselined(t)

			in := tc.input
			in.Time = at(300)
			if ev := d.Process(in); len(ev) != 0 {
				t.Fatalf("expected no event before debounce, got %v", ev)
			}
			in.Time = at(550)
			ev := d.Process(in)
			if len(ev) != 1 {
				t.Fatalf("expected 1 event, got %d", len(ev))
			}
			if ev[0].Type != tc.on || ev[0].Input != tc.id || ev[0].State != StateOn {
				t.Errorf("event: got %+v, want %s", ev[0], tc.on)
			}

			d.Process(Input{Time: at(600)})
			ev = d.Process(Input{Time: at(850)})
			if len(ev) != 1 || ev[0].Type != tc.off {
				t.Errorf("release: got %v, want %s", ev, tc.off)
			}
		})
	}
}

func TestBounceShorterThanDebounce(t *testing.T) {
	d := baselined(t)

	d.Process(Input{Override: true, Time: at(300)})
	d.Process(Input{Time: at(400)})
	events := d.Process(Input{Time: at(700)})
	if len(events) != 0 {
		t.Errorf("expected bounce to be rejected, got %d events", len(events))
	}
	if d.Asserted(InputOverride) {
		t.Error("override should not be asserted after a bounce")
	}
}

func TestSimultaneousTransitions(t *testing.T) {
	d := baselined(t)

	in := Input{Override: true, OffPeak: true, Time: at(300)}
	d.Process(in)
	in.Time = at(550)
	events := d.Process(in)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != EventOverrideOn || events[1].Type != EventOffPeakStart {
		t.Errorf("events in input order: got %s, %s", events[0].Type, events[1].Type)
	}
}

func TestZeroDebounce(t *testing.T) {
	d := NewDetector(0, t0)
	d.Process(Input{Time: at(0)})
	if !d.IsBaselined() {
		t.Fatal("zero debounce should baseline on the first sample")
	}
	events := d.Process(Input{Rotate: true, Time: at(1)})
	if len(events) != 1 || events[0].Type != EventRotatePressed {
		t.Errorf("got %v, want ROTATE_PRESSED", events)
	}
}

func TestEventTypeForTransition(t *testing.T) {
	tests := []struct {
		id   InputID
		to   State
		want EventType
	}{
		{InputOverride, StateOn, EventOverrideOn},
		{InputOverride, StateOff, EventOverrideOff},
		{InputDiversionOff, StateOn, EventDiversionOff},
		{InputDiversionOff, StateOff, EventDiversionOn},
		{InputRotate, StateOn, EventRotatePressed},
		{InputRotate, StateOff, EventRotateReleased},
		{InputOffPeak, StateOn, EventOffPeakStart},
		{InputOffPeak, StateOff, EventOffPeakEnd},
	}
	for _, tc := range tests {
		if got := eventTypeForTransition(tc.id, tc.to); got != tc.want {
			t.Errorf("eventTypeForTransition(%s, %s): got %s, want %s", tc.id, tc.to, got, tc.want)
		}
	}
}

func TestEventCountsIncrementOnTransition(t *testing.T) {
	d := baselined(t)

	ms := 300
	press := func(in Input) {
		for i := 0; i < 2; i++ {
			in.Time = at(ms)
			d.Process(in)
			ms += 250
		}
	}
	press(Input{Rotate: true})
	press(Input{})
	press(Input{Rotate: true})
	press(Input{Rotate: true, OffPeak: true})

	c := d.EventCountsSnapshot()
	if c.Rotations != 2 {
		t.Errorf("Rotations: got %d, want 2", c.Rotations)
	}
	if c.OffPeakStarts != 1 {
		t.Errorf("OffPeakStarts: got %d, want 1", c.OffPeakStarts)
	}
	if c.OverrideOn != 0 {
		t.Errorf("OverrideOn: got %d, want 0", c.OverrideOn)
	}
}

func TestCheckHeartbeatDisabledWithZeroInterval(t *testing.T) {
	d := baselined(t)
	if hb := d.CheckHeartbeat(t0.Add(time.Hour), 0); hb != nil {
		t.Error("expected nil heartbeat with zero interval")
	}
}

func TestCheckHeartbeatBeforeBaseline(t *testing.T) {
	d := NewDetector(250*time.Millisecond, t0)
	if hb := d.CheckHeartbeat(t0.Add(time.Hour), time.Minute); hb != nil {
		t.Error("expected nil heartbeat before baseline")
	}
}

func TestCheckHeartbeatInterval(t *testing.T) {
	d := baselined(t)

	if hb := d.CheckHeartbeat(t0.Add(14*time.Minute), 15*time.Minute); hb != nil {
		t.Error("expected nil heartbeat before interval")
	}
	hb := d.CheckHeartbeat(t0.Add(15*time.Minute), 15*time.Minute)
	if hb == nil {
		t.Fatal("expected heartbeat at interval")
	}
	if hb.Uptime != 15*time.Minute {
		t.Errorf("uptime: got %v, want 15m", hb.Uptime)
	}
	if again := d.CheckHeartbeat(t0.Add(20*time.Minute), 15*time.Minute); again != nil {
		t.Error("heartbeat should be measured from the previous one")
	}
}
