package router

import "testing"

type selectorLog []Channel

func (s *selectorLog) Select(next Channel) { *s = append(*s, next) }

func TestSamplerChannelOrder(t *testing.T) {
	e, err := NewEngine(DefaultParams(), nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	var sel selectorLog
	s := NewSampler(e, &sel)

	for i := 0; i < 6; i++ {
		s.OnConversion(512)
	}
	want := []Channel{ChannelGrid, ChannelDiverted, ChannelVoltage, ChannelGrid, ChannelDiverted, ChannelVoltage}
	if len(sel) != len(want) {
		t.Fatalf("selections: got %v, want %v", sel, want)
	}
	for i := range want {
		if sel[i] != want[i] {
			t.Errorf("selection %d: got %v, want %v", i, sel[i], want[i])
		}
	}
	if s.Expected() != ChannelVoltage {
		t.Errorf("expected channel: got %v, want voltage", s.Expected())
	}
}

func TestSamplerResync(t *testing.T) {
	e, err := NewEngine(DefaultParams(), nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	s := NewSampler(e, nil)

	s.Resync(ChannelVoltage)
	if got := e.Faults().Sequence; got != 0 {
		t.Errorf("resync on the expected channel: got %d faults, want 0", got)
	}

	s.Resync(ChannelDiverted)
	if got := e.Faults().Sequence; got != 1 {
		t.Errorf("resync mismatch: got %d faults, want 1", got)
	}
	if s.Expected() != ChannelDiverted {
		t.Errorf("expected channel: got %v, want diverted", s.Expected())
	}
}

func TestSamplerRecoversFromCorruptIndex(t *testing.T) {
	e, err := NewEngine(DefaultParams(), nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	s := NewSampler(e, nil)
	s.index = 7

	s.OnConversion(512)
	if s.Expected() != ChannelVoltage {
		t.Errorf("expected channel: got %v, want voltage", s.Expected())
	}
	if e.Faults().Sequence != 1 {
		t.Errorf("sequence faults: got %d, want 1", e.Faults().Sequence)
	}
}
