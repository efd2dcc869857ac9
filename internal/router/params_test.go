package router

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultParamsValid(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("DefaultParams: %v", err)
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(p *Params)
		want   string
	}{
		{"frequency", func(p *Params) { p.SupplyFrequency = 55 }, "supply frequency"},
		{"power cal", func(p *Params) { p.PowerCalGrid = 0 }, "power calibration"},
		{"working zone", func(p *Params) { p.WorkingZoneJ = 0 }, "working zone"},
		{"no loads", func(p *Params) { p.LoadPins = nil; p.StartupPriorities = nil }, "number of loads"},
		{"too many loads", func(p *Params) {
			p.LoadPins = []int{1, 2, 3, 4, 5, 6, 7, 8, 9}
			p.StartupPriorities = []uint8{0, 1, 2, 3, 4, 5, 6, 7, 8}
		}, "number of loads"},
		{"priorities length", func(p *Params) { p.StartupPriorities = []uint8{0} }, "startup priorities"},
		{"priorities duplicate", func(p *Params) { p.StartupPriorities = []uint8{1, 1} }, "not a permutation"},
		{"priorities range", func(p *Params) { p.StartupPriorities = []uint8{0, 2} }, "not a permutation"},
		{"pin range", func(p *Params) { p.LoadPins = []int{4, 64} }, "out of range"},
		{"pin duplicate", func(p *Params) { p.LoadPins = []int{4, 4} }, "already assigned"},
		{"diverted load", func(p *Params) { p.DivertedLoad = 2 }, "diverted load"},
		{"persistence", func(p *Params) { p.Persistence = 0 }, "persistence"},
		{"post transition", func(p *Params) { p.PostTransitionMaxCount = 0 }, "post-transition"},
		{"datalog", func(p *Params) { p.DatalogPeriod = 500 * time.Millisecond }, "datalog period"},
		{"datalog fraction", func(p *Params) { p.DatalogPeriod = 1500 * time.Millisecond }, "whole number of seconds"},
		{"decision delay", func(p *Params) { p.DecisionDelaySamples = 32 }, "decision delay"},
		{"rotation", func(p *Params) { p.Rotation = "sometimes" }, "rotation mode"},
		{"dc margin", func(p *Params) { p.DCOffsetMargin = 0 }, "dc offset margin"},
		{"ieu per wh", func(p *Params) { p.PowerCalDiverted = 200 }, "energy units per Wh"},
	}
	for _, tt := range tests {
		p := DefaultParams()
		tt.modify(&p)
		err := p.Validate()
		if err == nil {
			t.Errorf("%s: expected error", tt.name)
			continue
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: got %q, want it to mention %q", tt.name, err, tt.want)
		}
	}
}

func TestDerive(t *testing.T) {
	d := DefaultParams().Derive()

	checks := []struct {
		name      string
		got, want int64
	}{
		{"Capacity", int64(d.Capacity), 413793},
		{"MidPoint", int64(d.MidPoint), 206896},
		{"IEUPerWh", int64(d.IEUPerWh), 4137931},
		{"AntiCreep", int64(d.AntiCreep), 114},
		{"RequiredExport", int64(d.RequiredExport), 0},
		{"DatalogCycles", int64(d.DatalogCycles), 250},
		{"VSquaredShift", int64(d.VSquaredShift), 12},
		{"DCOffsetMin", int64(d.DCOffsetMin), 412 << 8},
		{"DCOffsetMax", int64(d.DCOffsetMax), 612 << 8},
		{"DCOffsetInitial", int64(d.DCOffsetInitial), 512 << 8},
		{"LPFAlphaQ16", int64(d.LPFAlphaQ16), 131},
		{"LPFGainQ16", int64(d.LPFGainQ16), 0},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %d, want %d", c.name, c.got, c.want)
		}
	}
}

func TestDeriveLongDatalogPeriod(t *testing.T) {
	p := DefaultParams()
	p.DatalogPeriod = 20 * time.Second
	p.SupplyFrequency = 60

	d := p.Derive()
	if d.VSquaredShift != 16 {
		t.Errorf("VSquaredShift: got %d, want 16", d.VSquaredShift)
	}
	if d.DatalogCycles != 1200 {
		t.Errorf("DatalogCycles: got %d, want 1200", d.DatalogCycles)
	}
}

func TestStartupDelay(t *testing.T) {
	if got := DefaultParams().StartupDelay(); got != 4*time.Second {
		t.Errorf("StartupDelay: got %v, want 4s", got)
	}
}
