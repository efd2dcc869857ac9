package router

import (
	"errors"
	"fmt"
	"time"
)

// Physical constants.
const (
	JoulesPerWattHour = 3600

	// minIEUPerWh is a sanity floor for the diverted-energy divisor. Anything
	// smaller means the calibration constants are badly wrong.
	minIEUPerWh = 1000

	// MaxDecisionDelaySamples keeps the decision inside the negative half
	// cycle: at one conversion every 104 µs a 60 Hz half cycle holds about
	// 26 sample sets.
	MaxDecisionDelaySamples = 24
)

// Params is the complete set of tuning values for one engine. It is resolved
// once at startup; Derive turns the floating-point calibration values into the
// integer constants used on the fast path.
type Params struct {
	SupplyFrequency  int     // Hz, 50 or 60
	WorkingZoneJ     float64 // size of the energy bucket
	RequiredExportW  float64 // negative value simulates a PV generator
	AntiCreepJ       float64 // per mains cycle, 0 disables
	PowerCalGrid     float64 // W per ADC step squared
	PowerCalDiverted float64
	LPFGain          float64 // 0 disables the CT correction filter
	LPFAlpha         float64
	ADCMidPoint      int16 // 512 for 10-bit converters, 2048 for 12-bit
	DCOffsetMargin   int16 // allowed drift of the voltage DC offset around the mid-point

	DatalogPeriod          time.Duration
	SerialDelay            time.Duration
	SettlePeriod           time.Duration
	Persistence            uint8 // extra samples needed to confirm a polarity change
	PostTransitionMaxCount uint8
	DecisionDelaySamples   uint16

	LoadPins          []int   // pin of each physical load, indexed by load id
	StartupPriorities []uint8 // load ids, highest priority first
	Rotation          RotationMode
	DivertedLoad      uint8 // load whose current the diverted CT measures
}

// DefaultParams mirrors the reference single-phase board: two loads, 50 Hz,
// a 360 J sweet zone and a 5 s datalogging period.
func DefaultParams() Params {
	return Params{
		SupplyFrequency:        50,
		WorkingZoneJ:           360,
		RequiredExportW:        0,
		AntiCreepJ:             5,
		PowerCalGrid:           0.0435,
		PowerCalDiverted:       0.0435,
		LPFGain:                0,
		LPFAlpha:               0.002,
		ADCMidPoint:            512,
		DCOffsetMargin:         100,
		DatalogPeriod:          5 * time.Second,
		SerialDelay:            1 * time.Second,
		SettlePeriod:           3 * time.Second,
		Persistence:            1,
		PostTransitionMaxCount: 3,
		DecisionDelaySamples:   3,
		LoadPins:               []int{4, 3},
		StartupPriorities:      []uint8{0, 1},
		Rotation:               RotationOff,
		DivertedLoad:           0,
	}
}

// Validate rejects configurations the fast path cannot run with.
func (p Params) Validate() error {
	if p.SupplyFrequency != 50 && p.SupplyFrequency != 60 {
		return fmt.Errorf("supply frequency %d Hz: must be 50 or 60", p.SupplyFrequency)
	}
	if p.PowerCalGrid <= 0 || p.PowerCalDiverted <= 0 {
		return errors.New("power calibration must be positive")
	}
	if p.WorkingZoneJ <= 0 {
		return errors.New("working zone must be positive")
	}
	n := len(p.LoadPins)
	if n == 0 || n > MaxLoads {
		return fmt.Errorf("number of loads %d: must be 1..%d", n, MaxLoads)
	}
	if len(p.StartupPriorities) != n {
		return fmt.Errorf("startup priorities: got %d entries for %d loads", len(p.StartupPriorities), n)
	}
	seen := make([]bool, n)
	for _, id := range p.StartupPriorities {
		if int(id) >= n || seen[id] {
			return fmt.Errorf("startup priorities %v: not a permutation of 0..%d", p.StartupPriorities, n-1)
		}
		seen[id] = true
	}
	pins := make(map[int]bool, n)
	for i, pin := range p.LoadPins {
		if pin < 0 || pin > 63 {
			return fmt.Errorf("load %d: pin %d out of range", i, pin)
		}
		if pins[pin] {
			return fmt.Errorf("load %d: pin %d already assigned", i, pin)
		}
		pins[pin] = true
	}
	if int(p.DivertedLoad) >= n {
		return fmt.Errorf("diverted load %d: only %d loads", p.DivertedLoad, n)
	}
	if p.Persistence < 1 {
		return errors.New("polarity persistence must be at least 1")
	}
	if p.PostTransitionMaxCount < 1 {
		return errors.New("post-transition count must be at least 1")
	}
	if p.DatalogPeriod < time.Second || p.DatalogPeriod%time.Second != 0 {
		return fmt.Errorf("datalog period %v: must be a whole number of seconds", p.DatalogPeriod)
	}
	if p.DecisionDelaySamples > MaxDecisionDelaySamples {
		return fmt.Errorf("decision delay %d samples: must be at most %d", p.DecisionDelaySamples, MaxDecisionDelaySamples)
	}
	switch p.Rotation {
	case RotationOff, RotationAuto, RotationPin:
	default:
		return fmt.Errorf("rotation mode %q: must be off, auto or pin", p.Rotation)
	}
	if p.ADCMidPoint <= p.DCOffsetMargin || p.DCOffsetMargin <= 0 {
		return fmt.Errorf("adc mid-point %d / dc offset margin %d: invalid", p.ADCMidPoint, p.DCOffsetMargin)
	}
	if d := p.Derive(); d.IEUPerWh <= minIEUPerWh {
		return fmt.Errorf("energy units per Wh %d: calibration out of range", d.IEUPerWh)
	}
	return nil
}

// Derived holds the integer constants computed from Params.
// All energies are in IEU (integer energy units), i.e. Joules * f / powerCal.
type Derived struct {
	Capacity        int32
	MidPoint        int32
	IEUPerWh        int32
	AntiCreep       int32
	RequiredExport  int32
	DatalogCycles   uint32
	VSquaredShift   uint8
	DCOffsetMin     int32
	DCOffsetMax     int32
	DCOffsetInitial int32
	LPFAlphaQ16     int32
	LPFGainQ16      int32
}

// Derive computes the fast-path constants. Floating point is confined here.
func (p Params) Derive() Derived {
	f := float64(p.SupplyFrequency)
	capacity := int32(p.WorkingZoneJ * f / p.PowerCalGrid)
	vShift := uint8(12)
	if p.DatalogPeriod > 10*time.Second {
		vShift = 16
	}
	mid := int32(p.ADCMidPoint)
	margin := int32(p.DCOffsetMargin)
	return Derived{
		Capacity:        capacity,
		MidPoint:        capacity >> 1,
		IEUPerWh:        int32(JoulesPerWattHour * f / p.PowerCalDiverted),
		AntiCreep:       int32(p.AntiCreepJ / p.PowerCalGrid),
		RequiredExport:  int32(p.RequiredExportW / p.PowerCalGrid),
		DatalogCycles:   uint32(p.DatalogPeriod/time.Second) * uint32(p.SupplyFrequency),
		VSquaredShift:   vShift,
		DCOffsetMin:     (mid - margin) << 8,
		DCOffsetMax:     (mid + margin) << 8,
		DCOffsetInitial: mid << 8,
		LPFAlphaQ16:     int32(p.LPFAlpha * 65536),
		LPFGainQ16:      int32(p.LPFGain * 65536),
	}
}

// StartupDelay is the time before decisions begin.
func (p Params) StartupDelay() time.Duration {
	return p.SerialDelay + p.SettlePeriod
}
