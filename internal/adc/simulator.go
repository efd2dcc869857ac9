package adc

import (
	"io"
	"math"
	"sync"
	"time"

	"github.com/sweeney/pv-router/internal/router"
)

// OutputState reports which output pins are currently high.
type OutputState interface {
	Levels() uint64
}

// SimConfig describes the simulated installation.
type SimConfig struct {
	Frequency    int
	SetsPerCycle int
	MidPoint     int16
	VoltageAmp   float64 // ADC steps, peak
	PowerCal     float64 // W per ADC step squared, as calibrated on the router

	PV        func(t time.Time) float64 // W produced, nil = PVWatts
	PVWatts   float64
	HouseLoad float64 // W consumed regardless of the router

	LoadPins     []int
	LoadWatts    []float64
	DivertedLoad int

	Start     time.Time
	MaxCycles int  // 0 = endless
	Realtime  bool // pace output to wall-clock time
}

// DefaultSimConfig is a 3 kW array feeding a house with two 1 kW immersion heaters.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Frequency:    50,
		SetsPerCycle: 64,
		MidPoint:     512,
		VoltageAmp:   300,
		PowerCal:     0.0435,
		PVWatts:      3000,
		HouseLoad:    400,
		LoadPins:     []int{4, 3},
		LoadWatts:    []float64{1000, 1000},
		Start:        time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC),
	}
}

// Simulator is a closed-loop mains model: the grid current depends on which
// load outputs the router has switched on. Conversions are produced on a
// virtual clock, one sample set per 1/(f*SetsPerCycle) seconds.
type Simulator struct {
	cfg     SimConfig
	outputs OutputState
	step    time.Duration

	mu  sync.Mutex
	now time.Time

	k       int
	next    router.Channel
	sin     float64
	gridAmp float64
	divAmp  float64
	cycles  int
	wall    time.Time

	lastGridW float64
}

// NewSimulator creates a simulator whose loads follow outputs.
func NewSimulator(cfg SimConfig, outputs OutputState) *Simulator {
	if cfg.Frequency == 0 {
		cfg.Frequency = 50
	}
	if cfg.SetsPerCycle <= 0 {
		cfg.SetsPerCycle = 64
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Now()
	}
	period := time.Second / time.Duration(cfg.Frequency)
	return &Simulator{
		cfg:     cfg,
		outputs: outputs,
		step:    period / time.Duration(cfg.SetsPerCycle),
		now:     cfg.Start,
	}
}

// Now is the virtual time of the next sample set.
func (s *Simulator) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Cycles is the number of complete mains cycles produced.
func (s *Simulator) Cycles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}

// GridW is the grid power of the last cycle, positive when importing.
func (s *Simulator) GridW() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastGridW
}

// Read produces the next conversion.
func (s *Simulator) Read() (Conversion, error) {
	if s.next == router.ChannelVoltage {
		if s.k == 0 {
			if s.cfg.MaxCycles > 0 && s.Cycles() >= s.cfg.MaxCycles {
				return Conversion{}, io.EOF
			}
			s.updateCurrents()
			s.pace()
		}
		s.sin = math.Sin(2 * math.Pi * (float64(s.k) + 0.5) / float64(s.cfg.SetsPerCycle))
	}

	var amp float64
	switch s.next {
	case router.ChannelVoltage:
		amp = s.cfg.VoltageAmp
	case router.ChannelGrid:
		amp = s.gridAmp
	default:
		amp = s.divAmp
	}
	c := Conversion{Channel: s.next, Value: s.cfg.MidPoint + int16(math.Round(amp*s.sin))}

	s.next++
	if s.next > router.ChannelDiverted {
		s.next = router.ChannelVoltage
		s.k++
		s.mu.Lock()
		s.now = s.now.Add(s.step)
		if s.k == s.cfg.SetsPerCycle {
			s.k = 0
			s.cycles++
		}
		s.mu.Unlock()
	}
	return c, nil
}

// updateCurrents recomputes both current amplitudes from the load outputs.
// Export drives a current in phase with the voltage.
func (s *Simulator) updateCurrents() {
	pv := s.cfg.PVWatts
	if s.cfg.PV != nil {
		pv = s.cfg.PV(s.Now())
	}
	var levels uint64
	if s.outputs != nil {
		levels = s.outputs.Levels()
	}

	export := pv - s.cfg.HouseLoad
	var diverted float64
	for i, pin := range s.cfg.LoadPins {
		if levels&(1<<uint(pin)) == 0 {
			continue
		}
		export -= s.cfg.LoadWatts[i]
		if i == s.cfg.DivertedLoad {
			diverted = s.cfg.LoadWatts[i]
		}
	}

	s.gridAmp = s.amplitude(export)
	s.divAmp = s.amplitude(diverted)
	s.mu.Lock()
	s.lastGridW = -export
	s.mu.Unlock()
}

// amplitude converts a power into the peak current in ADC steps:
// mean(v*i) = Av*Ai/2 and W = mean * powerCal.
func (s *Simulator) amplitude(w float64) float64 {
	a := 2 * w / (s.cfg.PowerCal * s.cfg.VoltageAmp)
	limit := float64(s.cfg.MidPoint - 1)
	return math.Max(-limit, math.Min(limit, a))
}

func (s *Simulator) pace() {
	if !s.cfg.Realtime {
		return
	}
	if s.wall.IsZero() {
		s.wall = time.Now()
		return
	}
	period := s.step * time.Duration(s.cfg.SetsPerCycle)
	s.wall = s.wall.Add(period)
	if d := time.Until(s.wall); d > 0 {
		time.Sleep(d)
	}
}

// Close is a no-op.
func (s *Simulator) Close() error { return nil }
