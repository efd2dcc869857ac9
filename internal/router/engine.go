package router

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// Engine is the per-sample processing pipeline: polarity detection, power
// accumulation, the energy bucket, the decision pass and the datalog.
//
// Process* methods belong to the fast path and must be called from a single
// goroutine. Every other exported method is safe to call from the slow path:
// requests are single atomic flags the fast path consumes, and published
// values are atomics or value copies sent over the datalog channel.
type Engine struct {
	params  Params
	derived Derived
	now     func() time.Time
	start   time.Time
	out     PinWriter

	pol    *PolarityDetector
	acc    *PowerAccumulator
	dec    *Decider
	loads  *Loads
	energy *DivertedEnergy

	running             bool
	sampleSetsThisCycle uint16
	sampleSetsNegHalf   uint16
	sampleSetsPeriod    uint32
	lowestSampleSets    uint16
	cyclesForDatalog    uint32
	diversionActive     bool
	absence             uint32

	// written by the slow path
	overrides     [MaxLoads]atomic.Bool
	diversionOff  atomic.Bool
	rotateRequest atomic.Bool
	resetDiverted atomic.Bool

	// published by the fast path
	cycles        atomic.Uint64
	pubRunning    atomic.Bool
	pubActive     atomic.Bool
	pubWh         atomic.Uint32
	pubAbsence    atomic.Uint32
	pubPriorities atomic.Uint64
	pubBucket     atomic.Int32

	faultSequence atomic.Uint64
	faultPin      atomic.Uint64
	faultDropped  atomic.Uint64

	datalogs chan Datalog
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, which is only consulted during the startup period.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine validates p and creates an engine driving the given outputs.
// All loads are OFF and written as such before the engine returns.
func NewEngine(p Params, out PinWriter, opts ...Option) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("router params: %w", err)
	}
	d := p.Derive()
	e := &Engine{
		params:           p,
		derived:          d,
		now:              time.Now,
		out:              out,
		pol:              NewPolarityDetector(p.Persistence, d),
		acc:              NewPowerAccumulator(p.ADCMidPoint, d),
		dec:              NewDecider(d, p.PostTransitionMaxCount),
		loads:            NewLoads(p.LoadPins, p.StartupPriorities, p.Rotation),
		energy:           NewDivertedEnergy(d.IEUPerWh),
		lowestSampleSets: math.MaxUint16,
		datalogs:         make(chan Datalog, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.start = e.now()

	var none [MaxLoads]bool
	e.loads.MapToPhysical(&none, false)
	if err := e.loads.WriteOutputs(out); err != nil {
		return nil, fmt.Errorf("initialise load outputs: %w", err)
	}
	e.loads.takeCounts(&[MaxLoads]uint16{})
	e.pubPriorities.Store(e.loads.pack())
	return e, nil
}

// ProcessVoltage handles a raw voltage conversion. Half-cycle boundaries are
// detected here, so all once-per-cycle work happens on this channel.
func (e *Engine) ProcessVoltage(raw int16) {
	v := e.pol.Process(raw)
	e.pol.Confirm()

	e.processBoundaries()

	e.acc.AddVoltage(v)
	e.pol.EndSampleSet()
	e.sampleSetsThisCycle++
	e.sampleSetsPeriod++
}

// ProcessGridCurrent handles a raw grid current conversion, paired with the
// voltage sample of the same sample set.
func (e *Engine) ProcessGridCurrent(raw int16) {
	e.acc.AddGrid(e.pol.Sample(), raw)
}

// ProcessDivertedCurrent handles a raw diverted current conversion. Nothing is
// attributed while the measured load is forced on or diversion is disabled.
func (e *Engine) ProcessDivertedCurrent(raw int16) {
	e.acc.SuspendDiverted(e.diversionOff.Load() || e.overrides[e.params.DivertedLoad].Load())
	e.acc.AddDiverted(e.pol.Sample(), raw)
}

func (e *Engine) processBoundaries() {
	if e.pol.Confirmed() == Positive {
		if e.pol.Previous() != Positive {
			// start of a new positive half cycle
			if e.running {
				e.startPositiveHalf()
			} else {
				e.startUp()
			}
		}
		return
	}

	if e.pol.Previous() != Negative {
		e.startNegativeHalf()
	}
	// the decision waits until the voltage is well past the zero crossing
	if e.sampleSetsNegHalf == e.params.DecisionDelaySamples && e.running {
		e.decisionPass()
	}
	e.sampleSetsNegHalf++
}

func (e *Engine) startUp() {
	e.acc.ResetCycle()
	e.sampleSetsNegHalf = 0
	if e.now().Sub(e.start) <= e.params.StartupDelay() {
		return
	}

	e.running = true
	e.acc.resetAll()
	e.loads.takeCounts(&[MaxLoads]uint16{})
	e.sampleSetsThisCycle = 0
	e.sampleSetsPeriod = 0
	e.cyclesForDatalog = 0
	e.lowestSampleSets = math.MaxUint16
	e.pubRunning.Store(true)
}

func (e *Engine) startPositiveHalf() {
	n := e.sampleSetsThisCycle
	grid, diverted := e.acc.CycleSums()
	e.dec.Commit(average(grid, n))

	if n < e.lowestSampleSets {
		e.lowestSampleSets = n
	}

	if e.resetDiverted.Load() {
		e.energy.Reset()
		e.diversionActive = false
		e.resetDiverted.Store(false)
	}
	if e.diversionActive {
		contribution := average(diverted, n)
		if contribution < e.derived.AntiCreep {
			contribution = 0
		}
		e.energy.Add(contribution)
	}
	e.pubWh.Store(e.energy.TotalWh())
	e.pubActive.Store(e.diversionActive)

	e.datalog()

	e.acc.ResetCycle()
	e.sampleSetsThisCycle = 0
	e.sampleSetsNegHalf = 0
}

func (e *Engine) startNegativeHalf() {
	e.pol.AdaptOffset()
	grid, _ := e.acc.CycleSums()
	e.dec.Predict(average(grid, e.sampleSetsThisCycle))
}

func (e *Engine) decisionPass() {
	e.dec.Decide(e.loads)

	if e.rotateRequest.Load() {
		e.loads.Rotate()
		e.rotateRequest.Store(false)
	}

	var overrides [MaxLoads]bool
	for i := 0; i < e.loads.Len(); i++ {
		overrides[i] = e.overrides[i].Load()
	}
	e.loads.MapToPhysical(&overrides, e.diversionOff.Load())
	if err := e.loads.WriteOutputs(e.out); err != nil {
		e.faultPin.Add(1)
	}

	if e.loads.Slot(0).On {
		e.absence = 0
		e.diversionActive = true
	} else if e.absence < math.MaxUint32 {
		e.absence++
	}

	e.dec.Clamp()

	e.pubPriorities.Store(e.loads.pack())
	e.pubAbsence.Store(e.absence)
	e.pubActive.Store(e.diversionActive)
	e.pubBucket.Store(e.dec.Bucket())
	e.cycles.Add(1)
}

func (e *Engine) datalog() {
	e.cyclesForDatalog++
	if e.cyclesForDatalog < e.derived.DatalogCycles {
		return
	}
	e.cyclesForDatalog = 0

	var d Datalog
	d.SumPGrid, d.SumPDiverted, d.SumVSquared = e.acc.takePeriod()
	e.loads.takeCounts(&d.CountLoadOn)
	d.NumLoads = e.loads.Len()
	for i := 0; i < d.NumLoads; i++ {
		d.Priorities[i] = e.loads.Slot(i)
	}
	d.SampleSets = e.sampleSetsPeriod
	d.LowestSampleSetsPerCycle = e.lowestSampleSets
	d.EnergyInBucket = e.dec.Bucket()
	d.DivertedWh = e.energy.TotalWh()

	e.lowestSampleSets = math.MaxUint16
	e.sampleSetsPeriod = 0

	select {
	case e.datalogs <- d:
		return
	default:
	}
	// the slow path has not read the previous period yet: replace it
	select {
	case <-e.datalogs:
		e.faultDropped.Add(1)
	default:
	}
	select {
	case e.datalogs <- d:
	default:
	}
}

func average(sum int64, n uint16) int32 {
	if n == 0 {
		return 0
	}
	return int32(sum / int64(n))
}

// --- slow path API ---

// SetOverride forces load id to full power (or releases it).
func (e *Engine) SetOverride(id int, on bool) {
	if id >= 0 && id < e.loads.Len() {
		e.overrides[id].Store(on)
	}
}

// Override reports whether load id is forced on.
func (e *Engine) Override(id int) bool {
	if id < 0 || id >= e.loads.Len() {
		return false
	}
	return e.overrides[id].Load()
}

// AnyOverride reports whether at least one load is forced on.
func (e *Engine) AnyOverride() bool {
	for i := 0; i < e.loads.Len(); i++ {
		if e.overrides[i].Load() {
			return true
		}
	}
	return false
}

// SetDiversionOff disables (or re-enables) diversion to every load.
func (e *Engine) SetDiversionOff(off bool) { e.diversionOff.Store(off) }

// DiversionOff reports whether diversion is disabled.
func (e *Engine) DiversionOff() bool { return e.diversionOff.Load() }

// RequestRotation asks the fast path to rotate priorities at its next pass.
func (e *Engine) RequestRotation() { e.rotateRequest.Store(true) }

// CancelRotation withdraws a pending rotation request. It reports false when
// the fast path had already consumed it.
func (e *Engine) CancelRotation() bool { return e.rotateRequest.CompareAndSwap(true, false) }

// RotationPending reports whether a rotation request has not been consumed yet.
func (e *Engine) RotationPending() bool { return e.rotateRequest.Load() }

// RequestDivertedReset asks the fast path to clear the diverted energy
// registers and mark diversion inactive.
func (e *Engine) RequestDivertedReset() { e.resetDiverted.Store(true) }

// Cycles is the number of completed decision passes (one per mains cycle).
func (e *Engine) Cycles() uint64 { return e.cycles.Load() }

// Running reports whether the startup period is over.
func (e *Engine) Running() bool { return e.pubRunning.Load() }

// DiversionActive reports whether energy has been diverted since the last reset.
func (e *Engine) DiversionActive() bool { return e.pubActive.Load() }

// DivertedWh is the whole Watt-hours diverted since the last reset.
func (e *Engine) DivertedWh() uint32 { return e.pubWh.Load() }

// AbsenceCycles is the number of mains cycles since the top-priority load was last on.
func (e *Engine) AbsenceCycles() uint32 { return e.pubAbsence.Load() }

// Bucket is the energy level after the last decision pass.
func (e *Engine) Bucket() int32 { return e.pubBucket.Load() }

// Priorities returns a copy of the priority list as of the last decision pass.
func (e *Engine) Priorities() []LoadPriority {
	return unpackPriorities(e.pubPriorities.Load(), e.loads.Len())
}

// NumLoads is the number of loads driven by this engine.
func (e *Engine) NumLoads() int { return e.loads.Len() }

// Params returns the parameters the engine was created with.
func (e *Engine) Params() Params { return e.params }

// Derived returns the integer constants used on the fast path.
func (e *Engine) Derived() Derived { return e.derived }

// Datalogs delivers one snapshot per datalogging period once running.
func (e *Engine) Datalogs() <-chan Datalog { return e.datalogs }

// Faults returns the fault counters.
func (e *Engine) Faults() Faults {
	return Faults{
		Sequence:        e.faultSequence.Load(),
		PinWrite:        e.faultPin.Load(),
		DroppedDatalogs: e.faultDropped.Load(),
	}
}
