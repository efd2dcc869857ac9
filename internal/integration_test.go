package internal

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/sweeney/pv-router/internal/adc"
	"github.com/sweeney/pv-router/internal/control"
	"github.com/sweeney/pv-router/internal/gpio"
	"github.com/sweeney/pv-router/internal/mqtt"
	"github.com/sweeney/pv-router/internal/router"
	"github.com/sweeney/pv-router/internal/status"
)

const (
	pinOverride  = 11
	pinDiversion = 12
)

// plant is a simulated installation driven by the real engine and controller
// on a single goroutine, so every run is deterministic.
type plant struct {
	pins    *gpio.FakePins
	sim     *adc.Simulator
	engine  *router.Engine
	sampler *router.Sampler
	ctrl    *control.Controller
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	sets    int
	records []control.Telemetry
}

func newPlant(t *testing.T, pv float64) *plant {
	t.Helper()
	sc := adc.DefaultSimConfig()
	sc.PVWatts = pv

	p := &plant{pins: gpio.NewFakePins(), pub: mqtt.NewFakePublisher(), sets: sc.SetsPerCycle}
	p.sim = adc.NewSimulator(sc, p.pins)

	e, err := router.NewEngine(router.DefaultParams(), p.pins, router.WithClock(p.sim.Now))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	p.engine = e
	p.sampler = router.NewSampler(e, nil)
	p.tracker = status.NewTracker(sc.Start, status.Config{})
	p.ctrl = control.New(control.Config{
		Pins: control.Pins{
			Override:     pinOverride,
			Rotation:     gpio.NoPin,
			DiversionOff: pinDiversion,
			DualTariff:   gpio.NoPin,
			Watchdog:     gpio.NoPin,
		},
		DisplayShutdown: 8 * time.Hour,
		VoltageCal:      0.8151,
		Debounce:        250 * time.Millisecond,
	}, control.Deps{Engine: e, Pins: p.pins, Display: p.tracker, Sink: p.pub}, sc.Start)
	return p
}

// run simulates d of mains time, polling the slow path once per cycle.
func (p *plant) run(t *testing.T, d time.Duration) {
	t.Helper()
	ctx := context.Background()
	cycles := int(d / (20 * time.Millisecond))
	for c := 0; c < cycles; c++ {
		for i := 0; i < 3*p.sets; i++ {
			conv, err := p.sim.Read()
			if err != nil {
				t.Fatalf("simulator: %v", err)
			}
			p.sampler.Resync(conv.Channel)
			p.sampler.OnConversion(conv.Value)
		}
		select {
		case dl := <-p.engine.Datalogs():
			tel := p.ctrl.OnDatalog(dl, p.sim.Now())
			p.tracker.SetTelemetry(tel)
			p.records = append(p.records, tel)
		default:
		}
		p.ctrl.Poll(ctx, p.sim.Now())
	}
}

func (p *plant) last(t *testing.T) control.Telemetry {
	t.Helper()
	if len(p.records) == 0 {
		t.Fatal("no datalog produced")
	}
	return p.records[len(p.records)-1]
}

func near(got, want, tolerance float64) bool {
	return math.Abs(got-want) <= tolerance
}

// TestIntegrationClosedLoopConverges checks that the router absorbs a surplus
// larger than one load: the first load stays on, the second bursts, and the
// grid settles close to zero.
func TestIntegrationClosedLoopConverges(t *testing.T) {
	// 1900 W PV - 400 W house = 1500 W surplus for two 1000 W loads
	p := newPlant(t, 1900)
	p.run(t, 30*time.Second)

	tel := p.last(t)
	if !near(tel.GridW, 0, 60) {
		t.Errorf("GridW: got %.1f, want about 0", tel.GridW)
	}
	if !near(tel.DivertedW, 1000, 60) {
		t.Errorf("DivertedW: got %.1f, want about 1000", tel.DivertedW)
	}
	if tel.Loads[0].OnPercent < 95 {
		t.Errorf("load 0 on: got %.1f%%, want about 100%%", tel.Loads[0].OnPercent)
	}
	if tel.Loads[1].OnPercent < 30 || tel.Loads[1].OnPercent > 70 {
		t.Errorf("load 1 on: got %.1f%%, want about 50%%", tel.Loads[1].OnPercent)
	}
	if !near(tel.Vrms, 173, 5) {
		t.Errorf("Vrms: got %.1f, want about 173", tel.Vrms)
	}

	// 26 s of diversion into load 0 at 1000 W is 7.2 Wh
	if wh := p.engine.DivertedWh(); wh < 5 || wh > 8 {
		t.Errorf("DivertedWh: got %d, want 5..8", wh)
	}
	if snap := p.tracker.Snapshot(); !snap.Energy.Active {
		t.Error("display should report active diversion")
	}
	if f := p.engine.Faults(); f.Sequence != 0 || f.PinWrite != 0 {
		t.Errorf("faults: got %+v, want none", f)
	}

	if len(p.pub.Payloads) != len(p.records) {
		t.Fatalf("payloads: got %d, want %d", len(p.pub.Payloads), len(p.records))
	}
	var payload mqtt.Payload
	if err := json.Unmarshal(p.pub.Payloads[len(p.pub.Payloads)-1], &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if len(payload.PVRouter.Loads) != 2 || len(payload.PVRouter.Priorities) != 2 {
		t.Errorf("payload loads/priorities: got %+v", payload.PVRouter)
	}
}

func TestIntegrationNoSurplus(t *testing.T) {
	p := newPlant(t, 0)
	p.run(t, 15*time.Second)

	tel := p.last(t)
	if !near(tel.GridW, 400, 30) {
		t.Errorf("GridW: got %.1f, want about 400 (house import)", tel.GridW)
	}
	for _, l := range tel.Loads {
		if l.OnPercent != 0 {
			t.Errorf("load %d on: got %.1f%%, want 0", l.ID, l.OnPercent)
		}
	}
	if wh := p.engine.DivertedWh(); wh != 0 {
		t.Errorf("DivertedWh: got %d, want 0", wh)
	}
}

func TestIntegrationDiversionSwitchOff(t *testing.T) {
	p := newPlant(t, 1900)
	p.pins.SetInput(pinDiversion, true)
	p.run(t, 15*time.Second)

	if !p.engine.DiversionOff() {
		t.Fatal("expected diversion disabled at baseline")
	}
	tel := p.last(t)
	if !near(tel.GridW, -1500, 50) {
		t.Errorf("GridW: got %.1f, want about -1500 (export)", tel.GridW)
	}
	if tel.DivertedW != 0 {
		t.Errorf("DivertedW: got %.1f, want 0", tel.DivertedW)
	}
	if !tel.DiversionOff {
		t.Error("telemetry should report diversion off")
	}
	for _, id := range []int{4, 3} {
		if p.pins.IsOn(id) {
			t.Errorf("load pin %d should be off", id)
		}
	}
}

func TestIntegrationOverrideForcesLoads(t *testing.T) {
	p := newPlant(t, 1900)
	p.pins.SetInput(pinOverride, true)
	p.run(t, 15*time.Second)

	tel := p.last(t)
	// 2000 W of loads against a 1500 W surplus
	if !near(tel.GridW, 500, 50) {
		t.Errorf("GridW: got %.1f, want about 500 (import)", tel.GridW)
	}
	// the diverted CT is ignored while its load is forced
	if tel.DivertedW != 0 {
		t.Errorf("DivertedW: got %.1f, want 0", tel.DivertedW)
	}
	for _, l := range tel.Loads {
		if !l.Forced || l.OnPercent < 99 {
			t.Errorf("load %d: got forced=%v on=%.1f%%, want forced at 100%%", l.ID, l.Forced, l.OnPercent)
		}
	}
	if snap := p.tracker.Snapshot(); !snap.Energy.LoadForced {
		t.Error("display should report a forced load")
	}

	var payload mqtt.Payload
	if err := json.Unmarshal(p.pub.Payloads[len(p.pub.Payloads)-1], &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if !payload.PVRouter.Loads[0].Forced {
		t.Error("payload should mark load 0 as forced")
	}
}

func TestIntegrationSwitchDuringRun(t *testing.T) {
	p := newPlant(t, 1900)
	p.run(t, 10*time.Second)
	if p.engine.DiversionOff() {
		t.Fatal("diversion should start enabled")
	}

	p.pins.SetInput(pinDiversion, true)
	p.run(t, 11*time.Second)

	if !p.engine.DiversionOff() {
		t.Fatal("expected diversion disabled after the switch")
	}
	tel := p.last(t)
	if !near(tel.GridW, -1500, 50) {
		t.Errorf("GridW after switch: got %.1f, want about -1500", tel.GridW)
	}
	if got := p.ctrl.Detector().EventCountsSnapshot().DiversionOff; got != 1 {
		t.Errorf("DiversionOff events: got %d, want 1", got)
	}
}
