package control

import (
	"log"
	"math"
	"time"

	"github.com/sweeney/pv-router/internal/router"
	"github.com/sweeney/pv-router/internal/temperature"
)

// LoadTelemetry reports one load over the datalogging period.
type LoadTelemetry struct {
	ID        int
	OnPercent float64
	Forced    bool
}

// RelayTelemetry reports one relay.
type RelayTelemetry struct {
	Pin      int
	On       bool
	Duration time.Duration
}

// Telemetry is one datalogging period in physical units.
// GridW is positive when importing.
type Telemetry struct {
	Timestamp    time.Time
	GridW        float64
	DivertedW    float64
	Vrms         float64
	DivertedWh   uint32
	BucketJ      float64
	Temperatures []*float64 // nil entries are disconnected sensors
	Absence      time.Duration
	OffPeak      bool
	DiversionOff bool
	Loads        []LoadTelemetry
	Priorities   []int

	RelayAverageW int32
	Relays        []RelayTelemetry

	SampleSets       uint32
	LowestSampleSets uint16
	Faults           router.Faults
}

// OnDatalog converts a snapshot into telemetry, refreshes the temperatures and
// the relay average, and publishes the result.
func (c *Controller) OnDatalog(d router.Datalog, now time.Time) Telemetry {
	p := c.engine.Params()
	der := c.engine.Derived()

	t := Telemetry{
		Timestamp:        now,
		DivertedWh:       d.DivertedWh,
		BucketJ:          float64(d.EnergyInBucket) * p.PowerCalGrid / float64(p.SupplyFrequency),
		Absence:          time.Duration(c.engine.AbsenceCycles()) * time.Second / time.Duration(p.SupplyFrequency),
		OffPeak:          c.offPeak,
		DiversionOff:     c.engine.DiversionOff(),
		SampleSets:       d.SampleSets,
		LowestSampleSets: d.LowestSampleSetsPerCycle,
		Faults:           c.engine.Faults(),
	}

	if d.SampleSets > 0 {
		n := float64(d.SampleSets)
		// positive energy units are export
		t.GridW = -float64(d.SumPGrid) / n * p.PowerCalGrid
		t.DivertedW = float64(d.SumPDiverted) / n * p.PowerCalDiverted
		rms := math.Sqrt(float64(d.SumVSquared) / n)
		if der.VSquaredShift == 16 {
			rms *= 4
		}
		t.Vrms = c.cfg.VoltageCal * rms
	}

	for i := 0; i < d.NumLoads; i++ {
		pct := 0.0
		if der.DatalogCycles > 0 {
			pct = 100 * float64(d.CountLoadOn[i]) / float64(der.DatalogCycles)
		}
		t.Loads = append(t.Loads, LoadTelemetry{ID: i, OnPercent: pct, Forced: c.engine.Override(i)})
		t.Priorities = append(t.Priorities, int(d.Priorities[i].ID))
	}

	if c.temps != nil {
		values, err := c.temps.Update()
		if err != nil {
			log.Printf("temperature: %v", err)
		}
		for _, v := range values {
			if !temperature.Valid(v) {
				t.Temperatures = append(t.Temperatures, nil)
				continue
			}
			celsius := temperature.Celsius(v)
			t.Temperatures = append(t.Temperatures, &celsius)
		}
	}

	if c.relays != nil {
		c.relays.UpdateAverage(int32(math.Round(t.GridW)))
		t.RelayAverageW = c.relays.Average()
		for i := 0; i < c.relays.Len(); i++ {
			r := c.relays.Relay(i)
			t.Relays = append(t.Relays, RelayTelemetry{Pin: r.Pin(), On: r.IsOn(), Duration: r.Duration()})
		}
	}

	if c.cfg.Debug && t.Faults != c.lastFaults {
		log.Printf("faults: sequence=%d pin_write=%d dropped_datalogs=%d",
			t.Faults.Sequence, t.Faults.PinWrite, t.Faults.DroppedDatalogs)
		c.lastFaults = t.Faults
	}

	if c.sink != nil {
		if err := c.sink.Publish(t); err != nil {
			log.Printf("publish error: %v", err)
		}
	}
	return t
}
