// Package relay switches on/off loads (heat pumps, contactors) from the
// average grid power, with hysteresis and minimum on/off durations.
package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/pv-router/internal/router"
)

// Config describes one relay output. Grid power is positive when importing.
type Config struct {
	Pin              int
	SurplusThreshold int32 // W of export needed to switch on
	ImportThreshold  int32 // W of import that switches off
	MinOn            time.Duration
	MinOff           time.Duration
}

// Validate rejects thresholds and durations the engine cannot work with.
func (c Config) Validate() error {
	if c.Pin < 0 || c.Pin > 63 {
		return fmt.Errorf("relay pin %d: out of range", c.Pin)
	}
	if c.SurplusThreshold <= 0 || c.ImportThreshold <= 0 {
		return errors.New("relay thresholds must be positive")
	}
	if c.MinOn < time.Second || c.MinOff < time.Second {
		return errors.New("relay minimum durations must be at least 1s")
	}
	return nil
}

// Relay is the runtime state of one output.
type Relay struct {
	cfg      Config
	on       bool
	duration time.Duration // time spent in the current state
}

// Pin returns the relay output pin.
func (r *Relay) Pin() int { return r.cfg.Pin }

// IsOn reports the relay state.
func (r *Relay) IsOn() bool { return r.on }

// Duration is the time spent in the current state.
func (r *Relay) Duration() time.Duration { return r.duration }

// tryOn switches the relay on when it has been off long enough and the
// average shows enough surplus.
func (r *Relay) tryOn(avg int32) bool {
	if r.on || r.duration < r.cfg.MinOff || avg > -r.cfg.SurplusThreshold {
		return false
	}
	r.on = true
	r.duration = 0
	return true
}

// tryOff switches the relay off when it has been on long enough and the
// average shows too much import.
func (r *Relay) tryOff(avg int32) bool {
	if !r.on || r.duration < r.cfg.MinOn || avg < r.cfg.ImportThreshold {
		return false
	}
	r.on = false
	r.duration = 0
	return true
}

// Engine owns every relay and the filtered grid power they react to.
// It is driven by the control loop only.
type Engine struct {
	relays  []*Relay
	weight  int32 // number of datalog periods in the moving average
	average int32
	primed  bool
}

// DefaultFilterDelay smooths out passing clouds and short load peaks.
const DefaultFilterDelay = time.Minute

// NewEngine validates cfgs and creates an engine whose average spans
// filterDelay worth of datalog periods.
func NewEngine(cfgs []Config, filterDelay, datalogPeriod time.Duration) (*Engine, error) {
	e := &Engine{weight: 1}
	if datalogPeriod > 0 && filterDelay > datalogPeriod {
		e.weight = int32(filterDelay / datalogPeriod)
	}
	seen := make(map[int]bool)
	for i, c := range cfgs {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("relay %d: %w", i, err)
		}
		if seen[c.Pin] {
			return nil, fmt.Errorf("relay %d: pin %d already assigned", i, c.Pin)
		}
		seen[c.Pin] = true
		e.relays = append(e.relays, &Relay{cfg: c})
	}
	return e, nil
}

// Len is the number of relays.
func (e *Engine) Len() int { return len(e.relays) }

// Relay returns relay i.
func (e *Engine) Relay(i int) *Relay { return e.relays[i] }

// UpdateAverage folds one datalog period's grid power (W) into the average.
func (e *Engine) UpdateAverage(gridW int32) {
	if !e.primed {
		e.average = gridW
		e.primed = true
		return
	}
	e.average += (gridW - e.average) / e.weight
}

// Average is the filtered grid power in W.
func (e *Engine) Average() int32 { return e.average }

// Tick adds one second to every relay's current-state duration.
func (e *Engine) Tick() {
	for _, r := range e.relays {
		if r.duration < 24*time.Hour {
			r.duration += time.Second
		}
	}
}

// Advance switches at most one relay: while importing the last relay that
// may go off is switched off, otherwise the first relay that may come on is
// switched on. It reports whether a relay changed.
func (e *Engine) Advance(w router.PinWriter) (bool, error) {
	if !e.primed {
		return false, nil
	}
	if e.average > 0 {
		for i := len(e.relays) - 1; i >= 0; i-- {
			r := e.relays[i]
			if r.tryOff(e.average) {
				return true, w.SetPinsOff(1 << uint(r.cfg.Pin))
			}
		}
		return false, nil
	}
	for _, r := range e.relays {
		if r.tryOn(e.average) {
			return true, w.SetPinsOn(1 << uint(r.cfg.Pin))
		}
	}
	return false, nil
}

// AllOff switches every relay off, e.g. on shutdown.
func (e *Engine) AllOff(w router.PinWriter) error {
	var mask uint64
	for _, r := range e.relays {
		mask |= 1 << uint(r.cfg.Pin)
		r.on = false
		r.duration = 0
	}
	if mask == 0 {
		return nil
	}
	return w.SetPinsOff(mask)
}

// Mask returns the output bits of every relay.
func (e *Engine) Mask() uint64 {
	var mask uint64
	for _, r := range e.relays {
		mask |= 1 << uint(r.cfg.Pin)
	}
	return mask
}
