package control

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sweeney/pv-router/internal/gpio"
	"github.com/sweeney/pv-router/internal/logic"
	"github.com/sweeney/pv-router/internal/router"
	"github.com/sweeney/pv-router/internal/temperature"
)

// Poll samples the control inputs and catches up with the mains cycles the
// engine completed since the last call. It returns the debounced input events.
func (c *Controller) Poll(ctx context.Context, now time.Time) []logic.Event {
	var events []logic.Event
	in, err := c.readInputs(now)
	if err != nil {
		log.Printf("gpio read error: %v", err)
	} else {
		events = c.detector.Process(in)
	}

	if !c.baselined && c.detector.IsBaselined() {
		c.baselined = true
		c.applyBaseline(now)
	}
	for _, ev := range events {
		log.Printf("event: %s", ev.Type)
		c.handleEvent(ctx, ev)
	}

	cycles := c.engine.Cycles()
	c.OnCycles(ctx, cycles-c.lastCycles, now)
	c.lastCycles = cycles
	return events
}

func (c *Controller) readInputs(now time.Time) (logic.Input, error) {
	in := logic.Input{Time: now}
	for _, p := range []struct {
		pin int
		dst *bool
	}{
		{c.cfg.Pins.Override, &in.Override},
		{c.cfg.Pins.DiversionOff, &in.DiversionOff},
		{c.cfg.Pins.Rotation, &in.Rotate},
		{c.cfg.Pins.DualTariff, &in.OffPeak},
	} {
		if p.pin == gpio.NoPin {
			continue
		}
		v, err := c.pins.ReadPin(p.pin)
		if err != nil {
			return logic.Input{}, fmt.Errorf("pin %d: %w", p.pin, err)
		}
		*p.dst = v
	}
	return in, nil
}

// applyBaseline adopts the first stable input states without treating them
// as edges.
func (c *Controller) applyBaseline(now time.Time) {
	off := c.detector.Asserted(logic.InputDiversionOff)
	c.engine.SetDiversionOff(off)
	if off {
		log.Printf("diversion: disabled by switch")
	}
	if c.cfg.DualTariff && c.detector.Asserted(logic.InputOffPeak) {
		c.offPeak = true
		c.offPeakStart = now
		log.Printf("tariff: off-peak")
	}
	c.applyOverrides(now)
}

func (c *Controller) handleEvent(ctx context.Context, ev logic.Event) {
	switch ev.Type {
	case logic.EventDiversionOff, logic.EventDiversionOn:
		c.engine.SetDiversionOff(ev.Type == logic.EventDiversionOff)
	case logic.EventOverrideOn, logic.EventOverrideOff:
		c.applyOverrides(ev.Timestamp)
	case logic.EventRotatePressed:
		if c.engine.Params().Rotation == router.RotationPin {
			if err := c.Rotate(ctx); err != nil {
				log.Printf("rotation: %v", err)
			}
		}
	case logic.EventOffPeakStart:
		if !c.cfg.DualTariff {
			return
		}
		c.offPeak = true
		c.offPeakStart = ev.Timestamp
		if c.engine.Params().Rotation == router.RotationAuto {
			if err := c.Rotate(ctx); err != nil {
				log.Printf("rotation: %v", err)
			}
		}
		c.applyOverrides(ev.Timestamp)
	case logic.EventOffPeakEnd:
		if !c.cfg.DualTariff {
			return
		}
		c.offPeak = false
		c.applyOverrides(ev.Timestamp)
	}
}

// OnCycles accounts for n completed mains cycles: display refresh every
// UpdatePeriodForDisplay cycles, idle reset of the diverted energy, and one
// Tick per second of mains time.
func (c *Controller) OnCycles(ctx context.Context, n uint64, now time.Time) {
	if n == 0 {
		return
	}
	f := uint64(c.engine.Params().SupplyFrequency)

	c.cyclesForDisplay += n
	if c.cyclesForDisplay >= UpdatePeriodForDisplay {
		c.cyclesForDisplay = 0
		if c.display != nil {
			c.display.ShowEnergy(c.engine.DiversionActive(), c.engine.DivertedWh(),
				!c.engine.DiversionOff(), c.engine.AnyOverride())
		}
	}

	if c.cfg.DisplayShutdown > 0 && c.engine.DiversionActive() {
		limit := uint64(c.cfg.DisplayShutdown/time.Second) * f
		if uint64(c.engine.AbsenceCycles()) > limit {
			log.Printf("diversion: idle for %v, clearing diverted energy", c.cfg.DisplayShutdown)
			c.engine.RequestDivertedReset()
		}
	}

	c.cyclesForTick += n
	for c.cyclesForTick >= f {
		c.cyclesForTick -= f
		c.Tick(ctx, now)
	}
}

// Tick runs the once-per-second housekeeping and reports whether the low
// tariff is in force.
func (c *Controller) Tick(ctx context.Context, now time.Time) bool {
	if c.cfg.Pins.Watchdog != gpio.NoPin {
		if err := c.pins.TogglePin(c.cfg.Pins.Watchdog); err != nil {
			log.Printf("watchdog: %v", err)
		}
	}

	c.applyOverrides(now)
	c.checkIdleRotation(ctx)

	if c.relays != nil {
		c.relays.Tick()
		switched, err := c.relays.Advance(c.pins)
		if err != nil {
			log.Printf("relay: %v", err)
		} else if switched {
			log.Printf("relay: average %d W, %s", c.relays.Average(), relayStates(c))
		}
	}
	return c.offPeak
}

// checkIdleRotation rotates priorities in auto mode once the top-priority load
// has gone RotateAfter without diverting. The dual tariff, when enabled,
// rotates at the start of each off-peak period instead.
func (c *Controller) checkIdleRotation(ctx context.Context) {
	if c.engine.Params().Rotation != router.RotationAuto || c.cfg.DualTariff || c.cfg.RotateAfter <= 0 {
		return
	}
	after := uint32(c.cfg.RotateAfter/time.Second) * uint32(c.engine.Params().SupplyFrequency)
	absence := c.engine.AbsenceCycles()
	if absence < c.rotateMark {
		// the top load has diverted since the last rotation
		c.rotateMark = 0
	}
	if absence-c.rotateMark < after {
		return
	}
	c.rotateMark = absence
	if err := c.Rotate(ctx); err != nil {
		log.Printf("rotation: %v", err)
	}
}

// applyOverrides recomputes which loads are forced on: every load while the
// override switch is on, otherwise the loads whose off-peak window is open.
func (c *Controller) applyOverrides(now time.Time) {
	var forced [router.MaxLoads]bool
	n := c.engine.NumLoads()

	switch {
	case c.detector.Asserted(logic.InputOverride):
		for i := 0; i < n; i++ {
			forced[i] = true
		}
	case c.cfg.DualTariff && c.offPeak:
		elapsed := now.Sub(c.offPeakStart)
		for _, w := range c.cfg.Windows {
			if w.Load >= 0 && w.Load < n && c.windowOpen(w, elapsed) {
				forced[w.Load] = true
			}
		}
	}

	for i := 0; i < n; i++ {
		if forced[i] != c.forced[i] {
			log.Printf("override: load %d forced=%v", i, forced[i])
		}
		c.engine.SetOverride(i, forced[i])
	}
	c.forced = forced
}

func (c *Controller) windowOpen(w Window, elapsed time.Duration) bool {
	start, end := WindowBounds(w, c.cfg.OffPeak)
	if elapsed < start || elapsed >= end {
		return false
	}
	if w.Sensor >= 0 && c.temps != nil {
		// an invalid reading never blocks the boost
		if t := c.temps.Last(w.Sensor); temperature.Valid(t) && t >= w.MaxTemp {
			return false
		}
	}
	return true
}

// WindowBounds returns the window as offsets from the start of the off-peak period.
func WindowBounds(w Window, offPeak time.Duration) (start, end time.Duration) {
	start = w.Start
	if start < 0 {
		start += offPeak
	}
	if w.Duration == 0 {
		return start, offPeak
	}
	return start, start + w.Duration
}

// Rotate asks the fast path to rotate the load priorities and waits until it
// has done so.
func (c *Controller) Rotate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, rotateTimeout)
	defer cancel()

	c.engine.RequestRotation()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for c.engine.RotationPending() {
		select {
		case <-ctx.Done():
			if c.engine.CancelRotation() {
				return fmt.Errorf("waiting for rotation: %w", ctx.Err())
			}
			// consumed between the last check and the deadline
		case <-ticker.C:
		}
	}
	log.Printf("rotation: new priorities %s", FormatPriorities(c.engine.Priorities()))
	return nil
}

// FormatPriorities renders a priority list as "[1 0*]", * marking loads that are on.
func FormatPriorities(p []router.LoadPriority) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, s := range p {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d", s.ID)
		if s.On {
			b.WriteByte('*')
		}
	}
	b.WriteByte(']')
	return b.String()
}

func relayStates(c *Controller) string {
	var b strings.Builder
	for i := 0; i < c.relays.Len(); i++ {
		r := c.relays.Relay(i)
		if i > 0 {
			b.WriteByte(' ')
		}
		state := "off"
		if r.IsOn() {
			state = "on"
		}
		fmt.Fprintf(&b, "pin%d=%s", r.Pin(), state)
	}
	return b.String()
}
