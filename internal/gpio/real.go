//go:build linux

package gpio

import (
	"fmt"
	"math/bits"

	"github.com/warthog618/go-gpiocdev"
)

// RealPins drives actual hardware using Linux GPIO character device.
//
// The load group is written only by the sampling goroutine and the other
// outputs only by the control loop, so no lock is taken on either path.
type RealPins struct {
	chip *gpiocdev.Chip

	loads      *gpiocdev.Lines
	loadIndex  map[int]int
	loadValues []int
	loadMask   uint64

	outputs map[int]*gpiocdev.Line
	levels  map[int]int
	inputs  map[int]*gpiocdev.Line
}

// NewRealPins requests every pin in the layout. Outputs start low.
func NewRealPins(l Layout) (*RealPins, error) {
	name := l.Chip
	if name == "" {
		name = DefaultChip
	}
	chip, err := gpiocdev.NewChip(name)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	p := &RealPins{
		chip:      chip,
		loadIndex: make(map[int]int),
		outputs:   make(map[int]*gpiocdev.Line),
		levels:    make(map[int]int),
		inputs:    make(map[int]*gpiocdev.Line),
	}

	loads := present(l.Loads)
	if len(loads) > 0 {
		p.loadValues = make([]int, len(loads))
		lines, err := chip.RequestLines(loads, gpiocdev.AsOutput(p.loadValues...))
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("request load pins %v: %w", loads, err)
		}
		p.loads = lines
		for i, pin := range loads {
			p.loadIndex[pin] = i
			p.loadMask |= 1 << uint(pin)
		}
	}

	for _, pin := range present(l.Outputs) {
		line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("request output pin %d: %w", pin, err)
		}
		p.outputs[pin] = line
	}

	for _, pin := range present(l.Inputs) {
		line, err := chip.RequestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullUp, gpiocdev.AsActiveLow)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("request input pin %d: %w", pin, err)
		}
		p.inputs[pin] = line
	}

	return p, nil
}

// SetPinsOn drives every pin in mask high.
func (p *RealPins) SetPinsOn(mask uint64) error {
	return p.write(mask, 1)
}

// SetPinsOff drives every pin in mask low.
func (p *RealPins) SetPinsOff(mask uint64) error {
	return p.write(mask, 0)
}

func (p *RealPins) write(mask uint64, v int) error {
	if m := mask & p.loadMask; m != 0 {
		for m != 0 {
			pin := bits.TrailingZeros64(m)
			m &^= 1 << uint(pin)
			p.loadValues[p.loadIndex[pin]] = v
		}
		if err := p.loads.SetValues(p.loadValues); err != nil {
			return fmt.Errorf("set load pins: %w", err)
		}
	}
	for m := mask &^ p.loadMask; m != 0; {
		pin := bits.TrailingZeros64(m)
		m &^= 1 << uint(pin)
		line, ok := p.outputs[pin]
		if !ok {
			return fmt.Errorf("pin %d: not an output", pin)
		}
		if err := line.SetValue(v); err != nil {
			return fmt.Errorf("set pin %d: %w", pin, err)
		}
		p.levels[pin] = v
	}
	return nil
}

// ReadPin returns whether an input is asserted (pulled to ground).
func (p *RealPins) ReadPin(pin int) (bool, error) {
	line, ok := p.inputs[pin]
	if !ok {
		return false, fmt.Errorf("pin %d: not an input", pin)
	}
	v, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", pin, err)
	}
	return v == 1, nil
}

// TogglePin inverts a single output.
func (p *RealPins) TogglePin(pin int) error {
	line, ok := p.outputs[pin]
	if !ok {
		return fmt.Errorf("pin %d: not an output", pin)
	}
	v := 1 - p.levels[pin]
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("toggle pin %d: %w", pin, err)
	}
	p.levels[pin] = v
	return nil
}

// Close switches every output off and releases GPIO resources.
// Pins are reconfigured to input with pull-down (matching Pi boot defaults)
// so loads stay off while the daemon is not running.
func (p *RealPins) Close() error {
	var errs []error

	if p.loads != nil {
		for i := range p.loadValues {
			p.loadValues[i] = 0
		}
		if err := p.loads.SetValues(p.loadValues); err != nil {
			errs = append(errs, fmt.Errorf("clear load pins: %w", err))
		}
		if err := p.loads.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure load pins: %w", err))
		}
		if err := p.loads.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close load pins: %w", err))
		}
	}
	for pin, line := range p.outputs {
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	for pin, line := range p.inputs {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	if p.chip != nil {
		if err := p.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
