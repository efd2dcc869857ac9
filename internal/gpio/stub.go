//go:build !linux

package gpio

import "errors"

// RealPins is not available on non-Linux platforms.
type RealPins struct{}

// NewRealPins returns an error on non-Linux platforms.
func NewRealPins(l Layout) (*RealPins, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// SetPinsOn is not implemented on non-Linux platforms.
func (p *RealPins) SetPinsOn(mask uint64) error {
	return errors.New("gpio: not supported")
}

// SetPinsOff is not implemented on non-Linux platforms.
func (p *RealPins) SetPinsOff(mask uint64) error {
	return errors.New("gpio: not supported")
}

// ReadPin is not implemented on non-Linux platforms.
func (p *RealPins) ReadPin(pin int) (bool, error) {
	return false, errors.New("gpio: not supported")
}

// TogglePin is not implemented on non-Linux platforms.
func (p *RealPins) TogglePin(pin int) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (p *RealPins) Close() error {
	return nil
}
