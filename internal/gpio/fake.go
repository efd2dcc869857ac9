package gpio

import (
	"fmt"
	"sync"
)

// FakePins is a test double that records output levels and returns
// scripted input values. It is safe for concurrent use, since the
// sampling goroutine and the control loop share it.
type FakePins struct {
	mu sync.Mutex

	// State holds the current output levels, one bit per pin.
	State uint64

	// Inputs holds the asserted state returned by ReadPin, per pin.
	Inputs map[int]bool

	// Toggles counts TogglePin calls per pin.
	Toggles map[int]int

	// Writes counts SetPinsOn and SetPinsOff calls.
	Writes int

	// WriteError, if set, is returned by SetPinsOn and SetPinsOff.
	WriteError error

	// ReadError, if set, is returned by ReadPin.
	ReadError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakePins creates a FakePins with every output low and no input asserted.
func NewFakePins() *FakePins {
	return &FakePins{
		Inputs:  make(map[int]bool),
		Toggles: make(map[int]int),
	}
}

// SetPinsOn sets the bits in mask.
func (f *FakePins) SetPinsOn(mask uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Writes++
	if f.WriteError != nil {
		return f.WriteError
	}
	f.State |= mask
	return nil
}

// SetPinsOff clears the bits in mask.
func (f *FakePins) SetPinsOff(mask uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Writes++
	if f.WriteError != nil {
		return f.WriteError
	}
	f.State &^= mask
	return nil
}

// ReadPin returns the scripted input value.
func (f *FakePins) ReadPin(pin int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadError != nil {
		return false, f.ReadError
	}
	if pin < 0 || pin > 63 {
		return false, fmt.Errorf("pin %d: out of range", pin)
	}
	return f.Inputs[pin], nil
}

// TogglePin inverts the output bit of pin.
func (f *FakePins) TogglePin(pin int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pin < 0 || pin > 63 {
		return fmt.Errorf("pin %d: out of range", pin)
	}
	f.State ^= 1 << uint(pin)
	f.Toggles[pin]++
	return nil
}

// SetInput scripts the value ReadPin returns for pin.
func (f *FakePins) SetInput(pin int, asserted bool) {
	f.mu.Lock()
	f.Inputs[pin] = asserted
	f.mu.Unlock()
}

// IsOn reports whether output pin is high.
func (f *FakePins) IsOn(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.State&(1<<uint(pin)) != 0
}

// Levels returns the output bitmap.
func (f *FakePins) Levels() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.State
}

// ToggleCount returns how often pin was toggled.
func (f *FakePins) ToggleCount(pin int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Toggles[pin]
}

// Close marks the pins as closed.
func (f *FakePins) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
