// Package gpio provides pin I/O with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "github.com/sweeney/pv-router/internal/router"

// Pins drives load and relay outputs and reads control inputs.
// Masks are indexed by BCM pin number.
type Pins interface {
	router.PinWriter

	// ReadPin returns whether an input is asserted. Inputs are active low
	// with pull-up, so a closed contact to ground reads as true.
	ReadPin(pin int) (bool, error)

	// TogglePin inverts an output that is not part of a load group.
	TogglePin(pin int) error

	// Close releases GPIO resources.
	Close() error
}

// NoPin marks an optional pin as absent.
const NoPin = -1

// Layout lists the pins to request. Load pins are requested together so
// a mask is applied with one write; other outputs and inputs individually.
type Layout struct {
	Chip    string
	Loads   []int
	Outputs []int // relays, watchdog
	Inputs  []int
}

// DefaultChip is the Raspberry Pi GPIO controller.
const DefaultChip = "gpiochip0"

func present(pins []int) []int {
	var out []int
	for _, p := range pins {
		if p != NoPin {
			out = append(out, p)
		}
	}
	return out
}

var _ Pins = (*RealPins)(nil)
