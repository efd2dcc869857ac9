// Package router contains the real-time sampling and decision engine of the PV router.
// This package has NO external dependencies (no GPIO, MQTT, OS, or logging).
// Everything reachable from Sampler.OnConversion runs on the fast path: it never
// blocks, never allocates and never logs. Faults are counted instead.
package router

// MaxLoads is the largest number of dump loads a single engine can drive.
// Priorities are published to the slow path packed one byte per slot in a uint64.
const MaxLoads = 8

// Channel identifies which analog input a raw conversion belongs to.
type Channel uint8

const (
	ChannelVoltage Channel = iota
	ChannelGrid
	ChannelDiverted

	numChannels
)

func (c Channel) String() string {
	switch c {
	case ChannelVoltage:
		return "voltage"
	case ChannelGrid:
		return "grid"
	case ChannelDiverted:
		return "diverted"
	}
	return "unknown"
}

// Polarity is the sign of a DC-corrected voltage sample.
type Polarity uint8

const (
	Negative Polarity = iota
	Positive
)

// LoadState is the physical state of a load output.
type LoadState uint8

const (
	LoadOff LoadState = iota
	LoadOn
)

func (s LoadState) String() string {
	if s == LoadOn {
		return "ON"
	}
	return "OFF"
}

// LoadPriority is one slot of the priority list: which load sits there and
// whether the decision engine wants it on. Slot 0 is the highest priority.
type LoadPriority struct {
	ID uint8
	On bool
}

// RotationMode selects how load priorities may be rotated.
type RotationMode string

const (
	RotationOff  RotationMode = "off"
	RotationAuto RotationMode = "auto"
	RotationPin  RotationMode = "pin"
)

// Datalog is a copy of the accumulators taken at the end of a datalogging period.
// It is a value type, handed to the slow path through a channel.
type Datalog struct {
	SumPGrid     int64
	SumPDiverted int64
	SumVSquared  int64

	SampleSets               uint32
	LowestSampleSetsPerCycle uint16

	NumLoads    int
	CountLoadOn [MaxLoads]uint16
	Priorities  [MaxLoads]LoadPriority

	EnergyInBucket int32
	DivertedWh     uint32
}

// Faults counts conditions the fast path recovered from on its own.
type Faults struct {
	Sequence        uint64 // sampler channel index out of range or resynced
	PinWrite        uint64 // SetPinsOn/SetPinsOff returned an error
	DroppedDatalogs uint64 // a snapshot was replaced before the slow path read it
}

// PinWriter drives the load outputs. Masks are indexed by pin number.
type PinWriter interface {
	SetPinsOn(mask uint64) error
	SetPinsOff(mask uint64) error
}

// ChannelSelector programs the ADC multiplexer for the next conversion.
// Free-running front-ends that already know the sequence can ignore it.
type ChannelSelector interface {
	Select(next Channel)
}
