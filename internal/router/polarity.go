package router

// PolarityDetector removes the DC offset from voltage samples and turns their
// sign into a debounced polarity, from which half-cycle boundaries are found.
type PolarityDetector struct {
	persistence uint8
	offsetMin   int32
	offsetMax   int32

	dcOffset     int32 // ADC mid-point, scaled x256
	cumDeltas    int32 // sum of DC-corrected samples since the last adaptation
	sample       int32 // latest DC-corrected sample, scaled x256
	mostRecent   Polarity
	confirmed    Polarity
	lastVerified Polarity // confirmed polarity of the previous sample set
	count        uint8
}

// NewPolarityDetector creates a detector seeded at the ADC mid-point.
func NewPolarityDetector(persistence uint8, d Derived) *PolarityDetector {
	if persistence < 1 {
		persistence = 1
	}
	return &PolarityDetector{
		persistence: persistence,
		offsetMin:   d.DCOffsetMin,
		offsetMax:   d.DCOffsetMax,
		dcOffset:    d.DCOffsetInitial,
	}
}

// Process subtracts the running DC offset from a raw voltage sample and
// classifies the sign of the remainder. It returns the corrected sample (x256).
func (p *PolarityDetector) Process(raw int16) int32 {
	p.sample = int32(raw)<<8 - p.dcOffset
	if p.sample > 0 {
		p.mostRecent = Positive
	} else {
		p.mostRecent = Negative
	}
	return p.sample
}

// Confirm flips the confirmed polarity only once more than persistence
// consecutive samples disagree with it.
func (p *PolarityDetector) Confirm() Polarity {
	if p.mostRecent == p.lastVerified {
		p.count = 0
		return p.confirmed
	}
	p.count++
	if p.count > p.persistence {
		p.count = 0
		p.confirmed = p.mostRecent
	}
	return p.confirmed
}

// EndSampleSet records the sample for the DC-offset filter and remembers the
// confirmed polarity so the next sample set can detect a boundary.
func (p *PolarityDetector) EndSampleSet() {
	p.cumDeltas += p.sample
	p.lastVerified = p.confirmed
}

// AdaptOffset feeds about 1/4096 of the last cycle's accumulated deviation back
// into the offset estimate, then keeps it inside the working window so the
// filter always starts up correctly.
func (p *PolarityDetector) AdaptOffset() {
	p.dcOffset += p.cumDeltas >> 12
	p.cumDeltas = 0
	p.dcOffset = clamp32(p.dcOffset, p.offsetMin, p.offsetMax)
}

// Confirmed is the debounced polarity.
func (p *PolarityDetector) Confirmed() Polarity { return p.confirmed }

// Previous is the confirmed polarity as of the previous sample set.
func (p *PolarityDetector) Previous() Polarity { return p.lastVerified }

// Sample is the latest DC-corrected voltage sample, scaled x256.
func (p *PolarityDetector) Sample() int32 { return p.sample }

// DCOffset is the current offset estimate, scaled x256.
func (p *PolarityDetector) DCOffset() int32 { return p.dcOffset }

func clamp32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
