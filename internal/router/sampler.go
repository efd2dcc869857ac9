package router

// Sampler receives ADC conversions in the fixed order voltage, grid current,
// diverted current, and dispatches each one synchronously to the engine.
// There is no buffering: a conversion attributed to the wrong channel would
// corrupt the power sums, so the order is the sampler's only state.
type Sampler struct {
	engine *Engine
	sel    ChannelSelector
	index  uint8
}

// NewSampler creates a sampler feeding e. sel may be nil when the front-end
// sequences its channels on its own.
func NewSampler(e *Engine, sel ChannelSelector) *Sampler {
	return &Sampler{engine: e, sel: sel}
}

// OnConversion is called once per completed conversion. It programs the
// multiplexer for the following channel, then processes the sample.
func (s *Sampler) OnConversion(raw int16) {
	switch s.index {
	case 0:
		s.selectNext(ChannelGrid)
		s.index = 1
		s.engine.ProcessVoltage(raw)
	case 1:
		s.selectNext(ChannelDiverted)
		s.index = 2
		s.engine.ProcessGridCurrent(raw)
	case 2:
		s.selectNext(ChannelVoltage)
		s.index = 0
		s.engine.ProcessDivertedCurrent(raw)
	default:
		// unreachable unless the index was corrupted; never halt
		s.index = 0
		s.engine.faultSequence.Add(1)
	}
}

// Expected is the channel the next conversion will be attributed to.
func (s *Sampler) Expected() Channel {
	return Channel(s.index)
}

// Resync realigns the sampler with a front-end that tags its conversions.
// A mismatch is counted as a sequencing fault.
func (s *Sampler) Resync(ch Channel) {
	if ch >= numChannels || Channel(s.index) == ch {
		return
	}
	s.index = uint8(ch)
	s.engine.faultSequence.Add(1)
}

func (s *Sampler) selectNext(ch Channel) {
	if s.sel != nil {
		s.sel.Select(ch)
	}
}
