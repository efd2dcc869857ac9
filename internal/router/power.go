package router

// currentChannel converts raw current samples into instantaneous power.
type currentChannel struct {
	midPoint int32
	alphaQ16 int32
	gainQ16  int32
	lpf      int32 // offsets the high-pass behaviour of the current transformer

	sumCycle  int64 // this mains cycle
	sumPeriod int64 // this datalogging period
}

// accumulate adds one V*I product. v is the DC-corrected voltage (x256).
func (c *currentChannel) accumulate(v int32, raw int16) {
	i := (int32(raw) - c.midPoint) << 8
	if c.gainQ16 != 0 {
		c.lpf += int32((int64(c.alphaQ16) * int64(i-c.lpf)) >> 16)
		i += int32((int64(c.gainQ16) * int64(c.lpf)) >> 16)
	}
	// both operands are reduced to x64 so the product stays in range, then the
	// scaling is brought back to x1 (V_ADC x I_ADC)
	instP := (int64(v>>2) * int64(i>>2)) >> 12
	c.sumCycle += instP
	c.sumPeriod += instP
}

// PowerAccumulator sums real power for the grid and diverted channels, and V²
// for RMS voltage reporting.
type PowerAccumulator struct {
	grid     currentChannel
	diverted currentChannel

	vShift       uint8
	sumVSquared  int64
	divertedSkip bool
}

// NewPowerAccumulator creates an accumulator for the given derived constants.
func NewPowerAccumulator(midPoint int16, d Derived) *PowerAccumulator {
	ch := currentChannel{
		midPoint: int32(midPoint),
		alphaQ16: d.LPFAlphaQ16,
		gainQ16:  d.LPFGainQ16,
	}
	return &PowerAccumulator{
		grid:     ch,
		diverted: ch,
		vShift:   d.VSquaredShift,
	}
}

// AddVoltage accumulates V² for the datalogging period.
func (a *PowerAccumulator) AddVoltage(v int32) {
	filt := int64(v >> 2)
	a.sumVSquared += (filt * filt) >> a.vShift
}

// AddGrid accumulates the grid-side real power of one sample pair.
func (a *PowerAccumulator) AddGrid(v int32, raw int16) {
	a.grid.accumulate(v, raw)
}

// AddDiverted accumulates the diverted real power of one sample pair, unless
// diverted power attribution is currently suspended.
func (a *PowerAccumulator) AddDiverted(v int32, raw int16) {
	if a.divertedSkip {
		return
	}
	a.diverted.accumulate(v, raw)
}

// SuspendDiverted stops (or resumes) diverted power accumulation. It is set
// while the measured load is forced to full power or diversion is disabled.
func (a *PowerAccumulator) SuspendDiverted(skip bool) {
	a.divertedSkip = skip
}

// CycleSums returns the per-cycle sums of both channels.
func (a *PowerAccumulator) CycleSums() (grid, diverted int64) {
	return a.grid.sumCycle, a.diverted.sumCycle
}

// ResetCycle clears the per-cycle sums.
func (a *PowerAccumulator) ResetCycle() {
	a.grid.sumCycle = 0
	a.diverted.sumCycle = 0
}

// takePeriod returns and clears the datalogging-period sums.
func (a *PowerAccumulator) takePeriod() (grid, diverted, vSquared int64) {
	grid, diverted, vSquared = a.grid.sumPeriod, a.diverted.sumPeriod, a.sumVSquared
	a.grid.sumPeriod = 0
	a.diverted.sumPeriod = 0
	a.sumVSquared = 0
	return grid, diverted, vSquared
}

// resetAll clears every accumulator. Used when leaving the startup period.
func (a *PowerAccumulator) resetAll() {
	a.ResetCycle()
	a.takePeriod()
}
