package router

// DivertedEnergy accumulates diverted energy at full IEU resolution and moves
// whole Watt-hours into a coarse register, so no division is ever needed and
// the rounding error stays below one unit.
type DivertedEnergy struct {
	unit      int32
	recentIEU int32
	totalWh   uint32
}

// NewDivertedEnergy creates an accumulator with unit IEU per Watt-hour.
func NewDivertedEnergy(ieuPerWh int32) *DivertedEnergy {
	return &DivertedEnergy{unit: ieuPerWh}
}

// Add accumulates one contribution and returns how many Watt-hours it completed.
func (e *DivertedEnergy) Add(ieu int32) uint32 {
	e.recentIEU += ieu
	var wh uint32
	for e.recentIEU >= e.unit {
		e.recentIEU -= e.unit
		wh++
	}
	e.totalWh += wh
	return wh
}

// Reset clears both registers.
func (e *DivertedEnergy) Reset() {
	e.recentIEU = 0
	e.totalWh = 0
}

// TotalWh is the coarse register.
func (e *DivertedEnergy) TotalWh() uint32 { return e.totalWh }

// RecentIEU is the high-resolution remainder.
func (e *DivertedEnergy) RecentIEU() int32 { return e.recentIEU }
