package router

// Loads maps the logical priority list onto physical load outputs.
// Slot order is priority order, NOT load-id order.
type Loads struct {
	n         int
	slots     [MaxLoads]LoadPriority
	pins      [MaxLoads]uint8
	physical  [MaxLoads]LoadState
	countOn   [MaxLoads]uint16
	rotatable bool
}

// NewLoads creates the priority list from the startup priorities. Every load
// starts OFF.
func NewLoads(pins []int, priorities []uint8, mode RotationMode) *Loads {
	l := &Loads{n: len(pins), rotatable: mode != RotationOff}
	for i, pin := range pins {
		l.pins[i] = uint8(pin)
	}
	for i, id := range priorities {
		l.slots[i] = LoadPriority{ID: id}
	}
	return l
}

// Len is the number of loads.
func (l *Loads) Len() int { return l.n }

// Slot returns the entry at priority position i.
func (l *Loads) Slot(i int) LoadPriority { return l.slots[i] }

// Physical returns the physical state of load id.
func (l *Loads) Physical(id int) LoadState { return l.physical[id] }

// Priorities copies the priority list into dst and returns the filled part.
func (l *Loads) Priorities(dst []LoadPriority) []LoadPriority {
	return append(dst[:0], l.slots[:l.n]...)
}

// NextToAdd returns the highest-priority slot that is OFF, or Len() if none.
func (l *Loads) NextToAdd() int {
	for i := 0; i < l.n; i++ {
		if !l.slots[i].On {
			return i
		}
	}
	return l.n
}

// NextToRemove returns the lowest-priority slot that is ON, or Len() if none.
func (l *Loads) NextToRemove() int {
	for i := l.n - 1; i >= 0; i-- {
		if l.slots[i].On {
			return i
		}
	}
	return l.n
}

// SetOn changes the logical state of the load at priority position i.
func (l *Loads) SetOn(i int, on bool) {
	l.slots[i].On = on
}

// Rotate moves every entry down one position and wraps the last entry to the
// head: P'[i] = P[i-1] for i >= 1, P'[0] = P[N-1]. Entries keep their on bits.
// It reports whether a rotation took place.
func (l *Loads) Rotate() bool {
	if !l.rotatable || l.n < 2 {
		return false
	}
	last := l.slots[l.n-1]
	for i := l.n - 1; i > 0; i-- {
		l.slots[i] = l.slots[i-1]
	}
	l.slots[0] = last
	return true
}

// MapToPhysical recomputes every physical state from scratch: a load is ON iff
// diversion is enabled and it is either overridden or logically on.
func (l *Loads) MapToPhysical(override *[MaxLoads]bool, diversionOff bool) {
	for i := 0; i < l.n; i++ {
		s := l.slots[i]
		if !diversionOff && (override[s.ID] || s.On) {
			l.physical[s.ID] = LoadOn
		} else {
			l.physical[s.ID] = LoadOff
		}
	}
}

// WriteOutputs applies the physical states in two batched operations so no
// output glitches while others change. It also counts ON cycles per load.
func (l *Loads) WriteOutputs(w PinWriter) error {
	var on, off uint64
	for id := 0; id < l.n; id++ {
		bit := uint64(1) << l.pins[id]
		if l.physical[id] == LoadOn {
			on |= bit
			l.countOn[id]++
		} else {
			off |= bit
		}
	}
	if w == nil {
		return nil
	}
	errOff := w.SetPinsOff(off)
	errOn := w.SetPinsOn(on)
	if errOff != nil {
		return errOff
	}
	return errOn
}

// takeCounts copies and clears the per-load ON-cycle counters.
func (l *Loads) takeCounts(dst *[MaxLoads]uint16) {
	*dst = l.countOn
	l.countOn = [MaxLoads]uint16{}
}

// pack encodes the priority list one byte per slot (bit 7 = on, low bits = id)
// so it can be published with a single atomic store.
func (l *Loads) pack() uint64 {
	var v uint64
	for i := 0; i < l.n; i++ {
		b := uint64(l.slots[i].ID & 0x7f)
		if l.slots[i].On {
			b |= 0x80
		}
		v |= b << (8 * i)
	}
	return v
}

// unpackPriorities decodes the value produced by pack.
func unpackPriorities(v uint64, n int) []LoadPriority {
	out := make([]LoadPriority, n)
	for i := 0; i < n; i++ {
		b := uint8(v >> (8 * i))
		out[i] = LoadPriority{ID: b & 0x7f, On: b&0x80 != 0}
	}
	return out
}
