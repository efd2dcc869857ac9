package router

// Decider holds the energy bucket and decides, once per mains cycle, whether a
// load should be added or removed. All quantities are in IEU.
type Decider struct {
	capacity       int32
	mid            int32
	lowerDefault   int32
	upperDefault   int32
	requiredExport int32
	postMax        uint8

	bucket     int32
	lower      int32
	upper      int32
	prediction int32

	recentTransition    bool
	postTransitionCount uint8
	activeLoad          int // priority slot switched most recently
}

// NewDecider creates a decider with the bucket empty and thresholds at their
// defaults (the bucket mid-point).
func NewDecider(d Derived, postTransitionMax uint8) *Decider {
	return &Decider{
		capacity:       d.Capacity,
		mid:            d.MidPoint,
		lowerDefault:   d.MidPoint,
		upperDefault:   d.MidPoint,
		requiredExport: d.RequiredExport,
		postMax:        postTransitionMax,
		lower:          d.MidPoint,
		upper:          d.MidPoint,
	}
}

// Commit adds the average power of the completed mains cycle to the bucket.
// Power and energy are numerically equal per cycle, so no scaling is applied.
func (d *Decider) Commit(averagePower int32) {
	d.bucket += averagePower - d.requiredExport
	d.Clamp()
}

// Predict estimates the bucket level at the end of the current cycle from the
// average power of its first half. Because the sample count matches the
// elapsed half period, this is a true average rather than half of one.
func (d *Decider) Predict(averagePowerFirstHalf int32) int32 {
	d.prediction = d.bucket + averagePowerFirstHalf
	return d.prediction
}

// Decide runs one decision pass against the latest prediction and mutates the
// logical state in loads. It reports whether any logical state changed.
func (d *Decider) Decide(loads *Loads) bool {
	if d.recentTransition {
		d.postTransitionCount++
		if d.postTransitionCount >= d.postMax {
			d.recentTransition = false
		}
	}

	if d.prediction > d.mid {
		d.lower = d.lowerDefault
		if d.prediction > d.upper {
			return d.raise(loads)
		}
		return false
	}

	d.upper = d.upperDefault
	if d.prediction < d.lower {
		return d.reduce(loads)
	}
	return false
}

func (d *Decider) raise(loads *Loads) bool {
	slot := loads.NextToAdd()
	if slot >= loads.Len() {
		return false
	}

	ok := true
	if d.recentTransition {
		// track the rise while the last switched load has yet to take effect
		d.upper = min(d.prediction, d.capacity)
		ok = slot == d.activeLoad
	}
	if !ok {
		return false
	}
	loads.SetOn(slot, true)
	d.markTransition(slot)
	return true
}

func (d *Decider) reduce(loads *Loads) bool {
	slot := loads.NextToRemove()
	if slot >= loads.Len() {
		return false
	}

	ok := true
	if d.recentTransition {
		d.lower = max(d.prediction, 0)
		ok = slot == d.activeLoad
	}
	if !ok {
		return false
	}
	loads.SetOn(slot, false)
	d.markTransition(slot)
	return true
}

func (d *Decider) markTransition(slot int) {
	d.activeLoad = slot
	d.postTransitionCount = 0
	d.recentTransition = true
}

// Clamp keeps the bucket inside [0, capacity].
func (d *Decider) Clamp() {
	d.bucket = clamp32(d.bucket, 0, d.capacity)
}

// Bucket is the current energy level.
func (d *Decider) Bucket() int32 { return d.bucket }

// Capacity is the size of the bucket.
func (d *Decider) Capacity() int32 { return d.capacity }

// Thresholds returns the dynamic lower and upper thresholds.
func (d *Decider) Thresholds() (lower, upper int32) { return d.lower, d.upper }

// Prediction is the latest end-of-cycle estimate.
func (d *Decider) Prediction() int32 { return d.prediction }

// InTransition reports whether a load is in its post-transition window and
// which priority slot it occupies.
func (d *Decider) InTransition() (bool, int) { return d.recentTransition, d.activeLoad }

// SetBucket sets the energy level, clamped. Used to seed simulations and tests.
func (d *Decider) SetBucket(v int32) {
	d.bucket = v
	d.Clamp()
}
