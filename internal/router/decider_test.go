package router

import "testing"

func newTestDecider() (*Decider, *Loads) {
	d := NewDecider(Derived{Capacity: 1000, MidPoint: 500}, 3)
	d.SetBucket(500)
	return d, NewLoads([]int{4, 3}, []uint8{0, 1}, RotationOff)
}

func TestBucketClamped(t *testing.T) {
	d, _ := newTestDecider()

	d.Commit(5000)
	if d.Bucket() != 1000 {
		t.Errorf("overflow: got %d, want 1000", d.Bucket())
	}
	d.Commit(-5000)
	if d.Bucket() != 0 {
		t.Errorf("underflow: got %d, want 0", d.Bucket())
	}
	d.SetBucket(-1)
	if d.Bucket() != 0 {
		t.Errorf("SetBucket(-1): got %d, want 0", d.Bucket())
	}
}

func TestCommitSubtractsRequiredExport(t *testing.T) {
	d := NewDecider(Derived{Capacity: 1000, MidPoint: 500, RequiredExport: 40}, 3)
	d.SetBucket(500)
	d.Commit(100)
	if d.Bucket() != 560 {
		t.Errorf("bucket: got %d, want 560", d.Bucket())
	}
}

// A steady surplus just above the mid-point brings both loads on, the second
// one only after the first load's post-transition window has closed.
func TestTwoLoadsSteadySurplus(t *testing.T) {
	d, loads := newTestDecider()

	// cycle 1
	d.Predict(25)
	if !d.Decide(loads) {
		t.Fatal("cycle 1: expected a change")
	}
	if !loads.Slot(0).On || loads.Slot(1).On {
		t.Fatalf("cycle 1: got %v, want only slot 0 on", loads.Priorities(nil))
	}

	// cycles 2 and 3: slot 1 is refused, the upper threshold follows the prediction
	for cycle := 2; cycle <= 3; cycle++ {
		d.Commit(25)
		pred := d.Predict(25)
		if d.Decide(loads) {
			t.Fatalf("cycle %d: unexpected change", cycle)
		}
		if loads.Slot(1).On {
			t.Fatalf("cycle %d: slot 1 switched on inside the transition window", cycle)
		}
		if _, upper := d.Thresholds(); upper != pred {
			t.Errorf("cycle %d: upper threshold got %d, want %d", cycle, upper, pred)
		}
	}

	// cycle 4: the window has closed
	d.Commit(25)
	d.Predict(25)
	if !d.Decide(loads) {
		t.Fatal("cycle 4: expected a change")
	}
	if !loads.Slot(1).On {
		t.Error("cycle 4: slot 1 should be on")
	}
	if active, slot := d.InTransition(); !active || slot != 1 {
		t.Errorf("InTransition: got (%v, %d), want (true, 1)", active, slot)
	}
}

func TestDeficitRemovesLowestPriorityFirst(t *testing.T) {
	d, loads := newTestDecider()
	loads.SetOn(0, true)
	loads.SetOn(1, true)

	d.Predict(-25)
	if !d.Decide(loads) {
		t.Fatal("expected a change")
	}
	if !loads.Slot(0).On || loads.Slot(1).On {
		t.Errorf("got %v, want slot 1 off and slot 0 on", loads.Priorities(nil))
	}

	// inside the window the lower threshold follows the prediction down
	d.Commit(-25)
	pred := d.Predict(-25)
	if d.Decide(loads) {
		t.Fatal("slot 0 switched off inside the transition window")
	}
	if lower, _ := d.Thresholds(); lower != pred {
		t.Errorf("lower threshold: got %d, want %d", lower, pred)
	}
}

func TestLowerThresholdNeverNegative(t *testing.T) {
	d, loads := newTestDecider()
	loads.SetOn(0, true)
	loads.SetOn(1, true)
	d.SetBucket(0)

	d.Predict(-10)
	d.Decide(loads)
	d.Predict(-10)
	d.Decide(loads)
	if lower, _ := d.Thresholds(); lower != 0 {
		t.Errorf("lower threshold: got %d, want 0", lower)
	}
}

func TestUpperThresholdCappedAtCapacity(t *testing.T) {
	d, loads := newTestDecider()
	d.SetBucket(1000)

	d.Predict(400)
	d.Decide(loads)
	d.Predict(400)
	d.Decide(loads)
	if _, upper := d.Thresholds(); upper != 1000 {
		t.Errorf("upper threshold: got %d, want 1000", upper)
	}
}

func TestDecideInsideBandIsIdempotent(t *testing.T) {
	d, loads := newTestDecider()

	// widen the band: slot 0 on, slot 1 refused at prediction 550
	d.Predict(25)
	d.Decide(loads)
	d.Predict(50)
	d.Decide(loads)

	before := loads.Priorities(nil)
	for i := 0; i < 10; i++ {
		d.Predict(40) // 540: above the mid-point, below the widened upper threshold
		if d.Decide(loads) {
			t.Fatalf("pass %d: unexpected change", i)
		}
	}
	after := loads.Priorities(nil)
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("slot %d: got %+v, want %+v", i, after[i], before[i])
		}
	}
}

func TestNoChangeWhenAllLoadsAlreadyOn(t *testing.T) {
	d, loads := newTestDecider()
	loads.SetOn(0, true)
	loads.SetOn(1, true)
	d.Predict(400)
	if d.Decide(loads) {
		t.Error("expected no change with every load on")
	}
}
