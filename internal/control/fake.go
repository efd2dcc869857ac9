package control

import "sync"

// FakeDisplay records display updates.
type FakeDisplay struct {
	mu      sync.Mutex
	Updates []DisplayUpdate
}

// DisplayUpdate is one ShowEnergy call.
type DisplayUpdate struct {
	Active           bool
	Wh               uint32
	DiversionEnabled bool
	LoadForced       bool
}

// ShowEnergy records the update.
func (f *FakeDisplay) ShowEnergy(active bool, wh uint32, diversionEnabled, loadForced bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Updates = append(f.Updates, DisplayUpdate{active, wh, diversionEnabled, loadForced})
}

// Last returns the most recent update.
func (f *FakeDisplay) Last() (DisplayUpdate, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Updates) == 0 {
		return DisplayUpdate{}, false
	}
	return f.Updates[len(f.Updates)-1], true
}

// FakeSink records published telemetry.
type FakeSink struct {
	mu      sync.Mutex
	Records []Telemetry
	Err     error
}

// Publish records the telemetry.
func (f *FakeSink) Publish(t Telemetry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Records = append(f.Records, t)
	return f.Err
}
