package adc

import "io"

// FakeSource replays scripted conversions, then returns io.EOF.
type FakeSource struct {
	Conversions []Conversion
	Err         error // returned once the script is exhausted, instead of io.EOF
	index       int
	Closed      bool
}

// NewFakeSource creates a FakeSource.
func NewFakeSource(c ...Conversion) *FakeSource {
	return &FakeSource{Conversions: c}
}

// Read returns the next scripted conversion.
func (f *FakeSource) Read() (Conversion, error) {
	if f.index >= len(f.Conversions) {
		if f.Err != nil {
			return Conversion{}, f.Err
		}
		return Conversion{}, io.EOF
	}
	c := f.Conversions[f.index]
	f.index++
	return c, nil
}

// Close marks the source as closed.
func (f *FakeSource) Close() error {
	f.Closed = true
	return nil
}
