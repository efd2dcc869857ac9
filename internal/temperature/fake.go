package temperature

// Fake is a scripted Source.
type Fake struct {
	Values   []int16
	Errors   map[int]error
	Requests int
}

// NewFake creates a Fake returning values.
func NewFake(values ...int16) *Fake {
	return &Fake{Values: values, Errors: make(map[int]error)}
}

// Len is the number of scripted sensors.
func (f *Fake) Len() int { return len(f.Values) }

// Read returns the scripted value or error of sensor i.
func (f *Fake) Read(i int) (int16, error) {
	if err := f.Errors[i]; err != nil {
		return 0, err
	}
	return f.Values[i], nil
}

// RequestNext counts conversion requests.
func (f *Fake) RequestNext() error {
	f.Requests++
	return nil
}
