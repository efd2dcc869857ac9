// Package temperature reads DS18B20 sensors and filters out the readings a
// sensor produces when it is disconnected or has just been powered up.
package temperature

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Temperatures are carried in hundredths of a degree Celsius.
const (
	// Disconnected replaces any reading that cannot be trusted.
	Disconnected int16 = -12700

	// powerOnValue is what a DS18B20 returns before its first conversion.
	powerOnValue int16 = 8500
	maxJump      int16 = 500
)

// DefaultW1Root is where the Linux 1-Wire bus exposes its devices.
const DefaultW1Root = "/sys/bus/w1/devices"

// Source provides raw temperature readings.
type Source interface {
	// Len is the number of sensors.
	Len() int
	// Read returns the latest reading of sensor i, in hundredths of °C.
	Read(i int) (int16, error)
	// RequestNext starts a new conversion on every sensor.
	RequestNext() error
}

// Filter applies the power-on rule: a reading of exactly 85.00 °C that jumps
// more than 5.00 °C from the previous one is treated as a disconnected sensor,
// as is any read error.
func Filter(prev, cur int16, err error) int16 {
	if err != nil {
		return Disconnected
	}
	if cur == powerOnValue && abs(int32(cur)-int32(prev)) > int32(maxJump) {
		return Disconnected
	}
	return cur
}

// Valid reports whether a filtered reading can be used.
func Valid(v int16) bool {
	return v != Disconnected
}

// Celsius converts hundredths of a degree to degrees.
func Celsius(v int16) float64 {
	return float64(v) / 100
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// W1 reads DS18B20 sensors through the kernel w1_therm driver.
type W1 struct {
	root string
	ids  []string
}

// NewW1 creates a reader for the given sensor ids (e.g. "28-0316a2793cff").
// An empty root selects DefaultW1Root.
func NewW1(root string, ids []string) *W1 {
	if root == "" {
		root = DefaultW1Root
	}
	return &W1{root: root, ids: ids}
}

// Len is the number of configured sensors.
func (w *W1) Len() int { return len(w.ids) }

// Read parses the millidegree value from the sensor's temperature attribute.
func (w *W1) Read(i int) (int16, error) {
	if i < 0 || i >= len(w.ids) {
		return 0, fmt.Errorf("sensor %d: out of range", i)
	}
	data, err := os.ReadFile(filepath.Join(w.root, w.ids[i], "temperature"))
	if err != nil {
		return 0, fmt.Errorf("read sensor %s: %w", w.ids[i], err)
	}
	milli, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse sensor %s: %w", w.ids[i], err)
	}
	return int16(milli / 10), nil
}

// RequestNext triggers a bulk conversion when the bus master supports it.
// Without bulk support every read converts on demand, so this is a no-op.
func (w *W1) RequestNext() error {
	path := filepath.Join(w.root, "w1_bus_master1", "therm_bulk_read")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := os.WriteFile(path, []byte("trigger\n"), 0o200); err != nil {
		return fmt.Errorf("trigger conversion: %w", err)
	}
	return nil
}

// Readings keeps the last filtered value of every sensor.
type Readings struct {
	src  Source
	last []int16
}

// NewReadings creates a tracker for src. Every sensor starts Disconnected.
func NewReadings(src Source) *Readings {
	last := make([]int16, src.Len())
	for i := range last {
		last[i] = Disconnected
	}
	return &Readings{src: src, last: last}
}

// Update reads and filters every sensor, then requests the next conversion.
// It returns a copy of the filtered values.
func (r *Readings) Update() ([]int16, error) {
	for i := range r.last {
		v, err := r.src.Read(i)
		r.last[i] = Filter(r.last[i], v, err)
	}
	out := append([]int16(nil), r.last...)
	if err := r.src.RequestNext(); err != nil {
		return out, err
	}
	return out, nil
}

// Last returns the filtered value of sensor i, Disconnected if unknown.
func (r *Readings) Last(i int) int16 {
	if i < 0 || i >= len(r.last) {
		return Disconnected
	}
	return r.last[i]
}

// Len is the number of sensors.
func (r *Readings) Len() int { return len(r.last) }
