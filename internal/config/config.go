// Package config loads the router configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/pv-router/internal/gpio"
	"github.com/sweeney/pv-router/internal/relay"
	"github.com/sweeney/pv-router/internal/router"
)

// Config represents the application configuration.
type Config struct {
	Supply      SupplyConfig      `yaml:"supply"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Timing      TimingConfig      `yaml:"timing"`
	Loads       LoadsConfig       `yaml:"loads"`
	Pins        PinsConfig        `yaml:"pins"`
	DualTariff  DualTariffConfig  `yaml:"dual_tariff"`
	Relays      RelaysConfig      `yaml:"relays"`
	Temperature TemperatureConfig `yaml:"temperature"`
	ADC         ADCConfig         `yaml:"adc"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	HTTP        HTTPConfig        `yaml:"http"`
}

// SupplyConfig describes the mains supply and the energy bucket.
type SupplyConfig struct {
	Frequency       int     `yaml:"frequency"`         // 50 or 60 Hz
	WorkingZoneJ    float64 `yaml:"working_zone_j"`    // size of the energy bucket
	RequiredExportW float64 `yaml:"required_export_w"` // negative simulates a PV generator
	AntiCreepJ      float64 `yaml:"anti_creep_j"`      // per mains cycle, 0 disables
}

// CalibrationConfig contains the sensor calibration values.
type CalibrationConfig struct {
	PowerCalGrid     float64 `yaml:"power_cal_grid"`
	PowerCalDiverted float64 `yaml:"power_cal_diverted"`
	VoltageCal       float64 `yaml:"voltage_cal"`
	LPFGain          float64 `yaml:"lpf_gain"` // 0 disables the CT phase correction
	LPFAlpha         float64 `yaml:"lpf_alpha"`
	ADCMidPoint      int16   `yaml:"adc_mid_point"`
	DCOffsetMargin   int16   `yaml:"dc_offset_margin"`
}

// TimingConfig contains timing parameters of both paths.
type TimingConfig struct {
	DatalogPeriod          time.Duration `yaml:"datalog_period"`
	SerialDelay            time.Duration `yaml:"serial_delay"`
	SettlePeriod           time.Duration `yaml:"settle_period"`
	Persistence            uint8         `yaml:"persistence"`
	PostTransitionMaxCount uint8         `yaml:"post_transition_max_count"`
	DecisionDelaySamples   uint16        `yaml:"decision_delay_samples"`
	DisplayShutdown        time.Duration `yaml:"display_shutdown"` // reset diverted energy after this long idle
	Poll                   time.Duration `yaml:"poll"`             // control input polling
	Debounce               time.Duration `yaml:"debounce"`
	Heartbeat              time.Duration `yaml:"heartbeat"` // 0 disables
}

// LoadsConfig describes the dump loads.
type LoadsConfig struct {
	Pins              []int         `yaml:"pins"`               // pin of each load, by load id
	StartupPriorities []uint8       `yaml:"startup_priorities"` // load ids, highest first
	Rotation          string        `yaml:"rotation"`           // off, auto or pin
	RotateAfter       time.Duration `yaml:"rotate_after"`       // auto mode, without dual tariff
	DivertedLoad      uint8         `yaml:"diverted_load"`      // load measured by the diverted CT
}

// PinsConfig contains the control pins. -1 means the pin is not fitted.
type PinsConfig struct {
	Chip         string `yaml:"chip"`
	Override     int    `yaml:"override"`
	Rotation     int    `yaml:"rotation"`
	DiversionOff int    `yaml:"diversion_off"`
	DualTariff   int    `yaml:"dual_tariff"`
	Watchdog     int    `yaml:"watchdog"`
}

// DualTariffConfig describes the off-peak boost windows.
type DualTariffConfig struct {
	Enabled bool          `yaml:"enabled"`
	OffPeak time.Duration `yaml:"off_peak"` // length of the off-peak period
	Windows []ForceWindow `yaml:"windows"`
}

// ForceWindow forces one load on during part of the off-peak period.
type ForceWindow struct {
	Load int `yaml:"load"`
	// Start is measured from the beginning of the off-peak period; negative
	// values count back from its end.
	Start    time.Duration `yaml:"start"`
	Duration time.Duration `yaml:"duration"` // 0 = until the end of the period
	Sensor   int           `yaml:"sensor"`   // -1 = no temperature gate
	MaxTempC float64       `yaml:"max_temp_c"`
}

// UnmarshalYAML decodes a window that is not temperature gated unless it
// names a sensor.
func (w *ForceWindow) UnmarshalYAML(value *yaml.Node) error {
	type plain ForceWindow
	v := plain{Sensor: -1}
	if err := value.Decode(&v); err != nil {
		return err
	}
	*w = ForceWindow(v)
	return nil
}

// RelaysConfig contains the surplus relays.
type RelaysConfig struct {
	FilterDelay time.Duration `yaml:"filter_delay"`
	Outputs     []RelayOutput `yaml:"outputs,omitempty"`
}

// RelayOutput is one relay.
type RelayOutput struct {
	Pin      int           `yaml:"pin"`
	SurplusW int32         `yaml:"surplus_w"`
	ImportW  int32         `yaml:"import_w"`
	MinOn    time.Duration `yaml:"min_on"`
	MinOff   time.Duration `yaml:"min_off"`
}

// TemperatureConfig lists the DS18B20 sensors.
type TemperatureConfig struct {
	Root    string   `yaml:"root"`
	Sensors []string `yaml:"sensors,omitempty"`
}

// ADCConfig selects the sampling front-end.
type ADCConfig struct {
	Port     string `yaml:"port"` // serial device, or "sim"
	BaudRate int    `yaml:"baud_rate"`
}

// MQTTConfig contains the broker settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	WSBroker string `yaml:"ws_broker"` // "=broker", "off" or a URL
}

// HTTPConfig contains the status server settings.
type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables
}

// Default returns a default configuration matching the reference board.
func Default() *Config {
	p := router.DefaultParams()
	return &Config{
		Supply: SupplyConfig{
			Frequency:       p.SupplyFrequency,
			WorkingZoneJ:    p.WorkingZoneJ,
			RequiredExportW: p.RequiredExportW,
			AntiCreepJ:      p.AntiCreepJ,
		},
		Calibration: CalibrationConfig{
			PowerCalGrid:     p.PowerCalGrid,
			PowerCalDiverted: p.PowerCalDiverted,
			VoltageCal:       0.8151,
			LPFGain:          p.LPFGain,
			LPFAlpha:         p.LPFAlpha,
			ADCMidPoint:      p.ADCMidPoint,
			DCOffsetMargin:   p.DCOffsetMargin,
		},
		Timing: TimingConfig{
			DatalogPeriod:          p.DatalogPeriod,
			SerialDelay:            p.SerialDelay,
			SettlePeriod:           p.SettlePeriod,
			Persistence:            p.Persistence,
			PostTransitionMaxCount: p.PostTransitionMaxCount,
			DecisionDelaySamples:   p.DecisionDelaySamples,
			DisplayShutdown:        8 * time.Hour,
			Poll:                   100 * time.Millisecond,
			Debounce:               250 * time.Millisecond,
			Heartbeat:              15 * time.Minute,
		},
		Loads: LoadsConfig{
			Pins:              []int{4, 3},
			StartupPriorities: []uint8{0, 1},
			Rotation:          string(router.RotationOff),
			RotateAfter:       8 * time.Hour,
			DivertedLoad:      0,
		},
		Pins: PinsConfig{
			Chip:         gpio.DefaultChip,
			Override:     11,
			Rotation:     gpio.NoPin,
			DiversionOff: 12,
			DualTariff:   gpio.NoPin,
			Watchdog:     gpio.NoPin,
		},
		DualTariff: DualTariffConfig{
			Enabled: false,
			OffPeak: 8 * time.Hour,
			Windows: []ForceWindow{
				{Load: 0, Start: -3 * time.Hour, Duration: 0, Sensor: -1, MaxTempC: 100},
				{Load: 1, Start: -3 * time.Hour, Duration: 0, Sensor: -1, MaxTempC: 100},
			},
		},
		Relays: RelaysConfig{
			FilterDelay: relay.DefaultFilterDelay,
		},
		Temperature: TemperatureConfig{},
		ADC: ADCConfig{
			Port:     "/dev/ttyAMA0",
			BaudRate: 460800,
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://192.168.1.200:1883",
			ClientID: "pv-router",
			WSBroker: "=broker",
		},
		HTTP: HTTPConfig{
			Addr: ":80",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults fills in fields that were present but left at zero.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Supply.Frequency == 0 {
		c.Supply.Frequency = def.Supply.Frequency
	}
	if c.Supply.WorkingZoneJ == 0 {
		c.Supply.WorkingZoneJ = def.Supply.WorkingZoneJ
	}

	if c.Calibration.PowerCalGrid == 0 {
		c.Calibration.PowerCalGrid = def.Calibration.PowerCalGrid
	}
	if c.Calibration.PowerCalDiverted == 0 {
		c.Calibration.PowerCalDiverted = def.Calibration.PowerCalDiverted
	}
	if c.Calibration.VoltageCal == 0 {
		c.Calibration.VoltageCal = def.Calibration.VoltageCal
	}
	if c.Calibration.LPFAlpha == 0 {
		c.Calibration.LPFAlpha = def.Calibration.LPFAlpha
	}
	if c.Calibration.ADCMidPoint == 0 {
		c.Calibration.ADCMidPoint = def.Calibration.ADCMidPoint
	}
	if c.Calibration.DCOffsetMargin == 0 {
		c.Calibration.DCOffsetMargin = def.Calibration.DCOffsetMargin
	}

	if c.Timing.DatalogPeriod == 0 {
		c.Timing.DatalogPeriod = def.Timing.DatalogPeriod
	}
	if c.Timing.Persistence == 0 {
		c.Timing.Persistence = def.Timing.Persistence
	}
	if c.Timing.PostTransitionMaxCount == 0 {
		c.Timing.PostTransitionMaxCount = def.Timing.PostTransitionMaxCount
	}
	if c.Timing.DecisionDelaySamples == 0 {
		c.Timing.DecisionDelaySamples = def.Timing.DecisionDelaySamples
	}
	if c.Timing.DisplayShutdown == 0 {
		c.Timing.DisplayShutdown = def.Timing.DisplayShutdown
	}
	if c.Timing.Poll == 0 {
		c.Timing.Poll = def.Timing.Poll
	}

	if len(c.Loads.Pins) == 0 {
		c.Loads.Pins = def.Loads.Pins
	}
	if len(c.Loads.StartupPriorities) == 0 {
		// identity order for however many loads there are
		c.Loads.StartupPriorities = make([]uint8, len(c.Loads.Pins))
		for i := range c.Loads.StartupPriorities {
			c.Loads.StartupPriorities[i] = uint8(i)
		}
	}
	if c.Loads.Rotation == "" {
		c.Loads.Rotation = def.Loads.Rotation
	}
	if c.Loads.RotateAfter == 0 {
		c.Loads.RotateAfter = def.Loads.RotateAfter
	}

	if c.Pins.Chip == "" {
		c.Pins.Chip = def.Pins.Chip
	}

	if c.DualTariff.OffPeak == 0 {
		c.DualTariff.OffPeak = def.DualTariff.OffPeak
	}

	if c.Relays.FilterDelay == 0 {
		c.Relays.FilterDelay = def.Relays.FilterDelay
	}

	if c.ADC.BaudRate == 0 {
		c.ADC.BaudRate = def.ADC.BaudRate
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = def.MQTT.ClientID
	}
}

// Params returns the fast-path parameters.
func (c *Config) Params() router.Params {
	pins := make([]int, len(c.Loads.Pins))
	copy(pins, c.Loads.Pins)
	prio := make([]uint8, len(c.Loads.StartupPriorities))
	copy(prio, c.Loads.StartupPriorities)
	return router.Params{
		SupplyFrequency:        c.Supply.Frequency,
		WorkingZoneJ:           c.Supply.WorkingZoneJ,
		RequiredExportW:        c.Supply.RequiredExportW,
		AntiCreepJ:             c.Supply.AntiCreepJ,
		PowerCalGrid:           c.Calibration.PowerCalGrid,
		PowerCalDiverted:       c.Calibration.PowerCalDiverted,
		LPFGain:                c.Calibration.LPFGain,
		LPFAlpha:               c.Calibration.LPFAlpha,
		ADCMidPoint:            c.Calibration.ADCMidPoint,
		DCOffsetMargin:         c.Calibration.DCOffsetMargin,
		DatalogPeriod:          c.Timing.DatalogPeriod,
		SerialDelay:            c.Timing.SerialDelay,
		SettlePeriod:           c.Timing.SettlePeriod,
		Persistence:            c.Timing.Persistence,
		PostTransitionMaxCount: c.Timing.PostTransitionMaxCount,
		DecisionDelaySamples:   c.Timing.DecisionDelaySamples,
		LoadPins:               pins,
		StartupPriorities:      prio,
		Rotation:               router.RotationMode(c.Loads.Rotation),
		DivertedLoad:           c.Loads.DivertedLoad,
	}
}

// RelayConfigs returns the relay engine configuration.
func (c *Config) RelayConfigs() []relay.Config {
	out := make([]relay.Config, len(c.Relays.Outputs))
	for i, r := range c.Relays.Outputs {
		out[i] = relay.Config{
			Pin:              r.Pin,
			SurplusThreshold: r.SurplusW,
			ImportThreshold:  r.ImportW,
			MinOn:            r.MinOn,
			MinOff:           r.MinOff,
		}
	}
	return out
}

// Layout returns the GPIO lines to request.
func (c *Config) Layout() gpio.Layout {
	l := gpio.Layout{
		Chip:  c.Pins.Chip,
		Loads: append([]int(nil), c.Loads.Pins...),
	}
	for _, r := range c.Relays.Outputs {
		l.Outputs = append(l.Outputs, r.Pin)
	}
	l.Outputs = append(l.Outputs, c.Pins.Watchdog)
	l.Inputs = []int{c.Pins.Override, c.Pins.Rotation, c.Pins.DiversionOff, c.Pins.DualTariff}
	return l
}

// Validate checks the whole configuration once at startup.
func (c *Config) Validate() error {
	if err := c.Params().Validate(); err != nil {
		return err
	}

	used := make(map[int]string)
	claim := func(pin int, what string) error {
		if pin == gpio.NoPin {
			return nil
		}
		if pin < 0 || pin > 63 {
			return fmt.Errorf("%s: pin %d out of range", what, pin)
		}
		if other, ok := used[pin]; ok {
			return fmt.Errorf("%s: pin %d already used by %s", what, pin, other)
		}
		used[pin] = what
		return nil
	}
	for i, pin := range c.Loads.Pins {
		if err := claim(pin, fmt.Sprintf("load %d", i)); err != nil {
			return err
		}
	}
	for i, r := range c.Relays.Outputs {
		if err := claim(r.Pin, fmt.Sprintf("relay %d", i)); err != nil {
			return err
		}
	}
	for _, p := range []struct {
		pin  int
		name string
	}{
		{c.Pins.Override, "override pin"},
		{c.Pins.Rotation, "rotation pin"},
		{c.Pins.DiversionOff, "diversion pin"},
		{c.Pins.DualTariff, "dual tariff pin"},
		{c.Pins.Watchdog, "watchdog pin"},
	} {
		if err := claim(p.pin, p.name); err != nil {
			return err
		}
	}

	if router.RotationMode(c.Loads.Rotation) == router.RotationPin && c.Pins.Rotation == gpio.NoPin {
		return errors.New("rotation mode pin needs a rotation pin")
	}

	if c.DualTariff.Enabled {
		if c.Pins.DualTariff == gpio.NoPin {
			return errors.New("dual tariff enabled without a dual tariff pin")
		}
		if c.DualTariff.OffPeak <= 0 || c.DualTariff.OffPeak > 24*time.Hour {
			return fmt.Errorf("off-peak period %v: must be within 24h", c.DualTariff.OffPeak)
		}
		for i, w := range c.DualTariff.Windows {
			if w.Load < 0 || w.Load >= len(c.Loads.Pins) {
				return fmt.Errorf("dual tariff window %d: load %d does not exist", i, w.Load)
			}
			if w.Start >= c.DualTariff.OffPeak || -w.Start > c.DualTariff.OffPeak {
				return fmt.Errorf("dual tariff window %d: start %v outside the off-peak period", i, w.Start)
			}
			if w.Duration < 0 {
				return fmt.Errorf("dual tariff window %d: negative duration", i)
			}
			if w.Sensor < -1 || w.Sensor >= len(c.Temperature.Sensors) {
				return fmt.Errorf("dual tariff window %d: sensor %d not configured", i, w.Sensor)
			}
			if w.Sensor >= 0 && w.MaxTempC <= 0 {
				return fmt.Errorf("dual tariff window %d: sensor %d needs a positive max_temp_c", i, w.Sensor)
			}
		}
	}

	for i, r := range c.RelayConfigs() {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("relay %d: %w", i, err)
		}
	}
	return nil
}
