// Package control is the slow path of the router: it reads the control
// inputs, applies overrides and rotation requests to the engine, drives the
// relays and the watchdog, and turns datalog snapshots into telemetry.
package control

import (
	"time"

	"github.com/sweeney/pv-router/internal/gpio"
	"github.com/sweeney/pv-router/internal/logic"
	"github.com/sweeney/pv-router/internal/relay"
	"github.com/sweeney/pv-router/internal/router"
	"github.com/sweeney/pv-router/internal/temperature"
)

// UpdatePeriodForDisplay is the number of mains cycles between display updates.
const UpdatePeriodForDisplay = 50

// rotateTimeout bounds the wait for the fast path to consume a rotation.
const rotateTimeout = 2 * time.Second

// Display shows the diverted energy.
type Display interface {
	ShowEnergy(active bool, wh uint32, diversionEnabled, loadForced bool)
}

// TelemetrySink receives one record per datalogging period.
type TelemetrySink interface {
	Publish(t Telemetry) error
}

// Pins lists the control pins; gpio.NoPin when not fitted.
type Pins struct {
	Override     int
	Rotation     int
	DiversionOff int
	DualTariff   int
	Watchdog     int
}

// Window forces one load on during part of the off-peak period.
type Window struct {
	Load     int
	Start    time.Duration // negative counts back from the end of the period
	Duration time.Duration // 0 = until the end of the period
	Sensor   int           // -1 = not gated
	MaxTemp  int16         // hundredths of a degree
}

// Config holds the slow-path settings.
type Config struct {
	Pins            Pins
	RotateAfter     time.Duration
	DisplayShutdown time.Duration
	VoltageCal      float64
	Debounce        time.Duration

	DualTariff bool
	OffPeak    time.Duration
	Windows    []Window

	Debug bool // log fast-path fault counters
}

// Deps are the collaborators of a Controller. Only Engine and Pins are required.
type Deps struct {
	Engine       *router.Engine
	Pins         gpio.Pins
	Temperatures *temperature.Readings
	Relays       *relay.Engine
	Display      Display
	Sink         TelemetrySink
}

// Controller runs the slow path. All methods must be called from one goroutine.
type Controller struct {
	cfg      Config
	engine   *router.Engine
	pins     gpio.Pins
	temps    *temperature.Readings
	relays   *relay.Engine
	display  Display
	sink     TelemetrySink
	detector *logic.Detector

	baselined        bool
	lastCycles       uint64
	cyclesForDisplay uint64
	cyclesForTick    uint64

	offPeak      bool
	offPeakStart time.Time
	forced       [router.MaxLoads]bool
	rotateMark   uint32

	lastFaults router.Faults
}

// New creates a controller. start is the time the inputs are first sampled.
func New(cfg Config, deps Deps, start time.Time) *Controller {
	return &Controller{
		cfg:      cfg,
		engine:   deps.Engine,
		pins:     deps.Pins,
		temps:    deps.Temperatures,
		relays:   deps.Relays,
		display:  deps.Display,
		sink:     deps.Sink,
		detector: logic.NewDetector(cfg.Debounce, start),
	}
}

// Detector exposes the input debouncer, e.g. for heartbeats.
func (c *Controller) Detector() *logic.Detector { return c.detector }

// OffPeak reports whether the low tariff is in force.
func (c *Controller) OffPeak() bool { return c.offPeak }

// Forced reports whether load id is currently overridden by the controller.
func (c *Controller) Forced(id int) bool {
	if id < 0 || id >= router.MaxLoads {
		return false
	}
	return c.forced[id]
}
