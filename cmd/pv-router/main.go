// Command pv-router diverts surplus PV power into resistive loads and
// publishes telemetry to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/pv-router/internal/adc"
	"github.com/sweeney/pv-router/internal/config"
	"github.com/sweeney/pv-router/internal/control"
	"github.com/sweeney/pv-router/internal/gpio"
	"github.com/sweeney/pv-router/internal/logic"
	"github.com/sweeney/pv-router/internal/mqtt"
	"github.com/sweeney/pv-router/internal/relay"
	"github.com/sweeney/pv-router/internal/router"
	"github.com/sweeney/pv-router/internal/status"
	"github.com/sweeney/pv-router/internal/temperature"
	"github.com/sweeney/pv-router/internal/web"
)

// simPort selects the built-in mains simulator instead of a serial ADC.
const simPort = "sim"

type options struct {
	configPath  string
	broker      string
	httpAddr    string
	adc         string
	wsBroker    string
	heartbeat   time.Duration
	printState  bool
	writeConfig bool
	debug       bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "/etc/pv-router.yaml", "Configuration file")
	flag.StringVar(&o.broker, "broker", "", "MQTT broker address (overrides the config file)")
	flag.StringVar(&o.httpAddr, "http", "", "HTTP status address (overrides the config file, \"off\" disables)")
	flag.StringVar(&o.adc, "adc", "", `ADC serial device, or "sim" for the built-in simulator`)
	flag.StringVar(&o.wsBroker, "ws-broker", "", `MQTT websocket URL for live UI ("=broker" derives from --broker, "off" disables)`)
	flag.DurationVar(&o.heartbeat, "heartbeat", -1, "Heartbeat interval (0 to disable, default from config)")
	flag.BoolVar(&o.printState, "print-state", false, "Print control input states and exit")
	flag.BoolVar(&o.writeConfig, "write-config", false, "Write the effective configuration to --config and exit")
	flag.BoolVar(&o.debug, "debug", false, "Log fast-path fault counters")

	flag.Parse()

	if err := run(o); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// loadConfig reads the configuration file and applies the command-line overrides.
func loadConfig(o options) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.broker != "" {
		cfg.MQTT.Broker = o.broker
	}
	switch o.httpAddr {
	case "":
	case "off":
		cfg.HTTP.Addr = ""
	default:
		cfg.HTTP.Addr = o.httpAddr
	}
	if o.adc != "" {
		cfg.ADC.Port = o.adc
	}
	if o.wsBroker != "" {
		cfg.MQTT.WSBroker = o.wsBroker
	}
	if o.heartbeat >= 0 {
		cfg.Timing.Heartbeat = o.heartbeat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// controlConfig maps the file configuration onto the slow-path settings.
func controlConfig(cfg *config.Config, debug bool) control.Config {
	cc := control.Config{
		Pins: control.Pins{
			Override:     cfg.Pins.Override,
			Rotation:     cfg.Pins.Rotation,
			DiversionOff: cfg.Pins.DiversionOff,
			DualTariff:   cfg.Pins.DualTariff,
			Watchdog:     cfg.Pins.Watchdog,
		},
		RotateAfter:     cfg.Loads.RotateAfter,
		DisplayShutdown: cfg.Timing.DisplayShutdown,
		VoltageCal:      cfg.Calibration.VoltageCal,
		Debounce:        cfg.Timing.Debounce,
		DualTariff:      cfg.DualTariff.Enabled,
		OffPeak:         cfg.DualTariff.OffPeak,
		Debug:           debug,
	}
	for _, w := range cfg.DualTariff.Windows {
		cc.Windows = append(cc.Windows, control.Window{
			Load:     w.Load,
			Start:    w.Start,
			Duration: w.Duration,
			Sensor:   w.Sensor,
			MaxTemp:  int16(math.Round(w.MaxTempC * 100)),
		})
	}
	return cc
}

// simConfig builds a simulated installation matching the configured loads.
func simConfig(cfg *config.Config) adc.SimConfig {
	sc := adc.DefaultSimConfig()
	sc.Frequency = cfg.Supply.Frequency
	sc.MidPoint = cfg.Calibration.ADCMidPoint
	sc.PowerCal = cfg.Calibration.PowerCalGrid
	sc.LoadPins = append([]int(nil), cfg.Loads.Pins...)
	sc.LoadWatts = make([]float64, len(sc.LoadPins))
	for i := range sc.LoadWatts {
		sc.LoadWatts[i] = 1000
	}
	sc.DivertedLoad = int(cfg.Loads.DivertedLoad)
	sc.Start = time.Now()
	sc.Realtime = true
	return sc
}

func run(o options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}

	if o.writeConfig {
		if err := cfg.Save(o.configPath); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", o.configPath)
		return nil
	}

	sim := cfg.ADC.Port == simPort

	// Initialize GPIO
	var pins gpio.Pins
	var fakePins *gpio.FakePins
	if sim {
		fakePins = gpio.NewFakePins()
		pins = fakePins
	} else {
		realPins, err := gpio.NewRealPins(cfg.Layout())
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		pins = realPins
	}
	defer pins.Close()

	// Print state mode
	if o.printState {
		return printState(os.Stdout, pins, cfg)
	}

	// Fast path
	var src adc.Source
	var engineOpts []router.Option
	if sim {
		s := adc.NewSimulator(simConfig(cfg), fakePins)
		src = s
		engineOpts = append(engineOpts, router.WithClock(s.Now))
	} else {
		ser, err := adc.OpenSerial(cfg.ADC.Port, cfg.ADC.BaudRate)
		if err != nil {
			if ports, perr := adc.Ports(); perr == nil {
				log.Printf("adc: available serial ports: %v", ports)
			}
			return err
		}
		src = ser
	}
	defer src.Close()

	engine, err := router.NewEngine(cfg.Params(), pins, engineOpts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	adcDone := make(chan error, 1)
	go func() {
		adcDone <- adc.Pump(ctx, src, router.NewSampler(engine, nil))
	}()

	// Slow path collaborators
	var temps *temperature.Readings
	if len(cfg.Temperature.Sensors) > 0 {
		temps = temperature.NewReadings(temperature.NewW1(cfg.Temperature.Root, cfg.Temperature.Sensors))
	}
	var relays *relay.Engine
	if len(cfg.Relays.Outputs) > 0 {
		relays, err = relay.NewEngine(cfg.RelayConfigs(), cfg.Relays.FilterDelay, cfg.Timing.DatalogPeriod)
		if err != nil {
			return err
		}
	}

	// Initialize MQTT
	publisher, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID)
	if err != nil {
		return err
	}
	defer publisher.Close()

	wsBroker := resolveWSBroker(cfg.MQTT.WSBroker, cfg.MQTT.Broker)

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		PollMs:          cfg.Timing.Poll.Milliseconds(),
		DebounceMs:      cfg.Timing.Debounce.Milliseconds(),
		HeartbeatMs:     cfg.Timing.Heartbeat.Milliseconds(),
		DatalogPeriodMs: cfg.Timing.DatalogPeriod.Milliseconds(),
		Broker:          cfg.MQTT.Broker,
		HTTPAddr:        cfg.HTTP.Addr,
		WSBroker:        wsBroker,
		ADC:             cfg.ADC.Port,
		Loads:           len(cfg.Loads.Pins),
		Rotation:        cfg.Loads.Rotation,
	})
	tracker.SetMQTTConnected(publisher.IsConnected())
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	ctrl := control.New(controlConfig(cfg, o.debug), control.Deps{
		Engine:       engine,
		Pins:         pins,
		Temperatures: temps,
		Relays:       relays,
		Display:      tracker,
		Sink:         publisher,
	}, time.Now())

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	log.Printf("started: adc=%s loads=%d rotation=%s broker=%s heartbeat=%v",
		cfg.ADC.Port, len(cfg.Loads.Pins), cfg.Loads.Rotation, cfg.MQTT.Broker, cfg.Timing.Heartbeat)

	ticker := time.NewTicker(cfg.Timing.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	loopErr := runLoop(ctx, loop{
		ctrl:       ctrl,
		engine:     engine,
		pins:       pins,
		relays:     relays,
		publisher:  publisher,
		mqttStatus: publisher,
		tracker:    tracker,
		heartbeat:  cfg.Timing.Heartbeat,
		adcDone:    adcDone,
	}, time.Now, ticker.C, sigCh)

	// stop the fast path before releasing the loads
	cancel()
	src.Close()
	if loopErr == nil {
		if err := <-adcDone; err != nil {
			log.Printf("adc: %v", err)
		}
	}
	if err := pins.SetPinsOff(pinMask(cfg.Loads.Pins)); err != nil {
		log.Printf("failed to switch loads off: %v", err)
	}
	return loopErr
}

// loop holds the slow-path collaborators driven by runLoop.
type loop struct {
	ctrl       *control.Controller
	engine     *router.Engine
	pins       gpio.Pins
	relays     *relay.Engine // nil without relays
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	heartbeat  time.Duration
	adcDone    <-chan error // fast path exit; nil blocks forever
}

func runLoop(ctx context.Context, l loop, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	detector := l.ctrl.Detector()

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			l.shutdown(now(), signalName)
			return nil

		case err := <-l.adcDone:
			if err == nil {
				err = errors.New("adc stream ended")
			}
			log.Printf("fast path stopped: %v", err)
			l.shutdown(now(), "ADC")
			return err

		case d := <-l.engine.Datalogs():
			tel := l.ctrl.OnDatalog(d, now())
			if l.tracker != nil {
				l.tracker.SetTelemetry(tel)
			}

		case <-tick:
			t := now()
			l.ctrl.Poll(ctx, t)

			if !detector.IsBaselined() {
				// Still waiting for baseline
				continue
			}

			// Check for heartbeat
			if hbData := detector.CheckHeartbeat(t, l.heartbeat); hbData != nil {
				log.Printf("heartbeat: uptime=%v diverted=%dWh priorities=%s",
					hbData.Uptime, l.engine.DivertedWh(), control.FormatPriorities(l.engine.Priorities()))

				hbEvent := mqtt.SystemEvent{
					Timestamp: hbData.Timestamp,
					Event:     "HEARTBEAT",
				}
				if l.tracker != nil {
					// Refresh network info for heartbeat
					if net := readNetworkInfo(); net != nil {
						l.tracker.SetNetwork(net)
					}
					l.updateTracker()
					hbEvent.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "HEARTBEAT", "")
				}
				if err := l.publisher.PublishSystem(hbEvent); err != nil {
					log.Printf("heartbeat publish error: %v", err)
				}
			}

			// Update status tracker for HTTP consumers
			l.updateTracker()
		}
	}
}

func (l *loop) updateTracker() {
	if l.tracker == nil {
		return
	}
	d := l.ctrl.Detector()
	l.tracker.Update(d.IsBaselined(), l.engine.Running(), l.ctrl.OffPeak(), d.EventCountsSnapshot(), l.engine.Faults())
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
}

// shutdown releases the relays and publishes the retained SHUTDOWN event.
func (l *loop) shutdown(t time.Time, reason string) {
	if l.relays != nil {
		if err := l.relays.AllOff(l.pins); err != nil {
			log.Printf("failed to switch relays off: %v", err)
		}
	}
	event := mqtt.SystemEvent{
		Timestamp: t,
		Event:     "SHUTDOWN",
		Reason:    reason,
		Retained:  true,
	}
	if l.tracker != nil {
		l.updateTracker()
		event.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "SHUTDOWN", reason)
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		log.Printf("failed to publish shutdown event: %v", err)
	} else {
		log.Printf("published shutdown event")
	}
}

// printState prints the control inputs and the configured outputs.
func printState(w io.Writer, pins gpio.Pins, cfg *config.Config) error {
	for _, in := range []struct {
		name string
		pin  int
	}{
		{"override", cfg.Pins.Override},
		{"rotation", cfg.Pins.Rotation},
		{"diversion_off", cfg.Pins.DiversionOff},
		{"dual_tariff", cfg.Pins.DualTariff},
	} {
		if in.pin == gpio.NoPin {
			fmt.Fprintf(w, "%s: not fitted\n", in.name)
			continue
		}
		v, err := pins.ReadPin(in.pin)
		if err != nil {
			return fmt.Errorf("read %s pin: %w", in.name, err)
		}
		fmt.Fprintf(w, "%s: %s\n", in.name, stateString(v))
	}
	fmt.Fprintf(w, "loads: pins %v, priorities %v, rotation %s\n",
		cfg.Loads.Pins, cfg.Loads.StartupPriorities, cfg.Loads.Rotation)
	return nil
}

func pinMask(pins []int) uint64 {
	var m uint64
	for _, p := range pins {
		if p >= 0 && p < 64 {
			m |= 1 << uint(p)
		}
	}
	return m
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

func stateString(on bool) string {
	if on {
		return string(logic.StateOn)
	}
	return string(logic.StateOff)
}

// resolveWSBroker converts the ws_broker setting into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; "off" or empty disables.
func resolveWSBroker(ws, broker string) string {
	if ws == "off" || ws == "" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	u, err := url.Parse(broker)
	if err != nil {
		log.Printf("ws-broker: cannot parse broker %q: %v", broker, err)
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
