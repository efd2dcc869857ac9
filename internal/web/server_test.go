package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/pv-router/internal/control"
	"github.com/sweeney/pv-router/internal/logic"
	"github.com/sweeney/pv-router/internal/mqtt"
	"github.com/sweeney/pv-router/internal/router"
	"github.com/sweeney/pv-router/internal/status"
)

func newTestServer(t *testing.T) (*httptest.Server, *status.Tracker) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		PollMs:          100,
		DebounceMs:      250,
		HeartbeatMs:     900000,
		DatalogPeriodMs: 5000,
		Broker:          "tcp://192.168.1.200:1883",
		HTTPAddr:        ":80",
		ADC:             "sim",
		Loads:           2,
		Rotation:        "auto",
	}
	tr := status.NewTracker(start, cfg)
	srv := New(":0", tr)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, tr
}

func getStatus(t *testing.T, url string) status.StatusJSON {
	t.Helper()
	resp, err := http.Get(url + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return sj
}

func getBody(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.Update(true, true, false, logic.EventCounts{OverrideOn: 5, OverrideOff: 2}, router.Faults{PinWrite: 1})
	tr.ShowEnergy(true, 321, true, false)
	tr.SetMQTTConnected(true)

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}

	if !sj.Status.Ready || !sj.Status.Running {
		t.Error("expected Ready=true and Running=true")
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.MQTT.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("MQTT.Broker: got %q, want tcp://192.168.1.200:1883", sj.Status.MQTT.Broker)
	}
	if sj.Status.Energy.DivertedWh != 321 {
		t.Errorf("Energy.DivertedWh: got %d, want 321", sj.Status.Energy.DivertedWh)
	}
	if sj.Status.Counts.OverrideOn != 5 {
		t.Errorf("Counts.OverrideOn: got %d, want 5", sj.Status.Counts.OverrideOn)
	}
	if sj.Status.Counts.OverrideOff != 2 {
		t.Errorf("Counts.OverrideOff: got %d, want 2", sj.Status.Counts.OverrideOff)
	}
	if sj.Status.Faults.PinWrite != 1 {
		t.Errorf("Faults.PinWrite: got %d, want 1", sj.Status.Faults.PinWrite)
	}
	if sj.Status.Config.PollMs != 100 {
		t.Errorf("Config.PollMs: got %d, want 100", sj.Status.Config.PollMs)
	}
	if sj.Status.Config.DatalogPeriodMs != 5000 {
		t.Errorf("Config.DatalogPeriodMs: got %d, want 5000", sj.Status.Config.DatalogPeriodMs)
	}
}

func TestJSONNoPowerBeforeDatalog(t *testing.T) {
	ts, _ := newTestServer(t)

	sj := getStatus(t, ts.URL)
	if sj.Status.Power != nil {
		t.Errorf("Power before first datalog: got %+v, want nil", sj.Status.Power)
	}
}

func TestJSONPower(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.SetTelemetry(control.Telemetry{
		Timestamp:  time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC),
		GridW:      12.34,
		DivertedW:  1500,
		Vrms:       240.05,
		Loads:      []control.LoadTelemetry{{ID: 0, OnPercent: 100}, {ID: 1, OnPercent: 25}},
		Priorities: []int{0, 1},
	})

	p := getStatus(t, ts.URL).Status.Power
	if p == nil {
		t.Fatal("expected Power in JSON")
	}
	if p.GridW != 12.3 {
		t.Errorf("GridW: got %v, want 12.3", p.GridW)
	}
	if p.DivertedW != 1500 {
		t.Errorf("DivertedW: got %v, want 1500", p.DivertedW)
	}
	if len(p.LoadsOnPct) != 2 || p.LoadsOnPct[1] != 25 {
		t.Errorf("LoadsOnPct: got %v, want [100 25]", p.LoadsOnPct)
	}
	if p.Timestamp != "2026-06-21T12:00:00Z" {
		t.Errorf("Timestamp: got %q", p.Timestamp)
	}
}

func TestTelemetryEndpointBeforeDatalog(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/telemetry.json")
	if err != nil {
		t.Fatalf("GET /telemetry.json: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestTelemetryEndpoint(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.SetTelemetry(control.Telemetry{
		Timestamp:    time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC),
		GridW:        -250.04,
		DivertedW:    987.66,
		Vrms:         240,
		DivertedWh:   4321,
		DiversionOff: true,
		Loads:        []control.LoadTelemetry{{ID: 0, OnPercent: 100, Forced: true}, {ID: 1, OnPercent: 12.34}},
		Priorities:   []int{1, 0},
	})

	resp, err := http.Get(ts.URL + "/telemetry.json")
	if err != nil {
		t.Fatalf("GET /telemetry.json: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var p mqtt.Payload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	tel := p.PVRouter
	if tel.GridW != -250 {
		t.Errorf("GridW: got %v, want -250", tel.GridW)
	}
	if tel.DivertedW != 987.7 {
		t.Errorf("DivertedW: got %v, want 987.7", tel.DivertedW)
	}
	if tel.DivertedWh != 4321 {
		t.Errorf("DivertedWh: got %d, want 4321", tel.DivertedWh)
	}
	if !tel.DiversionOff {
		t.Error("DiversionOff: got false, want true")
	}
	if len(tel.Loads) != 2 || !tel.Loads[0].Forced || tel.Loads[1].OnPct != 12.3 {
		t.Errorf("Loads: got %+v", tel.Loads)
	}
	if len(tel.Priorities) != 2 || tel.Priorities[0] != 1 {
		t.Errorf("Priorities: got %v, want [1 0]", tel.Priorities)
	}
}

func TestJSONNetworkInfo(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.SetNetwork(&status.NetworkInfo{
		Type:   "wifi",
		IP:     "192.168.1.42",
		Status: "connected",
		SSID:   "MyNet",
	})

	sj := getStatus(t, ts.URL)
	if sj.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if sj.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", sj.Status.Network.IP)
	}
}

func TestHTMLEndpointRoot(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.Update(true, true, false, logic.EventCounts{}, router.Faults{})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type: got %q, want text/html", ct)
	}
}

func TestHTMLWithoutTelemetry(t *testing.T) {
	ts, _ := newTestServer(t)

	body := getBody(t, ts.URL+"/index.html")
	if !strings.Contains(body, "No datalog yet.") {
		t.Error("expected placeholder before the first datalog")
	}
	if strings.Contains(body, "mqtt.min.js") {
		t.Error("live script should be omitted without a websocket broker")
	}
}

func TestHTMLWithTelemetry(t *testing.T) {
	ts, tr := newTestServer(t)
	temp := 55.5
	tr.ShowEnergy(true, 4321, true, true)
	tr.SetTelemetry(control.Telemetry{
		Timestamp:    time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC),
		GridW:        -250,
		DivertedW:    1800,
		Vrms:         239.96,
		Temperatures: []*float64{&temp, nil},
		Loads:        []control.LoadTelemetry{{ID: 0, OnPercent: 100, Forced: true}, {ID: 1, OnPercent: 40}},
		Priorities:   []int{1, 0},
	})

	body := getBody(t, ts.URL+"/")
	for _, want := range []string{
		"4321 Wh",
		`class="export">-250 W`,
		"1800 W",
		"240.0 V",
		"1 &gt; 0",
		"100% (forced)",
		"40%",
		"55.50 °C",
		"n/a",
		"2026-06-21T12:00:00Z",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestHTMLLiveScript(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := status.NewTracker(start, status.Config{WSBroker: "ws://192.168.1.200:9001"})
	srv := New(":0", tr)
	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()

	body := getBody(t, ts.URL+"/")
	if !strings.Contains(body, "energy/pvrouter/telemetry") {
		t.Error("live script should subscribe to the telemetry topic")
	}
	if !strings.Contains(body, `id="live-dot"`) {
		t.Error("expected live indicator")
	}
}

func TestHTMLEndpointIndexHTML(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/index.html")
	if err != nil {
		t.Fatalf("GET /index.html: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, tr := newTestServer(t)

	// Initially not baselined
	sj1 := getStatus(t, ts.URL)
	if sj1.Status.Ready {
		t.Error("expected Ready=false initially")
	}

	tr.Update(true, true, true, logic.EventCounts{OffPeakStarts: 1}, router.Faults{})
	tr.SetMQTTConnected(true)

	sj2 := getStatus(t, ts.URL)
	if !sj2.Status.Ready {
		t.Error("expected Ready=true after update")
	}
	if !sj2.Status.OffPeak {
		t.Error("expected OffPeak=true after update")
	}
	if sj2.Status.Counts.OffPeakStarts != 1 {
		t.Errorf("Counts.OffPeakStarts: got %d, want 1", sj2.Status.Counts.OffPeakStarts)
	}
	if !sj2.Status.MQTT.Connected {
		t.Error("expected MQTT connected after update")
	}
}
