package web

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/sweeney/pv-router/internal/control"
	"github.com/sweeney/pv-router/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"watts": func(v float64) string {
		return fmt.Sprintf("%.0f W", v)
	},
	"temp": func(v *float64) string {
		if v == nil {
			return "n/a"
		}
		return fmt.Sprintf("%.2f °C", *v)
	},
	"priorities": func(ids []int) string {
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = fmt.Sprint(id)
		}
		return strings.Join(parts, " > ")
	},
	"gridClass": func(t *control.Telemetry) string {
		if t.GridW > 0 {
			return "import"
		}
		return "export"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>PV Router</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.import { color: red; }
.export { color: green; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>PV Router{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Energy</h2>
<table>
<tr><th>Diverted today</th><td id="diverted-wh">{{.Energy.DivertedWh}} Wh</td></tr>
<tr><th>Diversion</th><td class="{{if .Energy.DiversionEnabled}}on{{else}}off{{end}}">{{if .Energy.DiversionEnabled}}enabled{{else}}disabled{{end}}</td></tr>
<tr><th>Load forced</th><td>{{if .Energy.LoadForced}}yes{{else}}no{{end}}</td></tr>
<tr><th>Off-peak</th><td>{{if .OffPeak}}yes{{else}}no{{end}}</td></tr>
<tr><th>Running</th><td>{{if .Running}}yes{{else}}starting{{end}}</td></tr>
<tr><th>Ready</th><td>{{if .Baselined}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Power</h2>
{{with .Telemetry}}<table>
<tr><th>Grid</th><td id="grid-w" class="{{gridClass .}}">{{watts .GridW}}</td></tr>
<tr><th>Diverted</th><td id="diverted-w">{{watts .DivertedW}}</td></tr>
<tr><th>Voltage</th><td id="vrms">{{printf "%.1f" .Vrms}} V</td></tr>
<tr><th>Priorities</th><td id="priorities">{{priorities .Priorities}}</td></tr>
{{range .Loads}}<tr><th>Load {{.ID}}</th><td id="load-{{.ID}}">{{printf "%.0f" .OnPercent}}%{{if .Forced}} (forced){{end}}</td></tr>
{{end}}{{range $i, $t := .Temperatures}}<tr><th>Sensor {{$i}}</th><td>{{temp $t}}</td></tr>
{{end}}</table>
<p>Last update {{.Timestamp.UTC.Format "2006-01-02T15:04:05Z"}}</p>
{{else}}<p>No datalog yet.</p>
{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Override ON</th><td>{{.Counts.OverrideOn}}</td></tr>
<tr><th>Override OFF</th><td>{{.Counts.OverrideOff}}</td></tr>
<tr><th>Diversion OFF</th><td>{{.Counts.DiversionOff}}</td></tr>
<tr><th>Diversion ON</th><td>{{.Counts.DiversionOn}}</td></tr>
<tr><th>Rotations</th><td>{{.Counts.Rotations}}</td></tr>
<tr><th>Off-peak starts</th><td>{{.Counts.OffPeakStarts}}</td></tr>
</table>

<h2>Faults</h2>
<table>
<tr><th>Sequence</th><td>{{.Faults.Sequence}}</td></tr>
<tr><th>Pin write</th><td>{{.Faults.PinWrite}}</td></tr>
<tr><th>Dropped datalogs</th><td>{{.Faults.DroppedDatalogs}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>ADC</th><td>{{.Config.ADC}}</td></tr>
<tr><th>Loads</th><td>{{.Config.Loads}} ({{.Config.Rotation}} rotation)</td></tr>
<tr><th>Datalog</th><td>{{.Config.DatalogPeriodMs}}ms</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
{{if .Config.WSBroker}}
<script src="/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = "energy/pvrouter/telemetry";
  var dot = document.getElementById("live-dot");

  function setText(id, text, cls) {
    var el = document.getElementById(id);
    if (!el) return;
    el.textContent = text;
    if (cls) el.className = cls;
  }

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });

  client.on("reconnect", function() {
    setDot("pending", "reconnecting");
  });

  client.on("offline", function() {
    setDot("err", "offline");
  });

  client.on("error", function() {
    setDot("err", "error");
  });

  client.on("message", function(t, payload) {
    try {
      var msg = JSON.parse(payload.toString());
      var p = msg.pvrouter;
      if (!p) return;
      setText("grid-w", Math.round(p.grid_w) + " W", p.grid_w > 0 ? "import" : "export");
      setText("diverted-w", Math.round(p.diverted_w) + " W");
      setText("vrms", p.vrms.toFixed(1) + " V");
      setText("diverted-wh", p.diverted_wh + " Wh");
      setText("priorities", p.priorities.join(" > "));
      p.loads.forEach(function(l) {
        setText("load-" + l.id, Math.round(l.on_pct) + "%" + (l.forced ? " (forced)" : ""));
      });
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
