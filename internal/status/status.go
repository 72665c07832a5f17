package status

import (
	"bytes"
	"cmp"
	"embed"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/angeloszaimis/compute-balancer/internal/backend"
	"github.com/angeloszaimis/compute-balancer/internal/metrics"
)

// DefaultLogLimit is the number of log lines shown when none is configured.
const DefaultLogLimit = 50

//go:embed templates/status.html.tmpl
var templates embed.FS

var page = template.Must(template.ParseFS(templates, "templates/status.html.tmpl"))

// BackendSource lists the backend pool with current health.
type BackendSource interface {
	Snapshot() []backend.Status
}

// MetricsSource returns aggregated events.
type MetricsSource interface {
	Snapshot(logLimit int) metrics.Snapshot
}

type BackendView struct {
	backend.Status
	Responses   int           `json:"responses"`
	AvgResponse time.Duration `json:"avg_response"`
	P95Response time.Duration `json:"p95_response"`
}

type CounterView struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// View is what both the HTML page and the JSON endpoint render.
type View struct {
	Uptime   time.Duration     `json:"uptime"`
	Healthy  int               `json:"healthy"`
	Backends []BackendView     `json:"backends"`
	Counters []CounterView     `json:"counters"`
	Logs     []metrics.LogLine `json:"logs"`
}

type Page struct {
	backends BackendSource
	metrics  MetricsSource
	logLimit int
	logger   *slog.Logger
}

func New(backends BackendSource, metrics MetricsSource, logLimit int, logger *slog.Logger) *Page {
	if logLimit <= 0 {
		logLimit = DefaultLogLimit
	}

	return &Page{
		backends: backends,
		metrics:  metrics,
		logLimit: logLimit,
		logger:   logger,
	}
}

// View assembles the current state. Backends keep registration order and
// counters are sorted by name.
func (p *Page) View() View {
	snap := p.metrics.Snapshot(p.logLimit)

	view := View{
		Uptime: snap.Uptime.Truncate(time.Second),
		Logs:   snap.RecentLogs,
	}

	for _, status := range p.backends.Snapshot() {
		bv := BackendView{Status: status}
		if m, ok := snap.Backends[status.ID]; ok {
			bv.Responses = m.Responses
			bv.AvgResponse = m.AvgResponse
			bv.P95Response = m.P95Response
		}
		if status.Healthy {
			view.Healthy++
		}
		view.Backends = append(view.Backends, bv)
	}

	for name, value := range snap.Counters {
		view.Counters = append(view.Counters, CounterView{Name: name, Value: value})
	}
	slices.SortFunc(view.Counters, func(a, b CounterView) int {
		return cmp.Compare(a.Name, b.Name)
	})

	return view
}

// ServeHTTP renders the HTML page.
func (p *Page) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := page.Execute(&buf, p.View()); err != nil {
		p.logger.Error("Failed to render status page", slog.Any("err", err))
		http.Error(w, "failed to render status page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

// API serves the same view as JSON.
func (p *Page) API() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(p.View()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
