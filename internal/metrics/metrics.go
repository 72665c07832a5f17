package metrics

import (
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/angeloszaimis/compute-balancer/internal/events"
)

const (
	maxLogLines      = 100
	maxResponseTimes = 1000
)

type Metrics struct {
	mutex         sync.RWMutex
	counters      map[string]int64
	fields        map[string]map[string]string
	logs          []LogLine
	responseTimes map[string][]time.Duration
	startTime     time.Time

	registry        *prometheus.Registry
	eventCounters   *prometheus.CounterVec
	backendHealthy  *prometheus.GaugeVec
	forwardDuration *prometheus.HistogramVec
	logLines        prometheus.Counter
}

type LogLine struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

type Snapshot struct {
	Uptime     time.Duration                `json:"uptime"`
	Counters   map[string]int64             `json:"counters"`
	Fields     map[string]map[string]string `json:"fields"`
	Backends   map[string]BackendMetrics    `json:"backends"`
	RecentLogs []LogLine                    `json:"recent_logs"`
}

type BackendMetrics struct {
	Responses   int           `json:"responses"`
	AvgResponse time.Duration `json:"avg_response"`
	P50Response time.Duration `json:"p50_response"`
	P95Response time.Duration `json:"p95_response"`
	P99Response time.Duration `json:"p99_response"`
}

func (m *Metrics) IncrementCounter(name string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.counters[name]++
	m.eventCounters.WithLabelValues(name).Inc()
}

func (m *Metrics) SetField(mapName, key, value string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.fields[mapName] == nil {
		m.fields[mapName] = make(map[string]string)
	}
	m.fields[mapName][key] = value

	if mapName == events.HealthMap {
		if healthy, err := strconv.ParseBool(value); err == nil {
			m.backendHealthy.WithLabelValues(key).Set(boolToFloat(healthy))
		}
	}
}

func (m *Metrics) AppendLog(at time.Time, text string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.logs = append(m.logs, LogLine{Time: at, Text: text})
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
	m.logLines.Inc()
}

func (m *Metrics) RecordResponse(backend string, duration time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.responseTimes[backend] = append(m.responseTimes[backend], duration)

	if len(m.responseTimes[backend]) > maxResponseTimes {
		m.responseTimes[backend] = m.responseTimes[backend][1:]
	}

	m.forwardDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// Snapshot copies the current state. Log lines are newest first, at most
// logLimit of them.
func (m *Metrics) Snapshot(logLimit int) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:   time.Since(m.startTime),
		Counters: make(map[string]int64, len(m.counters)),
		Fields:   make(map[string]map[string]string, len(m.fields)),
		Backends: make(map[string]BackendMetrics, len(m.responseTimes)),
	}

	for name, v := range m.counters {
		snap.Counters[name] = v
	}

	for mapName, fields := range m.fields {
		copied := make(map[string]string, len(fields))
		for k, v := range fields {
			copied[k] = v
		}
		snap.Fields[mapName] = copied
	}

	for backend, durations := range m.responseTimes {
		sorted := slices.Clone(durations)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i] < sorted[j]
		})

		snap.Backends[backend] = BackendMetrics{
			Responses:   len(sorted),
			AvgResponse: average(sorted),
			P50Response: percentile(sorted, 0.50),
			P95Response: percentile(sorted, 0.95),
			P99Response: percentile(sorted, 0.99),
		}
	}

	if logLimit <= 0 || logLimit > len(m.logs) {
		logLimit = len(m.logs)
	}
	snap.RecentLogs = make([]LogLine, 0, logLimit)
	for i := len(m.logs) - 1; i >= len(m.logs)-logLimit; i-- {
		snap.RecentLogs = append(snap.RecentLogs, m.logs[i])
	}

	return snap
}

// Registry returns the Prometheus registry holding the balancer metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		counters:      make(map[string]int64),
		fields:        make(map[string]map[string]string),
		responseTimes: make(map[string][]time.Duration),
		startTime:     time.Now(),
		registry:      registry,
		eventCounters: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "balancer_events_total",
			Help: "Counter events emitted by the balancer, by counter name",
		}, []string{"counter"}),
		backendHealthy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "balancer_backend_healthy",
			Help: "Last health verdict per backend address (1 healthy, 0 down)",
		}, []string{"backend"}),
		forwardDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "balancer_forward_duration_seconds",
			Help:    "Round trip time of forwarded requests per backend",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend"}),
		logLines: factory.NewCounter(prometheus.CounterOpts{
			Name: "balancer_log_lines_total",
			Help: "Log lines emitted to the event sink",
		}),
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
