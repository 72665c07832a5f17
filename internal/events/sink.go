package events

import (
	"maps"
	"slices"
	"sync"
)

// Well-known keys written by the balancer.
const (
	HealthMap = "backend_health"

	CounterRequestsProcessed = "requests_processed"
	CounterBackendFailures   = "backend_failures"
	CounterOutageResponses   = "outage_responses"
	CounterClientErrors      = "client_errors"
)

type Sink interface {
	AppendLog(text string)
	IncrementCounter(name string)
	SetField(mapName, key, value string)
}

// Nop discards every event.
type Nop struct{}

func (Nop) AppendLog(string)                {}
func (Nop) IncrementCounter(string)         {}
func (Nop) SetField(string, string, string) {}

type multi []Sink

// NewMulti fans every event out to all non-nil sinks.
func NewMulti(sinks ...Sink) Sink {
	m := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

func (m multi) AppendLog(text string) {
	for _, s := range m {
		s.AppendLog(text)
	}
}

func (m multi) IncrementCounter(name string) {
	for _, s := range m {
		s.IncrementCounter(name)
	}
}

func (m multi) SetField(mapName, key, value string) {
	for _, s := range m {
		s.SetField(mapName, key, value)
	}
}

// Recorder keeps every event in memory. It is meant for tests.
type Recorder struct {
	mutex    sync.Mutex
	logs     []string
	counters map[string]int
	fields   map[string]map[string]string
}

func NewRecorder() *Recorder {
	return &Recorder{
		counters: make(map[string]int),
		fields:   make(map[string]map[string]string),
	}
}

func (r *Recorder) AppendLog(text string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.logs = append(r.logs, text)
}

func (r *Recorder) IncrementCounter(name string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.counters[name]++
}

func (r *Recorder) SetField(mapName, key, value string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.fields[mapName] == nil {
		r.fields[mapName] = make(map[string]string)
	}
	r.fields[mapName][key] = value
}

// Logs returns a copy of the recorded log lines in arrival order.
func (r *Recorder) Logs() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return slices.Clone(r.logs)
}

func (r *Recorder) Counter(name string) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.counters[name]
}

// Field returns the last value set for key in mapName.
func (r *Recorder) Field(mapName, key string) string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.fields[mapName][key]
}

// Fields returns a copy of mapName.
func (r *Recorder) Fields(mapName string) map[string]string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return maps.Clone(r.fields[mapName])
}
