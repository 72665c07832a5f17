package metrics_test

import (
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/angeloszaimis/compute-balancer/internal/events"
	"github.com/angeloszaimis/compute-balancer/internal/metrics"
)

var _ = Describe("Metrics", func() {
	var m *metrics.Metrics

	BeforeEach(func() {
		m = metrics.NewMetrics()
	})

	Describe("NewMetrics", func() {
		It("should create a new metrics instance", func() {
			Expect(m).NotTo(BeNil())
			Expect(m.Registry()).NotTo(BeNil())
		})
	})

	Describe("IncrementCounter", func() {
		It("should count per name", func() {
			m.IncrementCounter(events.CounterRequestsProcessed)
			m.IncrementCounter(events.CounterRequestsProcessed)
			m.IncrementCounter(events.CounterBackendFailures)

			snap := m.Snapshot(0)
			Expect(snap.Counters).To(Equal(map[string]int64{
				events.CounterRequestsProcessed: 2,
				events.CounterBackendFailures:   1,
			}))
		})

		It("should export a Prometheus counter", func() {
			m.IncrementCounter(events.CounterRequestsProcessed)
			m.IncrementCounter(events.CounterRequestsProcessed)

			expected := `
# HELP balancer_events_total Counter events emitted by the balancer, by counter name
# TYPE balancer_events_total counter
balancer_events_total{counter="requests_processed"} 2
`
			Expect(testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "balancer_events_total")).To(Succeed())
		})
	})

	Describe("SetField", func() {
		It("should keep the last value per key", func() {
			m.SetField(events.HealthMap, "localhost:13001", "true")
			m.SetField(events.HealthMap, "localhost:13001", "false")
			m.SetField(events.HealthMap, "localhost:13002", "true")

			snap := m.Snapshot(0)
			Expect(snap.Fields[events.HealthMap]).To(Equal(map[string]string{
				"localhost:13001": "false",
				"localhost:13002": "true",
			}))
		})

		It("should export backend health as a gauge", func() {
			m.SetField(events.HealthMap, "localhost:13001", "false")
			m.SetField(events.HealthMap, "localhost:13002", "true")

			expected := `
# HELP balancer_backend_healthy Last health verdict per backend address (1 healthy, 0 down)
# TYPE balancer_backend_healthy gauge
balancer_backend_healthy{backend="localhost:13001"} 0
balancer_backend_healthy{backend="localhost:13002"} 1
`
			Expect(testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "balancer_backend_healthy")).To(Succeed())
		})

		It("should not export other maps as gauges", func() {
			m.SetField("other", "k", "true")

			count, err := testutil.GatherAndCount(m.Registry(), "balancer_backend_healthy")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(BeZero())
		})
	})

	Describe("AppendLog", func() {
		It("should return recent lines newest first", func() {
			now := time.Now()
			m.AppendLog(now, "first")
			m.AppendLog(now, "second")
			m.AppendLog(now, "third")

			snap := m.Snapshot(2)
			Expect(snap.RecentLogs).To(HaveLen(2))
			Expect(snap.RecentLogs[0].Text).To(Equal("third"))
			Expect(snap.RecentLogs[1].Text).To(Equal("second"))
		})

		It("should keep only the latest 100 lines", func() {
			for i := 0; i < 150; i++ {
				m.AppendLog(time.Now(), "line")
			}
			m.AppendLog(time.Now(), "last")

			snap := m.Snapshot(0)
			Expect(snap.RecentLogs).To(HaveLen(100))
			Expect(snap.RecentLogs[0].Text).To(Equal("last"))
		})
	})

	Describe("RecordResponse", func() {
		It("should compute averages and percentiles per backend", func() {
			m.RecordResponse("A", 100*time.Millisecond)
			m.RecordResponse("A", 200*time.Millisecond)
			m.RecordResponse("B", 50*time.Millisecond)

			snap := m.Snapshot(0)
			Expect(snap.Backends["A"].Responses).To(Equal(2))
			Expect(snap.Backends["A"].AvgResponse).To(Equal(150 * time.Millisecond))
			Expect(snap.Backends["A"].P99Response).To(Equal(200 * time.Millisecond))
			Expect(snap.Backends["B"].P50Response).To(Equal(50 * time.Millisecond))
		})

		It("should feed the Prometheus histogram", func() {
			m.RecordResponse("A", 10*time.Millisecond)

			count, err := testutil.GatherAndCount(m.Registry(), "balancer_forward_duration_seconds")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(1))
		})
	})

	Describe("Snapshot", func() {
		It("should be isolated from later updates", func() {
			m.SetField(events.HealthMap, "localhost:13001", "true")
			snap := m.Snapshot(0)

			m.SetField(events.HealthMap, "localhost:13001", "false")
			Expect(snap.Fields[events.HealthMap]["localhost:13001"]).To(Equal("true"))
		})
	})
})
