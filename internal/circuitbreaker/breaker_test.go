package circuitbreaker_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/compute-balancer/internal/circuitbreaker"
)

var _ = Describe("CircuitBreaker", func() {
	var (
		cb  *circuitbreaker.CircuitBreaker
		now time.Time
	)

	advance := func(d time.Duration) { now = now.Add(d) }

	trip := func() {
		cb.RecordFailure()
		cb.RecordFailure()
		Expect(cb.RecordFailure()).To(BeTrue())
	}

	BeforeEach(func() {
		now = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
		cb = circuitbreaker.NewCircuitBreaker(3, 5*time.Second).
			WithClock(func() time.Time { return now })
	})

	Describe("NewCircuitBreaker", func() {
		It("should start closed", func() {
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			Expect(cb.Allow()).To(BeTrue())
		})

		It("should treat a zero threshold as one", func() {
			single := circuitbreaker.NewCircuitBreaker(0, time.Second)
			Expect(single.RecordFailure()).To(BeTrue())
			Expect(single.State()).To(Equal(circuitbreaker.StateOpen))
		})
	})

	Context("when in CLOSED state", func() {
		It("should remain closed after failures below threshold", func() {
			Expect(cb.RecordFailure()).To(BeFalse())
			Expect(cb.RecordFailure()).To(BeFalse())
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			Expect(cb.Allow()).To(BeTrue())
		})

		It("should open at the failure threshold", func() {
			trip()
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
		})

		It("should only count consecutive failures", func() {
			cb.RecordFailure()
			cb.RecordFailure()
			Expect(cb.RecordSuccess()).To(BeFalse())
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
		})
	})

	Context("when in OPEN state", func() {
		BeforeEach(trip)

		It("should refuse calls during the cooldown", func() {
			advance(4 * time.Second)
			Expect(cb.Allow()).To(BeFalse())
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
		})

		It("should let one trial through after the cooldown", func() {
			advance(5 * time.Second)
			Expect(cb.Allow()).To(BeTrue())
			Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))
			Expect(cb.Allow()).To(BeFalse())
		})
	})

	Context("when in HALF-OPEN state", func() {
		BeforeEach(func() {
			trip()
			advance(5 * time.Second)
			Expect(cb.Allow()).To(BeTrue())
		})

		It("should close on success", func() {
			Expect(cb.RecordSuccess()).To(BeTrue())
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			Expect(cb.Allow()).To(BeTrue())
		})

		It("should reopen on failure for a full cooldown", func() {
			Expect(cb.RecordFailure()).To(BeFalse())
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))

			advance(4 * time.Second)
			Expect(cb.Allow()).To(BeFalse())
			advance(time.Second)
			Expect(cb.Allow()).To(BeTrue())
		})
	})

	Describe("State.String", func() {
		It("should return correct string representation", func() {
			Expect(circuitbreaker.StateClosed.String()).To(Equal("CLOSED"))
			Expect(circuitbreaker.StateOpen.String()).To(Equal("OPEN"))
			Expect(circuitbreaker.StateHalfOpen.String()).To(Equal("HALF-OPEN"))
			Expect(circuitbreaker.State(9).String()).To(Equal("UNKNOWN"))
		})
	})
})
