package strategy_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/provider-router/internal/provider"
	"github.com/angeloszaimis/provider-router/internal/strategy"
)

var _ = Describe("load-aware strategies", func() {
	var a, b, c *provider.Backend

	BeforeEach(func() {
		a = newBackend("a", provider.TierSimple, 0)
		b = newBackend("b", provider.TierSimple, 0)
		c = newBackend("c", provider.TierComplex, 0)
	})

	Describe("least-conn", func() {
		strat := strategy.NewLeastConnStrategy()

		It("should pick the fewest in-flight calls", func() {
			a.Acquire()
			a.Acquire()
			b.Acquire()
			Expect(strat.SelectBackend(provider.TierNone, []*provider.Backend{a, b, c})).To(Equal(c))
		})

		It("should stay within the matching tier", func() {
			a.Acquire()
			a.Acquire()
			b.Acquire()
			Expect(strat.SelectBackend(provider.TierSimple, []*provider.Backend{a, b, c})).To(Equal(b))
		})

		It("should break ties on response time", func() {
			a.RecordResponse(200 * time.Millisecond)
			b.RecordResponse(50 * time.Millisecond)
			Expect(strat.SelectBackend(provider.TierSimple, []*provider.Backend{a, b})).To(Equal(b))
		})

		It("should keep registration order on a full tie", func() {
			Expect(strat.SelectBackend(provider.TierSimple, []*provider.Backend{b, a})).To(Equal(b))
		})
	})

	Describe("least-response", func() {
		strat := strategy.NewLeastResponseStrategy()

		It("should try unmeasured backends first", func() {
			a.RecordResponse(10 * time.Millisecond)
			Expect(strat.SelectBackend(provider.TierNone, []*provider.Backend{a, b})).To(Equal(b))
		})

		It("should pick the lowest EWMA", func() {
			a.RecordResponse(300 * time.Millisecond)
			b.RecordResponse(100 * time.Millisecond)
			Expect(strat.SelectBackend(provider.TierNone, []*provider.Backend{a, b})).To(Equal(b))
		})

		It("should scale latency by in-flight calls", func() {
			a.RecordResponse(300 * time.Millisecond)
			b.RecordResponse(100 * time.Millisecond)
			for range 3 {
				b.Acquire()
			}
			Expect(strat.SelectBackend(provider.TierNone, []*provider.Backend{a, b})).To(Equal(a))
		})
	})
})
