package strategy_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/provider-router/internal/provider"
	"github.com/angeloszaimis/provider-router/internal/strategy"
)

var _ = Describe("TierAffinity", func() {
	var (
		strat    strategy.Strategy
		fast     *provider.Backend
		smart    *provider.Backend
		smarter  *provider.Backend
		backends []*provider.Backend
	)

	BeforeEach(func() {
		strat = strategy.NewTierAffinityStrategy()
		fast = newBackend("fast", provider.TierSimple, 5*time.Second)
		smart = newBackend("smart", provider.TierComplex, 60*time.Second)
		smarter = newBackend("smarter", provider.TierComplex, 30*time.Second)
		backends = []*provider.Backend{fast, smart, smarter}
	})

	Describe("SelectBackend", func() {
		It("should return nil for no candidates", func() {
			Expect(strat.SelectBackend(provider.TierSimple, nil)).To(BeNil())
		})

		It("should prefer an exact tier match", func() {
			Expect(strat.SelectBackend(provider.TierSimple, backends)).To(Equal(fast))
		})

		It("should break ties on the lower timeout", func() {
			Expect(strat.SelectBackend(provider.TierComplex, backends)).To(Equal(smarter))
		})

		It("should fall back to the lowest timeout overall when no tier matches", func() {
			Expect(strat.SelectBackend(provider.TierModerate, backends)).To(Equal(fast))
		})

		It("should ignore tier when none is given", func() {
			Expect(strat.SelectBackend(provider.TierNone, backends)).To(Equal(fast))
		})

		It("should keep registration order on equal timeouts", func() {
			a := newBackend("a", provider.TierSimple, time.Second)
			b := newBackend("b", provider.TierSimple, time.Second)
			Expect(strat.SelectBackend(provider.TierSimple, []*provider.Backend{a, b})).To(Equal(a))
			Expect(strat.SelectBackend(provider.TierSimple, []*provider.Backend{b, a})).To(Equal(b))
		})

		It("should rank an undeclared timeout after declared ones", func() {
			unset := newBackend("unset", provider.TierSimple, 0)
			slow := newBackend("slow", provider.TierSimple, time.Minute)
			Expect(strat.SelectBackend(provider.TierSimple, []*provider.Backend{unset, slow})).To(Equal(slow))
		})
	})
})
