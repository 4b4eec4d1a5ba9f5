package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/provider-router/config"
	"github.com/angeloszaimis/provider-router/internal/fallback"
	"github.com/angeloszaimis/provider-router/internal/httpserver"
	"github.com/angeloszaimis/provider-router/internal/provider"
)

const validConfig = `
server:
  address: ":9191"
  environment: "staging"

logging:
  level: "debug"

providers:
  - id: openai
    kind: stub
    preferred_tier: complex
    timeout: 20s
    retry_preset: patient
    options:
      latency: 50ms
  - id: gemini
    kind: stub
    preferred_tier: simple
    timeout: 5s
    max_concurrency: 4
  - id: local
    kind: stub
    enabled: false

routing:
  default_provider: gemini
  fallback_chain: [openai, gemini]
  strategy: least-response

health_check:
  interval: 15s

fallback:
  max_attempts: 2
  degradation_mode: fail_fast
`

var _ = Describe("Config", func() {
	var (
		tempDir string
		origDir string
	)

	writeConfig := func(content string) {
		Expect(os.WriteFile(filepath.Join(tempDir, "config.yaml"), []byte(content), 0644)).To(Succeed())
	}

	BeforeEach(func() {
		var err error
		origDir, err = os.Getwd()
		Expect(err).NotTo(HaveOccurred())

		tempDir, err = os.MkdirTemp("", "config-test-*")
		Expect(err).NotTo(HaveOccurred())
		Expect(os.Chdir(tempDir)).To(Succeed())
	})

	AfterEach(func() {
		Expect(os.Chdir(origDir)).To(Succeed())
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("with valid config file", func() {
			BeforeEach(func() {
				writeConfig(validConfig)
			})

			It("should load configuration successfully", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.Address).To(Equal(":9191"))
				Expect(cfg.Routing.Strategy).To(Equal("least-response"))
				Expect(cfg.Providers).To(HaveLen(3))
			})

			It("should parse durations", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.HealthCheck.Interval).To(Equal(15 * time.Second))
				Expect(cfg.Providers[0].Timeout).To(Equal(20 * time.Second))
			})

			It("should fill in defaults", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.HealthCheck.ProbeTimeout).To(Equal(5 * time.Second))
				Expect(cfg.CircuitBreaker.FailureThreshold).To(Equal(5))
				Expect(cfg.CircuitBreaker.SuccessThreshold).To(Equal(3))
				Expect(cfg.CircuitBreaker.RecoveryTimeout).To(Equal(30 * time.Second))
				Expect(cfg.Retry.BaseDelay).To(Equal(time.Second))
				Expect(cfg.Retry.MaxDelay).To(Equal(10 * time.Second))
				Expect(cfg.Retry.Multiplier).To(Equal(2.0))
				Expect(cfg.Fallback.Timeout).To(Equal(30 * time.Second))
				Expect(cfg.Telemetry.Sink).To(Equal(config.SinkLog))
			})

			It("should let the environment override the file", func() {
				GinkgoT().Setenv("FALLBACK_DEGRADATION_MODE", "best_effort")
				GinkgoT().Setenv("ROUTING_DISABLED_PROVIDERS", "openai")

				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Fallback.DegradationMode).To(Equal("best_effort"))
				Expect(cfg.Routing.DisabledProviders).To(ConsistOf("openai"))
			})

			It("should read a .env file", func() {
				Expect(os.WriteFile(filepath.Join(tempDir, ".env"), []byte("LOGGING_LEVEL=warn\n"), 0644)).To(Succeed())
				DeferCleanup(os.Unsetenv, "LOGGING_LEVEL")

				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Logging.Level).To(Equal("warn"))
			})
		})

		Context("without a config file", func() {
			It("should fail because no provider is configured", func() {
				_, err := config.Load()
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("providers"))
			})
		})

		Context("with invalid values", func() {
			DescribeTable("rejections",
				func(content string, field string) {
					writeConfig(content)
					_, err := config.Load()
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring(field))
				},
				Entry("unknown strategy", `
providers: [{id: a, kind: stub}]
routing: {strategy: weighted-round-robin}
`, "strategy"),
				Entry("unknown degradation mode", `
providers: [{id: a, kind: stub}]
fallback: {degradation_mode: shrug}
`, "degradation_mode"),
				Entry("default provider not configured", `
providers: [{id: a, kind: stub}]
routing: {default_provider: b}
`, "default_provider"),
				Entry("duplicate provider ids", `
providers: [{id: a, kind: stub}, {id: a, kind: stub}]
`, "used twice"),
				Entry("unknown tier", `
providers: [{id: a, kind: stub, preferred_tier: galactic}]
`, "preferred_tier"),
				Entry("unknown retry preset", `
providers: [{id: a, kind: stub, retry_preset: reckless}]
`, "retry_preset"),
				Entry("redis sink without url", `
providers: [{id: a, kind: stub}]
telemetry: {sink: redis}
`, "redis_url"),
				Entry("max delay below base delay", `
providers: [{id: a, kind: stub}]
retry: {base_delay: 5s, max_delay: 1s}
`, "max_delay"),
				Entry("bad address", `
server: {address: "nowhere"}
providers: [{id: a, kind: stub}]
`, "address"),
			)
		})
	})

	Describe("conversions", func() {
		var cfg *config.Config

		BeforeEach(func() {
			writeConfig(validConfig)
			var err error
			cfg, err = config.Load()
			Expect(err).NotTo(HaveOccurred())
		})

		It("should build specs for enabled providers only", func() {
			specs := cfg.ProviderSpecs()
			Expect(specs).To(HaveLen(2))
			Expect(specs[0].ID).To(Equal("openai"))
			Expect(specs[0].Capability.PreferredTier).To(Equal(provider.TierComplex))
			Expect(specs[0].RetryPreset).To(Equal("patient"))
			Expect(specs[0].Options).To(HaveKeyWithValue("latency", "50ms"))
			Expect(specs[1].Capability.MaxConcurrency).To(Equal(4))
		})

		It("should honour routing.disabled_providers", func() {
			cfg.Routing.DisabledProviders = []string{"gemini"}
			specs := cfg.ProviderSpecs()
			Expect(specs).To(HaveLen(1))
			Expect(specs[0].ID).To(Equal("openai"))
		})

		It("should build the executor config", func() {
			ec := cfg.ExecutorConfig()
			Expect(ec.MaxAttempts).To(Equal(2))
			Expect(ec.Mode).To(Equal(fallback.ModeFailFast))
			Expect(ec.Backoff.BaseDelay).To(Equal(time.Second))
			Expect(ec.RecoveryHint).To(Equal(30 * time.Second))
		})

		It("should build the server options with defaults", func() {
			opts := cfg.ServerOptions()
			Expect(opts.ReadTimeout).To(Equal(httpserver.DefaultReadTimeout))
			Expect(opts.WriteTimeout).To(Equal(httpserver.DefaultWriteTimeout))
			Expect(opts.IdleTimeout).To(Equal(httpserver.DefaultIdleTimeout))
		})

		It("should build the breaker settings", func() {
			s := cfg.BreakerSettings()
			Expect(s.FailureThreshold).To(Equal(5))
			Expect(s.RecoveryTimeout).To(Equal(30 * time.Second))
		})
	})
})
