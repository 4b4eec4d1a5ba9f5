package telemetry_test

import (
	"context"
	"encoding/json"
	"math"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/angeloszaimis/provider-router/internal/fallback"
	"github.com/angeloszaimis/provider-router/internal/provider"
	"github.com/angeloszaimis/provider-router/internal/telemetry"
)

var _ = Describe("RedisSink", func() {
	var (
		ctx  context.Context
		mr   *miniredis.Miniredis
		raw  *redis.Client
		sink *telemetry.RedisSink
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(mr.Close)

		sink, err = telemetry.NewRedisSink(ctx, telemetry.RedisConfig{URL: "redis://" + mr.Addr()})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(sink.Close)

		raw = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		DeferCleanup(raw.Close)
	})

	It("should hold records until flushed", func() {
		Expect(sink.RecordAttempt(ctx, fallback.AttemptRecord{RequestID: "r1", Backend: "openai", Ordinal: 1, Success: true})).To(Succeed())

		n, err := raw.XLen(ctx, telemetry.DefaultStream).Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())

		Expect(sink.Flush(ctx)).To(Succeed())

		n, err = raw.XLen(ctx, sink.Stream()).Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeEquivalentTo(1))
	})

	It("should write one stream entry per record with a JSON payload", func() {
		Expect(sink.RecordAttempt(ctx, fallback.AttemptRecord{
			RequestID: "r2",
			Backend:   "gemini",
			Ordinal:   1,
			Error:     &fallback.AttemptError{Kind: provider.KindRateLimit, Retryable: true},
		})).To(Succeed())
		Expect(sink.RecordCost(ctx, telemetry.CostRecord{RequestID: "r2", Backend: "openai", Usage: provider.Usage{InputTokens: 3, OutputTokens: 4}})).To(Succeed())
		Expect(sink.RecordError(ctx, telemetry.ErrorTrace{RequestID: "r3", Tried: []string{"gemini"}})).To(Succeed())
		Expect(sink.Flush(ctx)).To(Succeed())

		msgs, err := raw.XRange(ctx, telemetry.DefaultStream, "-", "+").Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(3))

		Expect(msgs[0].Values["type"]).To(Equal("attempt"))
		Expect(msgs[0].Values["backend"]).To(Equal("gemini"))
		Expect(msgs[1].Values["type"]).To(Equal("cost"))
		Expect(msgs[2].Values["type"]).To(Equal("error"))
		Expect(msgs[2].Values["request_id"]).To(Equal("r3"))

		var attempt fallback.AttemptRecord
		Expect(json.Unmarshal([]byte(msgs[0].Values["payload"].(string)), &attempt)).To(Succeed())
		Expect(attempt.Error.Kind).To(Equal(provider.KindRateLimit))
	})

	It("should skip a record that cannot be encoded and write the rest", func() {
		Expect(sink.RecordCost(ctx, telemetry.CostRecord{RequestID: "r5", Backend: "openai", Usage: provider.Usage{InputTokens: 1}})).To(Succeed())
		Expect(sink.RecordCost(ctx, telemetry.CostRecord{RequestID: "bad", Backend: "openai", Usage: provider.Usage{CostUSD: math.NaN()}})).To(Succeed())
		Expect(sink.RecordError(ctx, telemetry.ErrorTrace{RequestID: "r6"})).To(Succeed())

		Expect(sink.Flush(ctx)).To(MatchError(ContainSubstring("cost record bad")))

		msgs, err := raw.XRange(ctx, telemetry.DefaultStream, "-", "+").Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(2))
		Expect(msgs[0].Values["request_id"]).To(Equal("r5"))
		Expect(msgs[1].Values["request_id"]).To(Equal("r6"))
		Expect(sink.Flush(ctx)).To(Succeed())
	})

	It("should report an unreachable Redis on flush and drop the batch", func() {
		Expect(sink.RecordError(ctx, telemetry.ErrorTrace{RequestID: "r4"})).To(Succeed())
		mr.Close()

		Expect(sink.Flush(ctx)).To(HaveOccurred())
		Expect(sink.Flush(ctx)).To(Succeed())
	})

	It("should refuse a bad URL", func() {
		_, err := telemetry.NewRedisSink(ctx, telemetry.RedisConfig{URL: "not a url"})
		Expect(err).To(HaveOccurred())
	})
})
