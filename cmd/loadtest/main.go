// Loadtest drives POST /route on a running provider router and reports how
// requests were spread across providers, how many needed a fallback, and
// how many came back degraded or exhausted.
//
// Usage:
//
//	go run ./cmd/loadtest --url http://localhost:9090/route --concurrency 20 --requests 2000
//	go run ./cmd/loadtest --tier fast --out summary.json
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"
)

var (
	targetURL   string
	concurrency int
	requests    int
	prompt      string
	tier        string
	timeout     time.Duration
	outJSON     string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Send concurrent routed requests and summarize provider outcomes",
	Long: `Sends prompts to the router's POST /route endpoint from a pool of
workers and prints the provider distribution, fallback counts and
latency percentiles. Exits 2 when any request failed outright.`,
	Args: cobra.NoArgs,
	RunE: runLoadTest,
}

func init() {
	rootCmd.Flags().StringVar(&targetURL, "url", "http://localhost:9090/route", "Route endpoint")
	rootCmd.Flags().IntVarP(&concurrency, "concurrency", "c", 10, "Number of concurrent workers")
	rootCmd.Flags().IntVarP(&requests, "requests", "n", 100, "Total number of requests to send")
	rootCmd.Flags().StringVar(&prompt, "prompt", "Summarize the benefits of circuit breakers.", "Prompt sent with every request")
	rootCmd.Flags().StringVar(&tier, "tier", "", "Request tier (simple, moderate, complex)")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "Per-request timeout")
	rootCmd.Flags().StringVar(&outJSON, "out", "", "Write JSON summary to this file")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print every request outcome")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runLoadTest(cmd *cobra.Command, _ []string) error {
	if concurrency < 1 || requests < 1 {
		return fmt.Errorf("concurrency and requests must be positive")
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	body, err := json.Marshal(map[string]string{"prompt": prompt, "tier": tier})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: timeout}
	results := newTally()
	jobs := make(chan int)
	var wg sync.WaitGroup

	start := time.Now()
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				o := send(ctx, client, targetURL, body)
				o.Index = idx
				results.add(o)
				if verbose {
					printOutcome(cmd.OutOrStdout(), o)
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 0; i < requests; i++ {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	r := results.report(targetURL, requests, concurrency, time.Since(start))
	printReport(cmd.OutOrStdout(), r)

	if outJSON != "" {
		if err := writeJSON(outJSON, r); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nWrote JSON summary to %s\n", outJSON)
	}

	if r.Errors > 0 {
		os.Exit(2)
	}
	return nil
}

// routeResult is the part of the router's response the load test reads.
type routeResult struct {
	FinalBackend  string `json:"final_backend"`
	FallbacksUsed int    `json:"fallbacks_used"`
	Degraded      bool   `json:"degraded"`
}

func send(ctx context.Context, client *http.Client, url string, body []byte) outcome {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return outcome{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return outcome{Latency: time.Since(start), Err: err}
	}
	defer resp.Body.Close()

	o := outcome{Status: resp.StatusCode, Latency: time.Since(start)}
	if resp.StatusCode == http.StatusOK {
		var res routeResult
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			o.Err = fmt.Errorf("decode response: %w", err)
			return o
		}
		o.Provider = res.FinalBackend
		o.Fallbacks = res.FallbacksUsed
		o.Degraded = res.Degraded
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return o
}

func printOutcome(w io.Writer, o outcome) {
	if o.Err != nil {
		fmt.Fprintf(w, "idx=%d error=%v\n", o.Index, o.Err)
		return
	}
	fmt.Fprintf(w, "idx=%d status=%d provider=%s fallbacks=%d degraded=%t dur=%v\n",
		o.Index, o.Status, o.Provider, o.Fallbacks, o.Degraded, o.Latency)
}

func printReport(w io.Writer, r report) {
	fmt.Fprintln(w, "--- Load Test Summary ---")
	fmt.Fprintf(w, "Target: %s\n", r.Target)
	fmt.Fprintf(w, "Requests: %d  Concurrency: %d\n", r.Requests, r.Concurrency)
	fmt.Fprintf(w, "Served: %d  Degraded: %d  Exhausted: %d  Errors: %d\n", r.Success, r.Degraded, r.Exhausted, r.Errors)
	fmt.Fprintf(w, "Duration: %v  Throughput: %.2f req/s\n", r.Duration, r.Throughput)

	fmt.Fprintln(w, "\nStatus codes:")
	codes := make([]int, 0, len(r.StatusCodes))
	for code := range r.StatusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "  %d -> %d\n", code, r.StatusCodes[code])
	}

	fmt.Fprintln(w, "\nProvider distribution:")
	ids := make([]string, 0, len(r.Providers))
	for id := range r.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		l := r.Providers[id]
		fmt.Fprintf(w, "  %s -> served=%d fallbacks=%d\n", id, r.Served[id], r.Fallbacks[id])
		fmt.Fprintf(w, "    latencies: min=%.1fms avg=%.1fms max=%.1fms p50=%.1fms p95=%.1fms p99=%.1fms\n",
			l.Min, l.Avg, l.Max, l.P50, l.P95, l.P99)
	}

	if r.Overall.Samples > 0 {
		fmt.Fprintln(w, "\nOverall latencies:")
		fmt.Fprintf(w, "  samples=%d min=%.1fms avg=%.1fms max=%.1fms p50=%.1fms p90=%.1fms p95=%.1fms p99=%.1fms\n",
			r.Overall.Samples, r.Overall.Min, r.Overall.Avg, r.Overall.Max,
			r.Overall.P50, r.Overall.P90, r.Overall.P95, r.Overall.P99)
	}
}

func writeJSON(path string, r report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create json file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
