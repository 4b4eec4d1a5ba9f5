package fallback

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/angeloszaimis/provider-router/internal/provider"
)

const (
	degradedProvider = "degraded"
	degradedFinish   = "degraded"
)

func bestEffortResponse() *provider.Response {
	return &provider.Response{
		Content:      "The service is temporarily unable to answer this request. Please try again in a moment.",
		Provider:     degradedProvider,
		FinishReason: degradedFinish,
	}
}

var remediation = map[provider.Kind]string{
	provider.KindTimeout:      "Retry with a shorter prompt or a smaller max_tokens value.",
	provider.KindRateLimit:    "Wait a few seconds before retrying; providers are rate limiting.",
	provider.KindAuth:         "Check the credentials configured for the failing providers.",
	provider.KindAvailability: "Check the provider status pages; the service reported itself unavailable.",
	provider.KindCapacity:     "Retry later; providers are at capacity.",
	provider.KindNetwork:      "Check network connectivity to the providers.",
}

// gracefulResponse explains which providers were tried and what the caller
// can do about it.
func gracefulResponse(req *provider.Request, attempts []AttemptRecord, recovery time.Duration) *provider.Response {
	var b strings.Builder

	if len(attempts) == 0 {
		b.WriteString("No healthy providers are available to handle this request right now.\n")
		b.WriteString("\nSuggestions:\n- Retry shortly; providers are re-checked periodically.\n")
		return degradedResponse(b.String())
	}

	fmt.Fprintf(&b, "All %d attempted providers failed to answer this request.\n\nTried:\n", len(attempts))

	seen := make(map[provider.Kind]bool)
	kinds := make([]provider.Kind, 0, len(attempts))
	for _, a := range attempts {
		kind := provider.KindUnknown
		if a.Error != nil {
			kind = a.Error.Kind
		}
		fmt.Fprintf(&b, "- %s: %s\n", a.Backend, kind)
		if !seen[kind] {
			seen[kind] = true
			kinds = append(kinds, kind)
		}
	}

	b.WriteString("\nSuggestions:\n")
	for _, kind := range kinds {
		switch {
		case kind == provider.KindCircuitOpen && recovery > 0:
			fmt.Fprintf(&b, "- Some providers are cooling down after repeated failures; retry in about %s.\n", recovery)
		case kind == provider.KindCircuitOpen:
			b.WriteString("- Some providers are cooling down after repeated failures; retry shortly.\n")
		case remediation[kind] != "":
			fmt.Fprintf(&b, "- %s\n", remediation[kind])
		}
	}
	if req != nil && req.Prompt != "" {
		b.WriteString("- Your request was not processed and can be resent unchanged.\n")
	}

	return degradedResponse(b.String())
}

func degradedResponse(content string) *provider.Response {
	return &provider.Response{
		Content:      content,
		Provider:     degradedProvider,
		FinishReason: degradedFinish,
	}
}

// staticStream yields one chunk holding a whole response.
type staticStream struct {
	mutex sync.Mutex
	chunk provider.Chunk
	sent  bool
}

func newStaticStream(resp *provider.Response) *staticStream {
	usage := resp.Usage
	return &staticStream{
		chunk: provider.Chunk{Content: resp.Content, Done: true, Usage: &usage},
	}
}

func (s *staticStream) Recv() (provider.Chunk, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.sent {
		return provider.Chunk{}, io.EOF
	}
	s.sent = true
	return s.chunk, nil
}

func (s *staticStream) Close() error {
	s.mutex.Lock()
	s.sent = true
	s.mutex.Unlock()
	return nil
}
