package retry

import (
	"context"
	"errors"
	"net/http"

	"github.com/angeloszaimis/provider-router/internal/provider"
)

var transientKinds = map[provider.Kind]bool{
	provider.KindTimeout:      true,
	provider.KindNetwork:      true,
	provider.KindRateLimit:    true,
	provider.KindCapacity:     true,
	provider.KindAvailability: true,
}

// IsRetryable reports whether another attempt could plausibly succeed.
// An explicit Retryable mark wins. Status codes come next (5xx and 429 are
// retryable, other 4xx are not), then the transient kinds. Caller
// cancellation and unknown errors are not retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var perr *provider.Error
	if errors.As(err, &perr) {
		if perr.Retryable {
			return true
		}
		switch code := perr.StatusCode; {
		case code == http.StatusTooManyRequests, code >= 500 && code <= 599:
			return true
		case code >= 400 && code <= 499:
			return false
		}
	}

	return transientKinds[provider.Classify(err)]
}
