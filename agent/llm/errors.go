package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
)

var errEmptyCompletion = fmt.Errorf("%w: empty completion", contractx.ErrSchemaViolation)

// StatusError carries the HTTP status returned by the model provider.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("model provider status=%d", e.StatusCode)
	}
	return fmt.Sprintf("model provider status=%d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// classify maps a failed attempt to an error kind and whether it may be retried.
// parent is the invocation context; a per-attempt deadline only counts as Timeout
// while the parent is still live.
func classify(parent context.Context, err error) (contractx.ErrorKind, bool) {
	if err == nil {
		return "", false
	}
	if parent.Err() != nil {
		if errors.Is(parent.Err(), context.DeadlineExceeded) {
			return contractx.KindTimeout, false
		}
		return contractx.KindModelError, false
	}
	if errors.Is(err, context.Canceled) {
		return contractx.KindModelError, false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return contractx.KindTimeout, true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return contractx.KindRateLimited, true
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusGatewayTimeout:
			return contractx.KindTimeout, true
		case statusErr.StatusCode >= http.StatusInternalServerError:
			return contractx.KindModelError, true
		default:
			return contractx.KindModelError, false
		}
	}

	if errors.Is(err, contractx.ErrSchemaViolation) {
		return contractx.KindInvalidResponse, false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return contractx.KindTimeout, true
		}
		return contractx.KindModelError, true
	}

	// No status available: treat as a transport failure.
	return contractx.KindModelError, true
}
