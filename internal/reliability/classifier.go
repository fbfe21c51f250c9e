// Package reliability classifies upstream failures for retry and metrics.
package reliability

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// Kind is a coarse failure class, used as a metrics label.
type Kind string

const (
	KindNone      Kind = ""
	KindCanceled  Kind = "canceled"
	KindTimeout   Kind = "timeout"
	KindStatus    Kind = "status"
	KindTransport Kind = "error"
)

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

type Verdict struct {
	Kind      Kind
	Status    int
	Retryable bool
}

// Classify inspects err's chain. Cancellation is never retryable; timeouts and
// transport failures are; HTTP statuses follow IsRetryableHTTPStatus.
func Classify(err error) Verdict {
	if err == nil {
		return Verdict{}
	}
	if errors.Is(err, context.Canceled) {
		return Verdict{Kind: KindCanceled}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Verdict{Kind: KindTimeout, Retryable: true}
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatus()
		return Verdict{Kind: KindStatus, Status: code, Retryable: IsRetryableHTTPStatus(code)}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Verdict{Kind: KindTimeout, Retryable: true}
	}
	return Verdict{Kind: KindTransport, Retryable: true}
}

// IsRetryableHTTPStatus reports statuses a completion backend may answer
// differently on a second attempt.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
