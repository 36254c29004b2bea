package probe

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// Failure codes recorded on a FailureCause.
const (
	CodeTimeout           = "timeout"
	CodeCanceled          = "canceled"
	CodeConnectionRefused = "connection_refused"
	CodeDNS               = "dns"
	CodeTransport         = "transport"
	CodeBadStatus         = "bad_status"
	CodeBadBody           = "bad_body"
	CodeDegraded          = "degraded"
	CodeUnknown           = "unknown"
)

const maxLoggedBody = 256

// FailureCause describes a failed backend call. It is built where the call
// fails and is never modified afterwards. Zero-valued fields were not
// available at the point of failure.
type FailureCause struct {
	Reason     string
	Code       string
	URL        string
	HTTPStatus int
	Body       string
}

// Error returns the reason, so a FailureCause can travel as an error.
func (c *FailureCause) Error() string {
	return c.Reason
}

// LogAttrs returns the diagnostic fields as slog key/value pairs.
func (c *FailureCause) LogAttrs() []any {
	body := c.Body
	if len(body) > maxLoggedBody {
		body = body[:maxLoggedBody] + "..."
	}
	return []any{
		"error", c.Reason,
		"code", c.Code,
		"url", c.URL,
		"http_status", c.HTTPStatus,
		"body", body,
	}
}

// transportFailure wraps an error returned by the HTTP client. The reason is
// the client's own error text.
func transportFailure(target string, err error) *FailureCause {
	return &FailureCause{
		Reason: err.Error(),
		Code:   classify(err),
		URL:    target,
	}
}

func classify(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return CodeCanceled
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CodeDNS
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return CodeConnectionRefused
	}
	return CodeTransport
}
