package probe

import "time"

// HealthKind tags the outcome of a health probe.
type HealthKind string

const (
	// Healthy means the backend answered with the declared state "healthy".
	Healthy HealthKind = "healthy"
	// Degraded means the backend answered, but declared some other state.
	Degraded HealthKind = "degraded"
	// Unreachable means the call failed; Cause says why.
	Unreachable HealthKind = "unreachable"
)

// HealthResult is the outcome of a single health probe.
type HealthResult struct {
	Kind          HealthKind
	DeclaredState string
	Cause         *FailureCause
	HTTPStatus    int
	ResponseTime  time.Duration
	CheckedAt     time.Time
}

// ContentKind tags the outcome of a message fetch.
type ContentKind string

const (
	Delivered   ContentKind = "delivered"
	Undelivered ContentKind = "unreachable"
)

// ContentResult is the outcome of a single message fetch.
type ContentResult struct {
	Kind         ContentKind
	Message      string
	Cause        *FailureCause
	HTTPStatus   int
	ResponseTime time.Duration
	CheckedAt    time.Time
}
