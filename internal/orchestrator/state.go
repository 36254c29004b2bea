package orchestrator

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hazz-dev/gatecheck/internal/probe"
)

// User-visible status and message strings.
const (
	StatusConnecting   = "Connecting..."
	StatusConnected    = "Backend is connected!"
	StatusFailedPrefix = "Backend connection failed: "

	MessageLoading = "Loading..."
	MessageFailed  = "Failed to connect to the backend"
)

// State is the pair of strings the UI renders. It is always handled by value.
type State struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Initial returns the sentinel state every activation starts from.
func Initial() State {
	return State{Status: StatusConnecting, Message: MessageLoading}
}

// Failed returns the terminal state for a failed call.
func Failed(cause *probe.FailureCause) State {
	return State{Status: StatusFailedPrefix + cause.Reason, Message: MessageFailed}
}

// Connected reports whether the status should render as a success.
func (s State) Connected() bool {
	return strings.Contains(s.Status, "connected")
}

// Outcome is how an activation ended.
type Outcome string

const (
	OutcomeConnected Outcome = "connected"
	OutcomeFailed    Outcome = "failed"
	// OutcomeDegraded is recorded when the backend declared a state other
	// than "healthy" and the policy left the state untouched.
	OutcomeDegraded Outcome = "degraded"
)

// Stage names a state write within an activation.
type Stage string

const (
	StageStarted   Stage = "started"
	StageConnected Stage = "connected"
	StageSettled   Stage = "settled"
)

// Transition is emitted for every accepted state write.
type Transition struct {
	ActivationID uuid.UUID
	Token        uint64
	Stage        Stage
	State        State
	At           time.Time
}

// Activation summarises one run of the health-gated fetch sequence.
type Activation struct {
	ID            uuid.UUID
	Token         uint64
	BaseURL       string
	Outcome       Outcome
	State         State
	DeclaredState string
	Cause         *probe.FailureCause
	StartedAt     time.Time
	FinishedAt    time.Time
	// Stale is set when a newer activation started before this one settled.
	// A stale activation's State was never published.
	Stale bool
}

// Duration is the wall time of the activation.
func (a Activation) Duration() time.Duration {
	return a.FinishedAt.Sub(a.StartedAt)
}
