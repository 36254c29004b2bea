// Package orchestrator runs the health-gated fetch sequence and owns the
// status/message state shown to the user.
//
// An activation sets the state to its sentinel values, probes the backend,
// and only when the probe reports "healthy" fetches the message. Every
// failure ends the activation with a failure state. Activations are
// numbered; only the most recent one may write the state.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hazz-dev/gatecheck/internal/config"
	"github.com/hazz-dev/gatecheck/internal/probe"
)

// Backend performs the two calls of an activation.
type Backend interface {
	Probe(ctx context.Context, ep config.Endpoint) probe.HealthResult
	FetchMessage(ctx context.Context, ep config.Endpoint) probe.ContentResult
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. A nil logger keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the Prometheus metrics. Nil disables metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithDegradedPolicy sets what happens when the backend declares a state
// other than "healthy". The default is config.DegradedIgnore.
func WithDegradedPolicy(p config.DegradedPolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// Orchestrator runs activations and holds the latest published state.
type Orchestrator struct {
	backend      Backend
	policy       config.DegradedPolicy
	logger       *slog.Logger
	metrics      *Metrics
	onTransition func(Transition)

	latest atomic.Uint64

	mu    sync.RWMutex
	state State
	last  *Activation
}

// New creates an Orchestrator whose state starts at the sentinel values.
func New(backend Backend, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend: backend,
		policy:  config.DegradedIgnore,
		logger:  slog.Default(),
		state:   Initial(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetOnTransition sets the callback invoked after each accepted state write.
// It must be set before the first Run.
func (o *Orchestrator) SetOnTransition(fn func(Transition)) {
	o.onTransition = fn
}

// State returns a snapshot of the current state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Last returns the most recent activation that settled without going stale.
func (o *Orchestrator) Last() (Activation, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil {
		return Activation{}, false
	}
	return *o.last, true
}

// Run performs one activation against ep and returns its summary. It never
// fails: every error becomes part of the returned state.
func (o *Orchestrator) Run(ctx context.Context, ep config.Endpoint) Activation {
	defer o.metrics.trackInFlight()()

	act := &Activation{
		ID:        uuid.New(),
		Token:     o.latest.Add(1),
		BaseURL:   ep.BaseURL,
		StartedAt: time.Now(),
	}
	o.logger.Info("activation started", "activation", act.ID, "token", act.Token, "url", ep.BaseURL)

	if !o.write(act, StageStarted, Initial()) {
		return o.discard(act)
	}

	health := o.backend.Probe(ctx, ep)
	o.observe("probe", health.Kind != probe.Unreachable, health.Cause, health.ResponseTime)
	act.DeclaredState = health.DeclaredState

	switch health.Kind {
	case probe.Unreachable:
		return o.settle(act, OutcomeFailed, health.Cause)
	case probe.Degraded:
		switch o.policy {
		case config.DegradedFail:
			return o.settle(act, OutcomeFailed, &probe.FailureCause{
				Reason:     fmt.Sprintf("backend reported status %q", health.DeclaredState),
				Code:       probe.CodeDegraded,
				URL:        ep.URL(probe.HealthPath),
				HTTPStatus: health.HTTPStatus,
			})
		case config.DegradedPass:
			o.logger.Warn("backend not healthy, continuing per policy",
				"activation", act.ID, "declared_state", health.DeclaredState)
		default:
			o.logger.Warn("backend not healthy, leaving state unchanged",
				"activation", act.ID, "declared_state", health.DeclaredState)
			return o.settle(act, OutcomeDegraded, nil)
		}
	}

	if !o.write(act, StageConnected, State{Status: StatusConnected, Message: MessageLoading}) {
		return o.discard(act)
	}

	content := o.backend.FetchMessage(ctx, ep)
	o.observe("message", content.Kind == probe.Delivered, content.Cause, content.ResponseTime)
	if content.Kind != probe.Delivered {
		return o.settle(act, OutcomeFailed, content.Cause)
	}
	act.State = State{Status: StatusConnected, Message: content.Message}
	return o.settle(act, OutcomeConnected, nil)
}

// settle makes the terminal write for act. For OutcomeConnected act.State
// must already hold the final state.
func (o *Orchestrator) settle(act *Activation, outcome Outcome, cause *probe.FailureCause) Activation {
	if outcome == OutcomeFailed && cause == nil {
		cause = &probe.FailureCause{Reason: "unknown failure", Code: probe.CodeUnknown, URL: act.BaseURL}
	}
	act.Outcome = outcome
	act.Cause = cause
	switch outcome {
	case OutcomeFailed:
		act.State = Failed(cause)
	case OutcomeDegraded:
		act.State = o.State()
	}
	act.FinishedAt = time.Now()

	if !o.write(act, StageSettled, act.State) {
		return o.discard(act)
	}
	o.metrics.incActivation(outcome)

	attrs := []any{
		"activation", act.ID,
		"outcome", outcome,
		"status", act.State.Status,
		"duration", act.Duration(),
	}
	if cause != nil {
		attrs = append(attrs, "code", cause.Code, "http_status", cause.HTTPStatus)
	}
	o.logger.Info("activation finished", attrs...)
	return *act
}

// write publishes s if act is still the latest activation.
func (o *Orchestrator) write(act *Activation, stage Stage, s State) bool {
	o.mu.Lock()
	if act.Token != o.latest.Load() {
		o.mu.Unlock()
		return false
	}
	o.state = s
	if stage == StageSettled {
		snapshot := *act
		o.last = &snapshot
	}
	o.mu.Unlock()

	if o.onTransition != nil {
		o.onTransition(Transition{
			ActivationID: act.ID,
			Token:        act.Token,
			Stage:        stage,
			State:        s,
			At:           time.Now(),
		})
	}
	return true
}

func (o *Orchestrator) discard(act *Activation) Activation {
	act.Stale = true
	if act.FinishedAt.IsZero() {
		act.FinishedAt = time.Now()
	}
	o.metrics.incStale()
	o.logger.Warn("discarding stale activation", "activation", act.ID, "token", act.Token)
	return *act
}

func (o *Orchestrator) observe(call string, ok bool, cause *probe.FailureCause, d time.Duration) {
	if ok {
		o.metrics.observeCall(call, "ok", d)
		return
	}
	code := probe.CodeUnknown
	if cause != nil {
		code = cause.Code
	}
	o.metrics.observeCall(call, "error", d)
	o.metrics.incFailure(call, code)
}
