package alert

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hazz-dev/gatecheck/internal/orchestrator"
)

// Alerter sends webhook notifications when a backend flips between connected
// and failed. Degraded activations never alert and do not reset the flip.
type Alerter struct {
	webhookURL  string
	cooldown    time.Duration
	client      *http.Client
	lastAlert   map[string]time.Time
	lastOutcome map[string]orchestrator.Outcome
	mu          sync.Mutex
	inflight    sync.WaitGroup
	logger      *slog.Logger
}

// New creates a new Alerter. Pass nil logger to use the default logger.
func New(webhookURL string, cooldown time.Duration, logger *slog.Logger) *Alerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Alerter{
		webhookURL:  webhookURL,
		cooldown:    cooldown,
		client:      &http.Client{Timeout: 10 * time.Second},
		lastAlert:   make(map[string]time.Time),
		lastOutcome: make(map[string]orchestrator.Outcome),
		logger:      logger,
	}
}

type webhookPayload struct {
	ActivationID    string `json:"activation_id"`
	Backend         string `json:"backend"`
	Outcome         string `json:"outcome"`
	PreviousOutcome string `json:"previous_outcome"`
	Status          string `json:"status"`
	Message         string `json:"message"`
	ErrorCode       string `json:"error_code,omitempty"`
	HTTPStatus      int    `json:"http_status,omitempty"`
	DurationMs      int64  `json:"duration_ms"`
	StartedAt       string `json:"started_at"`
	Source          string `json:"source"`
}

// Notify sends a webhook if the backend flipped between connected and failed
// and the cooldown for the backend has elapsed. previous seeds the comparison
// when the alerter has not yet seen a decisive outcome for the backend.
func (a *Alerter) Notify(act orchestrator.Activation, previous *orchestrator.Outcome) {
	if !decisive(act.Outcome) {
		return
	}

	a.mu.Lock()
	prev, seen := a.lastOutcome[act.BaseURL]
	if !seen && previous != nil && decisive(*previous) {
		prev, seen = *previous, true
	}
	a.lastOutcome[act.BaseURL] = act.Outcome

	// No decisive outcome before this one.
	if !seen || prev == act.Outcome {
		a.mu.Unlock()
		return
	}

	last, exists := a.lastAlert[act.BaseURL]
	if exists && time.Since(last) < a.cooldown {
		a.mu.Unlock()
		a.logger.Info("alert suppressed by cooldown", "backend", act.BaseURL)
		return
	}
	a.lastAlert[act.BaseURL] = time.Now()
	a.mu.Unlock()

	// Send asynchronously so Notify doesn't block the activation.
	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		a.send(act, string(prev))
	}()
}

func decisive(o orchestrator.Outcome) bool {
	return o == orchestrator.OutcomeConnected || o == orchestrator.OutcomeFailed
}

// Wait blocks until all pending webhooks have been sent.
func (a *Alerter) Wait() {
	a.inflight.Wait()
}

func (a *Alerter) send(act orchestrator.Activation, prevOutcome string) {
	payload := webhookPayload{
		ActivationID:    act.ID.String(),
		Backend:         act.BaseURL,
		Outcome:         string(act.Outcome),
		PreviousOutcome: prevOutcome,
		Status:          act.State.Status,
		Message:         act.State.Message,
		DurationMs:      act.Duration().Milliseconds(),
		StartedAt:       act.StartedAt.UTC().Format(time.RFC3339),
		Source:          "gatecheck",
	}
	if act.Cause != nil {
		payload.ErrorCode = act.Cause.Code
		payload.HTTPStatus = act.Cause.HTTPStatus
	}

	body, err := json.Marshal(payload)
	if err != nil {
		a.logger.Error("marshaling webhook payload", "activation", act.ID, "error", err)
		return
	}

	resp, err := a.client.Post(a.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		a.logger.Error("sending webhook", "activation", act.ID, "url", a.webhookURL, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		a.logger.Warn("webhook returned non-2xx status",
			"activation", act.ID,
			"status", resp.StatusCode,
		)
	}
}
