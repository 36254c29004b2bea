package alert_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hazz-dev/gatecheck/internal/alert"
	"github.com/hazz-dev/gatecheck/internal/orchestrator"
	"github.com/hazz-dev/gatecheck/internal/probe"
)

func outcomePtr(o orchestrator.Outcome) *orchestrator.Outcome {
	return &o
}

func makeActivation(backend string, outcome orchestrator.Outcome) orchestrator.Activation {
	now := time.Now().UTC()
	return orchestrator.Activation{
		ID:         uuid.New(),
		BaseURL:    backend,
		Outcome:    outcome,
		State:      orchestrator.State{Status: orchestrator.StatusConnected, Message: "hello"},
		StartedAt:  now,
		FinishedAt: now.Add(10 * time.Millisecond),
	}
}

func countingServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var callCount int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&callCount, 1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &callCount
}

func TestAlerter_ConnectedToFailed(t *testing.T) {
	srv, calls := countingServer(t)

	a := alert.New(srv.URL, time.Hour, nil)
	a.Notify(makeActivation("http://backend:5000", orchestrator.OutcomeFailed), outcomePtr(orchestrator.OutcomeConnected))
	a.Wait()

	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("expected 1 webhook call for connected→failed, got %d", atomic.LoadInt32(calls))
	}
}

func TestAlerter_FailedToConnected(t *testing.T) {
	srv, calls := countingServer(t)

	a := alert.New(srv.URL, time.Hour, nil)
	a.Notify(makeActivation("http://backend:5000", orchestrator.OutcomeConnected), outcomePtr(orchestrator.OutcomeFailed))
	a.Wait()

	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("expected 1 webhook call for failed→connected, got %d", atomic.LoadInt32(calls))
	}
}

func TestAlerter_SameOutcome_NoWebhook(t *testing.T) {
	srv, calls := countingServer(t)

	a := alert.New(srv.URL, time.Hour, nil)
	a.Notify(makeActivation("http://one:5000", orchestrator.OutcomeConnected), outcomePtr(orchestrator.OutcomeConnected))
	a.Notify(makeActivation("http://two:5000", orchestrator.OutcomeFailed), outcomePtr(orchestrator.OutcomeFailed))
	a.Wait()

	if atomic.LoadInt32(calls) != 0 {
		t.Errorf("expected 0 webhook calls for same outcome, got %d", atomic.LoadInt32(calls))
	}
}

func TestAlerter_DegradedTransitions_NoWebhook(t *testing.T) {
	srv, calls := countingServer(t)

	a := alert.New(srv.URL, 0, nil)
	a.Notify(makeActivation("http://one:5000", orchestrator.OutcomeDegraded), outcomePtr(orchestrator.OutcomeConnected))
	a.Notify(makeActivation("http://two:5000", orchestrator.OutcomeConnected), outcomePtr(orchestrator.OutcomeDegraded))
	a.Wait()

	if atomic.LoadInt32(calls) != 0 {
		t.Errorf("expected 0 webhook calls for degraded transitions, got %d", atomic.LoadInt32(calls))
	}
}

func TestAlerter_FlipAcrossDegraded(t *testing.T) {
	srv, calls := countingServer(t)

	a := alert.New(srv.URL, 0, nil)
	a.Notify(makeActivation("http://backend:5000", orchestrator.OutcomeConnected), outcomePtr(orchestrator.OutcomeConnected))
	a.Notify(makeActivation("http://backend:5000", orchestrator.OutcomeDegraded), outcomePtr(orchestrator.OutcomeConnected))
	a.Notify(makeActivation("http://backend:5000", orchestrator.OutcomeFailed), outcomePtr(orchestrator.OutcomeDegraded))
	a.Wait()

	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("expected 1 webhook call for connected→degraded→failed, got %d", atomic.LoadInt32(calls))
	}
}

func TestAlerter_FirstActivation_NoWebhook(t *testing.T) {
	srv, calls := countingServer(t)

	a := alert.New(srv.URL, time.Hour, nil)
	a.Notify(makeActivation("http://backend:5000", orchestrator.OutcomeFailed), nil)
	a.Wait()

	if atomic.LoadInt32(calls) != 0 {
		t.Errorf("expected 0 webhook calls for first activation, got %d", atomic.LoadInt32(calls))
	}
}

func TestAlerter_Cooldown_SuppressesAlerts(t *testing.T) {
	srv, calls := countingServer(t)

	a := alert.New(srv.URL, time.Hour, nil)
	a.Notify(makeActivation("http://backend:5000", orchestrator.OutcomeFailed), outcomePtr(orchestrator.OutcomeConnected))
	a.Notify(makeActivation("http://backend:5000", orchestrator.OutcomeConnected), outcomePtr(orchestrator.OutcomeFailed))
	a.Wait()

	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("expected 1 webhook call (cooldown suppressed second), got %d", atomic.LoadInt32(calls))
	}
}

func TestAlerter_Cooldown_PerBackend(t *testing.T) {
	srv, calls := countingServer(t)

	a := alert.New(srv.URL, time.Hour, nil)
	a.Notify(makeActivation("http://one:5000", orchestrator.OutcomeFailed), outcomePtr(orchestrator.OutcomeConnected))
	a.Notify(makeActivation("http://two:5000", orchestrator.OutcomeFailed), outcomePtr(orchestrator.OutcomeConnected))
	a.Wait()

	if atomic.LoadInt32(calls) != 2 {
		t.Errorf("expected 2 webhook calls (one per backend), got %d", atomic.LoadInt32(calls))
	}
}

func TestAlerter_WebhookPayload(t *testing.T) {
	payloads := make(chan map[string]interface{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]interface{}
		json.Unmarshal(body, &payload)
		payloads <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	act := makeActivation("http://backend:5000", orchestrator.OutcomeFailed)
	act.Cause = &probe.FailureCause{Reason: "request failed with status code 502", Code: probe.CodeBadStatus, HTTPStatus: 502}
	act.State = orchestrator.Failed(act.Cause)

	a := alert.New(srv.URL, time.Hour, nil)
	a.Notify(act, outcomePtr(orchestrator.OutcomeConnected))
	a.Wait()

	var payload map[string]interface{}
	select {
	case payload = <-payloads:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not called")
	}

	if payload["backend"] != "http://backend:5000" {
		t.Errorf("expected backend url, got %v", payload["backend"])
	}
	if payload["outcome"] != "failed" {
		t.Errorf("expected outcome 'failed', got %v", payload["outcome"])
	}
	if payload["previous_outcome"] != "connected" {
		t.Errorf("expected previous_outcome 'connected', got %v", payload["previous_outcome"])
	}
	if payload["status"] != "Backend connection failed: request failed with status code 502" {
		t.Errorf("unexpected status %v", payload["status"])
	}
	if payload["error_code"] != "bad_status" {
		t.Errorf("expected error_code 'bad_status', got %v", payload["error_code"])
	}
	if payload["http_status"] != float64(502) {
		t.Errorf("expected http_status 502, got %v", payload["http_status"])
	}
	if payload["activation_id"] != act.ID.String() {
		t.Errorf("expected activation_id %s, got %v", act.ID, payload["activation_id"])
	}
	if payload["source"] != "gatecheck" {
		t.Errorf("expected source 'gatecheck', got %v", payload["source"])
	}
}

func TestAlerter_HTTPError_DoesNotCrash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := alert.New(srv.URL, time.Hour, nil)
	// Should not panic even on HTTP error
	a.Notify(makeActivation("http://backend:5000", orchestrator.OutcomeFailed), outcomePtr(orchestrator.OutcomeConnected))
	a.Wait()
}
