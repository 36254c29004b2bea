// Package probe performs the two backend calls of an activation: the health
// probe and the message fetch. Each call is a single bounded attempt.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazz-dev/gatecheck/internal/config"
)

// Backend API paths.
const (
	HealthPath  = "/api/health"
	MessagePath = "/api/message"
)

// HealthyState is the only declared state that counts as healthy.
const HealthyState = "healthy"

const maxBodyBytes = 64 << 10

// healthBody is the schema of the health endpoint's response.
type healthBody struct {
	Status *string `json:"status"`
}

// messageBody is the schema of the message endpoint's response.
type messageBody struct {
	Message *string `json:"message"`
}

// Client issues probe and message calls against a backend.
type Client struct {
	client *http.Client
	logger *slog.Logger
}

// New creates a Client. Pass nil logger to use the default logger.
func New(logger *slog.Logger) *Client {
	return NewWithHTTPClient(&http.Client{}, logger)
}

// NewWithHTTPClient creates a Client around a custom *http.Client.
// Timeouts are applied per call from the endpoint, not from hc.
func NewWithHTTPClient(hc *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{client: hc, logger: logger}
}

// Probe checks the backend's health endpoint.
func (c *Client) Probe(ctx context.Context, ep config.Endpoint) HealthResult {
	start := time.Now()
	result := HealthResult{CheckedAt: start}

	body, status, cause := c.get(ctx, ep, HealthPath)
	result.ResponseTime = time.Since(start)
	result.HTTPStatus = status
	if cause == nil {
		var hb healthBody
		if err := json.Unmarshal(body, &hb); err != nil {
			cause = &FailureCause{
				Reason:     fmt.Sprintf("decoding health response: %v", err),
				Code:       CodeBadBody,
				URL:        ep.URL(HealthPath),
				HTTPStatus: status,
				Body:       string(body),
			}
		} else {
			if hb.Status != nil {
				result.DeclaredState = *hb.Status
			}
			if result.DeclaredState == HealthyState {
				result.Kind = Healthy
			} else {
				result.Kind = Degraded
			}
		}
	}

	if cause != nil {
		result.Kind = Unreachable
		result.Cause = cause
		c.logger.Warn("health probe failed", append(cause.LogAttrs(), "response_time", result.ResponseTime)...)
		return result
	}

	c.logger.Info("health probe",
		"url", ep.URL(HealthPath),
		"http_status", status,
		"declared_state", result.DeclaredState,
		"response_time", result.ResponseTime,
	)
	return result
}

// FetchMessage retrieves the backend's message.
func (c *Client) FetchMessage(ctx context.Context, ep config.Endpoint) ContentResult {
	start := time.Now()
	result := ContentResult{CheckedAt: start}

	body, status, cause := c.get(ctx, ep, MessagePath)
	result.ResponseTime = time.Since(start)
	result.HTTPStatus = status
	if cause == nil {
		var mb messageBody
		err := json.Unmarshal(body, &mb)
		switch {
		case err != nil:
			cause = &FailureCause{
				Reason: fmt.Sprintf("decoding message response: %v", err),
			}
		case mb.Message == nil:
			cause = &FailureCause{
				Reason: `message response missing "message" field`,
			}
		default:
			result.Message = *mb.Message
		}
		if cause != nil {
			cause.Code = CodeBadBody
			cause.URL = ep.URL(MessagePath)
			cause.HTTPStatus = status
			cause.Body = string(body)
		}
	}

	if cause != nil {
		result.Kind = Undelivered
		result.Cause = cause
		c.logger.Warn("message fetch failed", append(cause.LogAttrs(), "response_time", result.ResponseTime)...)
		return result
	}

	result.Kind = Delivered
	c.logger.Info("message fetch",
		"url", ep.URL(MessagePath),
		"http_status", status,
		"response_time", result.ResponseTime,
	)
	return result
}

// get performs one bounded GET and returns the body of a 2xx response.
// Any other outcome is reported as a FailureCause.
func (c *Client) get(ctx context.Context, ep config.Endpoint, path string) ([]byte, int, *FailureCause) {
	target := ep.URL(path)
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, &FailureCause{
			Reason: fmt.Sprintf("creating request: %v", err),
			Code:   CodeTransport,
			URL:    target,
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, transportFailure(target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		cause := transportFailure(target, err)
		cause.HTTPStatus = resp.StatusCode
		return nil, resp.StatusCode, cause
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, resp.StatusCode, &FailureCause{
			Reason:     fmt.Sprintf("request failed with status code %d", resp.StatusCode),
			Code:       CodeBadStatus,
			URL:        target,
			HTTPStatus: resp.StatusCode,
			Body:       string(body),
		}
	}
	return body, resp.StatusCode, nil
}
