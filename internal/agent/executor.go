// Package agent dispatches tasks to the external agent capability and turns
// its free-form text output into structured results. The capability is not
// under this system's control: the executor owns retry/backoff for
// rate-limit responses and the tolerant parsing of whatever text comes back.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pitabwire/floe/internal/config"
	"github.com/pitabwire/floe/internal/observability"
	"github.com/pitabwire/floe/model"
)

// Executor runs one agent task to a parsed result or an executor error.
type Executor interface {
	Run(ctx context.Context, task model.AgentTask) (model.ParsedResult, error)
}

// HTTPExecutor sends task descriptions to the external capability over HTTP.
type HTTPExecutor struct {
	cfg     config.AgentConfig
	client  *http.Client
	breaker *CircuitBreaker
	metrics *observability.Metrics
}

// NewHTTPExecutor creates an executor with a dedicated HTTP client and
// circuit breaker. metrics may be nil.
func NewHTTPExecutor(cfg config.AgentConfig, metrics *observability.Metrics) *HTTPExecutor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	cb := cfg.CircuitBreaker
	return &HTTPExecutor{
		cfg: cfg,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		breaker: NewCircuitBreaker(cb.FailureThreshold, cb.SuccessThreshold, cb.Timeout),
		metrics: metrics,
	}
}

// taskRequest is the wire form of a dispatched task.
type taskRequest struct {
	Description  string `json:"description"`
	ExpectedKey  string `json:"expected_key"`
	AccountID    string `json:"account_id"`
	EngagementID string `json:"engagement_id"`
}

// Run sends the task to the capability, retrying rate-limit responses with
// exponential backoff up to the configured attempt cap. The task deadline
// bounds the whole call, retries included; on expiry the in-flight request
// is cancelled, not abandoned.
func (e *HTTPExecutor) Run(ctx context.Context, task model.AgentTask) (model.ParsedResult, error) {
	start := time.Now()
	result, err := e.run(ctx, task)
	e.metrics.RecordAgentTask(taskOutcome(err), time.Since(start))
	e.metrics.SetAgentCircuitState(float64(e.breaker.State()))

	var envelope *model.ErrorEnvelope
	if errors.As(err, &envelope) && envelope.Code == model.ErrUnparsableOutput {
		e.metrics.RecordAgentParseFailure()
	}
	return result, err
}

func (e *HTTPExecutor) run(ctx context.Context, task model.AgentTask) (model.ParsedResult, error) {
	if !task.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, task.Deadline)
		defer cancel()
	}

	body, err := json.Marshal(taskRequest{
		Description:  task.Description,
		ExpectedKey:  task.ExpectedKey,
		AccountID:    task.Tenant.AccountID,
		EngagementID: task.Tenant.EngagementID,
	})
	if err != nil {
		return model.ParsedResult{}, fmt.Errorf("agent: marshal task: %w", err)
	}

	maxAttempts := e.cfg.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	if e.cfg.Retry.BackoffInitial > 0 {
		bo.InitialInterval = e.cfg.Retry.BackoffInitial
	}
	if e.cfg.Retry.BackoffMultiplier > 1 {
		bo.Multiplier = e.cfg.Retry.BackoffMultiplier
	}
	if e.cfg.Retry.BackoffMax > 0 {
		bo.MaxInterval = e.cfg.Retry.BackoffMax
	}
	bo.Reset()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := bo.NextBackOff()
			e.metrics.RecordAgentRetry()
			slog.Debug("agent: retrying after rate limit",
				"attempt", attempt+1,
				"max", maxAttempts,
				"delay", delay,
			)
			select {
			case <-ctx.Done():
				return model.ParsedResult{}, model.NewTransientError("task deadline expired while waiting to retry")
			case <-time.After(delay):
			}
		}

		raw, status, err := e.post(ctx, body)
		if err != nil {
			return model.ParsedResult{}, err
		}

		if status == http.StatusTooManyRequests {
			// Rate-limit class: retried internally.
			continue
		}
		if status < 200 || status >= 300 {
			return model.ParsedResult{}, model.NewTransientError(
				fmt.Sprintf("agent capability returned status %d", status),
			)
		}

		return ParseOutput(raw, task.ExpectedKey)
	}

	return model.ParsedResult{}, model.NewRateLimitedError(
		fmt.Sprintf("agent capability rate limited after %d attempts", maxAttempts),
	)
}

// post performs one request to the capability. All transport-level failures
// map to TRANSIENT: the caller decides whether to retry at the phase level.
func (e *HTTPExecutor) post(ctx context.Context, body []byte) (raw string, status int, err error) {
	if err := e.breaker.Allow(); err != nil {
		return "", 0, model.NewTransientError("agent capability circuit is open")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("agent: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain, application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		e.breaker.RecordFailure()
		if ctx.Err() != nil {
			return "", 0, model.NewTransientError("agent capability call timed out")
		}
		if isConnectionError(err) {
			return "", 0, model.NewTransientError("agent capability is unreachable")
		}
		return "", 0, fmt.Errorf("agent: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20)) // 10MB limit
	if err != nil {
		e.breaker.RecordFailure()
		return "", 0, fmt.Errorf("agent: read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		e.breaker.RecordFailure()
	} else {
		e.breaker.RecordSuccess()
	}

	return string(respBody), resp.StatusCode, nil
}

// taskOutcome maps an executor error to a bounded metric label. Envelope
// codes are a closed set, so lowercasing them keeps label cardinality fixed.
func taskOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	var envelope *model.ErrorEnvelope
	if errors.As(err, &envelope) {
		return strings.ToLower(envelope.Code)
	}
	return "error"
}

func isConnectionError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
