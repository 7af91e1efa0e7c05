// Package compute is the resilient HTTP client for the external
// optimization compute service. It classifies failures as transient or
// permanent, retries transient ones on a fixed escalating schedule, and
// normalizes outcomes into domain errors.
package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/coilworks/optserve/internal/telemetry"
)

// Config holds the compute client configuration. The per-attempt timeout
// and the overall call deadline are independent: a single attempt is cut
// short by AttemptTimeout while the whole Optimize call, retries included,
// is bounded by OverallTimeout (and by the caller's context, whichever is
// shorter).
type Config struct {
	// BaseURL is the compute service address, e.g. "http://compute:9090".
	BaseURL string

	// AttemptTimeout bounds one network attempt. Default 2 minutes: the
	// underlying computation itself may run long.
	AttemptTimeout time.Duration

	// OverallTimeout bounds the whole call including retries. Default 10
	// minutes.
	OverallTimeout time.Duration

	// MaxAttempts is the total number of attempts (first try + retries).
	// Default 4.
	MaxAttempts int

	// HealthTimeout bounds the single CheckHealth probe. Default 5s.
	HealthTimeout time.Duration
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.AttemptTimeout == 0 {
		c.AttemptTimeout = 2 * time.Minute
	}
	if c.OverallTimeout == 0 {
		c.OverallTimeout = 10 * time.Minute
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 4
	}
	if c.HealthTimeout == 0 {
		c.HealthTimeout = 5 * time.Second
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("compute base URL is required")
	}
	return nil
}

// sleepFunc waits for the given duration or until the context is done.
// Injected in tests so the backoff schedule can be asserted without real
// time passing.
type sleepFunc func(ctx context.Context, d time.Duration) error

func realSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Client talks to the compute service. It holds no state between calls
// beyond configuration; retries re-send the identical request payload, so
// idempotency of duplicate submissions is the compute service's
// responsibility.
type Client struct {
	cfg        Config
	httpClient *http.Client
	sleep      sleepFunc
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSleep replaces the inter-attempt delay function. Test hook.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// NewClient creates a compute client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid compute config: %w", err)
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		sleep:      realSleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// newSchedule returns the inter-attempt delay schedule: 1s, 2s, 4s.
// Zero randomization keeps the schedule deterministic for tests.
func newSchedule() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 4 * time.Second
	return b
}

// Optimize submits an optimization request and retries transient failures
// up to the configured attempt budget. It returns the parsed result or a
// classified *Error wrapping ErrUnavailable or ErrRejected.
func (c *Client) Optimize(ctx context.Context, req *OptimizeRequest) (*OptimizeResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{
			Classification: Permanent,
			Attempts:       0,
			Err:            fmt.Errorf("failed to marshal request: %w", err),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.OverallTimeout)
	defer cancel()

	metrics := telemetry.GetMetrics()
	schedule := newSchedule()
	started := time.Now()

	var lastErr *attemptError
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		result, aerr := c.attemptOptimize(ctx, payload)
		if aerr == nil {
			metrics.ComputeCallsTotal.Add(ctx, 1)
			metrics.ComputeCallDuration.Record(ctx, float64(time.Since(started).Milliseconds()))
			log.Debug().
				Int("attempt", attempt).
				Int("iterations", result.Iterations).
				Float64("objective", result.ObjectiveValue).
				Msg("Optimize call succeeded")
			return result, nil
		}

		lastErr = aerr
		metrics.ComputeCallErrorsTotal.Add(ctx, 1)

		if aerr.classification == Permanent {
			log.Warn().
				Err(aerr.err).
				Int("attempt", attempt).
				Int("status", aerr.statusCode).
				Msg("Optimize call failed permanently, not retrying")
			return nil, &Error{
				Classification: Permanent,
				Attempts:       attempt,
				StatusCode:     aerr.statusCode,
				Err:            aerr.err,
			}
		}

		// Transient failure; wait out the schedule unless the budget or
		// the overall deadline is spent.
		if attempt == c.cfg.MaxAttempts {
			break
		}

		delay := schedule.NextBackOff()
		log.Warn().
			Err(aerr.err).
			Int("attempt", attempt).
			Int("status", aerr.statusCode).
			Dur("next_retry", delay).
			Msg("Optimize call failed, will retry")
		metrics.ComputeRetriesTotal.Add(ctx, 1)

		if err := c.sleep(ctx, delay); err != nil {
			// Overall deadline or cancellation during backoff. A timeout
			// here exhausts the budget, which is permanent by policy.
			return nil, &Error{
				Classification: Transient,
				Attempts:       attempt,
				StatusCode:     aerr.statusCode,
				Err:            fmt.Errorf("call abandoned during backoff: %w", err),
			}
		}
	}

	return nil, &Error{
		Classification: Transient,
		Attempts:       c.cfg.MaxAttempts,
		StatusCode:     lastErr.statusCode,
		Err:            lastErr.err,
	}
}

// attemptOptimize performs one network attempt with its own timeout.
func (c *Client) attemptOptimize(ctx context.Context, payload []byte) (*OptimizeResult, *attemptError) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.cfg.BaseURL+"/optimize", bytes.NewReader(payload))
	if err != nil {
		return nil, &attemptError{
			classification: Permanent,
			err:            fmt.Errorf("failed to build request: %w", err),
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Connection failures and per-attempt timeouts are transient;
		// the retry budget turns an exhausted series permanent.
		return nil, &attemptError{
			classification: Transient,
			err:            fmt.Errorf("request failed: %w", err),
		}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &attemptError{
			classification: Transient,
			statusCode:     resp.StatusCode,
			err:            fmt.Errorf("failed to read response: %w", err),
		}
	}

	return classifyResponse(resp.StatusCode, body)
}

// maxResponseBytes caps compute responses; solutions legitimately run to a
// few megabytes of design-variable data.
const maxResponseBytes = 16 * 1024 * 1024

// classifyResponse implements the failure classification policy:
//
//	422 unprocessable          -> permanent
//	429/503 overloaded         -> transient
//	other 5xx                  -> transient
//	unparseable 2xx body       -> permanent
//	anything else non-2xx      -> permanent
func classifyResponse(status int, body []byte) (*OptimizeResult, *attemptError) {
	switch {
	case status >= 200 && status < 300:
		var result OptimizeResult
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, &attemptError{
				classification: Permanent,
				statusCode:     status,
				err:            fmt.Errorf("failed to parse response: %w", err),
			}
		}
		if !result.Success {
			// Shaped like success but flagged as a solver failure;
			// resubmitting the same problem will fail the same way.
			return nil, &attemptError{
				classification: Permanent,
				statusCode:     status,
				err:            fmt.Errorf("compute service reported unsuccessful optimization"),
			}
		}
		return &result, nil

	case status == http.StatusUnprocessableEntity:
		return nil, &attemptError{
			classification: Permanent,
			statusCode:     status,
			err:            fmt.Errorf("compute service rejected request: %s", truncate(body)),
		}

	case status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests:
		return nil, &attemptError{
			classification: Transient,
			statusCode:     status,
			err:            fmt.Errorf("compute service unavailable: %s", truncate(body)),
		}

	case status >= 500:
		return nil, &attemptError{
			classification: Transient,
			statusCode:     status,
			err:            fmt.Errorf("compute service error: %s", truncate(body)),
		}

	default:
		return nil, &attemptError{
			classification: Permanent,
			statusCode:     status,
			err:            fmt.Errorf("unexpected compute response status %d: %s", status, truncate(body)),
		}
	}
}

func truncate(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}

// CheckHealth performs a single best-effort probe of GET /health. It never
// retries and is only an advisory signal; job submission is never gated on
// it.
func (c *Client) CheckHealth(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Debug().Err(err).Msg("Compute health probe failed")
		return false
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// EvaluatePerformance computes the metrics of a single design point via
// POST /api/v1/performance. Single attempt; pre-flight checks are cheap to
// re-run at a higher level.
func (c *Client) EvaluatePerformance(ctx context.Context, req *PerformanceRequest) (*PerformanceResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/v1/performance", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnprocessableEntity {
			return nil, fmt.Errorf("%w: %s", ErrRejected, truncate(body))
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, truncate(body))
	}

	var result PerformanceResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrRejected, err)
	}

	return &result, nil
}
