// Package gateway wraps every call the plugin makes to the upstream
// configuration service with authentication, retries, and error
// classification.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/l0p7/pluginrt/internal/config"
	"github.com/l0p7/pluginrt/internal/credentials"
	"github.com/l0p7/pluginrt/internal/telemetry"
)

const (
	maxResponseBytes = 4 << 20
	maxRetryAfter    = 30 * time.Second
)

// HTTPDoer is the subset of *http.Client the gateway needs.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// CredentialSource supplies the credentials used for each attempt. Reading at
// call time lets a late /v1/init take effect on the next call.
type CredentialSource interface {
	Snapshot() credentials.Credentials
}

// Observer receives gateway call metrics. *metrics.Recorder satisfies it.
type Observer interface {
	ObserveGatewayCall(method, outcome string, duration time.Duration)
	ObserveGatewayRetry(method, reason string)
}

// Options tunes a Client. Zero values fall back to config defaults.
type Options struct {
	HTTPClient HTTPDoer
	Logger     *slog.Logger
	Observer   Observer
	Tracer     trace.Tracer
}

// Client issues authenticated JSON calls against the gateway.
type Client struct {
	baseURL    string
	http       HTTPDoer
	creds      CredentialSource
	maxRetries int
	backoff    config.BackoffConfig
	logger     *slog.Logger
	observer   Observer
	tracer     trace.Tracer
}

// New builds a client for cfg. creds must not be nil.
func New(cfg config.GatewayConfig, creds CredentialSource, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout()}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL(), "/"),
		http:       httpClient,
		creds:      creds,
		maxRetries: maxRetries,
		backoff:    cfg.Backoff,
		logger:     logger.With(slog.String("agent", "gateway")),
		observer:   opts.Observer,
		tracer:     tracer,
	}
}

// BaseURL reports the gateway root the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Call performs method against path, encoding body as JSON when non-nil, and
// returns the raw response body of the first successful attempt. Retryable
// failures are retried up to the configured budget; the final failure is an
// *UpstreamError.
func (c *Client) Call(ctx context.Context, method, path string, body any, query url.Values) ([]byte, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}

	var payload []byte
	if body != nil {
		switch v := body.(type) {
		case []byte:
			payload = v
		case json.RawMessage:
			payload = v
		default:
			encoded, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("gateway: encode %s %s body: %w", method, path, err)
			}
			payload = encoded
		}
	}

	target, err := c.resolve(path, query)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "gateway.call", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		))
	defer span.End()

	start := time.Now()
	attempts := 0
	hint := &retryAfterBackOff{next: c.newBackOff()}
	retryMethod := retryableMethod(method)

	operation := func() ([]byte, error) {
		attempts++
		hint.after = 0

		req, err := http.NewRequestWithContext(ctx, method, target, bodyReader(payload))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("gateway: build request: %w", err))
		}
		if payload != nil {
			snap := payload
			req.GetBody = func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(snap)), nil
			}
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		creds := c.creds.Snapshot()
		req.SetBasicAuth(creds.WorkerID, creds.AuthToken)

		resp, err := c.http.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, backoff.Permanent(ctxErr)
			}
			ue := &UpstreamError{
				Method:    method,
				Path:      path,
				Transport: true,
				Cause:     err,
			}
			ue.StatusMessage = err.Error()
			if !retryMethod || !retryableTransport(err) {
				return nil, backoff.Permanent(ue)
			}
			return nil, ue
		}

		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		closeErr := resp.Body.Close()
		if readErr != nil {
			ue := &UpstreamError{Method: method, Path: path, Transport: true, Cause: readErr, StatusMessage: readErr.Error()}
			if !retryMethod || !retryableTransport(readErr) {
				return nil, backoff.Permanent(ue)
			}
			return nil, ue
		}
		if closeErr != nil {
			c.logger.Debug("gateway response close failed", slog.String("path", path), slog.Any("error", closeErr))
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
			return raw, nil
		}

		ue := newStatusError(method, path, resp, raw)
		if !retryMethod || !retryableStatus(resp.StatusCode) {
			return nil, backoff.Permanent(ue)
		}
		hint.after = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return nil, ue
	}

	notify := func(err error, wait time.Duration) {
		reason := retryReason(err)
		if c.observer != nil {
			c.observer.ObserveGatewayRetry(method, reason)
		}
		c.logger.Warn("gateway call retrying",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("attempt", attempts),
			slog.String("reason", reason),
			slog.Duration("wait", wait),
			slog.Any("error", err),
		)
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(hint),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
		backoff.WithNotify(notify),
	)
	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int("pluginrt.gateway.attempts", attempts))

	if err != nil {
		if ue, ok := AsUpstreamError(err); ok {
			ue.Attempts = attempts
			if ue.StatusCode > 0 {
				span.SetAttributes(attribute.Int("http.response.status_code", ue.StatusCode))
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.observe(method, outcomeFor(err), elapsed)
		c.logger.Debug("gateway call failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("attempts", attempts),
			slog.Duration("latency", elapsed),
			slog.Any("error", err),
		)
		return nil, err
	}

	c.observe(method, "success", elapsed)
	return result, nil
}

func (c *Client) observe(method, outcome string, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveGatewayCall(method, outcome, elapsed)
	}
}

func (c *Client) resolve(path string, query url.Values) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", errors.New("gateway: path required")
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	parsed, err := url.Parse(c.baseURL + trimmed)
	if err != nil {
		return "", fmt.Errorf("gateway: parse url: %w", err)
	}
	if len(query) > 0 {
		values := parsed.Query()
		for key, vals := range query {
			for _, v := range vals {
				values.Add(key, v)
			}
		}
		parsed.RawQuery = values.Encode()
	}
	return parsed.String(), nil
}

func (c *Client) newBackOff() backoff.BackOff {
	if c.backoff.InitialMillis <= 0 {
		return &backoff.ZeroBackOff{}
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = time.Duration(c.backoff.InitialMillis) * time.Millisecond
	if c.backoff.MaxMillis > 0 {
		exp.MaxInterval = time.Duration(c.backoff.MaxMillis) * time.Millisecond
	}
	return exp
}

func bodyReader(payload []byte) io.Reader {
	if payload == nil {
		return nil
	}
	return bytes.NewReader(payload)
}

// retryAfterBackOff prefers the server's Retry-After hint for the attempt that
// produced it and otherwise defers to the exponential policy.
type retryAfterBackOff struct {
	next  backoff.BackOff
	after time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	computed := b.next.NextBackOff()
	if b.after > 0 {
		return b.after
	}
	return computed
}

func (b *retryAfterBackOff) Reset() {
	b.after = 0
	b.next.Reset()
}

// parseRetryAfter accepts delta-seconds or an HTTP date and caps the result.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	var wait time.Duration
	if secs, err := strconv.Atoi(value); err == nil {
		wait = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(value); err == nil {
		wait = at.Sub(now)
	}
	if wait <= 0 {
		return 0
	}
	if wait > maxRetryAfter {
		return maxRetryAfter
	}
	return wait
}

func retryReason(err error) string {
	ue, ok := AsUpstreamError(err)
	if !ok {
		return "unknown"
	}
	if ue.Transport {
		if reason := transportReason(ue.Cause); reason != "" {
			return reason
		}
		return "transport"
	}
	return "status_" + strconv.Itoa(ue.StatusCode)
}

func outcomeFor(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if _, ok := AsUpstreamError(err); !ok {
			return "canceled"
		}
	}
	ue, ok := AsUpstreamError(err)
	if !ok {
		return "error"
	}
	if ue.Transport {
		return "transport_error"
	}
	if ue.StatusCode >= 500 {
		return "server_error"
	}
	return "client_error"
}
