package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/damacus/iron-objects/internal/sigv4"
)

// HTTPDoer is the transport seam. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DoerFunc adapts a function to HTTPDoer.
type DoerFunc func(req *http.Request) (*http.Response, error)

func (f DoerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

// MetricsRecorder receives per-operation and per-attempt measurements.
type MetricsRecorder interface {
	ObserveOperation(op, outcome string, d time.Duration)
	ObserveRetry(op string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveOperation(string, string, time.Duration) {}
func (nopMetrics) ObserveRetry(string)                            {}

// RetryPolicy bounds automatic retries. Only network failures and 5xx
// responses are retried, and each attempt is signed afresh.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NoRetry sends every request once.
var NoRetry = RetryPolicy{MaxAttempts: 1}

// DefaultRetryPolicy returns the backoff used when retries are enabled.
func DefaultRetryPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// backoff returns the wait before attempt n (n >= 1).
func (p RetryPolicy) backoff(n int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < n; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// exchange describes one logical S3 request.
type exchange struct {
	op          string
	method      string
	key         string
	query       map[string]string
	body        []byte
	payloadHash string
	header      http.Header
}

// response is a fully read S3 response.
type response struct {
	status int
	header http.Header
	body   []byte
}

func (r response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// send signs and issues ex, retrying per the client's policy. Transport
// failures come back as ErrNetwork; any HTTP status is returned as-is.
func (c *Client) send(ctx context.Context, snap snapshot, ex exchange) (response, error) {
	defer clear(snap.secret)

	attempts := c.retry.attempts()
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			c.metrics.ObserveRetry(ex.op)
			delay := c.retry.backoff(attempt - 1)
			c.logger.Warn().Str("op", ex.op).Int("attempt", attempt).Dur("delay", delay).Err(last).Msg("retrying request")
			if err := sleepCtx(ctx, delay); err != nil {
				return response{}, &OpError{Op: ex.op, Kind: ErrNetwork, Err: err}
			}
		}

		resp, err := c.attempt(ctx, snap, ex)
		var opErr *OpError
		if errors.As(err, &opErr) {
			return response{}, opErr
		}
		if err != nil {
			if ctx.Err() != nil {
				return response{}, &OpError{Op: ex.op, Kind: ErrNetwork, Err: ctx.Err()}
			}
			last = err
			continue
		}
		if resp.status >= 500 && attempt < attempts {
			last = fmt.Errorf("server returned %d", resp.status)
			continue
		}
		return resp, nil
	}
	return response{}, &OpError{Op: ex.op, Kind: ErrNetwork, Err: last}
}

func (c *Client) attempt(ctx context.Context, snap snapshot, ex exchange) (response, error) {
	target := sigv4.BuildTarget(snap.endpoint, snap.bucket, snap.useSSL, ex.key, ex.query)
	signed, err := sigv4.Sign(sigv4.Request{
		Method:      ex.method,
		Target:      target,
		PayloadHash: ex.payloadHash,
	}, sigv4.Credentials{
		AccessKeyID:     snap.accessKeyID,
		SecretAccessKey: snap.secret,
		Region:          snap.region,
	}, c.now())
	if err != nil {
		return response{}, &OpError{Op: ex.op, Kind: ErrConfig, Err: err}
	}

	var body io.Reader = http.NoBody
	if len(ex.body) > 0 {
		body = bytes.NewReader(ex.body)
	}
	req, err := http.NewRequestWithContext(ctx, ex.method, target.URL.String(), body)
	if err != nil {
		return response{}, err
	}
	// NewRequest re-parses the URL; keep the canonical escaping.
	req.URL = target.URL
	req.ContentLength = int64(len(ex.body))
	for name, values := range ex.header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if snap.sessionToken != "" {
		req.Header.Set("X-Amz-Security-Token", snap.sessionToken)
	}
	signed.Apply(req)

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug().Str("op", ex.op).Str("method", ex.method).Str("key", ex.key).Err(err).Msg("request failed")
		return response{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, fmt.Errorf("read response body: %w", err)
	}

	c.logger.Debug().
		Str("op", ex.op).
		Str("method", ex.method).
		Str("host", target.Host).
		Str("key", ex.key).
		Int("status", resp.StatusCode).
		Dur("duration", c.now().Sub(start)).
		Msg("s3 request")

	return response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// outcome labels an operation result for metrics.
func outcome(err error) string {
	var opErr *OpError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &opErr) && opErr.IsAuth():
		return "auth"
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrParse):
		return "parse"
	default:
		return "error"
	}
}
