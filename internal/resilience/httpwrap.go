package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUpstreamStatus wraps 5xx responses that exhausted all attempts.
var ErrUpstreamStatus = errors.New("resilience: upstream returned server error")

// Observer receives the latency and outcome of every attempt.
type Observer func(target string, d time.Duration, err error)

// HTTPClient wraps an http.Client with per-attempt timeouts, retries with
// exponential backoff and a circuit breaker. Only requests that are safe to
// repeat are retried: GET/HEAD, or any request carrying an idempotency key
// header named in IdempotencyHeaders.
type HTTPClient struct {
	Client             *http.Client
	Breaker            *Breaker
	Target             string
	BaseBackoff        time.Duration
	MaxAttempts        int
	Jitter             float64
	Timeout            time.Duration
	IdempotencyHeaders []string
	Observe            Observer
}

// Do executes req. The body is buffered so it can be replayed. When the
// breaker is open ErrOpenCircuit is returned without calling upstream. A 5xx
// on the final attempt is returned as a response, not an error, so callers can
// read the gateway's error body.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	breaker := cl.Breaker
	if breaker == nil {
		breaker = NewBreaker(1, 1, time.Second)
	}
	maxAttempts := cl.MaxAttempts
	if maxAttempts <= 0 || !cl.retryable(req) {
		maxAttempts = 1
	}
	baseBackoff := cl.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = 100 * time.Millisecond
	}

	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if !breaker.Allow(ctx) {
			return nil, ErrOpenCircuit
		}
		start := time.Now()
		resp, err := cl.doOnce(ctx, req, body)
		cl.observe(time.Since(start), resp, err)
		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			breaker.Report(ctx, true)
			return resp, nil
		}
		breaker.Report(ctx, false)
		if err == nil {
			if attempt == maxAttempts {
				return resp, nil
			}
			lastErr = fmt.Errorf("%w: %s", ErrUpstreamStatus, resp.Status)
			drain(resp)
		} else {
			lastErr = err
		}
		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}
		timer := time.NewTimer(Backoff(baseBackoff, attempt, cl.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (cl HTTPClient) retryable(req *http.Request) bool {
	if req.Method == http.MethodGet || req.Method == http.MethodHead {
		return true
	}
	for _, h := range cl.IdempotencyHeaders {
		if req.Header.Get(h) != "" {
			return true
		}
	}
	return false
}

func (cl HTTPClient) doOnce(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	attemptReq := req.Clone(callCtx)
	if body != nil {
		attemptReq.Body = io.NopCloser(bytes.NewReader(body))
		attemptReq.ContentLength = int64(len(body))
	}
	resp, err := cl.Client.Do(attemptReq)
	if err != nil {
		cancel()
		return nil, err
	}
	// keep the attempt context alive until the caller closes the body
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (cl HTTPClient) observe(d time.Duration, resp *http.Response, err error) {
	if cl.Observe == nil {
		return
	}
	if err == nil && resp != nil && resp.StatusCode >= http.StatusInternalServerError {
		err = ErrUpstreamStatus
	}
	cl.Observe(cl.Target, d, err)
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	_ = req.Body.Close()
	return data, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
