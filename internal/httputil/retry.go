package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// RetryPolicy is the backoff strategy applied by a Retrier. Attempts are
// numbered from 1; the delay before attempt n+1 is Backoff(n).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

var DefaultRetry = RetryPolicy{
	MaxAttempts: 5,
	BaseDelay:   1 * time.Second,
	MaxDelay:    60 * time.Second,
	Multiplier:  2,
}

func (p RetryPolicy) Backoff(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func SleepContext(ctx context.Context, d time.Duration) error {
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

// Retrier executes requests with throttling and classified retries. A nil
// Limiter disables throttling; a nil Sleep uses SleepContext.
type Retrier struct {
	Policy  RetryPolicy
	Limiter *rate.Limiter
	Sleep   Sleeper
	Logger  *slog.Logger
}

// NewLimiter returns a limiter admitting one request per interval.
func NewLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Do executes an HTTP request with throttling and exponential backoff retry.
// The buildReq function is called on each attempt to produce a fresh request
// (required because request bodies are consumed on each attempt).
//
// A 2xx response is returned to the caller. 429, 5xx and transport failures
// are retried and surface as *TransientError once attempts are exhausted.
// Any other status is a *PermanentError and is never retried.
func (r *Retrier) Do(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error)) (*http.Response, error) {
	policy := r.Policy
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetry.MaxAttempts
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if r.Limiter != nil {
			if err := r.Limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limiter: %w", err)
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = &TransientError{Err: err, Timeout: isTimeout(err)}
		} else {
			lastErr = classify(resp)
			if lastErr == nil {
				return resp, nil
			}
		}

		var perm *PermanentError
		if errors.As(lastErr, &perm) {
			return nil, lastErr
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := policy.Backoff(attempt)
		var te *TransientError
		if errors.As(lastErr, &te) && te.RetryAfter > delay {
			if policy.MaxDelay > 0 && te.RetryAfter > policy.MaxDelay {
				return nil, fmt.Errorf("server asked to wait %s, more than the %s retry limit: %w",
					te.RetryAfter, policy.MaxDelay, lastErr)
			}
			delay = te.RetryAfter
		}

		logger.Warn("request failed, retrying",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"delay", delay,
			"error", lastErr,
		)

		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("all %d attempts failed, last error: %w", policy.MaxAttempts, lastErr)
}

// Do runs a single request through an unthrottled Retrier.
func Do(ctx context.Context, client *http.Client, policy RetryPolicy, buildReq func() (*http.Request, error)) (*http.Response, error) {
	r := &Retrier{Policy: policy}
	return r.Do(ctx, client, buildReq)
}

// classify consumes and closes the body of any non-2xx response.
func classify(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &TransientError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Body:       string(body),
		}
	case resp.StatusCode >= 500:
		return &TransientError{StatusCode: resp.StatusCode, Body: string(body)}
	default:
		return &PermanentError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
