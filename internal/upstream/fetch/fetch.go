// Package fetch performs single upstream JSON requests with per-attempt
// timeouts, status classification, and bounded exponential-backoff retry
// that honors Retry-After and extends the shared scheduler cooldown on
// rate-limit responses.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/weatherlake/summary-core/internal/core/observability"
	"github.com/weatherlake/summary-core/internal/upstream/scheduler"
)

// StatusError is returned when an upstream response carries a status
// other than 200 that was not retried (or retries were exhausted).
type StatusError struct {
	StatusCode int
	Label      string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed with status %d", e.Label, e.StatusCode)
}

// IsRateLimited reports whether err is (or wraps) a StatusError carrying
// HTTP 429, so callers can distinguish "upstream is throttling us" from
// any other failure.
func IsRateLimited(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// Fetcher executes one upstream JSON request per call, through a shared
// Scheduler, with retry/backoff/cooldown handling.
type Fetcher struct {
	Client       *http.Client
	Scheduler    *scheduler.Scheduler
	Attempts     int
	PerAttempt   time.Duration
	BaseDelay    time.Duration
	MinBackoff   time.Duration
	Logger       *zerolog.Logger
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func isTransientIOError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// parseRetryAfter parses a Retry-After header value, in seconds or as an
// HTTP date, returning zero when absent or unparsable.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			return 0
		}
		return d
	}
	return 0
}

type attemptResult struct {
	body       []byte
	status     int
	retryAfter time.Duration
}

// FetchJSON performs one upstream GET request for url, decoding the JSON
// response body into out on success. label names the family/year for
// error messages, e.g. "Climate API (2024-06)".
func (f *Fetcher) FetchJSON(ctx context.Context, url, label string, out any) error {
	attempts := f.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	base := f.BaseDelay
	if base <= 0 {
		base = 900 * time.Millisecond
	}
	minBackoff := f.MinBackoff
	if minBackoff <= 0 {
		minBackoff = 45 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := scheduler.Do(ctx, f.Scheduler, func(attemptCtx context.Context) (attemptResult, error) {
			return f.doAttempt(attemptCtx, url, label)
		})

		if err == nil {
			if res.status == http.StatusOK {
				if jsonErr := json.Unmarshal(res.body, out); jsonErr != nil {
					return fmt.Errorf("%s: decode response: %w", label, jsonErr)
				}
				if observability.Enabled() {
					observability.ObserveUpstreamAttempt(label, "ok")
				}
				return nil
			}
			lastErr = &StatusError{StatusCode: res.status, Label: label}

			if res.status == http.StatusBadRequest {
				// shape error: caller (range loader) handles the field-variant fallback.
				return lastErr
			}
			if !retryableStatus(res.status) {
				return lastErr
			}

			if res.status == http.StatusTooManyRequests {
				extend := res.retryAfter
				if extend < minBackoff {
					extend = minBackoff
				}
				f.Scheduler.ExtendCooldown(extend)
				if observability.Enabled() {
					observability.ObserveRateLimit(label)
				}
				if attempt == attempts {
					break
				}
				delay := res.retryAfter
				backoff := base*time.Duration(1<<(attempt-1)) + jitter(base)
				if backoff > delay {
					delay = backoff
				}
				if !sleep(ctx, delay) {
					return ctx.Err()
				}
				continue
			}
		} else {
			if errors.Is(err, context.Canceled) {
				return err
			}
			lastErr = fmt.Errorf("%s: %w", label, err)
			if !isTransientIOError(err) {
				return lastErr
			}
		}

		if observability.Enabled() {
			observability.ObserveUpstreamAttempt(label, "retry")
		}

		if attempt == attempts {
			break
		}
		delay := base*time.Duration(1<<(attempt-1)) + jitter(base)
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%s: exhausted attempts", label)
	}
	return lastErr
}

func (f *Fetcher) doAttempt(ctx context.Context, url, label string) (attemptResult, error) {
	timeout := f.PerAttempt
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return attemptResult{}, fmt.Errorf("%s: build request: %w", label, err)
	}

	start := time.Now()
	resp, err := f.Client.Do(req)
	dur := time.Since(start)
	if observability.Enabled() {
		observability.ObserveUpstreamLatency(label, dur.Seconds())
	}
	if err != nil {
		return attemptResult{}, err
	}
	defer func() {
		if f.Logger != nil {
			if cerr := resp.Body.Close(); cerr != nil {
				f.Logger.Warn().Err(cerr).Msg("close upstream response body")
			}
		} else {
			_ = resp.Body.Close()
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return attemptResult{}, fmt.Errorf("%s: read body: %w", label, err)
	}

	return attemptResult{
		body:       body,
		status:     resp.StatusCode,
		retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}, nil
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(base)))
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
