package fetch

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/weatherlake/summary-core/internal/upstream/scheduler"
)

// roundTripFunc adapts a function to http.RoundTripper.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(status int, body string, headers map[string]string) *http.Response {
	resp := &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
	for k, v := range headers {
		resp.Header.Set(k, v)
	}
	return resp
}

func newFetcher(rt roundTripFunc) *Fetcher {
	return &Fetcher{
		Client:     &http.Client{Transport: rt},
		Scheduler:  scheduler.New(0),
		Attempts:   3,
		PerAttempt: 2 * time.Second,
		BaseDelay:  2 * time.Millisecond,
		MinBackoff: 5 * time.Millisecond,
	}
}

type payload struct {
	Value int `json:"value"`
}

func TestFetchJSON_HappyPath(t *testing.T) {
	f := newFetcher(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"value":42}`, nil), nil
	})

	var out payload
	if err := f.FetchJSON(context.Background(), "https://example.test/x", "Climate API (2024-06)", &out); err != nil {
		t.Fatalf("FetchJSON: %v", err)
	}
	if out.Value != 42 {
		t.Fatalf("out.Value=%d want 42", out.Value)
	}
}

func TestFetchJSON_RetriesOn503ThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	f := newFetcher(func(r *http.Request) (*http.Response, error) {
		n := calls.Add(1)
		if n < 3 {
			return jsonResponse(503, "", nil), nil
		}
		return jsonResponse(200, `{"value":7}`, nil), nil
	})

	var out payload
	if err := f.FetchJSON(context.Background(), "https://example.test/x", "label", &out); err != nil {
		t.Fatalf("FetchJSON: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if out.Value != 7 {
		t.Fatalf("out.Value=%d want 7", out.Value)
	}
}

func TestFetchJSON_400IsNotRetried(t *testing.T) {
	var calls atomic.Int32
	f := newFetcher(func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(400, "", nil), nil
	})

	var out payload
	err := f.FetchJSON(context.Background(), "https://example.test/x", "label", &out)
	if err == nil {
		t.Fatal("expected an error for HTTP 400")
	}
	if calls.Load() != 1 {
		t.Fatalf("400 must not be retried, got %d attempts", calls.Load())
	}
}

func TestFetchJSON_NonRetryable404SurfacesImmediately(t *testing.T) {
	var calls atomic.Int32
	f := newFetcher(func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(404, "", nil), nil
	})

	var out payload
	if err := f.FetchJSON(context.Background(), "https://example.test/x", "label", &out); err == nil {
		t.Fatal("expected an error for HTTP 404")
	}
	if calls.Load() != 1 {
		t.Fatalf("404 must not be retried, got %d attempts", calls.Load())
	}
}

func TestFetchJSON_ExhaustsAttemptsAndSurfacesLastError(t *testing.T) {
	var calls atomic.Int32
	f := newFetcher(func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(503, "", nil), nil
	})

	var out payload
	err := f.FetchJSON(context.Background(), "https://example.test/x", "label", &out)
	if err == nil {
		t.Fatal("expected an error after exhausting attempts")
	}
	if calls.Load() != 3 {
		t.Fatalf("expected exactly Attempts=3 calls, got %d", calls.Load())
	}
}

func TestFetchJSON_429ExtendsCooldownAndHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	f := newFetcher(func(r *http.Request) (*http.Response, error) {
		n := calls.Add(1)
		if n == 1 {
			return jsonResponse(429, "", map[string]string{"Retry-After": "1"}), nil
		}
		return jsonResponse(200, `{"value":1}`, nil), nil
	})
	f.MinBackoff = 2 * time.Millisecond // keep the test fast; Retry-After is still honored as a minimum

	var out payload
	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- f.FetchJSON(context.Background(), "https://example.test/x", "label", &out)
	}()

	// the cooldown is observable only while the retry is pending: the
	// retried request goes through the scheduler, which waits it out
	deadline := time.Now().Add(500 * time.Millisecond)
	for f.Scheduler.CooldownRemaining() <= 0 {
		if time.Now().After(deadline) {
			t.Fatal("429 must extend the scheduler's cooldown")
		}
		time.Sleep(time.Millisecond)
	}
	if err := <-done; err != nil {
		t.Fatalf("FetchJSON: %v", err)
	}
	if time.Since(start) < 900*time.Millisecond {
		t.Fatalf("retry must honor the 1s Retry-After, took %v", time.Since(start))
	}
}

func TestFetchJSON_NetworkErrorIsTransientAndRetried(t *testing.T) {
	var calls atomic.Int32
	f := newFetcher(func(r *http.Request) (*http.Response, error) {
		n := calls.Add(1)
		if n < 2 {
			return nil, context.DeadlineExceeded
		}
		return jsonResponse(200, `{"value":9}`, nil), nil
	})

	var out payload
	if err := f.FetchJSON(context.Background(), "https://example.test/x", "label", &out); err != nil {
		t.Fatalf("FetchJSON: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestIsRateLimited(t *testing.T) {
	if IsRateLimited(nil) {
		t.Fatal("nil error is never rate limited")
	}
	err := &StatusError{StatusCode: 429, Label: "x"}
	if !IsRateLimited(err) {
		t.Fatal("429 StatusError must report rate limited")
	}
	other := &StatusError{StatusCode: 500, Label: "x"}
	if IsRateLimited(other) {
		t.Fatal("500 StatusError must not report rate limited")
	}
}
