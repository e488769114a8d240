// Package httpclient configures the HTTP client every upstream range
// loader shares when calling the weather providers.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// NewOutbound builds the shared client, sized from the engine's
// per-attempt fetch budget. The fetcher enforces the real deadline via
// request context; the client timeout sits above it as a backstop so a
// wedged connection cannot outlive the attempt by much.
func NewOutbound(perAttempt time.Duration) *http.Client {
	if perAttempt <= 0 {
		perAttempt = 12 * time.Second
	}
	dialTimeout := 5 * time.Second
	if perAttempt < dialTimeout {
		dialTimeout = perAttempt
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   128,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   dialTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   perAttempt + 3*time.Second,
	}
}
