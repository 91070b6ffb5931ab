// Package api provides the shared outbound HTTP client.
//
// The 2captcha, geocoding and Telegram clients all talk to third-party APIs
// from many concurrent submissions; sharing one pooled client keeps the
// number of open connections bounded and reuses keep-alive connections.
package api

import (
	"net/http"
	"sync"
	"time"
)

var (
	mu           sync.RWMutex
	sharedClient = NewHTTPClient(30 * time.Second)
)

// GetHTTPClient returns the shared HTTP client instance.
//
// http.Client is safe for concurrent use, so callers may hold on to the
// returned pointer.
func GetHTTPClient() *http.Client {
	mu.RLock()
	defer mu.RUnlock()
	return sharedClient
}

// NewHTTPClient creates a new HTTP client with connection pooling.
//
// Connection pool configuration:
//   - MaxIdleConns: 100 across all hosts
//   - MaxIdleConnsPerHost: 10, so one slow API cannot hog the pool
//   - IdleConnTimeout: 90 seconds
//
// Parameters:
//   - timeout: Maximum time for a complete request (including reading response)
//
// Returns:
//   - *http.Client: Configured HTTP client
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}

// SetHTTPClient overrides the shared client. Intended for tests.
func SetHTTPClient(client *http.Client) {
	mu.Lock()
	defer mu.Unlock()
	sharedClient = client
}
