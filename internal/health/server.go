// Package health provides health check and monitoring for the pimbl service.
//
// This package implements:
//   - Submission outcome tracking
//   - Uptime monitoring
//   - The /health JSON handler
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status represents the application health status.
//
// This is returned by the /health endpoint for monitoring tools.
//
// Fields:
//   - Status: Overall health status ("healthy" or "degraded")
//   - Uptime: How long the application has been running
//   - Mode: Submission mode ("sync" or "async")
//   - LastSubmissionTime: When the last submission finished
//   - LastSubmissionStatus: "success", "dry run" or the error message
//   - Submitted, Failed: Counters since start
type Status struct {
	Status               string `json:"status"`
	Uptime               string `json:"uptime"`
	Mode                 string `json:"mode"`
	LastSubmissionTime   string `json:"last_submission_time,omitempty"`
	LastSubmissionStatus string `json:"last_submission_status"`
	Submitted            int    `json:"submitted"`
	Failed               int    `json:"failed"`
}

// Monitor tracks application health metrics.
//
// Thread-safety:
//   - All fields are protected by RWMutex
//   - Safe for concurrent updates from handlers and workers
type Monitor struct {
	startTime            time.Time
	mode                 string
	lastSubmissionTime   time.Time
	lastSubmissionStatus string
	submitted            int
	failed               int
	consecutiveFailures  int
	mu                   sync.RWMutex
}

// degradedAfter is the run of consecutive failures that flips the status.
const degradedAfter = 3

// NewMonitor creates a new health monitor for a service running in mode.
func NewMonitor(mode string) *Monitor {
	return &Monitor{
		startTime:            time.Now(),
		mode:                 mode,
		lastSubmissionStatus: "not started",
	}
}

// RecordSubmission updates the status after a submission finished.
//
// This should be called:
//   - After success: RecordSubmission("success", nil)
//   - After failure: RecordSubmission("", err)
func (m *Monitor) RecordSubmission(status string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastSubmissionTime = time.Now()
	if err != nil {
		m.lastSubmissionStatus = "error: " + err.Error()
		m.failed++
		m.consecutiveFailures++
		return
	}
	m.lastSubmissionStatus = status
	m.submitted++
	m.consecutiveFailures = 0
}

// GetStatus returns the current health status.
func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Status{
		Status:               "healthy",
		Uptime:               time.Since(m.startTime).Round(time.Second).String(),
		Mode:                 m.mode,
		LastSubmissionStatus: m.lastSubmissionStatus,
		Submitted:            m.submitted,
		Failed:               m.failed,
	}
	if !m.lastSubmissionTime.IsZero() {
		s.LastSubmissionTime = m.lastSubmissionTime.Format(time.RFC3339)
	}
	if m.consecutiveFailures >= degradedAfter {
		s.Status = "degraded"
	}
	return s
}

// Handler serves the status as JSON.
//
// Example response:
//
//	{
//	  "status": "healthy",
//	  "uptime": "1h2m3s",
//	  "mode": "sync",
//	  "last_submission_time": "2025-11-03T11:52:40-05:00",
//	  "last_submission_status": "success",
//	  "submitted": 4,
//	  "failed": 0
//	}
func (m *Monitor) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(m.GetStatus())
	}
}
