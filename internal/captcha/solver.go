// Package captcha solves the portal's reCAPTCHA through the 2captcha task API.
//
// Solving is a submit-then-poll protocol: one createTask call returns a task
// ID, then getTaskResult is polled on a fixed cadence until the token is
// ready, the service reports an error, or the poll budget runs out. Tokens are
// bound to the page session whose site key and URL were submitted.
package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"pimbl/internal/api"
	apperrors "pimbl/internal/errors"
)

const (
	// DefaultBaseURL is the 2captcha JSON API root.
	DefaultBaseURL = "https://api.2captcha.com"

	// DefaultPollInterval and DefaultMaxPolls give a five-minute ceiling.
	DefaultPollInterval = time.Second
	DefaultMaxPolls     = 300

	taskType = "RecaptchaV2TaskProxyless"

	statusProcessing = "processing"
	statusReady      = "ready"
)

// Challenge identifies the reCAPTCHA widget to solve.
type Challenge struct {
	SiteKey string
	PageURL string
}

type createTaskRequest struct {
	ClientKey string `json:"clientKey"`
	Task      task   `json:"task"`
}

type task struct {
	Type       string `json:"type"`
	WebsiteURL string `json:"websiteURL"`
	WebsiteKey string `json:"websiteKey"`
}

type createTaskResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           int64  `json:"taskId"`
}

type taskResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    int64  `json:"taskId"`
}

type taskResultResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	Status           string `json:"status"`
	Solution         struct {
		GRecaptchaResponse string `json:"gRecaptchaResponse"`
		Token              string `json:"token"`
	} `json:"solution"`
}

// Solver talks to the 2captcha API. It is safe for concurrent use; each
// Solve call owns its own task.
type Solver struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	maxPolls     int
	sleep        func(ctx context.Context, d time.Duration) error
	logger       *zap.Logger
}

// Option customises a Solver.
type Option func(*Solver)

// WithBaseURL points the solver at a different API root (tests, proxies).
func WithBaseURL(u string) Option { return func(s *Solver) { s.baseURL = u } }

// WithHTTPClient replaces the shared pooled client.
func WithHTTPClient(c *http.Client) Option { return func(s *Solver) { s.httpClient = c } }

// WithPolling overrides the poll cadence and budget. Non-positive values keep the defaults.
func WithPolling(interval time.Duration, maxPolls int) Option {
	return func(s *Solver) {
		if interval > 0 {
			s.pollInterval = interval
		}
		if maxPolls > 0 {
			s.maxPolls = maxPolls
		}
	}
}

// WithSleep replaces the wait between polls.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Solver) { s.sleep = fn }
}

// New creates a solver authenticated with the given 2captcha client key.
func New(apiKey string, logger *zap.Logger, opts ...Option) *Solver {
	s := &Solver{
		apiKey:       apiKey,
		baseURL:      DefaultBaseURL,
		httpClient:   api.GetHTTPClient(),
		pollInterval: DefaultPollInterval,
		maxPolls:     DefaultMaxPolls,
		sleep:        sleepContext,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Solve submits the challenge once and polls for the token.
//
// Outcomes:
//   - token on the first "ready" poll
//   - CaptchaUnavailable as soon as the service reports a non-zero errorId
//   - CaptchaTimeout when every poll came back "processing"
//   - ExternalService on transport or decoding failures
//   - the wrapped ctx error when ctx ends between polls
func (s *Solver) Solve(ctx context.Context, ch Challenge) (string, error) {
	s.logger.Info("→ Submitting captcha to 2captcha...", zap.String("page_url", ch.PageURL))

	var created createTaskResponse
	err := s.post(ctx, "/createTask", createTaskRequest{
		ClientKey: s.apiKey,
		Task: task{
			Type:       taskType,
			WebsiteURL: ch.PageURL,
			WebsiteKey: ch.SiteKey,
		},
	}, &created)
	if err != nil {
		return "", apperrors.NewExternalServiceError("2captcha createTask", err)
	}
	if created.ErrorID != 0 {
		return "", apperrors.NewCaptchaUnavailableError("failed to submit captcha", serviceError(created.ErrorID, created.ErrorCode, created.ErrorDescription))
	}

	s.logger.Info("✓ Captcha submitted", zap.Int64("task_id", created.TaskID))

	for attempt := 0; attempt < s.maxPolls; attempt++ {
		// The first poll goes out immediately; a task submitted late in a
		// slow page load is sometimes already done.
		if attempt > 0 {
			if err := s.sleep(ctx, s.pollInterval); err != nil {
				// Abandoned by the caller, not a solver failure.
				return "", fmt.Errorf("captcha polling interrupted after %d polls: %w", attempt, err)
			}
		}

		var result taskResultResponse
		err := s.post(ctx, "/getTaskResult", taskResultRequest{ClientKey: s.apiKey, TaskID: created.TaskID}, &result)
		if err != nil {
			return "", apperrors.NewExternalServiceError("2captcha getTaskResult", err)
		}

		if result.ErrorID != 0 {
			return "", apperrors.NewCaptchaUnavailableError("error checking captcha status", serviceError(result.ErrorID, result.ErrorCode, result.ErrorDescription))
		}

		switch result.Status {
		case statusReady:
			token := result.Solution.GRecaptchaResponse
			if token == "" {
				token = result.Solution.Token
			}
			if token == "" {
				return "", apperrors.NewCaptchaUnavailableError("solver reported ready without a token", nil)
			}
			s.logger.Info("✓ Captcha solved", zap.Int("polls", attempt+1))
			return token, nil
		case statusProcessing:
			s.logger.Debug("captcha still processing", zap.Int("attempt", attempt+1), zap.Int("max", s.maxPolls))
		default:
			s.logger.Warn("⚠️  unexpected captcha status", zap.String("status", result.Status))
		}
	}

	return "", apperrors.NewCaptchaTimeoutError(s.maxPolls)
}

func (s *Solver) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "captcha: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "captcha: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return eris.Wrap(err, "captcha: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("captcha: %s returned status %d", path, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "captcha: read body")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "captcha: parse response")
	}
	return nil
}

func serviceError(id int, code, description string) error {
	if description != "" {
		return eris.Errorf("2captcha error %d (%s): %s", id, code, description)
	}
	return eris.Errorf("2captcha error %d (%s)", id, code)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
