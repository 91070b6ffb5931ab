// Package server is the HTTP front door: it turns a multipart complaint into
// a submission.Request and either runs it inline (sync mode) or hands it to
// the worker pool (async mode).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "pimbl/internal/errors"
	"pimbl/internal/geocode"
	"pimbl/internal/health"
	"pimbl/internal/submission"
	"pimbl/internal/upload"
)

// Submission modes.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// maxFormMemory is how much of a multipart body is held in memory; larger
// parts spill to temporary files.
const maxFormMemory = 32 << 20

// Runner runs one submission inline.
type Runner interface {
	Run(ctx context.Context, req submission.Request) (submission.Result, error)
}

// Queue accepts detached submissions.
type Queue interface {
	Submit(job submission.Job) error
}

// Deps are the collaborators the handlers use. Queue is only needed in
// async mode, Geocoder only when clients send coordinates instead of an
// address.
type Deps struct {
	Runner   Runner
	Queue    Queue
	Geocoder geocode.Geocoder
	Uploads  *upload.Store
	Monitor  *health.Monitor
}

// Options tunes request handling.
type Options struct {
	Mode   string
	Linger bool // keep uploaded photos after the submission finishes
}

// Server holds the router and handler state.
type Server struct {
	Router *chi.Mux
	deps   Deps
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// New builds the router.
func New(deps Deps, opts Options, logger *zap.Logger) *Server {
	if opts.Mode == "" {
		opts.Mode = ModeSync
	}

	s := &Server{
		Router: chi.NewRouter(),
		deps:   deps,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}

	s.Router.Use(RequestIDMiddleware)
	s.Router.Use(middleware.RealIP)
	s.Router.Use(LoggingMiddleware(logger))
	s.Router.Use(middleware.Recoverer)

	s.Router.Get("/ping", s.handlePing)
	s.Router.Get("/health", deps.Monitor.Handler())
	s.Router.Post("/problem", s.handleProblem)

	return s
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("✓ Server listening", zap.String("addr", addr), zap.String("mode", s.opts.Mode))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("→ Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("pong"))
}

// problemResponse is the JSON body of every /problem answer. SubmittedAt is
// the portal's acceptance time on success and the answer time otherwise.
type problemResponse struct {
	Success              bool   `json:"success"`
	ServiceRequestNumber string `json:"serviceRequestNumber,omitempty"`
	Message              string `json:"message,omitempty"`
	RequestID            string `json:"requestId,omitempty"`
	SubmittedAt          string `json:"submittedAt"`
}

func (s *Server) handleProblem(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())
	logger := s.logger.With(zap.String("request_id", requestID))

	if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		s.fail(w, requestID, apperrors.NewValidationError("malformed multipart body: "+err.Error()))
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll() //nolint:errcheck
	}

	req, files, err := s.parseProblem(r)
	if err != nil {
		s.fail(w, requestID, err)
		return
	}
	req.ID = requestID

	// Reject before spending anything on uploads or the browser.
	if err := req.Validate(); err != nil {
		s.fail(w, requestID, err)
		return
	}

	batch, err := s.deps.Uploads.SaveAll(r.Context(), files)
	if err != nil {
		logger.Error("✗ Failed to persist uploads", zap.Error(err))
		s.fail(w, requestID, err)
		return
	}
	req.Attachments = batch.Paths
	cleanup := func() {
		if !s.opts.Linger {
			batch.Remove()
		}
	}

	if s.opts.Mode == ModeAsync {
		s.enqueue(w, req, cleanup)
		return
	}

	// The submission is not tied to the client connection: a disconnect
	// must not leave a half-filled portal form behind.
	res, err := s.deps.Runner.Run(context.WithoutCancel(r.Context()), req)
	cleanup()
	s.record(res, err)
	if err != nil {
		s.fail(w, requestID, err)
		return
	}

	writeJSON(w, http.StatusOK, problemResponse{
		Success:              true,
		ServiceRequestNumber: res.ServiceRequestNumber,
		RequestID:            requestID,
		SubmittedAt:          res.SubmittedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) enqueue(w http.ResponseWriter, req submission.Request, cleanup func()) {
	err := s.deps.Queue.Submit(submission.Job{Request: req, Cleanup: cleanup})
	if err != nil {
		cleanup()
		status := http.StatusServiceUnavailable
		s.logger.Warn("⚠️  Submission not queued", zap.String("request_id", req.ID), zap.Error(err))
		writeJSON(w, status, problemResponse{Success: false, Message: err.Error(), RequestID: req.ID, SubmittedAt: s.stamp()})
		return
	}
	writeJSON(w, http.StatusAccepted, problemResponse{Success: true, Message: "accepted", RequestID: req.ID, SubmittedAt: s.stamp()})
}

// RecordOutcome feeds a detached submission's result into the health monitor.
func (s *Server) RecordOutcome(o submission.Outcome) {
	s.record(o.Result, o.Err)
}

func (s *Server) record(res submission.Result, err error) {
	if s.deps.Monitor == nil {
		return
	}
	status := "success"
	if res.State == submission.StateNoSubmitDryRun {
		status = "dry run"
	}
	s.deps.Monitor.RecordSubmission(status, err)
}

// parseProblem reads the form fields. Coordinates are only geocoded when no
// address was given.
func (s *Server) parseProblem(r *http.Request) (submission.Request, []*multipart.FileHeader, error) {
	var files []*multipart.FileHeader
	if r.MultipartForm != nil {
		files = append(files, r.MultipartForm.File["image[]"]...)
		files = append(files, r.MultipartForm.File["image"]...)
	}
	if len(files) > submission.MaxAttachments {
		return submission.Request{}, nil, apperrors.NewValidationError("at most 3 images may be submitted")
	}

	observedAt, err := parseTimestamp(r.FormValue("timestamp"), s.now())
	if err != nil {
		return submission.Request{}, nil, err
	}

	address := strings.TrimSpace(r.FormValue("address"))
	if address == "" {
		address, err = s.addressFromCoordinates(r.Context(), r.FormValue("latitude"), r.FormValue("longitude"))
		if err != nil {
			return submission.Request{}, nil, err
		}
	}

	req := submission.Request{
		ProblemCategory: strings.TrimSpace(r.FormValue("problemDetail")),
		ObservedAt:      observedAt,
		Description:     strings.TrimSpace(r.FormValue("description")),
		Address:         address,
	}.WithDefaults(s.now())
	return req, files, nil
}

func (s *Server) addressFromCoordinates(ctx context.Context, latRaw, lonRaw string) (string, error) {
	if latRaw == "" || lonRaw == "" {
		return "", apperrors.NewValidationError("address or latitude/longitude is required")
	}
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil || lat < -90 || lat > 90 {
		return "", apperrors.NewValidationError("invalid latitude")
	}
	lon, err := strconv.ParseFloat(lonRaw, 64)
	if err != nil || lon < -180 || lon > 180 {
		return "", apperrors.NewValidationError("invalid longitude")
	}
	if s.deps.Geocoder == nil {
		return "", apperrors.NewValidationError("address is required: no geocoder configured")
	}

	address, err := s.deps.Geocoder.Reverse(ctx, lat, lon)
	if err != nil {
		return "", err
	}
	s.logger.Debug("coordinates geocoded", zap.Float64("lat", lat), zap.Float64("lon", lon), zap.String("address", address))
	return address, nil
}

// parseTimestamp accepts RFC 3339 or unix milliseconds; empty means now.
func parseTimestamp(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperrors.NewValidationError("timestamp must be RFC 3339 or unix milliseconds")
	}
	return t, nil
}

// statusFor maps a failure to its HTTP status.
func statusFor(err error) int {
	switch {
	case apperrors.IsValidation(err):
		return http.StatusBadRequest
	case apperrors.IsExternal(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, requestID string, err error) {
	writeJSON(w, statusFor(err), problemResponse{Success: false, Message: err.Error(), RequestID: requestID, SubmittedAt: s.stamp()})
}

func (s *Server) stamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
