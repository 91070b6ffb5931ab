package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "pimbl/internal/errors"
	"pimbl/internal/health"
	"pimbl/internal/submission"
	"pimbl/internal/upload"
)

var fixedNow = time.Date(2025, 11, 3, 16, 51, 0, 0, time.UTC)

type fakeRunner struct {
	calls   []submission.Request
	existed []bool // whether every attachment existed while Run executed
	result  submission.Result
	err     error
}

func (f *fakeRunner) Run(_ context.Context, req submission.Request) (submission.Result, error) {
	f.calls = append(f.calls, req)
	all := true
	for _, p := range req.Attachments {
		if _, err := os.Stat(p); err != nil {
			all = false
		}
	}
	f.existed = append(f.existed, all)
	res := f.result
	res.RequestID = req.ID
	return res, f.err
}

type fakeQueue struct {
	jobs []submission.Job
	err  error
}

func (f *fakeQueue) Submit(job submission.Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeGeocoder struct {
	lat, lon float64
	address  string
	err      error
}

func (f *fakeGeocoder) Reverse(_ context.Context, lat, lon float64) (string, error) {
	f.lat, f.lon = lat, lon
	return f.address, f.err
}

type harness struct {
	srv     *Server
	runner  *fakeRunner
	queue   *fakeQueue
	geo     *fakeGeocoder
	monitor *health.Monitor
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	store, err := upload.NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	h := &harness{
		runner: &fakeRunner{result: submission.Result{
			State:                submission.StateSubmitted,
			ServiceRequestNumber: "311-24681357",
			SubmittedAt:          fixedNow,
		}},
		queue:   &fakeQueue{},
		geo:     &fakeGeocoder{address: "382 Bridge Street Brooklyn"},
		monitor: health.NewMonitor(opts.Mode),
	}
	h.srv = New(Deps{
		Runner:   h.runner,
		Queue:    h.queue,
		Geocoder: h.geo,
		Uploads:  store,
		Monitor:  h.monitor,
	}, opts, zap.NewNop())
	h.srv.now = func() time.Time { return fixedNow }
	return h
}

// problemForm builds a multipart /problem request.
func problemForm(t *testing.T, fields map[string]string, images int) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for i := 0; i < images; i++ {
		fw, err := mw.CreateFormFile("image[]", "photo.jpg")
		require.NoError(t, err)
		_, err = fw.Write([]byte{0xFF, 0xD8, 0xFF, byte(i)})
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/problem", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (h *harness) do(req *http.Request) (*httptest.ResponseRecorder, problemResponse) {
	rec := httptest.NewRecorder()
	h.srv.Router.ServeHTTP(rec, req)
	var body problemResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func TestPing(t *testing.T) {
	h := newHarness(t, Options{})
	rec := httptest.NewRecorder()
	h.srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}

func TestProblemSyncSuccess(t *testing.T) {
	h := newHarness(t, Options{Mode: ModeSync})

	rec, body := h.do(problemForm(t, map[string]string{
		"timestamp":     "2025-11-03T11:51:00-05:00",
		"problemDetail": "Blocked Bike Lane",
		"description":   "Car in lane",
		"address":       "382 Bridge St",
	}, 2))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, body.Success)
	assert.Equal(t, "311-24681357", body.ServiceRequestNumber)
	assert.Equal(t, "2025-11-03T16:51:00Z", body.SubmittedAt)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), body.RequestID)

	require.Len(t, h.runner.calls, 1)
	got := h.runner.calls[0]
	assert.Equal(t, body.RequestID, got.ID)
	assert.Equal(t, "Blocked Bike Lane", got.ProblemCategory)
	assert.Equal(t, "Car in lane", got.Description)
	assert.Equal(t, "382 Bridge St", got.Address)
	assert.True(t, got.ObservedAt.Equal(time.Date(2025, 11, 3, 16, 51, 0, 0, time.UTC)))
	require.Len(t, got.Attachments, 2)
	assert.True(t, h.runner.existed[0], "photos exist while the workflow runs")

	for _, p := range got.Attachments {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), "photos removed afterwards")
	}
	assert.Equal(t, 1, h.monitor.GetStatus().Submitted)
}

func TestProblemAppliesDefaults(t *testing.T) {
	h := newHarness(t, Options{})

	rec, _ := h.do(problemForm(t, map[string]string{"address": "382 Bridge St"}, 0))
	require.Equal(t, http.StatusOK, rec.Code)

	got := h.runner.calls[0]
	assert.Equal(t, submission.DefaultProblemCategory, got.ProblemCategory)
	assert.Equal(t, submission.DefaultDescription, got.Description)
	assert.Equal(t, fixedNow, got.ObservedAt)
	assert.Empty(t, got.Attachments)
}

func TestProblemUnixMillisTimestamp(t *testing.T) {
	h := newHarness(t, Options{})

	rec, _ := h.do(problemForm(t, map[string]string{"address": "382 Bridge St", "timestamp": "1762188660000"}, 0))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, h.runner.calls[0].ObservedAt.Equal(time.UnixMilli(1762188660000)))
}

func TestProblemRejectsTooManyImages(t *testing.T) {
	h := newHarness(t, Options{})

	rec, body := h.do(problemForm(t, map[string]string{"address": "382 Bridge St"}, 4))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, body.Success)
	assert.Contains(t, body.Message, "at most 3 images")
	assert.Equal(t, "2025-11-03T16:51:00Z", body.SubmittedAt)
	assert.Empty(t, h.runner.calls)
}

func TestProblemRejectsBadTimestamp(t *testing.T) {
	h := newHarness(t, Options{})

	rec, _ := h.do(problemForm(t, map[string]string{"address": "382 Bridge St", "timestamp": "yesterday"}, 0))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.runner.calls)
}

func TestProblemGeocodesCoordinates(t *testing.T) {
	h := newHarness(t, Options{})

	rec, _ := h.do(problemForm(t, map[string]string{"latitude": "40.6922", "longitude": "-73.9856"}, 1))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.InDelta(t, 40.6922, h.geo.lat, 1e-9)
	assert.InDelta(t, -73.9856, h.geo.lon, 1e-9)
	assert.Equal(t, "382 Bridge Street Brooklyn", h.runner.calls[0].Address)
}

func TestProblemMissingLocation(t *testing.T) {
	h := newHarness(t, Options{})

	rec, body := h.do(problemForm(t, map[string]string{"latitude": "40.6922"}, 0))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body.Message, "address or latitude/longitude")
}

func TestProblemGeocoderFailureIsBadGateway(t *testing.T) {
	h := newHarness(t, Options{})
	h.geo.err = apperrors.NewExternalServiceError("geocode.maps.co", errors.New("status 503"))

	rec, _ := h.do(problemForm(t, map[string]string{"latitude": "40.69", "longitude": "-73.98"}, 0))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Empty(t, h.runner.calls)
}

func TestProblemErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"captcha timeout", apperrors.NewCaptchaTimeoutError(300), http.StatusBadGateway},
		{"captcha unavailable", apperrors.NewCaptchaUnavailableError("ERROR_ZERO_BALANCE", nil), http.StatusBadGateway},
		{"address not resolved", apperrors.NewAddressNotResolvedError("382 Bridge St", 4), http.StatusInternalServerError},
		{"no tracking number", apperrors.NewNoTrackingNumberError(nil), http.StatusInternalServerError},
		{"validation", apperrors.NewValidationError("problem category is required"), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			h.runner.err = tt.err

			rec, body := h.do(problemForm(t, map[string]string{"address": "382 Bridge St"}, 0))
			assert.Equal(t, tt.status, rec.Code)
			assert.False(t, body.Success)
			assert.Equal(t, tt.err.Error(), body.Message)
			assert.Equal(t, "2025-11-03T16:51:00Z", body.SubmittedAt)
			assert.Equal(t, 1, h.monitor.GetStatus().Failed)
		})
	}
}

func TestProblemAsyncQueuesAndDefersCleanup(t *testing.T) {
	h := newHarness(t, Options{Mode: ModeAsync})

	rec, body := h.do(problemForm(t, map[string]string{"address": "382 Bridge St"}, 1))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, body.Success)
	assert.Equal(t, "accepted", body.Message)
	assert.Equal(t, "2025-11-03T16:51:00Z", body.SubmittedAt)
	assert.Empty(t, h.runner.calls, "async mode never runs inline")

	require.Len(t, h.queue.jobs, 1)
	job := h.queue.jobs[0]
	require.Len(t, job.Request.Attachments, 1)
	path := job.Request.Attachments[0]

	_, err := os.Stat(path)
	require.NoError(t, err, "photo kept until the worker is done")

	job.Cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestProblemAsyncQueueFull(t *testing.T) {
	h := newHarness(t, Options{Mode: ModeAsync})
	h.queue.err = submission.ErrQueueFull

	rec, body := h.do(problemForm(t, map[string]string{"address": "382 Bridge St"}, 0))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, submission.ErrQueueFull.Error(), body.Message)
	assert.Equal(t, "2025-11-03T16:51:00Z", body.SubmittedAt)
}

func TestProblemLingerKeepsUploads(t *testing.T) {
	h := newHarness(t, Options{Linger: true})

	rec, _ := h.do(problemForm(t, map[string]string{"address": "382 Bridge St"}, 1))
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := os.Stat(h.runner.calls[0].Attachments[0])
	assert.NoError(t, err)
}

func TestRequestIDIsPropagated(t *testing.T) {
	h := newHarness(t, Options{})

	req := problemForm(t, map[string]string{"address": "382 Bridge St"}, 0)
	req.Header.Set("X-Request-ID", "client-chosen-id")
	rec, body := h.do(req)

	assert.Equal(t, "client-chosen-id", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "client-chosen-id", body.RequestID)
	assert.Equal(t, "client-chosen-id", h.runner.calls[0].ID)
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t, Options{Mode: ModeAsync})
	h.srv.RecordOutcome(submission.Outcome{Result: submission.Result{State: submission.StateNoSubmitDryRun}})

	rec := httptest.NewRecorder()
	h.srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status health.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "async", status.Mode)
	assert.Equal(t, "dry run", status.LastSubmissionStatus)
}
