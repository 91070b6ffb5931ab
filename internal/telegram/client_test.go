package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "pimbl/internal/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("123:ABC", "-1001", zap.NewNop())
	require.NotNil(t, c)
	c.BaseURL = srv.URL
	c.httpClient = srv.Client()
	return c, srv
}

func TestNewClientDisabledWithoutSettings(t *testing.T) {
	assert.Nil(t, NewClient("", "-1001", zap.NewNop()))
	assert.Nil(t, NewClient("123:ABC", "", zap.NewNop()))

	var c *Client
	assert.NoError(t, c.SendSubmissionResult(context.Background(), "r", "a", "n", nil))
	assert.NoError(t, c.SendCriticalAlert(context.Background(), "browser", "crashed"))
}

func TestSendSubmissionResultSuccess(t *testing.T) {
	var got Message
	var path string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7}}`))
	})

	err := c.SendSubmissionResult(context.Background(), "req-1", "382 Bridge St", "311-24681357", nil)
	require.NoError(t, err)

	assert.Equal(t, "/bot123:ABC/sendMessage", path)
	assert.Equal(t, "-1001", got.ChatID)
	assert.Equal(t, "HTML", got.ParseMode)
	assert.Contains(t, got.Text, "311-24681357")
	assert.Contains(t, got.Text, "382 Bridge St")
}

func TestSendSubmissionResultFailureEscapesHTML(t *testing.T) {
	var got Message
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	err := c.SendSubmissionResult(context.Background(), "req-2", "A & B <St>", "", errors.New("navigation: <select> missing"))
	require.NoError(t, err)
	assert.Contains(t, got.Text, "Complaint failed")
	assert.Contains(t, got.Text, "A &amp; B &lt;St&gt;")
	assert.Contains(t, got.Text, "&lt;select&gt;")
}

func TestSendCriticalAlertAPIError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	})

	err := c.SendCriticalAlert(context.Background(), "browser", "launch failed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestSendSubmissionResultCaptchaFailureAsksForAction(t *testing.T) {
	var got Message
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	err := c.SendSubmissionResult(context.Background(), "req-3", "382 Bridge St", "",
		apperrors.NewCaptchaUnavailableError("ERROR_ZERO_BALANCE", nil))
	require.NoError(t, err)
	assert.Contains(t, got.Text, "2captcha balance")

	err = c.SendSubmissionResult(context.Background(), "req-4", "382 Bridge St", "",
		apperrors.NewNoTrackingNumberError(nil))
	require.NoError(t, err)
	assert.NotContains(t, got.Text, "2captcha balance")
}
