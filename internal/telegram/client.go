// Package telegram sends out-of-band notifications to a Telegram chat.
//
// In detached submission mode nobody is waiting on the HTTP response, so the
// outcome of each submission is posted here. Critical failures (browser
// launch, shutdown timeouts) are posted as alerts.
//
// A nil *Client is valid and drops every message, so callers never have to
// check whether Telegram was configured.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pimbl/internal/api"
	apperrors "pimbl/internal/errors"
)

// DefaultBaseURL is the Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// Client represents a Telegram bot client.
//
// Fields:
//   - BotToken: Telegram bot API token
//   - ChatID: Target chat ID for notifications
//   - BaseURL: Bot API root, overridden in tests
type Client struct {
	BotToken   string
	ChatID     string
	BaseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// Message represents a Telegram message for sending.
type Message struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// NewClient creates a client, or returns nil when either setting is empty.
func NewClient(botToken, chatID string, logger *zap.Logger) *Client {
	if botToken == "" || chatID == "" {
		logger.Warn("⚠️  Telegram bot token or chat ID not set. Telegram notifications disabled.",
			zap.Bool("token_set", botToken != ""),
			zap.Bool("chat_id_set", chatID != ""),
		)
		return nil
	}

	logger.Info("✓ Telegram configured successfully")
	return &Client{
		BotToken:   botToken,
		ChatID:     chatID,
		BaseURL:    DefaultBaseURL,
		httpClient: api.GetHTTPClient(),
		logger:     logger,
	}
}

// doRequest calls a Bot API method with a JSON payload.
func (c *Client) doRequest(ctx context.Context, method string, payload any) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	apiURL := fmt.Sprintf("%s/bot%s/%s", c.BaseURL, c.BotToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var result apiResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}
	if !result.OK {
		return fmt.Errorf("telegram API error: %s", result.Description)
	}
	return nil
}

func (c *Client) send(ctx context.Context, text string) error {
	return c.doRequest(ctx, "sendMessage", Message{
		ChatID:                c.ChatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
}

// SendSubmissionResult reports the outcome of one detached submission.
// A nil err means the portal accepted the report.
func (c *Client) SendSubmissionResult(ctx context.Context, requestID, address, serviceRequestNumber string, err error) error {
	if c == nil {
		return nil
	}

	var text string
	if err == nil {
		text = fmt.Sprintf(
			"✅ <b>Complaint submitted</b>\n\n"+
				"<b>Service Request:</b> %s\n"+
				"<b>Address:</b> %s\n"+
				"<b>Request ID:</b> <code>%s</code>",
			html.EscapeString(serviceRequestNumber),
			html.EscapeString(address),
			html.EscapeString(requestID),
		)
	} else {
		text = fmt.Sprintf(
			"❌ <b>Complaint failed</b>\n\n"+
				"<b>Address:</b> %s\n"+
				"<b>Error:</b> %s\n"+
				"<b>Request ID:</b> <code>%s</code>",
			html.EscapeString(address),
			html.EscapeString(err.Error()),
			html.EscapeString(requestID),
		)
		if apperrors.IsCaptchaFailure(err) {
			text += "\n\n⚠️ <b>Action Required:</b> check the 2captcha balance and API key."
		}
	}

	if sendErr := c.send(ctx, text); sendErr != nil {
		c.logger.Warn("⚠️  Failed to send submission result to Telegram", zap.String("request_id", requestID), zap.Error(sendErr))
		return fmt.Errorf("failed to send Telegram message: %w", sendErr)
	}
	return nil
}

// SendCriticalAlert sends an alert for failures that need an operator.
func (c *Client) SendCriticalAlert(ctx context.Context, errorType, errorMsg string) error {
	if c == nil {
		return nil
	}

	c.logger.Info("🚨 Sending critical alert to Telegram...", zap.String("error_type", errorType))

	message := fmt.Sprintf(
		"🚨 <b>CRITICAL ALERT - PIMBL SERVICE</b>\n\n"+
			"<b>Error Type:</b> %s\n"+
			"<b>Error Message:</b> %s\n"+
			"<b>Timestamp:</b> %s\n\n"+
			"⚠️ <b>Action Required:</b> Please check the service immediately.",
		html.EscapeString(errorType),
		html.EscapeString(errorMsg),
		time.Now().Format("2006-01-02 15:04:05"),
	)

	if err := c.send(ctx, message); err != nil {
		return fmt.Errorf("failed to send Telegram alert: %w", err)
	}

	c.logger.Info("✓ Critical alert successfully sent to Telegram")
	return nil
}
