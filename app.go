package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"pimbl/internal/auth"
	"pimbl/internal/browser"
	"pimbl/internal/captcha"
	"pimbl/internal/config"
	"pimbl/internal/geocode"
	"pimbl/internal/logging"
	"pimbl/internal/portal"
	"pimbl/internal/submission"
	"pimbl/internal/telegram"
)

// app holds the long-lived collaborators shared by both commands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	browser  *browser.Handle
	workflow *submission.Workflow
	telegram *telegram.Client
}

// loadApp reads configuration and builds the logger. The browser is not
// started yet.
func loadApp() (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		telegram: telegram.NewClient(cfg.TelegramBotToken, cfg.TelegramChatID, logger),
	}, nil
}

// start launches Chrome and wires the submission workflow. noSubmit
// overrides the configured dry-run flag when true.
func (a *app) start(ctx context.Context, noSubmit bool) error {
	cfg := a.cfg

	handle, err := browser.NewHandle(ctx, browser.Options{
		ExecPath: cfg.ChromePath,
		Headless: cfg.Headless,
		Linger:   cfg.Linger,
	}, a.logger)
	if err != nil {
		if alertErr := a.telegram.SendCriticalAlert(ctx, "Browser launch failed", err.Error()); alertErr != nil {
			a.logger.Warn("⚠️  Failed to send Telegram alert", zap.Error(alertErr))
		}
		return err
	}
	a.browser = handle

	retry := portal.DefaultRetryPolicy(cfg.Headless)
	retry.Attempts = cfg.AddressAttempts
	retry.BaseTimeout = cfg.AddressBaseTimeout

	nav := portal.NewNavigator(portal.Options{
		Location: cfg.Timezone,
		Retry:    retry,
		Credentials: auth.Credentials{
			Email:    cfg.PortalEmail,
			Password: cfg.PortalPassword,
		},
	}, a.logger.Named("portal"))

	solver := captcha.New(cfg.TwoCaptchaAPIKey, a.logger.Named("captcha"),
		captcha.WithPolling(cfg.CaptchaPollInterval, cfg.CaptchaMaxPolls))

	a.workflow = submission.NewWorkflow(
		submission.BrowserSessions{Handle: handle},
		nav,
		solver,
		submission.Options{
			NoSubmit: noSubmit || cfg.NoSubmit,
			Timeout:  cfg.SubmissionTimeout,
		},
		a.logger.Named("workflow"),
	)

	a.logger.Info("✓ Workflow ready",
		zap.Bool("no_submit", noSubmit || cfg.NoSubmit),
		zap.Int("address_attempts", retry.Attempts),
		zap.Duration("address_base_timeout", retry.BaseTimeout),
		zap.Bool("portal_login", cfg.PortalLoginEnabled()),
	)
	return nil
}

// geocoder returns the configured reverse geocoder, or nil when the selected
// provider has no credential. Clients must then send an address.
func (a *app) geocoder() (geocode.Geocoder, error) {
	provider, credential := geocode.ProviderMapsCo, a.cfg.MapsCoAPIKey
	if a.cfg.Geocoder == config.GeocoderGeoNames {
		provider, credential = geocode.ProviderGeoNames, a.cfg.GeoNamesUsername
	}
	if credential == "" {
		a.logger.Warn("⚠️  No geocoder credential configured, coordinates will be rejected",
			zap.String("provider", provider))
		return nil, nil
	}
	return geocode.New(provider, credential)
}

// notify reports a detached submission's outcome to Telegram.
func (a *app) notify(ctx context.Context, o submission.Outcome) {
	err := a.telegram.SendSubmissionResult(ctx, o.Request.ID, o.Request.Address, o.Result.ServiceRequestNumber, o.Err)
	if err != nil {
		a.logger.Warn("⚠️  Failed to send Telegram notification",
			zap.String("request_id", o.Request.ID), zap.Error(err))
	}
}

// close shuts the browser down within ctx.
func (a *app) close(ctx context.Context) error {
	if a.browser == nil {
		return nil
	}
	return a.browser.Close(ctx)
}
