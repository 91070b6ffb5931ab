// Package portal drives the NYC 311 illegal-parking report pages.
//
// A Navigator knows the page structure and nothing about ordering: the
// submission workflow decides which step runs when. Every method takes a
// context derived from a browser.Session context, so each call acts on that
// session's tab only.
//
// Waits are declared as readiness steps (see readiness.go) instead of fixed
// sleeps. Each step has its own deadline and is either fatal or best-effort.
package portal

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"pimbl/internal/auth"
	apperrors "pimbl/internal/errors"
)

// Options configures a Navigator.
type Options struct {
	LandingURL  string // defaults to LandingURL
	Location    *time.Location
	Retry       RetryPolicy
	Credentials auth.Credentials // sign in first when Enabled
}

var _ AddressWidget = (*Navigator)(nil)

// Navigator performs the portal steps of one report.
type Navigator struct {
	landingURL string
	loc        *time.Location
	retry      RetryPolicy
	creds      auth.Credentials
	logger     *zap.Logger

	run func(ctx context.Context, actions ...chromedp.Action) error
}

// NewNavigator creates a Navigator. It holds no browser state and may be
// shared between sessions.
func NewNavigator(opts Options, logger *zap.Logger) *Navigator {
	if opts.LandingURL == "" {
		opts.LandingURL = LandingURL
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = DefaultRetryPolicy(true)
	}
	return &Navigator{
		landingURL: opts.LandingURL,
		loc:        opts.Location,
		retry:      opts.Retry,
		creds:      opts.Credentials,
		logger:     logger,
		run:        chromedp.Run,
	}
}

// OpenLanding signs in when credentials are configured, then loads the
// illegal-parking article.
func (n *Navigator) OpenLanding(ctx context.Context) error {
	if n.creds.Enabled() {
		if err := auth.Login(ctx, n.landingURL, n.creds, n.logger); err != nil {
			return err
		}
	}

	n.logger.Info("→ Opening landing page...")
	navCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	err := n.run(navCtx, chromedp.Navigate(n.landingURL))
	cancel()
	if err != nil {
		return apperrors.NewNavigationError("failed to open landing page", err)
	}
	return n.await(ctx, "landing", settled()...)
}

// EnterFlow opens the report form from the landing article.
func (n *Navigator) EnterFlow(ctx context.Context) error {
	n.logger.Info("→ Entering report flow...")
	return n.await(ctx, "landing",
		clickButton(entryButton, 20*time.Second),
		readiness{
			name:    fmt.Sprintf("click %q", entryConfirmation),
			action:  pollTrue(clickTextScript(entryConfirmation)),
			timeout: 20 * time.Second,
			fatal:   true,
		},
	)
}

// FillWhat fills the "What" page and advances.
func (n *Navigator) FillWhat(ctx context.Context, problemDetail string, observedAt time.Time, description string, attachments []string) error {
	n.logger.Info("→ Filling What page...", zap.String("problem_detail", problemDetail), zap.Int("attachments", len(attachments)))

	observed := FormatDateTime(observedAt, n.loc)
	err := n.await(ctx, "what",
		visible("problem detail select", problemDetailSelect, 30*time.Second),
		readiness{
			name:    "select problem detail",
			action:  pollTrue(selectOptionScript(problemDetailSelect, problemDetail)),
			timeout: 10 * time.Second,
			fatal:   true,
		},
		readiness{
			name:    "fill " + observedLabel,
			action:  pollTrue(fillByLabelScript(observedLabel, observed)),
			timeout: 10 * time.Second,
			fatal:   true,
		},
		readiness{
			name:    "fill " + describeLabel,
			action:  pollTrue(fillByLabelScript(describeLabel, description)),
			timeout: 10 * time.Second,
			fatal:   true,
		},
	)
	if err != nil {
		return err
	}

	for i, path := range attachments {
		if err := n.attach(ctx, path); err != nil {
			return err
		}
		n.logger.Debug("attachment added", zap.Int("index", i), zap.String("path", path))
	}

	return n.next(ctx, "what")
}

// attach uploads one file through the portal's attachment dialog: the first
// click opens it, the second confirms.
func (n *Navigator) attach(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return apperrors.NewNavigationError("attachment path", err)
	}

	var inputs []*cdp.Node
	setFile := chromedp.ActionFunc(func(ctx context.Context) error {
		if len(inputs) == 0 {
			return errors.New("no file input on page")
		}
		return dom.SetFileInputFiles([]string{abs}).WithNodeID(inputs[len(inputs)-1].NodeID).Do(ctx)
	})

	steps := []readiness{
		clickButton(addAttachment, 15*time.Second),
		{name: "file input", action: chromedp.Nodes(fileInputs, &inputs, chromedp.ByQueryAll), timeout: 10 * time.Second, fatal: true},
		{name: "set file", action: setFile, timeout: 30 * time.Second, fatal: true},
		clickButton(addAttachment, 15*time.Second),
	}
	steps = append(steps, settled()...)
	return n.await(ctx, "what", steps...)
}

// FillWhere resolves the address through the search dialog and advances.
func (n *Navigator) FillWhere(ctx context.Context, address string) error {
	n.logger.Info("→ Filling Where page...", zap.String("address", address))

	steps := append(settled(), visible("address trigger", selectAddressTrigger, 30*time.Second))
	if err := n.await(ctx, "where", steps...); err != nil {
		return err
	}

	if err := ResolveAddress(ctx, n, address, n.retry, n.logger); err != nil {
		return err
	}

	if err := n.await(ctx, "where", clickButton(selectAddressButton, 15*time.Second)); err != nil {
		return err
	}
	return n.next(ctx, "where")
}

// ActivateSearch opens the address search dialog.
func (n *Navigator) ActivateSearch(ctx context.Context) error {
	return n.await(ctx, "where", readiness{
		name:    "open address search",
		action:  chromedp.Click(selectAddressTrigger, chromedp.ByQuery, chromedp.NodeVisible),
		timeout: 15 * time.Second,
		fatal:   true,
	})
}

// WaitSearchReady waits for the search input to be visible and enabled.
func (n *Navigator) WaitSearchReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return n.run(ctx,
		chromedp.WaitVisible(addressSearchInput, chromedp.ByQuery),
		chromedp.WaitEnabled(addressSearchInput, chromedp.ByQuery),
	)
}

// TypeAddress clears the search box and types address key by key so the
// autocomplete sees real keystrokes.
func (n *Navigator) TypeAddress(ctx context.Context, address string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return n.run(ctx,
		chromedp.Clear(addressSearchInput, chromedp.ByQuery),
		chromedp.SendKeys(addressSearchInput, address, chromedp.ByQuery),
	)
}

// ClickFirstSuggestion clicks the first autocomplete entry.
func (n *Navigator) ClickFirstSuggestion(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return n.run(ctx, chromedp.Click(addressSuggestion, chromedp.ByQuery, chromedp.NodeVisible))
}

// SearchDisabled reports whether the address search input is disabled.
func (n *Navigator) SearchDisabled(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var disabled bool
	err := n.run(ctx, chromedp.Evaluate(addressSearchDisabledScript, &disabled))
	return disabled, err
}

// SkipWho advances past the contact page without entering anything.
func (n *Navigator) SkipWho(ctx context.Context) error {
	n.logger.Info("→ Skipping Who page...")
	return n.next(ctx, "who")
}

// ReadSiteKey returns the review page's reCAPTCHA site key.
func (n *Navigator) ReadSiteKey(ctx context.Context) (string, error) {
	steps := append(settled(), readiness{
		name:    "recaptcha widget",
		action:  pollTrue(recaptchaPresentScript),
		timeout: 20 * time.Second,
	})
	if err := n.await(ctx, "review", steps...); err != nil {
		return "", err
	}

	evalCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var siteKey string
	if err := n.run(evalCtx, chromedp.Evaluate(siteKeyScript, &siteKey)); err != nil {
		return "", apperrors.NewNoCaptchaSiteKeyError(err)
	}
	if siteKey == "" {
		return "", apperrors.NewNoCaptchaSiteKeyError(nil)
	}
	n.logger.Debug("captcha site key found", zap.String("site_key", siteKey))
	return siteKey, nil
}

// PageURL returns the tab's current URL.
func (n *Navigator) PageURL(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var url string
	if err := n.run(ctx, chromedp.Location(&url)); err != nil {
		return "", apperrors.NewNavigationError("read page URL", err)
	}
	return url, nil
}

// InjectCaptchaToken writes a solved token into the page as if the widget
// had been completed by hand.
func (n *Navigator) InjectCaptchaToken(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var res injectResult
	if err := n.run(ctx, chromedp.Evaluate(injectTokenScript(token), &res)); err != nil {
		return apperrors.NewNavigationError("inject captcha token", err)
	}
	if res.Fields == 0 {
		return apperrors.NewNavigationError("inject captcha token", errors.New("no g-recaptcha-response field on page"))
	}
	n.logger.Info("✓ Captcha token injected", zap.Int("fields", res.Fields), zap.Int("callbacks", res.Callbacks))
	return nil
}

// CompleteAndSubmit presses the final button and reads the service request
// number from the confirmation page.
func (n *Navigator) CompleteAndSubmit(ctx context.Context) (string, error) {
	n.logger.Info("→ Submitting report...")
	steps := append(settled(), clickButton(completeSubmitButton, 15*time.Second))
	if err := n.await(ctx, "review", steps...); err != nil {
		return "", err
	}

	readCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	var (
		number string
		ok     bool
	)
	if err := n.run(readCtx, chromedp.AttributeValue(trackingNumberField, "value", &number, &ok, chromedp.ByQuery)); err != nil {
		return "", apperrors.NewNoTrackingNumberError(err)
	}
	if !ok || number == "" {
		return "", apperrors.NewNoTrackingNumberError(nil)
	}
	n.logger.Info("✓ Report submitted", zap.String("service_request_number", number))
	return number, nil
}

func (n *Navigator) next(ctx context.Context, page string) error {
	steps := append(settled(), clickButton(nextButton, 20*time.Second))
	return n.await(ctx, page, steps...)
}
