// Package auth signs a browser session into the 311 portal.
//
// Signing in is optional. Anonymous reports are accepted by the portal, but a
// signed-in report is linked to the account and shows up in its history.
// The portal delegates sign-in to a hosted identity page with a plain
// email/password form; no captcha is involved at this step.
package auth

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	apperrors "pimbl/internal/errors"
)

// Identity page selectors.
const (
	signInLink    = `//a[normalize-space()='Sign In']`
	emailField    = "#logonIdentifier"
	passwordField = "#password"
	submitButton  = "#next"
)

// Credentials are the portal account used to sign in.
type Credentials struct {
	Email    string
	Password string
}

// Enabled reports whether both fields are set.
func (c Credentials) Enabled() bool {
	return c.Email != "" && c.Password != ""
}

// Login performs automated sign-in to the portal.
//
// Login flow:
//  1. Navigate to landingURL
//  2. Follow the "Sign In" link to the identity page
//  3. Fill email and password, press the submit button
//  4. Wait for the identity form to go away and confirm the link is gone
//
// ctx must be a chromedp session context. Returns a login-failed
// SubmissionError on any step failure.
func Login(ctx context.Context, landingURL string, creds Credentials, logger *zap.Logger) error {
	logger.Info("  → Navigating to sign-in page...")

	err := runWithin(ctx, 45*time.Second,
		chromedp.Navigate(landingURL),
		chromedp.Click(signInLink, chromedp.BySearch, chromedp.NodeVisible),
		chromedp.WaitVisible(emailField, chromedp.ByQuery),
	)
	if err != nil {
		logger.Error("  ✗ Failed to load sign-in page", zap.Error(err))
		return apperrors.NewLoginFailedError("failed to load sign-in page", err)
	}
	logger.Info("  ✓ Sign-in page loaded")

	logger.Info("  → Submitting login credentials...")
	err = runWithin(ctx, 45*time.Second,
		chromedp.SendKeys(emailField, creds.Email, chromedp.ByQuery),
		chromedp.SendKeys(passwordField, creds.Password, chromedp.ByQuery),
		chromedp.Click(submitButton, chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.WaitNotPresent(emailField, chromedp.ByQuery),
	)
	if err != nil {
		logger.Error("  ✗ Failed to submit login form", zap.Error(err))
		return apperrors.NewLoginFailedError("failed to submit login form", err)
	}

	if !IsSignedIn(ctx) {
		logger.Error("  ✗ Portal still offers Sign In after login")
		return apperrors.NewLoginFailedError("credentials rejected", nil)
	}

	logger.Info("  ✓ Login successful")
	return nil
}

// IsSignedIn checks if the current page shows a signed-in portal.
//
// The portal renders a "Sign In" link only for anonymous visitors, so its
// absence after the redirect is the success signal. Evaluation errors are
// reported as not signed in.
func IsSignedIn(ctx context.Context) bool {
	var signInVisible bool
	err := runWithin(ctx, 10*time.Second,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(signInVisibleScript, &signInVisible),
	)
	return err == nil && !signInVisible
}

const signInVisibleScript = `Array.from(document.querySelectorAll('a'))
	.some((a) => a.textContent.trim() === 'Sign In' && a.offsetParent !== null)`

func runWithin(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}
