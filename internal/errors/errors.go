// Package errors provides the error taxonomy for complaint submission.
//
// Every failure that can end a submission is a *SubmissionError carrying a
// Kind. The HTTP layer and the detached workers switch on the Kind to decide
// the response status and the alert text, so callers should construct errors
// through the New* helpers below rather than with fmt.Errorf.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies why a submission failed.
type Kind int

const (
	// KindUnknown is reported by KindOf for errors outside this taxonomy.
	KindUnknown Kind = iota

	// KindValidation: the request can never succeed (e.g. too many photos).
	// Raised before any browser work.
	KindValidation

	// KindNavigation: a required element or page never reached the expected state.
	KindNavigation

	// KindAddressNotResolved: the autocomplete retry budget was exhausted.
	KindAddressNotResolved

	// KindCaptchaUnavailable: the solving service reported a terminal error.
	KindCaptchaUnavailable

	// KindCaptchaTimeout: no solution arrived within the polling budget.
	KindCaptchaTimeout

	// KindNoCaptchaSiteKey: the review page exposed no reCAPTCHA site key.
	KindNoCaptchaSiteKey

	// KindNoTrackingNumber: the confirmation page had an empty tracking field.
	KindNoTrackingNumber

	// KindExternalService: transport failure talking to geocoding or the solver.
	KindExternalService

	// KindLoginFailed: portal sign-in was configured but did not complete.
	KindLoginFailed
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindValidation:         "validation",
	KindNavigation:         "navigation",
	KindAddressNotResolved: "address not resolved",
	KindCaptchaUnavailable: "captcha unavailable",
	KindCaptchaTimeout:     "captcha timeout",
	KindNoCaptchaSiteKey:   "no captcha site key",
	KindNoTrackingNumber:   "no tracking number",
	KindExternalService:    "external service",
	KindLoginFailed:        "login failed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// SubmissionError is the single error type returned by the submission core.
//
// Fields:
//   - Kind: failure class, see the Kind constants
//   - Message: human-readable context ("failed to open landing page")
//   - Err: underlying cause, may be nil
type SubmissionError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error for error chain inspection
func (e *SubmissionError) Unwrap() error {
	return e.Err
}

func newError(kind Kind, msg string, err error) *SubmissionError {
	return &SubmissionError{Kind: kind, Message: msg, Err: err}
}

// NewValidationError creates an error for a request that fails validation.
func NewValidationError(msg string) *SubmissionError {
	return newError(KindValidation, msg, nil)
}

// NewNavigationError creates an error for a page or element that never became usable.
func NewNavigationError(msg string, err error) *SubmissionError {
	return newError(KindNavigation, msg, err)
}

// NewAddressNotResolvedError creates an error for an exhausted address retry budget.
func NewAddressNotResolvedError(address string, attempts int) *SubmissionError {
	return newError(KindAddressNotResolved, fmt.Sprintf("no suggestion accepted for %q after %d attempts", address, attempts), nil)
}

// NewCaptchaUnavailableError creates an error for a terminal solver-side failure.
func NewCaptchaUnavailableError(msg string, err error) *SubmissionError {
	return newError(KindCaptchaUnavailable, msg, err)
}

// NewCaptchaTimeoutError creates an error for an exhausted poll budget.
func NewCaptchaTimeoutError(polls int) *SubmissionError {
	return newError(KindCaptchaTimeout, fmt.Sprintf("no solution after %d polls", polls), nil)
}

// NewNoCaptchaSiteKeyError creates an error for a review page without a site key.
func NewNoCaptchaSiteKeyError(err error) *SubmissionError {
	return newError(KindNoCaptchaSiteKey, "review page exposes no reCAPTCHA site key", err)
}

// NewNoTrackingNumberError creates an error for an empty confirmation field.
func NewNoTrackingNumberError(err error) *SubmissionError {
	return newError(KindNoTrackingNumber, "confirmation page has no service request number", err)
}

// NewExternalServiceError creates an error for a transport failure to a third party.
func NewExternalServiceError(service string, err error) *SubmissionError {
	return newError(KindExternalService, service, err)
}

// NewLoginFailedError creates an error for a portal sign-in that did not complete.
func NewLoginFailedError(msg string, err error) *SubmissionError {
	return newError(KindLoginFailed, msg, err)
}

// KindOf returns the Kind of the first SubmissionError in err's chain,
// or KindUnknown if there is none.
func KindOf(err error) Kind {
	var se *SubmissionError
	if stderrors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// IsValidation checks if the error is a validation error
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// IsCaptchaFailure checks if the error came from the solving service
func IsCaptchaFailure(err error) bool {
	k := KindOf(err)
	return k == KindCaptchaUnavailable || k == KindCaptchaTimeout
}

// IsExternal reports whether the failure was caused by a third-party service
// rather than by the request or the portal.
func IsExternal(err error) bool {
	k := KindOf(err)
	return k == KindExternalService || k == KindCaptchaUnavailable || k == KindCaptchaTimeout
}
