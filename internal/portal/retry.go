package portal

import (
	"context"
	"time"

	"go.uber.org/zap"

	apperrors "pimbl/internal/errors"
)

// AddressWidget is the portal's address search dialog.
type AddressWidget interface {
	// ActivateSearch opens the dialog. Failure here is not retried.
	ActivateSearch(ctx context.Context) error
	// WaitSearchReady waits up to timeout for the search box and its map
	// scripts to come up. Best-effort: an error only gets logged.
	WaitSearchReady(ctx context.Context, timeout time.Duration) error
	// TypeAddress replaces the search text with address, key by key.
	TypeAddress(ctx context.Context, address string) error
	// ClickFirstSuggestion clicks the first autocomplete entry, waiting at
	// most timeout for one to appear.
	ClickFirstSuggestion(ctx context.Context, timeout time.Duration) error
	// SearchDisabled reports whether the search input stopped accepting input.
	SearchDisabled(ctx context.Context) (bool, error)
}

// RetryPolicy bounds the address autocomplete loop.
type RetryPolicy struct {
	Attempts     int
	BaseTimeout  time.Duration // suggestion wait on the first attempt, doubled each retry
	Settle       time.Duration // pause after an accepted suggestion
	ReadyTimeout time.Duration // best-effort wait for the search box each attempt
}

// DefaultRetryPolicy returns the policy used in production. Headed browsers
// render the menu more slowly and get one extra attempt.
func DefaultRetryPolicy(headless bool) RetryPolicy {
	attempts := 4
	if !headless {
		attempts = 5
	}
	return RetryPolicy{
		Attempts:     attempts,
		BaseTimeout:  250 * time.Millisecond,
		Settle:       100 * time.Millisecond,
		ReadyTimeout: 5 * time.Second,
	}
}

// SuggestionTimeout is the suggestion wait for a zero-based attempt.
func (p RetryPolicy) SuggestionTimeout(attempt int) time.Duration {
	return p.BaseTimeout << attempt
}

// ResolveAddress drives the autocomplete until a suggestion is accepted.
//
// The portal's widget is flaky: the menu sometimes never renders, or renders
// after the click window closed. Each attempt retypes the address and waits
// twice as long as the previous one. If the search input turns disabled the
// portal has taken an address and the loop stops with success.
//
// TODO: disabled-as-accepted is inferred from observed portal behavior; read
// the selected address back from the page once the confirmation markup is known.
func ResolveAddress(ctx context.Context, w AddressWidget, address string, policy RetryPolicy, logger *zap.Logger) error {
	if err := w.ActivateSearch(ctx); err != nil {
		return apperrors.NewNavigationError("address search did not open", err)
	}

	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return apperrors.NewNavigationError("address resolution interrupted", err)
		}

		timeout := policy.SuggestionTimeout(attempt)
		fields := []zap.Field{
			zap.Int("attempt", attempt+1),
			zap.Int("of", policy.Attempts),
			zap.Duration("timeout", timeout),
		}

		if policy.ReadyTimeout > 0 {
			if err := w.WaitSearchReady(ctx, policy.ReadyTimeout); err != nil {
				logger.Debug("address search not confirmed ready", append(fields, zap.Error(err))...)
			}
		}

		if err := w.TypeAddress(ctx, address); err != nil {
			logger.Warn("⚠️  Could not type address", append(fields, zap.Error(err))...)
		} else if err := w.ClickFirstSuggestion(ctx, timeout); err != nil {
			logger.Debug("no suggestion accepted", append(fields, zap.Error(err))...)
		} else {
			logger.Info("✓ Address suggestion accepted", fields...)
			if err := sleepCtx(ctx, policy.Settle); err != nil {
				return apperrors.NewNavigationError("address resolution interrupted", err)
			}
			return nil
		}

		if err := ctx.Err(); err != nil {
			return apperrors.NewNavigationError("address resolution interrupted", err)
		}

		disabled, err := w.SearchDisabled(ctx)
		if err != nil {
			logger.Debug("could not read address search state", zap.Error(err))
		} else if disabled {
			logger.Warn("⚠️  Address search disabled, treating address as accepted", fields...)
			return nil
		}
	}

	logger.Error("✗ Address not resolved", zap.String("address", address), zap.Int("attempts", policy.Attempts))
	return apperrors.NewAddressNotResolvedError(address, policy.Attempts)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
