package portal

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	apperrors "pimbl/internal/errors"
)

// observedNavigator returns a navigator whose browser calls all succeed
// without touching the page, and the log it writes to.
func observedNavigator(t *testing.T) (*Navigator, *observer.ObservedLogs, *int) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	n := NewNavigator(Options{Retry: RetryPolicy{Attempts: 1, BaseTimeout: 50 * time.Millisecond}}, zap.New(core))
	calls := 0
	n.run = func(context.Context, ...chromedp.Action) error {
		calls++
		return nil
	}
	return n, logs, &calls
}

// stepNames lists the readiness steps that completed, in order.
func stepNames(logs *observer.ObservedLogs) []string {
	var names []string
	for _, e := range logs.FilterMessage("ready").All() {
		names = append(names, e.ContextMap()["step"].(string))
	}
	return names
}

func TestFillWhatAttachesEachFileInOrder(t *testing.T) {
	n, logs, calls := observedNavigator(t)
	files := []string{"/tmp/first.jpg", "/tmp/second.jpg"}

	err := n.FillWhat(context.Background(), "Blocked Bike Lane", time.Date(2025, 11, 3, 16, 51, 0, 0, time.UTC), "Car in lane", files)
	require.NoError(t, err)

	clickAttach := fmt.Sprintf("click %q", addAttachment)
	attachRound := []string{clickAttach, "file input", "set file", clickAttach, "document complete", "busy overlay cleared"}

	want := []string{
		"problem detail select",
		"select problem detail",
		"fill " + observedLabel,
		"fill " + describeLabel,
	}
	want = append(want, attachRound...)
	want = append(want, attachRound...)
	want = append(want, "document complete", "busy overlay cleared", fmt.Sprintf("click %q", nextButton))

	assert.Equal(t, want, stepNames(logs))
	assert.Equal(t, len(want), *calls)

	var attached []string
	for _, e := range logs.FilterMessage("attachment added").All() {
		attached = append(attached, e.ContextMap()["path"].(string))
	}
	assert.Equal(t, files, attached)
}

func TestFillWhereSelectsAddressBeforeNext(t *testing.T) {
	n, logs, _ := observedNavigator(t)

	require.NoError(t, n.FillWhere(context.Background(), "382 Bridge St"))

	assert.Equal(t, []string{
		"document complete",
		"busy overlay cleared",
		"address trigger",
		"open address search",
		fmt.Sprintf("click %q", selectAddressButton),
		"document complete",
		"busy overlay cleared",
		fmt.Sprintf("click %q", nextButton),
	}, stepNames(logs))
}

func TestFillWhereStopsWhenAddressUnresolved(t *testing.T) {
	n, logs, _ := observedNavigator(t)
	n.run = func(ctx context.Context, _ ...chromedp.Action) error {
		// Only the suggestion click runs under the short base timeout.
		if d, ok := ctx.Deadline(); ok && time.Until(d) <= 100*time.Millisecond {
			return errors.New("no suggestion")
		}
		return nil
	}

	err := n.FillWhere(context.Background(), "382 Bridge St")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindAddressNotResolved, apperrors.KindOf(err))
	assert.NotContains(t, stepNames(logs), fmt.Sprintf("click %q", selectAddressButton))
}

func TestReadSiteKeyEmptyIsNoSiteKey(t *testing.T) {
	n, _, _ := observedNavigator(t)

	key, err := n.ReadSiteKey(context.Background())
	require.Error(t, err)
	assert.Empty(t, key)
	assert.Equal(t, apperrors.KindNoCaptchaSiteKey, apperrors.KindOf(err))
}

func TestReadSiteKeyEvaluateFailure(t *testing.T) {
	n, _, _ := observedNavigator(t)
	n.run = func(context.Context, ...chromedp.Action) error { return errors.New("target closed") }

	// The widget wait is best-effort, so only the evaluation error surfaces.
	_, err := n.ReadSiteKey(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNoCaptchaSiteKey, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "target closed")
}

func TestInjectCaptchaTokenWithoutField(t *testing.T) {
	n, _, _ := observedNavigator(t)

	err := n.InjectCaptchaToken(context.Background(), "03AGdBq24")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNavigation, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "g-recaptcha-response")
}

func TestCompleteAndSubmitEmptyTrackingNumber(t *testing.T) {
	n, logs, _ := observedNavigator(t)

	number, err := n.CompleteAndSubmit(context.Background())
	require.Error(t, err)
	assert.Empty(t, number)
	assert.Equal(t, apperrors.KindNoTrackingNumber, apperrors.KindOf(err))
	assert.Contains(t, stepNames(logs), fmt.Sprintf("click %q", completeSubmitButton))
}

func TestCompleteAndSubmitButtonMissing(t *testing.T) {
	n, _, _ := observedNavigator(t)
	calls := 0
	n.run = func(context.Context, ...chromedp.Action) error {
		calls++
		if calls == 3 { // after the two settle checks
			return errors.New("button never appeared")
		}
		return nil
	}

	_, err := n.CompleteAndSubmit(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNavigation, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), completeSubmitButton)
}
