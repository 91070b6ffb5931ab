package portal

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	apperrors "pimbl/internal/errors"
)

// readiness is one condition the page must reach before the flow moves on.
// Fatal steps abort the submission; the rest are logged and skipped.
type readiness struct {
	name    string
	action  chromedp.Action
	timeout time.Duration
	fatal   bool
}

const pollInterval = 100 * time.Millisecond

// pollTrue waits until expr evaluates truthy in the page.
func pollTrue(expr string) chromedp.Action {
	return chromedp.Poll(expr, nil, chromedp.WithPollingInterval(pollInterval))
}

// settled is checked before every navigation click: the portal re-renders
// sections after postbacks and swallows clicks while a busy overlay is up.
func settled() []readiness {
	return []readiness{
		{name: "document complete", action: pollTrue(documentCompleteScript), timeout: 15 * time.Second},
		{name: "busy overlay cleared", action: pollTrue(busyClearedScript), timeout: 5 * time.Second},
	}
}

func visible(name, selector string, timeout time.Duration) readiness {
	return readiness{
		name:    name,
		action:  chromedp.WaitVisible(selector, chromedp.ByQuery),
		timeout: timeout,
		fatal:   true,
	}
}

// clickButton waits for a visible button named name and clicks it.
func clickButton(name string, timeout time.Duration) readiness {
	return readiness{
		name:    fmt.Sprintf("click %q", name),
		action:  pollTrue(clickButtonScript(name)),
		timeout: timeout,
		fatal:   true,
	}
}

// await runs each step in order, each under its own deadline. A step that
// fails because the parent context ended is always fatal.
func (n *Navigator) await(ctx context.Context, page string, steps ...readiness) error {
	for _, step := range steps {
		stepCtx, cancel := context.WithTimeout(ctx, step.timeout)
		started := time.Now()
		err := n.run(stepCtx, step.action)
		cancel()

		if err == nil {
			n.logger.Debug("ready", zap.String("page", page), zap.String("step", step.name), zap.Duration("took", time.Since(started)))
			continue
		}
		if ctx.Err() != nil {
			return apperrors.NewNavigationError(fmt.Sprintf("%s: %s", page, step.name), ctx.Err())
		}
		if step.fatal {
			n.logger.Error("✗ Page not ready", zap.String("page", page), zap.String("step", step.name), zap.Error(err))
			return apperrors.NewNavigationError(fmt.Sprintf("%s: %s", page, step.name), err)
		}
		n.logger.Debug("readiness step skipped", zap.String("page", page), zap.String("step", step.name), zap.Error(err))
	}
	return nil
}
