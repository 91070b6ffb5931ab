// Package submission sequences one complaint through the portal.
//
// The Workflow owns ordering, validation, the submit/dry-run decision and the
// session lifecycle. Page mechanics live behind Navigator, CAPTCHA solving
// behind Solver, and browser isolation behind Sessions, so the whole flow can
// be exercised without a browser.
package submission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pimbl/internal/captcha"
	apperrors "pimbl/internal/errors"
)

// Navigator performs the portal's page steps. Every method acts on the tab
// bound to ctx.
type Navigator interface {
	OpenLanding(ctx context.Context) error
	EnterFlow(ctx context.Context) error
	FillWhat(ctx context.Context, category string, observedAt time.Time, description string, attachments []string) error
	FillWhere(ctx context.Context, address string) error
	SkipWho(ctx context.Context) error
	ReadSiteKey(ctx context.Context) (string, error)
	PageURL(ctx context.Context) (string, error)
	InjectCaptchaToken(ctx context.Context, token string) error
	CompleteAndSubmit(ctx context.Context) (string, error)
}

// Solver turns a CAPTCHA challenge into a response token.
type Solver interface {
	Solve(ctx context.Context, ch captcha.Challenge) (string, error)
}

// Result is the outcome of a completed workflow.
type Result struct {
	RequestID            string
	State                State
	ServiceRequestNumber string
	SubmittedAt          time.Time
}

// Options tunes a Workflow.
type Options struct {
	NoSubmit bool          // stop at Review and return the dry-run placeholder
	Timeout  time.Duration // upper bound for one submission; 0 means none
}

// Workflow runs submissions. It is safe for concurrent use as long as the
// Sessions implementation is.
type Workflow struct {
	sessions Sessions
	nav      Navigator
	solver   Solver
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

// NewWorkflow wires a workflow from its collaborators.
func NewWorkflow(sessions Sessions, nav Navigator, solver Solver, opts Options, logger *zap.Logger) *Workflow {
	return &Workflow{
		sessions: sessions,
		nav:      nav,
		solver:   solver,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// tracker records the current state and logs every transition.
type tracker struct {
	state  State
	logger *zap.Logger
}

func (t *tracker) enter(next State) {
	if !t.state.canEnter(next) {
		// A programming error in the step order, not a runtime condition.
		panic(fmt.Sprintf("submission: illegal transition %s -> %s", t.state, next))
	}
	t.logger.Debug("state transition", zap.Stringer("from", t.state), zap.Stringer("state", next))
	t.state = next
}

func (t *tracker) fail(err error) error {
	t.logger.Error("✗ Submission failed",
		zap.Stringer("state", t.state),
		zap.Stringer("kind", apperrors.KindOf(err)),
		zap.Error(err),
	)
	t.enter(StateFailed)
	return err
}

// Run submits req and returns the portal's service request number, or the
// dry-run placeholder when NoSubmit is set.
//
// Validation happens before a browser session is acquired. The session is
// released on every exit path. Cancelling ctx aborts the in-flight page step.
func (w *Workflow) Run(ctx context.Context, req Request) (Result, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	logger := w.logger.With(zap.String("request_id", req.ID))
	t := &tracker{state: StateStart, logger: logger}
	res := Result{RequestID: req.ID, State: StateStart}

	if err := req.Validate(); err != nil {
		res.State = StateFailed
		return res, t.fail(err)
	}

	logger.Info("→ Starting submission",
		zap.String("category", req.ProblemCategory),
		zap.String("address", req.Address),
		zap.Int("attachments", len(req.Attachments)),
		zap.Bool("no_submit", w.opts.NoSubmit),
	)

	sess, err := w.sessions.Acquire(ctx)
	if err != nil {
		res.State = StateFailed
		return res, t.fail(err)
	}
	defer sess.Release()

	runCtx, cancel := w.boundContext(sess.Context())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	number, err := w.drive(runCtx, t, req)
	res.State = t.state
	if err != nil {
		res.State = StateFailed
		return res, t.fail(err)
	}

	res.ServiceRequestNumber = number
	res.SubmittedAt = w.now()
	logger.Info("✓ Submission finished", zap.Stringer("state", t.state), zap.String("service_request_number", number))
	return res, nil
}

func (w *Workflow) boundContext(parent context.Context) (context.Context, context.CancelFunc) {
	if w.opts.Timeout > 0 {
		return context.WithTimeout(parent, w.opts.Timeout)
	}
	return context.WithCancel(parent)
}

// drive walks the pages in order. It leaves t in the last state reached.
func (w *Workflow) drive(ctx context.Context, t *tracker, req Request) (string, error) {
	t.enter(StateLanding)
	if err := w.nav.OpenLanding(ctx); err != nil {
		return "", err
	}
	if err := w.nav.EnterFlow(ctx); err != nil {
		return "", err
	}

	t.enter(StateWhat)
	if err := w.nav.FillWhat(ctx, req.ProblemCategory, req.ObservedAt, req.Description, req.Attachments); err != nil {
		return "", err
	}

	t.enter(StateWhere)
	if err := w.nav.FillWhere(ctx, req.Address); err != nil {
		return "", err
	}

	t.enter(StateWho)
	if err := w.nav.SkipWho(ctx); err != nil {
		return "", err
	}

	t.enter(StateReview)
	siteKey, err := w.nav.ReadSiteKey(ctx)
	if err != nil {
		return "", err
	}

	if w.opts.NoSubmit {
		t.logger.Info("Dry run, not submitting", zap.String("site_key", siteKey))
		t.enter(StateNoSubmitDryRun)
		return DryRunServiceRequestNumber, nil
	}

	pageURL, err := w.nav.PageURL(ctx)
	if err != nil {
		return "", err
	}

	t.enter(StateCaptchaPending)
	t.logger.Info("→ Solving captcha...")
	token, err := w.solver.Solve(ctx, captcha.Challenge{SiteKey: siteKey, PageURL: pageURL})
	if err != nil {
		return "", err
	}
	if err := w.nav.InjectCaptchaToken(ctx, token); err != nil {
		return "", err
	}

	number, err := w.nav.CompleteAndSubmit(ctx)
	if err != nil {
		return "", err
	}
	t.enter(StateSubmitted)
	return number, nil
}
