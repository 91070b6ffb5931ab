// Package browser owns the Chrome process shared by all submissions.
//
// One Handle is created at service start and passed explicitly to whoever
// runs submissions. Each submission acquires its own Session: a separate CDP
// browser context (incognito-style profile) with a single tab, so cookies,
// DOM and form state never leak between concurrent requests. Sessions must be
// released on every exit path; Handle.Close tears the process down.
//
// Key features:
//   - Thread-safe session creation against one browser process
//   - Automatic relaunch if the browser died underneath us
//   - Linger mode: sessions stay open for inspection until shutdown
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options configures the Chrome process.
type Options struct {
	ExecPath string // empty lets chromedp find Chrome on PATH
	Headless bool
	Linger   bool // keep sessions open after Release until Close
}

// Handle is the process-wide browser. Safe for concurrent use.
type Handle struct {
	opts   Options
	logger *zap.Logger

	mu            sync.Mutex // Protects the contexts below and lingering
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	lingering     []*Session
	closed        bool
}

// NewHandle launches Chrome and returns the shared handle.
func NewHandle(ctx context.Context, opts Options, logger *zap.Logger) (*Handle, error) {
	h := &Handle{opts: opts, logger: logger}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.launchLocked(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

func allocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.Flag("headless", opts.Headless),
		chromedp.WindowSize(1280, 1024),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	return allocOpts
}

// launchLocked starts a fresh Chrome process. The caller holds h.mu.
func (h *Handle) launchLocked(ctx context.Context) error {
	h.logger.Info("→ Launching browser...", zap.Bool("headless", h.opts.Headless))

	// Detach from the caller's cancellation: the browser outlives the
	// request or command that happened to start it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocatorOptions(h.opts)...)

	sugar := h.logger.Named("chromedp").Sugar()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Warnf),
	)

	// Run with no actions starts the process and its first tab.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		h.logger.Error("✗ Failed to launch browser", zap.Error(err))
		return fmt.Errorf("launch browser: %w", err)
	}

	h.allocCtx, h.allocCancel = allocCtx, allocCancel
	h.browserCtx, h.browserCancel = browserCtx, browserCancel
	h.logger.Info("✓ Browser launched")
	return nil
}

// NewSession opens an isolated browser context with one blank tab.
//
// If the browser process has gone away since the last call it is relaunched
// first, mirroring the restart-on-failure recovery the service relies on
// for long uptimes.
func (h *Handle) NewSession(ctx context.Context) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, fmt.Errorf("browser handle is closed")
	}

	if h.browserCtx.Err() != nil {
		h.logger.Warn("⚠️  Browser context is gone, restarting browser...")
		h.allocCancel()
		if err := h.launchLocked(ctx); err != nil {
			return nil, err
		}
	}

	c := chromedp.FromContext(h.browserCtx)
	if c == nil || c.Browser == nil {
		return nil, fmt.Errorf("browser not started")
	}
	controller := cdp.WithExecutor(h.browserCtx, c.Browser)

	browserContextID, err := target.CreateBrowserContext().Do(controller)
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}

	targetID, err := target.CreateTarget("about:blank").
		WithBrowserContextID(browserContextID).
		Do(controller)
	if err != nil {
		disposeBrowserContext(controller, browserContextID, h.logger)
		return nil, fmt.Errorf("create target: %w", err)
	}

	sessionCtx, cancel := chromedp.NewContext(h.browserCtx, chromedp.WithTargetID(targetID))
	if err := chromedp.Run(sessionCtx); err != nil {
		cancel()
		disposeBrowserContext(controller, browserContextID, h.logger)
		return nil, fmt.Errorf("attach to target: %w", err)
	}

	s := &Session{
		id:               uuid.NewString(),
		ctx:              sessionCtx,
		cancel:           cancel,
		controller:       controller,
		browserContextID: browserContextID,
		logger:           h.logger,
		linger:           h.opts.Linger,
		handle:           h,
	}
	h.logger.Debug("✓ Browser session opened", zap.String("session_id", s.id))
	return s, nil
}

func (h *Handle) keep(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lingering = append(h.lingering, s)
}

// Close releases lingering sessions and shuts the browser down. It returns
// ctx.Err() if the browser did not exit before ctx expired; the caller is
// expected to exit the process anyway.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	lingering := h.lingering
	h.lingering = nil
	browserCtx, allocCancel := h.browserCtx, h.allocCancel
	h.mu.Unlock()

	for _, s := range lingering {
		s.close()
	}

	h.logger.Info("→ Closing browser...")
	done := make(chan error, 1)
	go func() {
		// Blocks until Chrome exits.
		done <- chromedp.Cancel(browserCtx)
	}()

	defer allocCancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			h.logger.Warn("⚠️  Browser shutdown error", zap.Error(err))
		}
		h.logger.Info("✓ Browser closed")
		return nil
	case <-ctx.Done():
		h.logger.Warn("⚠️  Browser shutdown timed out, abandoning process")
		return ctx.Err()
	}
}

// Session is one isolated browsing context bound to one submission.
type Session struct {
	id               string
	ctx              context.Context
	cancel           context.CancelFunc
	controller       context.Context
	browserContextID cdp.BrowserContextID
	logger           *zap.Logger
	linger           bool
	handle           *Handle

	once sync.Once
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Context returns the chromedp context for actions in this session's tab.
func (s *Session) Context() context.Context { return s.ctx }

// Release closes the session. Safe to call more than once. In linger mode the
// tab is left open and closed by Handle.Close instead.
func (s *Session) Release() {
	s.once.Do(func() {
		if s.linger && s.handle != nil {
			s.logger.Info("Lingering browser session left open", zap.String("session_id", s.id))
			s.handle.keep(s)
			return
		}
		s.close()
	})
}

func (s *Session) close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.controller != nil && s.browserContextID != "" {
		disposeBrowserContext(s.controller, s.browserContextID, s.logger)
		s.browserContextID = ""
	}
}

func disposeBrowserContext(controller context.Context, id cdp.BrowserContextID, logger *zap.Logger) {
	if controller.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(controller, 5*time.Second)
	defer cancel()
	if err := target.DisposeBrowserContext(id).Do(ctx); err != nil {
		logger.Debug("best-effort browser context cleanup failed", zap.String("browser_context_id", string(id)), zap.Error(err))
	}
}
