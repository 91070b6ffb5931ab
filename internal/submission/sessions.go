package submission

import (
	"context"

	"pimbl/internal/browser"
	apperrors "pimbl/internal/errors"
)

// Session is one isolated browsing context held for a single submission.
type Session interface {
	ID() string
	Context() context.Context
	Release()
}

// Sessions hands out fresh isolated sessions.
type Sessions interface {
	Acquire(ctx context.Context) (Session, error)
}

// BrowserSessions acquires sessions from the shared browser handle.
type BrowserSessions struct {
	Handle *browser.Handle
}

// Acquire opens a new browser context and tab.
func (b BrowserSessions) Acquire(ctx context.Context) (Session, error) {
	s, err := b.Handle.NewSession(ctx)
	if err != nil {
		return nil, apperrors.NewNavigationError("failed to open browser session", err)
	}
	return s, nil
}
