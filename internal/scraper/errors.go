package scraper

import (
	"context"
	"errors"
	"fmt"
)

// ErrNavigation indicates that a page could not be loaded.
type ErrNavigation struct {
	URL string
	Err error
}

func (e ErrNavigation) Error() string {
	return fmt.Errorf("navigation to %s: %w", e.URL, e.Err).Error()
}

func (e ErrNavigation) Unwrap() error {
	return e.Err
}

// ErrSnapshot indicates that the rendered page could not be read.
type ErrSnapshot struct {
	Err error
}

func (e ErrSnapshot) Error() string {
	return fmt.Errorf("snapshot: %w", e.Err).Error()
}

func (e ErrSnapshot) Unwrap() error {
	return e.Err
}

// ErrSession indicates that no browser session could be opened.
type ErrSession struct {
	Err error
}

func (e ErrSession) Error() string {
	return fmt.Errorf("session: %w", e.Err).Error()
}

func (e ErrSession) Unwrap() error {
	return e.Err
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var session ErrSession
	if errors.As(err, &session) {
		return "session"
	}
	var nav ErrNavigation
	if errors.As(err, &nav) {
		return "navigation"
	}
	var snap ErrSnapshot
	if errors.As(err, &snap) {
		return "snapshot"
	}
	return "other"
}
