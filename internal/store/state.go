package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jakopako/dealskyr/internal/log"
)

// State bundles the three persisted files.
type State struct {
	Seen     *SeenStore
	Position *PositionStore
	Cookies  *CookieStore
}

func NewState(seenPath, positionPath, cookiesPath string) *State {
	return &State{
		Seen:     NewSeenStore(seenPath),
		Position: NewPositionStore(positionPath),
		Cookies:  NewCookieStore(cookiesPath),
	}
}

// Reset clears all cross-run state. Every file is attempted even if an
// earlier one fails; the joined error is returned.
func (s *State) Reset(ctx context.Context) error {
	logger := log.LoggerFromContext(ctx)
	var errs []error
	for _, c := range []struct {
		path  string
		clear func() error
	}{
		{s.Seen.Path(), s.Seen.Clear},
		{s.Position.Path(), s.Position.Clear},
		{s.Cookies.Path(), s.Cookies.Clear},
	} {
		if err := c.clear(); err != nil {
			errs = append(errs, err)
			continue
		}
		logger.Info("cleared state file", slog.String("file", c.path))
	}
	return errors.Join(errs...)
}

// EnforceThreshold resets all state if the seen set grew beyond threshold
// and reports whether a reset happened.
func (s *State) EnforceThreshold(ctx context.Context, threshold int) (bool, error) {
	seen := s.Seen.Load(ctx)
	if !ExceedsThreshold(seen, threshold) {
		return false, nil
	}
	log.LoggerFromContext(ctx).Warn(fmt.Sprintf("seen ids count (%d) exceeds %d, clearing all state", len(seen), threshold))
	return true, s.Reset(ctx)
}
