package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"

	"github.com/jakopako/dealskyr/internal/log"
)

const DefaultSeenIDsPath = "seen_ids.json"

// IDSet is the set of identifiers that were already handed to a writer in a
// previous run. An identifier in this set must never be emitted again.
type IDSet map[string]struct{}

func NewIDSet(ids ...string) IDSet {
	s := IDSet{}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Add(id string) {
	if id != "" {
		s[id] = struct{}{}
	}
}

// Sorted returns the identifiers in a stable order.
func (s IDSet) Sorted() []string {
	return slices.Sorted(maps.Keys(s))
}

// ExceedsThreshold reports whether the set grew beyond threshold. A
// threshold <= 0 disables the check.
func ExceedsThreshold(s IDSet, threshold int) bool {
	return threshold > 0 && len(s) > threshold
}

// SeenStore persists an IDSet as a json array of strings.
type SeenStore struct {
	path string
}

func NewSeenStore(path string) *SeenStore {
	if path == "" {
		path = DefaultSeenIDsPath
	}
	return &SeenStore{path: path}
}

func (s *SeenStore) Path() string {
	return s.path
}

// Load never fails. A missing or unreadable file yields an empty set.
func (s *SeenStore) Load(ctx context.Context) IDSet {
	logger := log.LoggerFromContext(ctx).With(slog.String("store", s.path))
	var ids []string
	if err := readJSON(s.path, &ids); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn(fmt.Sprintf("ignoring unreadable seen ids file: %v", err))
		}
		return IDSet{}
	}
	return NewIDSet(ids...)
}

// Save is best effort. Failures are logged and swallowed so that the result
// of a run is never lost because the history could not be written.
func (s *SeenStore) Save(ctx context.Context, set IDSet) {
	logger := log.LoggerFromContext(ctx).With(slog.String("store", s.path))
	if err := writeJSON(s.path, set.Sorted()); err != nil {
		logger.Warn(fmt.Sprintf("failed saving seen ids: %v", err))
		return
	}
	logger.Debug(fmt.Sprintf("saved %d seen ids", len(set)))
}

// Clear overwrites the file with an empty array.
func (s *SeenStore) Clear() error {
	return writeJSON(s.path, []string{})
}
