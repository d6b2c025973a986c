package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"dario.cat/mergo"
	"github.com/jakopako/dealskyr/internal/log"
)

const DefaultPositionPath = "lastPosition.json"

// Position is the resume point of the indexed pagination. Nil fields are
// absent from the file and are left untouched by Save.
type Position struct {
	LastStartIndex *int    `json:"lastStartIndex,omitempty"`
	LastID         *string `json:"lastId,omitempty"`
	UpdatedAt      int64   `json:"updatedAt,omitempty"`
}

// StartIndex returns the persisted start index or 0.
func (p Position) StartIndex() int {
	if p.LastStartIndex == nil || *p.LastStartIndex < 0 {
		return 0
	}
	return *p.LastStartIndex
}

func (p Position) LastIDOrEmpty() string {
	if p.LastID == nil {
		return ""
	}
	return *p.LastID
}

// PositionStore reads and merge-writes a Position.
type PositionStore struct {
	path string
	now  func() time.Time
}

func NewPositionStore(path string) *PositionStore {
	if path == "" {
		path = DefaultPositionPath
	}
	return &PositionStore{path: path, now: time.Now}
}

func (p *PositionStore) Path() string {
	return p.path
}

func (p *PositionStore) Load(ctx context.Context) Position {
	var pos Position
	if err := readJSON(p.path, &pos); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.LoggerFromContext(ctx).Warn(fmt.Sprintf("failed loading last position: %v", err), slog.String("store", p.path))
		}
		return Position{}
	}
	return pos
}

// Save merges partial into the persisted state. Keys that are not set in
// partial, including keys this version does not know about, are kept.
// updatedAt is always refreshed. Failures are logged, not returned.
func (p *PositionStore) Save(ctx context.Context, partial Position) {
	logger := log.LoggerFromContext(ctx).With(slog.String("store", p.path))
	if err := p.save(partial); err != nil {
		logger.Warn(fmt.Sprintf("failed saving last position: %v", err))
		return
	}
	logger.Debug("saved last position")
}

func (p *PositionStore) save(partial Position) error {
	existing := map[string]any{}
	if err := readJSON(p.path, &existing); err != nil || existing == nil {
		existing = map[string]any{}
	}
	partial.UpdatedAt = 0
	raw, err := json.Marshal(partial)
	if err != nil {
		return err
	}
	update := map[string]any{}
	if err := json.Unmarshal(raw, &update); err != nil {
		return err
	}
	if err := mergo.Merge(&existing, update, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge position: %w", err)
	}
	existing["updatedAt"] = p.now().UnixMilli()
	return writeJSON(p.path, existing)
}

// Clear overwrites the file with an empty object.
func (p *PositionStore) Clear() error {
	return writeJSON(p.path, map[string]any{})
}
