package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/jakopako/dealskyr/internal/types"
)

const (
	itemsFilename  = "deals.json"
	statusFilename = "status.json"
)

// FileWriter represents a writer that writes to a file
type FileWriter struct {
	*WriterConfig
	logger *slog.Logger
}

// NewFileWriter returns a new FileWriter
func NewFileWriter(wc *WriterConfig) (*FileWriter, error) {
	if wc.FileDir == "" {
		return nil, errors.New("filedir needs to be specified for the FileWriter")
	}

	if err := os.MkdirAll(wc.FileDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", wc.FileDir, err)
	}

	return &FileWriter{
		WriterConfig: wc,
		logger:       slog.With(slog.String("writer", string(FILE_WRITER_TYPE))),
	}, nil
}

func (w *FileWriter) Write(ctx context.Context, records []types.DealRecord) error {
	path := filepath.Join(w.FileDir, itemsFilename)
	if err := w.writeJSON(path, records); err != nil {
		return err
	}
	w.logger.Info(fmt.Sprintf("wrote %d deals to file %s", len(records), path))
	return nil
}

func (w *FileWriter) WriteStatus(ctx context.Context, status types.RunStatus) error {
	path := filepath.Join(w.FileDir, statusFilename)
	if err := w.writeJSON(path, status); err != nil {
		return err
	}
	w.logger.Info(fmt.Sprintf("wrote status to file %s", path))
	return nil
}

func (w *FileWriter) writeJSON(path string, v any) error {
	b, err := marshalIndent(v)
	if err != nil {
		return fmt.Errorf("error while encoding json: %w", err)
	}
	if err := renameio.WriteFile(path, b, 0644); err != nil {
		return fmt.Errorf("error while writing file %s: %w", path, err)
	}
	return nil
}
