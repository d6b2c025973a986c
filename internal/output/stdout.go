package output

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jakopako/dealskyr/internal/types"
)

// StdoutWriter represents a writer that writes to stdout
type StdoutWriter struct {
	out    io.Writer
	logger *slog.Logger
}

// NewStdoutWriter returns a new StdoutWriter
func NewStdoutWriter(wc *WriterConfig) *StdoutWriter {
	return &StdoutWriter{
		out:    os.Stdout,
		logger: slog.With(slog.String("writer", string(STDOUT_WRITER_TYPE))),
	}
}

func (w *StdoutWriter) Write(ctx context.Context, records []types.DealRecord) error {
	b, err := marshalIndent(records)
	if err != nil {
		return fmt.Errorf("error while encoding deals: %w", err)
	}
	_, err = w.out.Write(b)
	return err
}

func (w *StdoutWriter) WriteStatus(ctx context.Context, status types.RunStatus) error {
	b, err := marshalIndent(status)
	if err != nil {
		return fmt.Errorf("error while marshalling status json: %w", err)
	}
	w.logger.Info(fmt.Sprintf("printing run status for source '%s'", status.Source))
	_, err = w.out.Write(b)
	return err
}
