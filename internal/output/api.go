package output

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jakopako/dealskyr/internal/types"
)

// APIWriter represents a writer that posts deals in batches to a json
// API, authenticating with basic auth.
type APIWriter struct {
	*WriterConfig
	client *resty.Client
	logger *slog.Logger
}

// NewAPIWriter returns a new APIWriter
func NewAPIWriter(wc *WriterConfig) *APIWriter {
	if wc.BatchSize == 0 {
		wc.BatchSize = 100 // default
	}
	client := resty.New().
		SetTimeout(60*time.Second).
		SetHeader("Content-Type", "application/json")
	if wc.User != "" {
		client.SetBasicAuth(wc.User, wc.Password)
	}
	return &APIWriter{
		WriterConfig: wc,
		client:       client,
		logger:       slog.With(slog.String("writer", string(API_WRITER_TYPE))),
	}
}

func (w *APIWriter) Write(ctx context.Context, records []types.DealRecord) error {
	nrItemsWritten := 0
	for batch := range chunk(records, w.BatchSize) {
		if w.DryRun {
			result, err := w.validateBatch(ctx, batch)
			if err != nil {
				return fmt.Errorf("error while validating batch: %w", err)
			}
			w.logger.Info("validation result", slog.String("result", result))
			continue
		}
		if err := w.persistBatch(ctx, batch); err != nil {
			return fmt.Errorf("error while posting batch (%d of %d deals written): %w", nrItemsWritten, len(records), err)
		}
		nrItemsWritten += len(batch)
	}
	if !w.DryRun {
		w.logger.Info(fmt.Sprintf("wrote %d deals to the api", nrItemsWritten))
	}
	return nil
}

func (w *APIWriter) WriteStatus(ctx context.Context, status types.RunStatus) error {
	if w.UriStatus == "" {
		return nil
	}
	resp, err := w.client.R().SetContext(ctx).SetBody(status).Post(w.UriStatus)
	if err != nil {
		return fmt.Errorf("error while sending post request for run status: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("error while posting run status. Status Code: %d Response: %s", resp.StatusCode(), resp.String())
	}
	w.logger.Info(fmt.Sprintf("successfully posted run status for source '%s'", status.Source))
	return nil
}

func (w *APIWriter) persistBatch(ctx context.Context, batch []types.DealRecord) error {
	resp, err := w.client.R().SetContext(ctx).SetBody(batch).Post(w.Uri)
	if err != nil {
		return fmt.Errorf("error while sending post request: %w", err)
	}
	if resp.IsError() {
		w.logger.Debug(fmt.Sprintf("post request failed for %d deals", len(batch)))
		return fmt.Errorf("error while adding new deals. Status Code: %d Response: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (w *APIWriter) validateBatch(ctx context.Context, batch []types.DealRecord) (string, error) {
	resp, err := w.client.R().SetContext(ctx).SetBody(batch).Post(w.UriDryRun)
	if err != nil {
		return "", fmt.Errorf("error while sending post request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("Status Code: %d Response: %s", resp.StatusCode(), resp.String())
	}
	return resp.String(), nil
}

// chunk yields consecutive slices of at most size records.
func chunk(records []types.DealRecord, size int) iter.Seq[[]types.DealRecord] {
	return func(yield func([]types.DealRecord) bool) {
		for start := 0; start < len(records); start += size {
			if !yield(records[start:min(start+size, len(records))]) {
				return
			}
		}
	}
}
