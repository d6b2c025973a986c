// Package output provides the interface and configuration and implementation for writers
package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/jakopako/dealskyr/internal/types"
)

// Writer defines the interface for all writers that are responsible
// for writing the fetched deals to a specific output.
type Writer interface {
	Write(ctx context.Context, records []types.DealRecord) error
}

// A StatusWriter additionally records the outcome of a run.
type StatusWriter interface {
	WriteStatus(ctx context.Context, status types.RunStatus) error
}

// WriterConfig defines the necessary paramters to make a new writer
// which is responsible for writing the deals to a specific output
// eg. stdout.
type WriterConfig struct {
	Type WriterType `yaml:"type" env:"WRITER_TYPE" env-default:"stdout" env-description:"stdout, file, api, sheets or sqlite"`

	// api
	Uri       string `yaml:"uri" env:"WRITER_URI"`
	User      string `yaml:"user" env:"WRITER_USER"`         // we want to be able to pass credentials via env vars
	Password  string `yaml:"password" env:"WRITER_PASSWORD"` // we want to be able to pass credentials via env vars
	DryRun    bool   `yaml:"dryrun" env:"WRITER_DRY_RUN"`
	UriDryRun string `yaml:"uri_dryrun" env:"WRITER_URI_DRY_RUN"`
	UriStatus string `yaml:"uri_status" env:"WRITER_URI_STATUS"`
	BatchSize int    `yaml:"batch_size,omitempty" env:"WRITER_BATCH_SIZE"`

	// file
	FileDir string `yaml:"filedir" env:"WRITER_FILEDIR"`

	// sheets
	SpreadsheetID string `yaml:"spreadsheet_id" env:"SPREADSHEET_ID"`
	// Credentials is either the service account json itself or a path to it.
	Credentials string `yaml:"credentials" env:"GOOGLE_CREDS_JSON" env-description:"service account json or path to it, defaults to credentials.json"`
	SheetsURL   string `yaml:"sheets_url,omitempty" env:"SHEETS_URL"`

	// sqlite
	Database string `yaml:"database" env:"WRITER_DATABASE"`
}

// WriterType encapsulates the type of a writer
// See below constants for possible types
type WriterType string

const (
	STDOUT_WRITER_TYPE WriterType = "stdout"
	FILE_WRITER_TYPE   WriterType = "file"
	API_WRITER_TYPE    WriterType = "api"
	SHEETS_WRITER_TYPE WriterType = "sheets"
	SQLITE_WRITER_TYPE WriterType = "sqlite"
)

// Validate checks the settings the selected writer type needs.
func (wc *WriterConfig) Validate() error {
	switch wc.Type {
	case STDOUT_WRITER_TYPE:
	case FILE_WRITER_TYPE:
		if wc.FileDir == "" {
			return fmt.Errorf("filedir needs to be specified for the %s writer", wc.Type)
		}
	case API_WRITER_TYPE:
		if wc.Uri == "" {
			return fmt.Errorf("uri needs to be specified for the %s writer", wc.Type)
		}
		if wc.DryRun && wc.UriDryRun == "" {
			return fmt.Errorf("if dryrun is true, uri_dryrun needs to be set")
		}
	case SHEETS_WRITER_TYPE:
		if wc.SpreadsheetID == "" {
			return fmt.Errorf("spreadsheet_id needs to be specified for the %s writer", wc.Type)
		}
	case SQLITE_WRITER_TYPE:
		if wc.Database == "" {
			return fmt.Errorf("database needs to be specified for the %s writer", wc.Type)
		}
	default:
		return fmt.Errorf("writer of type '%s' not implemented", wc.Type)
	}
	return nil
}

// NewWriter returns a new writer depending on the writer type
func NewWriter(wc *WriterConfig) (Writer, error) {
	if err := wc.Validate(); err != nil {
		return nil, err
	}
	switch wc.Type {
	case FILE_WRITER_TYPE:
		return NewFileWriter(wc)
	case API_WRITER_TYPE:
		return NewAPIWriter(wc), nil
	case SHEETS_WRITER_TYPE:
		return NewSheetsWriter(wc)
	case SQLITE_WRITER_TYPE:
		return NewSQLiteWriter(wc)
	default:
		return NewStdoutWriter(wc), nil
	}
}

// marshalIndent encodes v as indented json without replacing html
// characters such as & in links.
func marshalIndent(v any) ([]byte, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
