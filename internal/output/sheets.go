package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jakopako/dealskyr/internal/types"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	defaultSheetsURL       = "https://sheets.googleapis.com"
	defaultCredentialsPath = "credentials.json"
	spreadsheetsScope      = "https://www.googleapis.com/auth/spreadsheets"
)

// SheetsWriter appends deals as rows to the first sheet of a Google
// spreadsheet. Columns: title, price, old_price, discount, link, posted,
// image, source.
type SheetsWriter struct {
	*WriterConfig
	client *resty.Client
	tokens oauth2.TokenSource
	logger *slog.Logger
}

// NewSheetsWriter returns a SheetsWriter authenticating as the configured
// service account.
func NewSheetsWriter(wc *WriterConfig) (*SheetsWriter, error) {
	creds, err := loadCredentials(wc.Credentials)
	if err != nil {
		return nil, err
	}
	jwt, err := google.JWTConfigFromJSON(creds, spreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("invalid google service account credentials: %w", err)
	}
	return newSheetsWriter(wc, jwt.TokenSource(context.Background())), nil
}

func newSheetsWriter(wc *WriterConfig, tokens oauth2.TokenSource) *SheetsWriter {
	baseURL := wc.SheetsURL
	if baseURL == "" {
		baseURL = defaultSheetsURL
	}
	return &SheetsWriter{
		WriterConfig: wc,
		client:       resty.New().SetBaseURL(baseURL).SetTimeout(60 * time.Second),
		tokens:       oauth2.ReuseTokenSource(nil, tokens),
		logger:       slog.With(slog.String("writer", string(SHEETS_WRITER_TYPE))),
	}
}

// loadCredentials accepts inline json or a path. An empty value falls back
// to credentials.json in the working directory.
func loadCredentials(v string) ([]byte, error) {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "{") {
		return []byte(v), nil
	}
	if v == "" {
		v = defaultCredentialsPath
	}
	b, err := os.ReadFile(v)
	if err != nil {
		return nil, fmt.Errorf("google credentials not found, set GOOGLE_CREDS_JSON (json or path) or place %s in the working directory: %w", defaultCredentialsPath, err)
	}
	return b, nil
}

type spreadsheetMeta struct {
	Sheets []struct {
		Properties struct {
			Title string `json:"title"`
		} `json:"properties"`
	} `json:"sheets"`
}

func (w *SheetsWriter) Write(ctx context.Context, records []types.DealRecord) error {
	if len(records) == 0 {
		return nil
	}
	token, err := w.tokens.Token()
	if err != nil {
		return fmt.Errorf("failed to obtain access token: %w", err)
	}
	title, err := w.firstSheetTitle(ctx, token.AccessToken)
	if err != nil {
		return err
	}

	values := make([][]string, 0, len(records))
	for _, r := range records {
		discount := ""
		if r.Discount != nil {
			discount = *r.Discount
		}
		posted := r.Posted
		if posted == "" {
			posted = "no"
		}
		values = append(values, []string{r.Title, r.Price, r.OldPrice, discount, r.Link, posted, r.Image, r.Source})
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetAuthToken(token.AccessToken).
		SetPathParams(map[string]string{"id": w.SpreadsheetID, "range": title}).
		SetQueryParam("valueInputOption", "USER_ENTERED").
		SetBody(map[string]any{"values": values}).
		Post("/v4/spreadsheets/{id}/values/{range}:append")
	if err != nil {
		return fmt.Errorf("failed to append rows: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("failed to append rows: %d %s", resp.StatusCode(), resp.String())
	}
	w.logger.Info(fmt.Sprintf("appended %d deals to sheet %s", len(records), title))
	return nil
}

func (w *SheetsWriter) firstSheetTitle(ctx context.Context, token string) (string, error) {
	var meta spreadsheetMeta
	resp, err := w.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetPathParam("id", w.SpreadsheetID).
		SetQueryParam("fields", "sheets(properties(title))").
		SetResult(&meta).
		Get("/v4/spreadsheets/{id}")
	if err != nil {
		return "", fmt.Errorf("failed to read spreadsheet metadata: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("failed to read spreadsheet metadata: %d %s", resp.StatusCode(), resp.String())
	}
	if len(meta.Sheets) == 0 || meta.Sheets[0].Properties.Title == "" {
		return "", errors.New("could not determine sheet title")
	}
	return meta.Sheets[0].Properties.Title, nil
}
