// Package fetch owns the automated browser session: launching chrome,
// applying and persisting cookies and exposing the rendered page.
package fetch

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/jakopako/dealskyr/internal/types"
)

const (
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	DefaultAcceptLanguage = "en-US,en;q=0.9"

	viewportWidth  = 1366
	viewportHeight = 768
)

// A Page is an open browser tab. All methods block until the browser
// responded or the configured timeout passed.
type Page interface {
	// Navigate loads url and waits until the document is ready.
	Navigate(ctx context.Context, url string) error
	// Evaluate runs a javascript expression and unmarshals its result into
	// res. res may be nil.
	Evaluate(ctx context.Context, expression string, res any) error
	// Snapshot returns the current DOM.
	Snapshot(ctx context.Context) (types.Snapshot, error)
	SetCookies(ctx context.Context, cookies []*network.Cookie) error
	Cookies(ctx context.Context) ([]*network.Cookie, error)
	Screenshot(ctx context.Context, path string) error
	Close()
}

// FetcherConfig holds the browser settings. Zero durations fall back to
// defaults in NewManager.
type FetcherConfig struct {
	Headless       bool
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
	LaunchTimeout  time.Duration
	// WaitSelector is awaited (best effort) after each navigation.
	WaitSelector string
	WaitTimeout  time.Duration
	DebugDir     string
}
