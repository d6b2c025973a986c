package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/chromedp/cdproto/network"
	"github.com/jakopako/dealskyr/internal/log"
)

const DefaultCookiesPath = "cookies.json"

// CookieStore keeps the browser cookies between runs, verbatim as returned by
// the browser. An empty array means the session was cleared.
type CookieStore struct {
	path string
}

func NewCookieStore(path string) *CookieStore {
	if path == "" {
		path = DefaultCookiesPath
	}
	return &CookieStore{path: path}
}

func (c *CookieStore) Path() string {
	return c.path
}

// Load returns nil if the file is missing or corrupt.
func (c *CookieStore) Load(ctx context.Context) []*network.Cookie {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.LoggerFromContext(ctx).Warn(fmt.Sprintf("failed reading cookies: %v", err), slog.String("store", c.path))
		}
		return nil
	}
	var cookies []*network.Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		log.LoggerFromContext(ctx).Warn(fmt.Sprintf("ignoring corrupt cookies file: %v", err), slog.String("store", c.path))
		return nil
	}
	return cookies
}

func (c *CookieStore) Save(cookies []*network.Cookie) error {
	if cookies == nil {
		cookies = []*network.Cookie{}
	}
	return writeJSON(c.path, cookies)
}

// Clear empties the file. The file itself is kept.
func (c *CookieStore) Clear() error {
	return writeJSON(c.path, []*network.Cookie{})
}
