package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jakopako/dealskyr/internal/log"
)

// DebugFilename returns a file name inside dir derived from the page host
// and the current time, e.g. "www.amazon.com-1700000000000.html".
func DebugFilename(dir, pageURL, ext string) string {
	host := "page"
	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		host = strings.ReplaceAll(u.Host, ":", "_")
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%d.%s", host, time.Now().UnixMilli(), ext))
}

func writeHTMLToFile(ctx context.Context, pageURL, body, dir string) {
	logger := log.LoggerFromContext(ctx)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		logger.Warn("failed to create debug directory", slog.String("err", err.Error()))
		return
	}
	filename := DebugFilename(dir, pageURL, "html")
	logger.Debug(fmt.Sprintf("writing html to file %s", filename))
	if err := os.WriteFile(filename, []byte(body), 0644); err != nil {
		logger.Warn(fmt.Sprintf("failed to write html file: %v", err))
	}
}
