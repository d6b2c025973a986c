package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/jakopako/dealskyr/internal/log"
	"github.com/jakopako/dealskyr/internal/store"
	"github.com/jakopako/dealskyr/internal/types"
)

// ErrLaunchTimeout is returned by Open when chrome did not come up in time.
var ErrLaunchTimeout = errors.New("browser launch timed out")

// A Manager opens browser sessions and carries their cookies from one
// session to the next through a CookieStore.
type Manager struct {
	*FetcherConfig
	cookies *store.CookieStore
}

func NewManager(fc *FetcherConfig, cookies *store.CookieStore) *Manager {
	if fc.UserAgent == "" {
		fc.UserAgent = DefaultUserAgent
	}
	if fc.AcceptLanguage == "" {
		fc.AcceptLanguage = DefaultAcceptLanguage
	}
	if fc.Timeout == 0 {
		fc.Timeout = 30 * time.Second
	}
	if fc.LaunchTimeout == 0 {
		fc.LaunchTimeout = 30 * time.Second
	}
	if fc.WaitTimeout == 0 {
		fc.WaitTimeout = 10 * time.Second
	}
	return &Manager{FetcherConfig: fc, cookies: cookies}
}

// Open launches a fresh browser, applies the persisted cookies and returns
// its single tab. The caller must Close the page.
func (m *Manager) Open(ctx context.Context) (Page, error) {
	logger := log.LoggerFromContext(ctx).With(slog.String("fetcher", "dynamic"))
	logger.Debug("launching browser", slog.Bool("headless", m.Headless), slog.String("user-agent", m.UserAgent))

	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", m.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(viewportWidth, viewportHeight),
		chromedp.UserAgent(m.UserAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	p := &chromePage{
		FetcherConfig: m.FetcherConfig,
		ctx:           tabCtx,
		cancel: func() {
			cancelTab()
			cancelAlloc()
		},
	}

	// The first Run allocates the browser and binds it to tabCtx, so the
	// launch deadline cannot be a derived context.
	errc := make(chan error, 1)
	go func() { errc <- chromedp.Run(tabCtx) }()
	select {
	case err := <-errc:
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
	case <-time.After(m.LaunchTimeout):
		p.Close()
		return nil, ErrLaunchTimeout
	case <-ctx.Done():
		p.Close()
		return nil, ctx.Err()
	}

	setup := m.setupActions()
	if log.Debug {
		setup = append(setup, chromedp.ActionFunc(func(ctx context.Context) error {
			protocolVersion, product, revision, _, jsVersion, err := browser.GetVersion().Do(ctx)
			if err != nil {
				logger.Warn("failed to get chrome version", slog.String("err", err.Error()))
				return nil
			}
			logger.Debug(fmt.Sprintf("chrome version: protocolVersion=%s, product=%s, revision=%s, jsVersion=%s",
				protocolVersion, product, revision, jsVersion))
			return nil
		}))
	}
	if err := p.run(ctx, setup...); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to prepare browser tab: %w", err)
	}

	if cookies := m.cookies.Load(ctx); len(cookies) > 0 {
		if err := p.SetCookies(ctx, cookies); err != nil {
			logger.Warn("failed to apply stored cookies", slog.String("err", err.Error()))
		} else {
			logger.Debug(fmt.Sprintf("applied %d stored cookies", len(cookies)))
		}
	}
	return p, nil
}

// setupActions prepares a fresh tab. The window size flag does not fix the
// viewport in headful mode, so the device metrics are set as well.
func (m *Manager) setupActions() []chromedp.Action {
	return []chromedp.Action{
		emulation.SetDeviceMetricsOverride(viewportWidth, viewportHeight, 1, false),
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"accept-language": m.AcceptLanguage}),
	}
}

// Persist writes the cookies of p to the cookie store. Failures are logged.
func (m *Manager) Persist(ctx context.Context, p Page) {
	logger := log.LoggerFromContext(ctx)
	cookies, err := p.Cookies(ctx)
	if err != nil {
		logger.Warn("failed to read browser cookies", slog.String("err", err.Error()))
		return
	}
	if err := m.cookies.Save(cookies); err != nil {
		logger.Warn("failed to persist cookies", slog.String("path", m.cookies.Path()), slog.String("err", err.Error()))
		return
	}
	logger.Debug(fmt.Sprintf("persisted %d cookies", len(cookies)))
}

// Reset forgets all persisted cookies.
func (m *Manager) Reset(ctx context.Context) {
	logger := log.LoggerFromContext(ctx)
	if err := m.cookies.Clear(); err != nil {
		logger.Warn("failed to reset cookies", slog.String("path", m.cookies.Path()), slog.String("err", err.Error()))
		return
	}
	logger.Info("cookies reset", slog.String("path", m.cookies.Path()))
}

type chromePage struct {
	*FetcherConfig
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions on the tab bounded by the page timeout. Cancelling
// ctx aborts the actions but keeps the browser alive.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tctx, cancel := context.WithTimeout(p.ctx, p.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(tctx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, urlStr string) error {
	logger := log.LoggerFromContext(ctx).With(slog.String("fetcher", "dynamic"), slog.String("url", urlStr))
	logger.Debug("navigating")
	if err := p.run(ctx, chromedp.Navigate(urlStr), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return err
	}
	if p.WaitSelector != "" {
		wctx, cancel := context.WithTimeout(ctx, p.WaitTimeout)
		err := p.run(wctx, chromedp.WaitVisible(p.WaitSelector, chromedp.ByQuery))
		cancel()
		if err != nil {
			logger.Debug(fmt.Sprintf("selector %s not visible: %v", p.WaitSelector, err))
		}
	}
	var closed bool
	if err := p.Evaluate(ctx, closeCookieBannerScript, &closed); err != nil {
		logger.Debug(fmt.Sprintf("cookie banner check failed: %v", err))
	} else if closed {
		logger.Debug("closed cookie banner")
	}
	return nil
}

func (p *chromePage) Evaluate(ctx context.Context, expression string, res any) error {
	return p.run(ctx, chromedp.Evaluate(expression, res))
}

func (p *chromePage) Snapshot(ctx context.Context) (types.Snapshot, error) {
	var s types.Snapshot
	err := p.run(ctx,
		chromedp.Location(&s.URL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			node, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			s.HTML, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return types.Snapshot{}, err
	}
	if log.Debug && p.DebugDir != "" {
		writeHTMLToFile(ctx, s.URL, s.HTML, p.DebugDir)
	}
	return s, nil
}

func (p *chromePage) SetCookies(ctx context.Context, cookies []*network.Cookie) error {
	params := cookieParams(cookies)
	if len(params) == 0 {
		return nil
	}
	return p.run(ctx, storage.SetCookies(params))
}

func (p *chromePage) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	return cookies, err
}

func (p *chromePage) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create debug directory: %v", err)
	}
	log.LoggerFromContext(ctx).Debug(fmt.Sprintf("writing screenshot to file %s", path))
	return os.WriteFile(path, buf, 0644)
}

func (p *chromePage) Close() {
	p.cancel()
}

// cookieParams converts stored cookies to the form the browser accepts.
// Session cookies (Expires <= 0) get no expiry.
func cookieParams(cookies []*network.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: c.SameSite,
		}
		if c.Expires > 0 {
			exp := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &exp
		}
		params = append(params, p)
	}
	return params
}
