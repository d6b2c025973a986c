package scraper

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/jakopako/dealskyr/internal/fetch"
	"github.com/jakopako/dealskyr/internal/log"
	"github.com/jakopako/dealskyr/internal/normalize"
	"github.com/jakopako/dealskyr/internal/store"
	"github.com/jakopako/dealskyr/internal/types"
)

// acquisition is the state of a single attempt.
type acquisition struct {
	*Scraper
	page  fetch.Page
	limit int

	seen      store.IDSet
	collected store.IDSet
	items     []types.CandidateItem
	// added is the number of new items found in the latest scroll snapshot.
	added int

	fallback bool
	captcha  bool
	// cookiesReset is set once the cookie jar was cleared. The live
	// browser jar must not be persisted over it.
	cookiesReset bool
}

func (a *acquisition) run(ctx context.Context) error {
	logger := log.LoggerFromContext(ctx)
	pos := a.state.Position.Load(ctx)
	origStart := pos.StartIndex()
	start := origStart
	lastID := pos.LastIDOrEmpty()
	zeroResults := 0
	pages := 0

	for check := 0; check < a.MaxPageChecks && len(a.items) < a.limit; check++ {
		pageURL, err := a.pageURL(start, lastID)
		if err != nil {
			return err
		}
		snap, err := a.loadPage(ctx, pageURL)
		if err != nil {
			return err
		}
		a.metrics.IncPage("paginated")
		if a.parser.IsBlocked(snap) {
			a.onCaptcha(ctx, snap)
			break
		}
		candidates := a.parser.ExtractCandidates(snap)
		if len(candidates) == 0 {
			if check == 0 {
				zeroResults++
				a.fallback = true
				logger.Info("first page is empty, falling back to scrolling", slog.String("url", pageURL))
			} else {
				logger.Debug("empty page, stopping pagination", slog.String("url", pageURL))
			}
			break
		}
		added := a.collect(candidates)
		logger.Debug(fmt.Sprintf("page at %s=%d: %d candidates, %d new", a.PageParam, start, len(candidates), added))
		start += a.PageSize
		pages++
		if added > 0 {
			lastID = a.items[len(a.items)-1].ID
		}
	}

	if a.fallback {
		a.metrics.IncFallback()
		n, err := a.scroll(ctx)
		if err != nil {
			return err
		}
		if n == 0 && !a.captcha {
			zeroResults++
		}
	}

	a.done(ctx, origStart, start, lastID, pages, zeroResults)
	return nil
}

// done persists what the attempt learned.
func (a *acquisition) done(ctx context.Context, origStart, start int, lastID string, pages, zeroResults int) {
	logger := log.LoggerFromContext(ctx)

	for id := range a.collected {
		a.seen.Add(id)
	}
	a.state.Seen.Save(ctx, a.seen)

	switch {
	case a.captcha:
	case a.fallback && len(a.items) > 0:
		// The cursor is advanced by a full page even though the scroll view
		// has no notion of pages.
		next := origStart + a.PageSize
		id := a.items[len(a.items)-1].ID
		a.state.Position.Save(ctx, store.Position{LastStartIndex: &next, LastID: &id})
	case a.fallback:
		logger.Info("fallback found nothing, keeping position")
	case pages > 0:
		p := store.Position{LastStartIndex: &start}
		if lastID != "" {
			p.LastID = &lastID
		}
		a.state.Position.Save(ctx, p)
	}

	if zeroResults >= 2 {
		logger.Warn("pagination and scrolling both returned nothing, resetting cookies")
		a.resetCookies(ctx)
	}
}

func (a *acquisition) pageURL(start int, lastID string) (string, error) {
	u, err := url.Parse(a.ListingURL)
	if err != nil {
		return "", fmt.Errorf("invalid listing url %q: %w", a.ListingURL, err)
	}
	q := u.Query()
	q.Set(a.PageParam, strconv.Itoa(start))
	if a.LastIDParam != "" && lastID != "" {
		q.Set(a.LastIDParam, lastID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// loadPage navigates to pageURL, renders the lazy cards and snapshots the
// result.
func (a *acquisition) loadPage(ctx context.Context, pageURL string) (types.Snapshot, error) {
	if err := a.page.Navigate(ctx, pageURL); err != nil {
		return types.Snapshot{}, ErrNavigation{URL: pageURL, Err: err}
	}
	if err := a.sweep(ctx); err != nil {
		return types.Snapshot{}, err
	}
	snap, err := a.page.Snapshot(ctx)
	if err != nil {
		return types.Snapshot{}, ErrSnapshot{Err: err}
	}
	return snap, nil
}

// collect appends the unseen candidates up to the limit and returns how
// many were added. With OnlyDiscounts only discounted candidates count.
func (a *acquisition) collect(candidates []types.CandidateItem) int {
	n := 0
	for _, c := range candidates {
		if len(a.items) >= a.limit {
			break
		}
		if a.seen.Has(c.ID) || a.collected.Has(c.ID) {
			continue
		}
		// cards without a discount are never emitted, so they are not
		// collected and stay unseen
		if a.OnlyDiscounts && !normalize.HasDiscount(c) {
			continue
		}
		a.collected.Add(c.ID)
		a.items = append(a.items, c)
		n++
	}
	return n
}

// scroll collects items from the plain listing url by scrolling. It returns
// the number of items it added.
func (a *acquisition) scroll(ctx context.Context) (int, error) {
	before := len(a.items)
	for snap, err := range a.scrollSnapshots(ctx) {
		if err != nil {
			return len(a.items) - before, err
		}
		a.metrics.IncPage("scroll")
		if a.parser.IsBlocked(snap) {
			a.onCaptcha(ctx, snap)
			break
		}
		a.added = a.collect(a.parser.ExtractCandidates(snap))
		if len(a.items) >= a.limit {
			break
		}
	}
	return len(a.items) - before, nil
}

// scrollSnapshots yields one snapshot per scroll cycle. After each yield it
// reads a.added to decide whether the cycle found anything. It stops after
// MaxScrollAttempts cycles or MaxNoNew consecutive empty ones.
func (a *acquisition) scrollSnapshots(ctx context.Context) iter.Seq2[types.Snapshot, error] {
	return func(yield func(types.Snapshot, error) bool) {
		logger := log.LoggerFromContext(ctx)
		if err := a.page.Navigate(ctx, a.ListingURL); err != nil {
			yield(types.Snapshot{}, ErrNavigation{URL: a.ListingURL, Err: err})
			return
		}
		if err := a.warmUp(ctx); err != nil {
			yield(types.Snapshot{}, err)
			return
		}

		reloadEvery := max(1, a.MaxNoNew/(a.MaxReloads+1))
		noNew, reloads := 0, 0
		for cycle := 0; cycle < a.MaxScrollAttempts && noNew < a.MaxNoNew; cycle++ {
			snap, err := a.page.Snapshot(ctx)
			if err != nil {
				yield(types.Snapshot{}, ErrSnapshot{Err: err})
				return
			}
			a.added = 0
			if !yield(snap, nil) {
				return
			}

			if a.added > 0 {
				noNew = 0
			} else {
				noNew++
				switch {
				case a.clickLoadMore(ctx):
					if err := a.sleep(ctx, loadMoreDelay); err != nil {
						yield(types.Snapshot{}, err)
						return
					}
				case noNew%reloadEvery == 0 && reloads < a.MaxReloads:
					reloads++
					logger.Debug(fmt.Sprintf("no new items for %d cycles, reloading (%d/%d)", noNew, reloads, a.MaxReloads))
					if err := a.page.Navigate(ctx, a.ListingURL); err != nil {
						yield(types.Snapshot{}, ErrNavigation{URL: a.ListingURL, Err: err})
						return
					}
				}
			}

			if err := a.scrollTowardFooter(ctx); err != nil {
				yield(types.Snapshot{}, err)
				return
			}
			if err := a.sleep(ctx, a.ScrollDelay); err != nil {
				yield(types.Snapshot{}, err)
				return
			}
		}
		logger.Debug(fmt.Sprintf("scrolling stopped after %d empty cycles", noNew))
	}
}

// onCaptcha ends the attempt on a block page. Items collected so far are
// kept, the cookie jar is not.
func (a *acquisition) onCaptcha(ctx context.Context, snap types.Snapshot) {
	logger := log.LoggerFromContext(ctx)
	logger.Warn("block page detected, resetting cookies", slog.String("url", snap.URL))
	a.captcha = true
	a.metrics.IncCaptcha()
	a.resetCookies(ctx)
	if a.DebugDir != "" {
		path := fetch.DebugFilename(a.DebugDir, snap.URL, "png")
		if err := a.page.Screenshot(ctx, path); err != nil {
			logger.Warn("failed to take screenshot", slog.String("err", err.Error()))
		}
	}
}

func (a *acquisition) resetCookies(ctx context.Context) {
	a.cookiesReset = true
	a.metrics.IncCookieReset()
	a.sessions.Reset(ctx)
}
