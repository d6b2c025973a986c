// Package scraper drives the listing page to completion: indexed pagination
// first, infinite scrolling as a fallback, with retries around whole attempts.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jakopako/dealskyr/internal/fetch"
	"github.com/jakopako/dealskyr/internal/log"
	"github.com/jakopako/dealskyr/internal/normalize"
	"github.com/jakopako/dealskyr/internal/parse"
	"github.com/jakopako/dealskyr/internal/store"
	"github.com/jakopako/dealskyr/internal/types"
)

// A SessionManager hands out browser pages and owns their cookie jar.
type SessionManager interface {
	Open(ctx context.Context) (fetch.Page, error)
	Persist(ctx context.Context, p fetch.Page)
	Reset(ctx context.Context)
}

// Options is the fully resolved scraper configuration.
type Options struct {
	ListingURL    string
	Source        string
	AffiliateTag  string
	OnlyDiscounts bool

	PageSize      int
	MaxPageChecks int
	SweepSteps    int
	PageParam     string
	// LastIDParam, if set, passes the last collected id as a hint.
	LastIDParam string

	MaxScrollAttempts int
	MaxNoNew          int
	MaxReloads        int
	ScrollDelay       time.Duration

	Retries        int
	RetryBaseDelay time.Duration
	SeenThreshold  int

	DebugDir string
}

// A Scraper fetches deal records from one listing.
type Scraper struct {
	Options
	sessions SessionManager
	state    *store.State
	parser   *parse.Parser
	metrics  *Metrics
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(opts Options, sessions SessionManager, state *store.State, metrics *Metrics) *Scraper {
	if opts.PageParam == "" {
		opts.PageParam = "startIndex"
	}
	return &Scraper{
		Options:  opts,
		sessions: sessions,
		state:    state,
		parser:   parse.NewParser(),
		metrics:  metrics,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Fetch returns up to limit previously unseen deal records. The error is
// only non-nil once all retries failed.
func (s *Scraper) Fetch(ctx context.Context, limit int) ([]types.DealRecord, types.RunStatus, error) {
	logger := log.LoggerFromContext(ctx).With(slog.String("scraper", s.Source))
	ctx = log.ContextWithLogger(ctx, logger)
	status := types.RunStatus{Source: s.Source, Start: time.Now()}

	logger.Info("fetching deals", slog.Int("limit", limit), slog.String("url", s.ListingURL))
	res, err := retry(ctx, s.RetryBaseDelay, s.Retries, s.metrics, func(ctx context.Context) (*acquisition, error) {
		status.Attempts++
		return s.attempt(ctx, limit)
	})
	status.End = time.Now()
	if err != nil {
		s.metrics.IncError(errorTypeLabel(err))
		return nil, status, fmt.Errorf("fetching deals failed after %d attempts: %w", status.Attempts, err)
	}

	status.Captcha = res.captcha
	status.Fallback = res.fallback
	status.NrCollected = len(res.items)
	records := normalize.Records(res.items, normalize.Options{
		Source:        s.Source,
		AffiliateTag:  s.AffiliateTag,
		BaseURL:       s.ListingURL,
		Limit:         limit,
		OnlyDiscounts: s.OnlyDiscounts,
	})
	status.NrItems = len(records)
	s.metrics.AddItems(len(records))
	logger.Info(fmt.Sprintf("fetched %d deals (%d collected)", status.NrItems, status.NrCollected),
		slog.Bool("fallback", status.Fallback), slog.Bool("captcha", status.Captcha))
	return records, status, nil
}

// attempt runs the state machine once on a fresh session.
func (s *Scraper) attempt(ctx context.Context, limit int) (*acquisition, error) {
	logger := log.LoggerFromContext(ctx)
	if _, err := s.state.EnforceThreshold(ctx, s.SeenThreshold); err != nil {
		logger.Warn("failed to reset state", slog.String("err", err.Error()))
	}

	page, err := s.sessions.Open(ctx)
	if err != nil {
		return nil, ErrSession{Err: err}
	}
	defer page.Close()

	a := &acquisition{
		Scraper:   s,
		page:      page,
		limit:     limit,
		seen:      s.state.Seen.Load(ctx),
		collected: store.NewIDSet(),
	}
	if err := a.run(ctx); err != nil {
		return nil, err
	}
	if !a.cookiesReset {
		s.sessions.Persist(ctx, page)
	}
	return a, nil
}
