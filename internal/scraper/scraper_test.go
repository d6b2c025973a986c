package scraper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/jakopako/dealskyr/internal/fetch"
	"github.com/jakopako/dealskyr/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingURL = "https://www.example.com/deals"

func pageAt(start int) string {
	return fmt.Sprintf("%s?startIndex=%d", listingURL, start)
}

// cardsHTML renders one discounted card per id.
func cardsHTML(ids ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><div id=\"grid\">")
	for _, id := range ids {
		b.WriteString(cardHTML(id, true))
	}
	b.WriteString("</div><footer id=\"navFooter\"></footer></body></html>")
	return b.String()
}

func cardHTML(id string, discounted bool) string {
	prices := `<span class="a-offscreen">$80.00</span>`
	if discounted {
		prices += `<span class="a-offscreen">$100.00</span>`
	}
	return fmt.Sprintf(`<div data-asin="%s"><img src="https://img.example.com/%s.jpg" alt="Item %s">`+
		`<h2><a href="/dp/%s">Item %s</a></h2>%s</div>`, id, id, id, id, id, prices)
}

const captchaPage = `<html><body><h4>Enter the characters you see below</h4><input id="captchacharacters"></body></html>`

type testEnv struct {
	page     *fetch.MockPage
	sessions *fetch.MockManager
	state    *store.State
	metrics  *Metrics
	dir      string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	page := fetch.NewMockPage()
	return &testEnv{
		page:     page,
		sessions: &fetch.MockManager{Page: page},
		state: store.NewState(
			filepath.Join(dir, "seen_ids.json"),
			filepath.Join(dir, "lastPosition.json"),
			filepath.Join(dir, "cookies.json"),
		),
		metrics: NewMetrics(),
		dir:     dir,
	}
}

func testOptions() Options {
	return Options{
		ListingURL:        listingURL,
		Source:            "amazon",
		OnlyDiscounts:     true,
		PageSize:          60,
		MaxPageChecks:     5,
		SweepSteps:        2,
		MaxScrollAttempts: 10,
		MaxNoNew:          2,
		MaxReloads:        0,
		Retries:           2,
		RetryBaseDelay:    time.Millisecond,
		SeenThreshold:     300,
	}
}

func (e *testEnv) scraper(opts Options) *Scraper {
	s := New(opts, e.sessions, e.state, e.metrics)
	s.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return s
}

func TestFetchPaginated(t *testing.T) {
	env := newTestEnv(t)
	env.page.AddPage(pageAt(0), cardsHTML("A1", "A2", "A3"))
	env.page.AddPage(pageAt(3), cardsHTML("A4", "A5", "A6"))
	opts := testOptions()
	opts.PageSize = 3

	records, status, err := env.scraper(opts).Fetch(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, records, 5)
	for i, r := range records {
		assert.Equal(t, fmt.Sprintf("A%d", i+1), r.ID)
		assert.Equal(t, "80.00", r.Price)
		assert.Equal(t, "100.00", r.OldPrice)
		require.NotNil(t, r.Discount)
		assert.Equal(t, "20%", *r.Discount)
		assert.Equal(t, "no", r.Posted)
		assert.Equal(t, "amazon", r.Source)
	}
	assert.False(t, status.Fallback)
	assert.False(t, status.Captcha)
	assert.Equal(t, 1, status.Attempts)
	assert.Equal(t, 5, status.NrItems)

	assert.Equal(t, []string{pageAt(0), pageAt(3)}, env.page.Navigations)
	assert.Equal(t, 1, env.sessions.Persists)
	assert.Zero(t, env.sessions.Resets)
	assert.True(t, env.page.Closed)

	pos := env.state.Position.Load(context.Background())
	assert.Equal(t, 6, pos.StartIndex())
	assert.Equal(t, "A5", pos.LastIDOrEmpty())
	assert.Equal(t, []string{"A1", "A2", "A3", "A4", "A5"}, env.state.Seen.Load(context.Background()).Sorted())
	assert.Equal(t, float64(5), testutil.ToFloat64(env.metrics.ItemsTotal))
}

func TestFetchSkipsSeenIDs(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.state.Seen.Save(ctx, store.NewIDSet("A1"))
	env.page.AddPage(pageAt(0), cardsHTML("A1", "A2"))
	opts := testOptions()
	opts.MaxPageChecks = 1

	records, _, err := env.scraper(opts).Fetch(ctx, 5)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "A2", records[0].ID)
}

func TestFetchDoesNotReemitAcrossRuns(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.page.AddPage(pageAt(0), cardsHTML("A1", "A2"))
	env.page.AddPage(pageAt(2), cardsHTML("A1", "A3"))
	opts := testOptions()
	opts.PageSize = 2
	opts.MaxPageChecks = 1

	first, _, err := env.scraper(opts).Fetch(ctx, 5)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, _, err := env.scraper(opts).Fetch(ctx, 5)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "A3", second[0].ID)
	assert.Equal(t, pageAt(2), env.page.Navigations[len(env.page.Navigations)-1])
}

func TestFetchStopsOnEmptyLaterPage(t *testing.T) {
	env := newTestEnv(t)
	env.page.AddPage(pageAt(0), cardsHTML("A1"))
	opts := testOptions()

	records, status, err := env.scraper(opts).Fetch(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.False(t, status.Fallback)
	assert.Equal(t, []string{pageAt(0), pageAt(60)}, env.page.Navigations)
	assert.Equal(t, 60, env.state.Position.Load(context.Background()).StartIndex())
}

func TestFetchFallbackEnteredOnce(t *testing.T) {
	env := newTestEnv(t)
	env.page.AddPage(listingURL, cardsHTML("B1"), cardsHTML("B1", "B2"))

	records, status, err := env.scraper(testOptions()).Fetch(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "B1", records[0].ID)
	assert.Equal(t, "B2", records[1].ID)
	assert.True(t, status.Fallback)
	assert.Equal(t, []string{pageAt(0), listingURL}, env.page.Navigations)
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.FallbacksTotal))

	pos := env.state.Position.Load(context.Background())
	assert.Equal(t, 60, pos.StartIndex())
	assert.Equal(t, "B2", pos.LastIDOrEmpty())
	assert.Zero(t, env.sessions.Resets)
}

func TestFetchFallbackWithoutItemsResetsCookies(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	start := 120
	env.state.Position.Save(ctx, store.Position{LastStartIndex: &start})

	records, status, err := env.scraper(testOptions()).Fetch(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.True(t, status.Fallback)
	assert.Equal(t, 1, env.sessions.Resets)
	assert.Zero(t, env.sessions.Persists)
	assert.Equal(t, 120, env.state.Position.Load(ctx).StartIndex())
	assert.Equal(t, []string{pageAt(120), listingURL}, env.page.Navigations)
}

func TestFetchFallbackReloads(t *testing.T) {
	env := newTestEnv(t)
	opts := testOptions()
	opts.MaxNoNew = 4
	opts.MaxReloads = 3

	_, _, err := env.scraper(opts).Fetch(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{pageAt(0), listingURL, listingURL, listingURL, listingURL}, env.page.Navigations)
}

func TestFetchFallbackClicksLoadMore(t *testing.T) {
	env := newTestEnv(t)
	env.page.LoadMore = true
	opts := testOptions()
	opts.MaxReloads = 3

	_, _, err := env.scraper(opts).Fetch(context.Background(), 5)
	require.NoError(t, err)
	// a successful click replaces the reload
	assert.Equal(t, []string{pageAt(0), listingURL}, env.page.Navigations)
	assert.Positive(t, env.page.Scripts("view more deals"))
}

func TestFetchCaptchaKeepsItems(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.page.AddPage(pageAt(0), cardsHTML("A1", "A2"))
	env.page.AddPage(pageAt(2), captchaPage)
	opts := testOptions()
	opts.PageSize = 2
	opts.DebugDir = filepath.Join(env.dir, "debug")

	records, status, err := env.scraper(opts).Fetch(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.True(t, status.Captcha)
	assert.Equal(t, 1, status.Attempts)
	assert.Equal(t, 1, env.sessions.Resets)
	assert.Zero(t, env.sessions.Persists)
	require.Len(t, env.page.Screenshots, 1)
	assert.True(t, strings.HasPrefix(env.page.Screenshots[0], opts.DebugDir))

	assert.Equal(t, []string{"A1", "A2"}, env.state.Seen.Load(ctx).Sorted())
	_, err = os.Stat(env.state.Position.Path())
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

// cookieSessions serves the MockPage of the env but keeps its cookies in
// the cookie file of the env, the way the browser session does.
type cookieSessions struct {
	*fetch.Manager
	page *fetch.MockPage
}

func (c cookieSessions) Open(ctx context.Context) (fetch.Page, error) {
	return c.page, nil
}

func (e *testEnv) cookieScraper(t *testing.T, opts Options) *Scraper {
	t.Helper()
	require.NoError(t, e.page.SetCookies(context.Background(), []*network.Cookie{
		{Name: "session-id", Value: "flagged", Domain: ".example.com", Path: "/"},
	}))
	sessions := cookieSessions{
		Manager: fetch.NewManager(&fetch.FetcherConfig{}, e.state.Cookies),
		page:    e.page,
	}
	s := New(opts, sessions, e.state, e.metrics)
	s.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return s
}

func (e *testEnv) cookieFile(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(e.state.Cookies.Path())
	require.NoError(t, err)
	return strings.TrimSpace(string(data))
}

func TestFetchPersistsCookies(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.page.AddPage(pageAt(0), cardsHTML("A1", "A2"))
	opts := testOptions()
	opts.MaxPageChecks = 1

	_, _, err := env.cookieScraper(t, opts).Fetch(ctx, 5)
	require.NoError(t, err)
	cookies := env.state.Cookies.Load(ctx)
	require.Len(t, cookies, 1)
	assert.Equal(t, "flagged", cookies[0].Value)
}

func TestFetchZeroResultsClearsCookies(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	records, status, err := env.cookieScraper(t, testOptions()).Fetch(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.True(t, status.Fallback)
	assert.Equal(t, "[]", env.cookieFile(t))
	assert.Empty(t, env.state.Cookies.Load(ctx))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.CookieResetsTotal))
}

func TestFetchCaptchaClearsCookies(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.page.AddPage(pageAt(0), captchaPage)

	_, status, err := env.cookieScraper(t, testOptions()).Fetch(ctx, 5)
	require.NoError(t, err)
	assert.True(t, status.Captcha)
	assert.Equal(t, "[]", env.cookieFile(t))
	assert.Empty(t, env.state.Cookies.Load(ctx))
}

func TestFetchOnlyDiscountsLeavesOthersUnseen(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	page := "<html><body>" + cardHTML("A1", false) + cardHTML("A2", true) +
		cardHTML("A3", false) + cardHTML("A4", true) + "</body></html>"
	env.page.AddPage(pageAt(0), page)
	opts := testOptions()
	opts.MaxPageChecks = 1

	records, status, err := env.scraper(opts).Fetch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "A2", records[0].ID)
	assert.Equal(t, "A4", records[1].ID)
	assert.Equal(t, 2, status.NrCollected)
	assert.Equal(t, []string{"A2", "A4"}, env.state.Seen.Load(ctx).Sorted())
}

func TestFetchWithoutDiscountFilterKeepsAll(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.page.AddPage(pageAt(0), "<html><body>"+cardHTML("A1", false)+cardHTML("A2", true)+"</body></html>")
	opts := testOptions()
	opts.OnlyDiscounts = false
	opts.MaxPageChecks = 1

	records, _, err := env.scraper(opts).Fetch(ctx, 5)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Nil(t, records[0].Discount)
	assert.Equal(t, []string{"A1", "A2"}, env.state.Seen.Load(ctx).Sorted())
}

func TestFetchThresholdResetsState(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seen := store.NewIDSet()
	for i := range 301 {
		seen.Add(fmt.Sprintf("OLD%03d", i))
	}
	env.state.Seen.Save(ctx, seen)
	start := 600
	env.state.Position.Save(ctx, store.Position{LastStartIndex: &start})
	env.page.AddPage(pageAt(0), cardsHTML("OLD001"))
	opts := testOptions()
	opts.MaxPageChecks = 1

	records, _, err := env.scraper(opts).Fetch(ctx, 5)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "OLD001", records[0].ID)
	assert.Equal(t, []string{"OLD001"}, env.state.Seen.Load(ctx).Sorted())
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	env := newTestEnv(t)
	env.page.FailNavigations = 1
	env.page.AddPage(pageAt(0), cardsHTML("A1"))
	opts := testOptions()
	opts.MaxPageChecks = 1

	records, status, err := env.scraper(opts).Fetch(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 2, status.Attempts)
	assert.Equal(t, 2, env.sessions.Opened)
	assert.Equal(t, float64(2), testutil.ToFloat64(env.metrics.AttemptsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.ErrorsTotal.WithLabelValues("navigation")))
}

func TestFetchRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.page.FailNavigations = 10

	records, status, err := env.scraper(testOptions()).Fetch(ctx, 5)
	require.Error(t, err)
	assert.Nil(t, records)
	var nav ErrNavigation
	require.ErrorAs(t, err, &nav)
	assert.Equal(t, pageAt(0), nav.URL)
	assert.Equal(t, 3, status.Attempts)
	assert.Equal(t, 3, env.sessions.Opened)
	assert.Zero(t, env.sessions.Persists)

	_, statErr := os.Stat(env.state.Seen.Path())
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestFetchSessionError(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.OpenErr = errors.New("chrome not found")
	opts := testOptions()
	opts.Retries = 0

	_, status, err := env.scraper(opts).Fetch(context.Background(), 5)
	require.Error(t, err)
	var session ErrSession
	assert.ErrorAs(t, err, &session)
	assert.Equal(t, 1, status.Attempts)
}

func TestPageURL(t *testing.T) {
	tests := []struct {
		listing, lastIDParam, lastID string
		start                        int
		expected                     string
	}{
		{listing: listingURL, start: 0, expected: listingURL + "?startIndex=0"},
		{listing: listingURL + "?ref=nav", start: 60, expected: listingURL + "?ref=nav&startIndex=60"},
		{listing: listingURL, start: 60, lastIDParam: "after", lastID: "B01", expected: listingURL + "?after=B01&startIndex=60"},
		{listing: listingURL, start: 60, lastIDParam: "after", expected: listingURL + "?startIndex=60"},
	}
	for _, tt := range tests {
		a := &acquisition{Scraper: &Scraper{Options: Options{ListingURL: tt.listing, PageParam: "startIndex", LastIDParam: tt.lastIDParam}}}
		got, err := a.pageURL(tt.start, tt.lastID)
		if err != nil {
			t.Fatalf("pageURL(%d, %q) returned error: %v", tt.start, tt.lastID, err)
		}
		if got != tt.expected {
			t.Errorf("pageURL(%d, %q) = %q; want %q", tt.start, tt.lastID, got, tt.expected)
		}
	}
}

func TestErrorTypeLabel(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{err: nil, expected: "unknown"},
		{err: ErrNavigation{URL: "u", Err: errors.New("boom")}, expected: "navigation"},
		{err: ErrNavigation{URL: "u", Err: context.DeadlineExceeded}, expected: "timeout"},
		{err: ErrSnapshot{Err: errors.New("boom")}, expected: "snapshot"},
		{err: fmt.Errorf("wrapped: %w", ErrSession{Err: errors.New("boom")}), expected: "session"},
		{err: errors.New("boom"), expected: "other"},
	}
	for _, tt := range tests {
		if got := errorTypeLabel(tt.err); got != tt.expected {
			t.Errorf("errorTypeLabel(%v) = %q; want %q", tt.err, got, tt.expected)
		}
	}
}

func TestBackOffIntervals(t *testing.T) {
	b := newBackOff(context.Background(), 10*time.Millisecond, 2)
	expected := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	for i, want := range expected {
		if got := b.NextBackOff(); got != want {
			t.Errorf("NextBackOff() #%d = %v; want %v", i, got, want)
		}
	}
	if got := b.NextBackOff(); got >= 0 {
		t.Errorf("expected backoff to stop after 2 retries, got %v", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.IncAttempt()
	m.IncPage("scroll")
	m.AddItems(3)
	m.IncError("other")
	assert.NoError(t, m.WriteToTextfile(filepath.Join(t.TempDir(), "x.prom")))
}

func TestMetricsWriteToTextfile(t *testing.T) {
	m := NewMetrics()
	m.IncCaptcha()
	path := filepath.Join(t.TempDir(), "dealskyr.prom")
	require.NoError(t, m.WriteToTextfile(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "dealskyr_captchas_total 1")
}
