package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/jakopako/dealskyr/internal/types"
)

const emptyPage = "<html><head></head><body></body></html>"

// MockPage replays canned html. Each Snapshot call returns the next entry
// of the sequence registered for the current url, the last entry repeats.
// Navigating resets the sequence. Unknown urls render an empty page.
type MockPage struct {
	mu sync.Mutex

	pages map[string][]string
	// FailNavigations makes the next n calls to Navigate fail.
	FailNavigations int
	// LoadMore is the result of evaluating a script with a bool result.
	LoadMore bool

	current     string
	pos         int
	cookies     []*network.Cookie
	Navigations []string
	Evaluations []string
	Screenshots []string
	Closed      bool
}

func NewMockPage() *MockPage {
	return &MockPage{pages: map[string][]string{}}
}

// AddPage registers the html sequence served for urlStr.
func (m *MockPage) AddPage(urlStr string, html ...string) *MockPage {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[urlStr] = html
	return m
}

func (m *MockPage) Navigate(ctx context.Context, urlStr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Navigations = append(m.Navigations, urlStr)
	if m.FailNavigations > 0 {
		m.FailNavigations--
		return fmt.Errorf("navigation to %s failed", urlStr)
	}
	m.current = urlStr
	m.pos = 0
	return nil
}

func (m *MockPage) Evaluate(ctx context.Context, expression string, res any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Evaluations = append(m.Evaluations, expression)
	switch r := res.(type) {
	case *bool:
		*r = m.LoadMore
	case *int:
		*r = 0
	}
	return nil
}

func (m *MockPage) Snapshot(ctx context.Context) (types.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == "" {
		return types.Snapshot{}, errors.New("no page loaded")
	}
	seq, ok := m.pages[m.current]
	if !ok || len(seq) == 0 {
		return types.Snapshot{URL: m.current, HTML: emptyPage}, nil
	}
	html := seq[min(m.pos, len(seq)-1)]
	m.pos++
	return types.Snapshot{URL: m.current, HTML: html}, nil
}

func (m *MockPage) SetCookies(ctx context.Context, cookies []*network.Cookie) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cookies = append(m.cookies, cookies...)
	return nil
}

func (m *MockPage) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cookies, nil
}

func (m *MockPage) Screenshot(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Screenshots = append(m.Screenshots, path)
	return nil
}

func (m *MockPage) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
}

// Scripts counts the evaluated scripts containing substr.
func (m *MockPage) Scripts(substr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.Evaluations {
		if strings.Contains(e, substr) {
			n++
		}
	}
	return n
}

// MockManager hands out the same MockPage on every Open and records what
// happened to the session.
type MockManager struct {
	Page     *MockPage
	OpenErr  error
	Opened   int
	Persists int
	Resets   int
}

func (m *MockManager) Open(ctx context.Context) (Page, error) {
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	m.Opened++
	m.Page.mu.Lock()
	m.Page.Closed = false
	m.Page.mu.Unlock()
	return m.Page, nil
}

func (m *MockManager) Persist(ctx context.Context, p Page) {
	m.Persists++
}

func (m *MockManager) Reset(ctx context.Context) {
	m.Resets++
}
