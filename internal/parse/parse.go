// Package parse reads listing cards out of rendered page snapshots and
// recognizes block pages.
package parse

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jakopako/dealskyr/internal/types"
	"golang.org/x/net/html"
)

const (
	// ItemSelector matches one listing card. Cards with an empty identifier
	// are placeholders that have not been rendered yet.
	ItemSelector = `div[data-asin]:not([data-asin=""])`

	challengeInputSelector = "input#captchacharacters"
	defaultCacheSize       = 64
)

var blockSignatures = []string{
	"Enter the characters you see below",
	"Type the characters you see in this image",
	"Sorry, we just need to make sure you're not a robot",
}

type result struct {
	blocked bool
	items   []types.CandidateItem
}

// A Parser caches results by snapshot content since the scroll loop takes
// many snapshots of an unchanged page.
type Parser struct {
	cache *lru.Cache[uint64, result]
}

func NewParser() *Parser {
	cache, err := lru.New[uint64, result](defaultCacheSize)
	if err != nil {
		// only happens for a non positive size
		panic(err)
	}
	return &Parser{cache: cache}
}

// IsBlocked reports whether the snapshot is a challenge page instead of the
// listing.
func (p *Parser) IsBlocked(s types.Snapshot) bool {
	return p.parse(s).blocked
}

// ExtractCandidates returns every card of the snapshot that has both an
// identifier and a link, in document order and without duplicates.
func (p *Parser) ExtractCandidates(s types.Snapshot) []types.CandidateItem {
	items := p.parse(s).items
	out := make([]types.CandidateItem, len(items))
	copy(out, items)
	return out
}

func (p *Parser) parse(s types.Snapshot) result {
	key := xxhash.Sum64String(s.URL + "\x00" + s.HTML)
	if r, ok := p.cache.Get(key); ok {
		return r
	}
	r := parseSnapshot(s)
	p.cache.Add(key, r)
	return r
}

func parseSnapshot(s types.Snapshot) result {
	root, err := html.Parse(strings.NewReader(s.HTML))
	if err != nil {
		return result{}
	}
	doc := goquery.NewDocumentFromNode(root)
	return result{
		blocked: isBlocked(doc),
		items:   extractItems(doc, s.URL),
	}
}

func isBlocked(doc *goquery.Document) bool {
	if doc.Find(challengeInputSelector).Length() > 0 {
		return true
	}
	body := doc.Find("body").Text()
	for _, sig := range blockSignatures {
		if strings.Contains(body, sig) {
			return true
		}
	}
	return false
}

func extractItems(doc *goquery.Document, pageURL string) []types.CandidateItem {
	base, _ := url.Parse(pageURL)
	seen := map[string]bool{}
	items := []types.CandidateItem{}
	doc.Find(ItemSelector).Each(func(i int, s *goquery.Selection) {
		id := strings.TrimSpace(s.AttrOr("data-asin", ""))
		if id == "" || seen[id] {
			return
		}
		it := extractItem(s, base)
		if it.Link == "" {
			return
		}
		it.ID = id
		seen[id] = true
		items = append(items, it)
	})
	return items
}

func extractItem(s *goquery.Selection, base *url.URL) types.CandidateItem {
	img := s.Find("img").First()
	link := s.Find("h2 a").First()
	if link.Length() == 0 {
		link = s.Find("a.a-link-normal").First()
	}

	var prices []string
	s.Find(".a-offscreen").Each(func(i int, p *goquery.Selection) {
		if t := text(p); t != "" {
			prices = append(prices, t)
		}
	})
	it := types.CandidateItem{
		ImgAlt:    strings.TrimSpace(img.AttrOr("alt", "")),
		LinkTitle: strings.TrimSpace(link.AttrOr("title", "")),
		LabelSpan: text(s.Find("h2 a span").First()),
		Heading:   text(s.Find("h2").First()),
		ImageURL:  strings.TrimSpace(img.AttrOr("src", "")),
		Link:      resolve(base, strings.TrimSpace(link.AttrOr("href", ""))),
	}
	if len(prices) > 0 {
		it.PriceRaw = prices[0]
	}
	if len(prices) > 1 {
		it.OldPriceRaw = prices[1]
	} else {
		it.OldPriceRaw = text(s.Find(".a-text-strike").First())
	}
	return it
}

// text collapses whitespace the way the text is rendered.
func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func resolve(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil || u.IsAbs() {
		return u.String()
	}
	return base.ResolveReference(u).String()
}
