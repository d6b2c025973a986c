// Package normalize turns raw listing cards into DealRecords.
package normalize

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/jakopako/dealskyr/internal/types"
)

const (
	affiliateParam = "tag"
	linkCodeParam  = "linkCode"
	linkCodeValue  = "ll1"
	postedDefault  = "no"
)

var (
	nonPriceChars     = regexp.MustCompile(`[^0-9.,\s]`)
	europeanThousands = regexp.MustCompile(`\d+\.\d{3},\d{2}`)
	decimalComma      = regexp.MustCompile(`\d+,\d{1,2}$`)
	leadingNumber     = regexp.MustCompile(`^\s*(\d*\.?\d+)`)
	percentBadge      = regexp.MustCompile(`^\d+%`)
)

// Norm replaces non breaking spaces and trims.
func Norm(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))
}

// ParsePrice parses prices written with either decimal commas ("1.234,56",
// "19,99") or decimal points ("1,234.56"). ok is false if s holds no number.
func ParsePrice(s string) (float64, bool) {
	t := Norm(s)
	if t == "" {
		return 0, false
	}
	t = strings.TrimSpace(nonPriceChars.ReplaceAllString(t, ""))
	switch {
	case europeanThousands.MatchString(t):
		t = strings.ReplaceAll(t, ".", "")
		t = strings.ReplaceAll(t, ",", ".")
	case decimalComma.MatchString(t) && !strings.Contains(t, "."):
		t = strings.ReplaceAll(t, ",", ".")
	default:
		t = strings.ReplaceAll(t, ",", "")
	}
	m := leadingNumber.FindStringSubmatch(t)
	if m == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// ComputeDiscount returns the rounded discount as a percentage string, e.g.
// "20%". It returns nil unless both prices are present, non zero and the old
// price is strictly higher than the current one.
func ComputeDiscount(oldPrice, price *float64) *string {
	if oldPrice == nil || price == nil || *oldPrice == 0 || *price == 0 || *oldPrice <= *price {
		return nil
	}
	pct := math.Floor((*oldPrice-*price) / *oldPrice * 100 + 0.5)
	d := fmt.Sprintf("%d%%", int(pct))
	return &d
}

// PickBestTitle returns the first candidate that is not a percentage badge
// like "20% off". If all candidates are badges the first one is used.
func PickBestTitle(candidates ...string) string {
	var nonEmpty []string
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			nonEmpty = append(nonEmpty, c)
		}
	}
	for _, c := range nonEmpty {
		if !percentBadge.MatchString(c) {
			return c
		}
	}
	if len(nonEmpty) > 0 {
		return nonEmpty[0]
	}
	return ""
}

// AddAffiliateTag sets the affiliate tag on rawURL. Relative urls are
// resolved against base. Applying it twice with the same tag is a no-op. If
// rawURL cannot be parsed it is returned unchanged.
func AddAffiliateTag(rawURL, tag, base string) string {
	if rawURL == "" || tag == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if !u.IsAbs() && base != "" {
		b, err := url.Parse(base)
		if err != nil {
			return rawURL
		}
		u = b.ResolveReference(u)
	}
	q := u.Query()
	if q.Get(affiliateParam) == tag {
		return u.String()
	}
	q.Set(affiliateParam, tag)
	q.Set(linkCodeParam, linkCodeValue)
	u.RawQuery = q.Encode()
	return u.String()
}

// Options control how candidates become records.
type Options struct {
	Source        string
	AffiliateTag  string
	BaseURL       string
	Limit         int
	OnlyDiscounts bool
}

// ToRecord maps a single candidate.
func ToRecord(it types.CandidateItem, opts Options) types.DealRecord {
	title := PickBestTitle(it.ImgAlt, it.LinkTitle, it.LabelSpan, it.Heading)
	rec := types.DealRecord{
		ID:     it.ID,
		Title:  Norm(title),
		Link:   AddAffiliateTag(it.Link, opts.AffiliateTag, opts.BaseURL),
		Image:  it.ImageURL,
		Source: opts.Source,
		Posted: postedDefault,
	}
	var price, oldPrice *float64
	if p, ok := ParsePrice(it.PriceRaw); ok {
		price = &p
		rec.Price = strconv.FormatFloat(p, 'f', 2, 64)
	}
	if p, ok := ParsePrice(it.OldPriceRaw); ok {
		oldPrice = &p
		rec.OldPrice = strconv.FormatFloat(p, 'f', 2, 64)
	}
	rec.Discount = ComputeDiscount(oldPrice, price)
	return rec
}

// Records maps the first opts.Limit items (all if Limit <= 0) and drops
// records without a discount if opts.OnlyDiscounts is set.
// HasDiscount reports whether it would become a record with a discount.
func HasDiscount(it types.CandidateItem) bool {
	price, ok := ParsePrice(it.PriceRaw)
	if !ok {
		return false
	}
	oldPrice, ok := ParsePrice(it.OldPriceRaw)
	if !ok {
		return false
	}
	return ComputeDiscount(&oldPrice, &price) != nil
}

func Records(items []types.CandidateItem, opts Options) []types.DealRecord {
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	records := make([]types.DealRecord, 0, len(items))
	for _, it := range items {
		rec := ToRecord(it, opts)
		if opts.OnlyDiscounts && rec.Discount == nil {
			continue
		}
		records = append(records, rec)
	}
	return records
}
