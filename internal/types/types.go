// Package types defines shared types used across the application.
package types

import "time"

// Snapshot is the rendered state of the listing page at one point in time.
type Snapshot struct {
	URL  string
	HTML string
}

// CandidateItem is a listing card as found in a snapshot. The four title
// fields are redundant sources, see normalize.PickBestTitle.
type CandidateItem struct {
	ID          string
	ImgAlt      string
	LinkTitle   string
	LabelSpan   string
	Heading     string
	PriceRaw    string
	OldPriceRaw string
	ImageURL    string
	Link        string
}

// DealRecord is the canonical output unit handed to a writer.
type DealRecord struct {
	ID       string  `json:"id" yaml:"id"`
	Title    string  `json:"title" yaml:"title"`
	Price    string  `json:"price" yaml:"price"`
	OldPrice string  `json:"old_price" yaml:"old_price"`
	Discount *string `json:"discount" yaml:"discount"`
	Link     string  `json:"link" yaml:"link"`
	Image    string  `json:"image" yaml:"image"`
	Source   string  `json:"source" yaml:"source"`
	Posted   string  `json:"posted" yaml:"posted"`
}

// RunStatus represents the status of a scraper run.
type RunStatus struct {
	Source      string    `json:"source"`
	NrItems     int       `json:"nrItems"`
	NrCollected int       `json:"nrCollected"`
	Attempts    int       `json:"attempts"`
	Captcha     bool      `json:"captcha"`
	Fallback    bool      `json:"fallback"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}
