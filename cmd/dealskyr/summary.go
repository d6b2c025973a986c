package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jakopako/dealskyr/internal/types"
	"github.com/olekukonko/tablewriter"
)

func renderSummary(w io.Writer, records []types.DealRecord, status types.RunStatus) error {
	table := tablewriter.NewWriter(w)
	table.Header("Title", "Price", "Old price", "Discount")
	for _, r := range records {
		discount := "-"
		if r.Discount != nil {
			discount = *r.Discount
		}
		if err := table.Append([]string{truncate(r.Title, 50), r.Price, r.OldPrice, discount}); err != nil {
			return err
		}
	}
	table.Footer(
		fmt.Sprintf("%d deals", status.NrItems),
		fmt.Sprintf("%d collected", status.NrCollected),
		fmt.Sprintf("%d attempts", status.Attempts),
		flags(status),
	)
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "source %s, took %s\n", status.Source, status.End.Sub(status.Start).Round(100*time.Millisecond))
	return err
}

func flags(status types.RunStatus) string {
	switch {
	case status.Captcha && status.Fallback:
		return "fallback, captcha"
	case status.Captcha:
		return "captcha"
	case status.Fallback:
		return "fallback"
	}
	return "paginated"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
