package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"

	"rigscout/internal/listing"
)

// AppraiseOptions is an ad-hoc listing typed in by the operator.
type AppraiseOptions struct {
	Platform    string
	Title       string
	Description string
	Price       float64
	Images      []string
}

// Appraise values and risk-scores a listing without adding it to the pipeline.
func (a *App) Appraise(ctx context.Context, opts AppraiseOptions) error {
	if strings.TrimSpace(opts.Title) == "" && strings.TrimSpace(opts.Description) == "" {
		return errors.New("--title or --description is required")
	}
	if opts.Price < 0 {
		return errors.New("--price must not be negative")
	}
	platform, err := listing.ParsePlatform(opts.Platform)
	if err != nil {
		return err
	}

	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}
	evaluator, err := a.newEvaluator(ctx, rt)
	if err != nil {
		return err
	}

	draft := listing.Draft{
		ExternalID:  "adhoc",
		Platform:    platform,
		Title:       opts.Title,
		Description: opts.Description,
		Price:       decimal.NewFromFloat(opts.Price),
		Images:      opts.Images,
	}
	c, err := evaluator.Evaluate(ctx, draft, nowUTC())
	if err != nil {
		return err
	}

	t := newTable(a.Out, table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"summary", sanitizeInline(c.Summary())},
		{"fmv", formatDecimal(c.FMV.Total, 2)},
		{"confidence", fmt.Sprintf("%.2f", c.FMV.Confidence)},
		{"price table", c.FMV.PriceTableVersion},
		{"expected profit", formatDecimal(c.ExpectedProfit, 2)},
		{"risk", fmt.Sprintf("%d (%s)", c.Risk.Score, c.Risk.Recommendation)},
		{"open offer", formatDecimal(c.Anchors.Open, 0)},
		{"target offer", formatDecimal(c.Anchors.Target, 0)},
		{"walkaway", formatDecimal(c.Anchors.Walkaway, 0)},
	})
	for _, f := range c.Risk.Flags {
		t.AppendRow(table.Row{"flag " + f.Rule, sanitizeInline(f.Description)})
	}
	t.Render()
	return nil
}
