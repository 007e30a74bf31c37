package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"

	"rigscout/internal/pipeline"
	"rigscout/internal/specs"
)

// DealListOptions filters the deals listing.
type DealListOptions struct {
	Stages    []string
	OpenOnly  bool
	MinProfit *float64
	Limit     int
}

func (o DealListOptions) filter() (pipeline.Filter, error) {
	var f pipeline.Filter
	for _, raw := range o.Stages {
		st, err := pipeline.ParseStage(raw)
		if err != nil {
			return f, err
		}
		f.Stages = append(f.Stages, st)
	}
	f.OpenOnly = o.OpenOnly
	if o.MinProfit != nil {
		v := decimal.NewFromFloat(*o.MinProfit)
		f.MinProfit = &v
	}
	return f, nil
}

// ListDeals prints deals matching opts, newest first.
func (a *App) ListDeals(ctx context.Context, opts DealListOptions) error {
	f, err := opts.filter()
	if err != nil {
		return err
	}
	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}
	deals, err := rt.deals.List(ctx, f)
	if err != nil {
		return err
	}
	if len(deals) == 0 {
		fmt.Fprintln(a.Out, "no deals found")
		return nil
	}
	if opts.Limit > 0 && len(deals) > opts.Limit {
		deals = deals[len(deals)-opts.Limit:]
	}

	t := newTable(a.Out, table.Row{"ID", "Stage", "Title", "Asking", "FMV", "Profit", "Risk", "Days", "Seen", "Tasks"})
	for i := len(deals) - 1; i >= 0; i-- {
		d := deals[i]
		v := d.Valuation
		t.AppendRow(table.Row{
			shortID(d.ID),
			d.Stage,
			truncate(d.Listing.Title, 40),
			formatDecimal(d.Listing.Price, 2),
			formatDecimal(v.FMV.Total, 2),
			formatDecimal(v.ExpectedProfit, 2),
			fmt.Sprintf("%d %s", v.Risk.Score, v.Risk.Recommendation),
			d.Metrics.DaysInPipeline,
			d.Metrics.Sightings,
			d.OpenTasks(),
		})
	}
	t.Render()
	return nil
}

// resolveDeal accepts a full id or a unique prefix as printed by ListDeals.
func (a *App) resolveDeal(ctx context.Context, rt *runtime, ref string) (pipeline.Deal, error) {
	d, err := rt.deals.Get(ctx, ref)
	if err == nil || !pipeline.IsNotFound(err) || len(ref) >= 36 {
		return d, err
	}
	all, lerr := rt.deals.List(ctx, pipeline.Filter{})
	if lerr != nil {
		return pipeline.Deal{}, lerr
	}
	var match []pipeline.Deal
	for _, cand := range all {
		if strings.HasPrefix(cand.ID, ref) {
			match = append(match, cand)
		}
	}
	switch len(match) {
	case 0:
		return pipeline.Deal{}, err
	case 1:
		return match[0], nil
	default:
		return pipeline.Deal{}, fmt.Errorf("deal prefix %q is ambiguous (%d matches)", ref, len(match))
	}
}

// ShowDeal prints one deal with its valuation, risk flags, notes and tasks.
func (a *App) ShowDeal(ctx context.Context, ref string) error {
	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}
	d, err := a.resolveDeal(ctx, rt, ref)
	if err != nil {
		return err
	}
	a.printDeal(d)
	return nil
}

func (a *App) printDeal(d pipeline.Deal) {
	v := d.Valuation
	fmt.Fprintf(a.Out, "%s  [%s]\n", sanitizeInline(d.Listing.Title), d.Stage)
	fmt.Fprintf(a.Out, "id: %s\nlisting: %s\nurl: %s\n", d.ID, d.ListingKey, d.Listing.URL)
	fmt.Fprintf(a.Out, "asking: %s  fmv: %s  profit: %s  confidence: %.2f  table: %s\n",
		formatDecimal(d.Listing.Price, 2), formatDecimal(v.FMV.Total, 2), formatDecimal(v.ExpectedProfit, 2),
		v.FMV.Confidence, v.FMV.PriceTableVersion)
	fmt.Fprintf(a.Out, "offers: open %s / target %s / walkaway %s\n",
		formatDecimal(v.Anchors.Open, 0), formatDecimal(v.Anchors.Target, 0), formatDecimal(v.Anchors.Walkaway, 0))
	fmt.Fprintf(a.Out, "risk: %d (%s)\n", v.Risk.Score, v.Risk.Recommendation)
	fmt.Fprintf(a.Out, "days: %d  touchpoints: %d  sightings: %d\n", d.Metrics.DaysInPipeline, d.Metrics.Touchpoints, d.Metrics.Sightings)

	comp := newTable(a.Out, table.Row{"Component", "Detected", "Confidence", "Value"})
	appendComponent := func(kind specs.Kind, detected string, confidence float64) {
		comp.AppendRow(table.Row{kind, detected, fmt.Sprintf("%.2f", confidence), formatDecimal(v.FMV.ByComponent[kind], 2)})
	}
	if c := v.Specs.CPU; c != nil {
		appendComponent(specs.KindCPU, c.Model, c.Confidence)
	}
	if c := v.Specs.GPU; c != nil {
		appendComponent(specs.KindGPU, c.Model, c.Confidence)
	}
	if m := v.Specs.RAM; m != nil {
		appendComponent(specs.KindRAM, fmt.Sprintf("%dGB", m.TotalGB), m.Confidence)
	}
	if len(v.Specs.Storage) > 0 {
		parts := make([]string, 0, len(v.Specs.Storage))
		low := 1.0
		for _, s := range v.Specs.Storage {
			parts = append(parts, fmt.Sprintf("%dGB %s", s.CapacityGB, s.Kind))
			low = min(low, s.Confidence)
		}
		appendComponent(specs.KindStorage, fmt.Sprintf("%dGB (%s)", v.Specs.StorageGB(), strings.Join(parts, ", ")), low)
	}
	comp.Render()

	if len(v.Risk.Flags) > 0 {
		flags := newTable(a.Out, table.Row{"Rule", "Severity", "Description"})
		for _, f := range v.Risk.Flags {
			flags.AppendRow(table.Row{f.Rule, f.Severity, sanitizeInline(f.Description)})
		}
		flags.Render()
	}
	for _, n := range d.Notes {
		fmt.Fprintf(a.Out, "note %s: %s\n", n.CreatedAt.UTC().Format(time.RFC3339), sanitizeInline(n.Body))
	}
	for _, t := range d.Tasks {
		mark := " "
		if t.Done {
			mark = "x"
		}
		fmt.Fprintf(a.Out, "[%s] %s %s (due %s)\n", mark, shortID(t.ID), sanitizeInline(t.Title), formatTime(t.Due))
	}
}

// AdvanceDeal moves a deal to another stage.
func (a *App) AdvanceDeal(ctx context.Context, ref, stage string) error {
	to, err := pipeline.ParseStage(stage)
	if err != nil {
		return err
	}
	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}
	d, err := a.resolveDeal(ctx, rt, ref)
	if err != nil {
		return err
	}
	from := d.Stage
	if d, err = rt.deals.Transition(ctx, d.ID, to); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s: %s -> %s\n", d.ID, from, d.Stage)
	return nil
}

// AddNote attaches a free-form note to a deal.
func (a *App) AddNote(ctx context.Context, ref, body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("note body is required")
	}
	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}
	d, err := a.resolveDeal(ctx, rt, ref)
	if err != nil {
		return err
	}
	_, err = rt.deals.AddNote(ctx, d.ID, body)
	return err
}

// AddTask attaches a follow-up task to a deal and prints the task id.
func (a *App) AddTask(ctx context.Context, ref, title string, due *time.Time) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("task title is required")
	}
	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}
	d, err := a.resolveDeal(ctx, rt, ref)
	if err != nil {
		return err
	}
	_, task, err := rt.deals.AddTask(ctx, d.ID, title, due)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.Out, task.ID)
	return nil
}

// CompleteTask marks a task done. taskRef may be a prefix of the task id.
func (a *App) CompleteTask(ctx context.Context, ref, taskRef string) error {
	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}
	d, err := a.resolveDeal(ctx, rt, ref)
	if err != nil {
		return err
	}
	taskID := taskRef
	for _, t := range d.Tasks {
		if strings.HasPrefix(t.ID, taskRef) {
			taskID = t.ID
			break
		}
	}
	_, err = rt.deals.CompleteTask(ctx, d.ID, taskID)
	return err
}

// Stats prints per-stage counts and pipeline health.
func (a *App) Stats(ctx context.Context) error {
	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}
	st, err := rt.deals.StatsByStage(ctx)
	if err != nil {
		return err
	}

	t := newTable(a.Out, table.Row{"Stage", "Deals"})
	for _, stage := range pipeline.Stages() {
		t.AppendRow(table.Row{stage, st.Counts[stage]})
	}
	t.AppendFooter(table.Row{"total", st.Total})
	t.Render()

	fmt.Fprintf(a.Out, "average days in pipeline: %.1f\n", st.AverageDays)
	fmt.Fprintf(a.Out, "completion rate: %.1f%%\n", st.CompletionRate*100)
	fmt.Fprintf(a.Out, "open expected profit: %s\n", formatDecimal(st.OpenProfit, 2))
	return nil
}
