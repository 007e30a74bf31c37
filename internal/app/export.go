package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"rigscout/internal/pipeline"
)

// ExportOptions selects export targets.
type ExportOptions struct {
	CSVPath  string
	PNGPath  string
	MaxRows  int
	OpenOnly bool
}

// Export renders the deal pipeline as a CSV and/or a PNG stage funnel.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	opts.MaxRows = a.Config.ResolveMaxRows(opts.MaxRows)

	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}
	deals, err := rt.deals.List(ctx, pipeline.Filter{OpenOnly: opts.OpenOnly})
	if err != nil {
		return err
	}
	if len(deals) == 0 {
		a.Logger.Info().Msg("no deals to export")
		return nil
	}

	rows := deals
	if len(rows) > opts.MaxRows {
		rows = rows[len(rows)-opts.MaxRows:]
	}
	a.Logger.Info().Int("total", len(deals)).Int("exported", len(rows)).Msg("exporting deals")

	if opts.CSVPath != "" {
		if err := writeDealsCSV(a.exportPath(opts.CSVPath), rows); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		st := pipeline.ComputeStats(deals, nowUTC())
		if err := writeStagesPNG(a.exportPath(opts.PNGPath), st); err != nil {
			return err
		}
	}
	return nil
}

// exportPath places relative paths under export.directory when it is set.
func (a *App) exportPath(path string) string {
	dir := a.Config.Export.Directory
	if dir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func writeDealsCSV(path string, deals []pipeline.Deal) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"deal_id", "listing_key", "platform", "title", "url", "stage", "asking", "fmv", "confidence", "expected_profit", "risk_score", "recommendation", "offer_open", "offer_target", "offer_walkaway", "price_table", "days_in_pipeline", "touchpoints", "sightings", "created_at", "updated_at"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, d := range deals {
		v := d.Valuation
		record := []string{
			d.ID,
			d.ListingKey,
			string(d.Listing.Platform),
			sanitizeInline(d.Listing.Title),
			d.Listing.URL,
			string(d.Stage),
			d.Listing.Price.String(),
			v.FMV.Total.String(),
			strconv.FormatFloat(v.FMV.Confidence, 'f', 3, 64),
			v.ExpectedProfit.String(),
			strconv.Itoa(v.Risk.Score),
			string(v.Risk.Recommendation),
			v.Anchors.Open.String(),
			v.Anchors.Target.String(),
			v.Anchors.Walkaway.String(),
			v.FMV.PriceTableVersion,
			strconv.Itoa(d.Metrics.DaysInPipeline),
			strconv.Itoa(d.Metrics.Touchpoints),
			strconv.Itoa(d.Metrics.Sightings),
			d.CreatedAt.UTC().Format(time.RFC3339),
			d.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeStagesPNG(path string, st pipeline.Stats) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	bars := make([]chart.Value, 0, len(st.Counts))
	for _, stage := range pipeline.Stages() {
		bars = append(bars, chart.Value{Label: string(stage), Value: float64(st.Counts[stage])})
	}

	graph := chart.BarChart{
		Title:    "Deals by stage",
		Width:    1280,
		Height:   720,
		BarWidth: 90,
		Background: chart.Style{
			Padding: chart.Box{Top: 60},
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Bars: bars,
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}
