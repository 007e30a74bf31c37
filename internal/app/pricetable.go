package app

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"

	"rigscout/internal/valuation"
)

// ImportPriceTable stores the table at path, makes it active and revalues open
// deals appraised against an older version.
func (a *App) ImportPriceTable(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read price table: %w", err)
	}
	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}
	pt, err := rt.priceTables.Import(ctx, raw, nowUTC())
	if err != nil {
		return err
	}

	engine, err := valuation.NewEngine(pt, valuation.Options{FloorValue: floorValue(a.Config.Valuation)})
	if err != nil {
		return err
	}
	anchors, err := valuation.NewAnchors(anchorOptions(a.Config.Anchors))
	if err != nil {
		return err
	}
	changed, err := rt.deals.Revalue(ctx, engine, anchors)
	if err != nil {
		return err
	}
	a.Logger.Info().Str("version", pt.Version).Int("revalued", changed).Msg("price table imported")
	fmt.Fprintf(a.Out, "imported %s, revalued %d open deals\n", pt.Version, changed)
	return nil
}

// ShowPriceTables lists stored versions, or prints one version's YAML.
func (a *App) ShowPriceTables(ctx context.Context, version string) error {
	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}
	if version != "" {
		rec, err := rt.priceTables.Get(ctx, version)
		if err != nil {
			return err
		}
		fmt.Fprint(a.Out, rec.YAML)
		return nil
	}

	records, err := rt.priceTables.Versions(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.Out, "no price tables imported")
		return nil
	}
	active := ""
	if t, err := rt.priceTables.Active(ctx); err == nil {
		active = t.Version
	}
	t := newTable(a.Out, table.Row{"Version", "Imported", "Active"})
	for _, rec := range records {
		mark := ""
		if rec.Version == active {
			mark = "*"
		}
		t.AppendRow(table.Row{rec.Version, formatTime(&rec.ImportedAt), mark})
	}
	t.Render()
	return nil
}
