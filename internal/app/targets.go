package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"

	"rigscout/internal/listing"
)

// TargetOptions describes a saved search to register.
type TargetOptions struct {
	Platform string
	URL      string
	Cadence  time.Duration
	Disabled bool
}

// AddTarget registers a saved search and prints its id.
func (a *App) AddTarget(ctx context.Context, opts TargetOptions) (listing.SearchTarget, error) {
	platform, err := listing.ParsePlatform(opts.Platform)
	if err != nil {
		return listing.SearchTarget{}, err
	}
	u, err := url.Parse(opts.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return listing.SearchTarget{}, fmt.Errorf("invalid search url %q", opts.URL)
	}
	if opts.Cadence < 0 {
		return listing.SearchTarget{}, errors.New("cadence must not be negative")
	}

	rt, err := a.runtime(ctx)
	if err != nil {
		return listing.SearchTarget{}, err
	}
	t := listing.SearchTarget{
		ID:       uuid.NewString(),
		Platform: platform,
		URL:      u.String(),
		Cadence:  opts.Cadence,
		Enabled:  !opts.Disabled,
	}
	if err := rt.targets.Save(ctx, t); err != nil {
		return listing.SearchTarget{}, err
	}
	a.Logger.Info().Str("target_id", t.ID).Str("platform", string(t.Platform)).Dur("cadence", t.Cadence).Msg("target added")
	fmt.Fprintln(a.Out, t.ID)
	return t, nil
}

// ListTargets prints every saved search.
func (a *App) ListTargets(ctx context.Context) error {
	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}
	targets, err := rt.targets.List(ctx)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Fprintln(a.Out, "no targets configured")
		return nil
	}

	t := newTable(a.Out, table.Row{"ID", "Platform", "Cadence", "Enabled", "Last Run", "Found", "URL"})
	for _, target := range targets {
		cadence := "manual"
		if !target.Manual() {
			cadence = target.Cadence.String()
		}
		t.AppendRow(table.Row{target.ID, target.Platform, cadence, target.Enabled, formatTime(target.LastRunAt), target.ResultsFound, truncate(target.URL, 60)})
	}
	t.Render()
	return nil
}

// SetTargetEnabled toggles whether a target takes part in scans.
func (a *App) SetTargetEnabled(ctx context.Context, id string, enabled bool) error {
	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}
	t, err := rt.targets.SetEnabled(ctx, id, enabled)
	if err != nil {
		return err
	}
	a.Logger.Info().Str("target_id", t.ID).Bool("enabled", t.Enabled).Msg("target updated")
	return nil
}

// RemoveTarget deletes a saved search. Deals it already produced are kept.
func (a *App) RemoveTarget(ctx context.Context, id string) error {
	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}
	if err := rt.targets.Delete(ctx, id); err != nil {
		return err
	}
	a.Logger.Info().Str("target_id", id).Msg("target removed")
	return nil
}
