package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"rigscout/internal/scanner"
)

// ScanOnce runs one scan round and prints the per-target report. With no ids
// every due target runs; otherwise the named targets run regardless of cadence.
func (a *App) ScanOnce(ctx context.Context, ids []string) error {
	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}
	svc, err := a.newService(ctx, rt)
	if err != nil {
		return err
	}

	var report scanner.RunReport
	if len(ids) == 0 {
		report, err = svc.ScanDue(ctx)
	} else {
		report, err = svc.ScanTargets(ctx, ids...)
	}
	if len(report.Results) > 0 {
		a.printReport(report)
	} else if err == nil {
		fmt.Fprintln(a.Out, "no targets due")
	}
	return err
}

func (a *App) printReport(r scanner.RunReport) {
	t := newTable(a.Out, table.Row{"Target", "Status", "Attempts", "Found", "Error"})
	for _, res := range r.Results {
		errMsg := ""
		if res.Err != nil {
			errMsg = truncate(res.Err.Error(), 60)
		}
		t.AppendRow(table.Row{res.TargetID, res.Status, res.Attempts, res.Found, errMsg})
	}
	t.AppendFooter(table.Row{"run " + shortID(r.ID), fmt.Sprintf("%d ok", r.Count(scanner.StatusSucceeded)), "", "", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond)})
	t.Render()
	if r.Partial() {
		fmt.Fprintf(a.Out, "partial run: %d of %d targets scanned\n", r.Count(scanner.StatusSucceeded), len(r.Results))
	}
}
