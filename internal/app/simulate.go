package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"rigscout/internal/alerting"
	"rigscout/internal/listing"
	"rigscout/internal/pipeline"
)

// SimulateAlert 用一条虚构的 listing 走一遍估值流程，并同步发送告警，用于检查通道配置。
func (a *App) SimulateAlert(ctx context.Context, title string, price decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	notifiers := a.newNotifiers()
	if len(notifiers) == 0 {
		return errors.New("未配置任何告警通道")
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
		ExternalID: "simulated",
		Platform:   listing.PlatformCraigslist,
		URL:        "https://example.invalid/simulated",
		Title:      title,
		Price:      price,
	}
	candidate, err := evaluator.Evaluate(ctx, draft, nowUTC())
	if err != nil {
		return err
	}

	ev := alerting.Event{Type: alerting.EventCandidateFound, Payload: candidate, OccurredAt: nowUTC()}
	var errs []error
	for _, n := range notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("simulated alert: %w", err)
	}
	fmt.Fprintf(a.Out, "sent simulated alert to %d channel(s)\n", len(notifiers))
	return nil
}

var _ alerting.Summarizer = pipeline.Candidate{}
