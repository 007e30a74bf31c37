package app

import (
	"time"

	"github.com/shopspring/decimal"

	"rigscout/internal/alerting"
	"rigscout/internal/config"
	"rigscout/internal/risk"
	"rigscout/internal/scanner"
	"rigscout/internal/specs"
	"rigscout/internal/valuation"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

func scannerOptions(cfg config.ScannerConfig) scanner.Options {
	opts := scanner.DefaultOptions()
	opts.MaxConcurrent = cfg.MaxConcurrent
	opts.Timeout = cfg.Timeout
	opts.RetryAttempts = cfg.RetryAttempts
	if cfg.BreakerThreshold >= 0 {
		opts.BreakerThreshold = uint32(cfg.BreakerThreshold)
	}
	if cfg.BreakerCooldown > 0 {
		opts.BreakerCooldown = cfg.BreakerCooldown
	}
	return opts
}

// newScorer overlays configured heuristics on the stock ones.
func newScorer(cfg config.RiskConfig) (*risk.Scorer, error) {
	rc := risk.DefaultConfig()
	if cfg.SafeMax > 0 {
		rc.SafeMax = cfg.SafeMax
	}
	if cfg.CautionMax > 0 {
		rc.CautionMax = cfg.CautionMax
	}
	if cfg.PriceRatioThreshold > 0 {
		rc.PriceRatioThreshold = cfg.PriceRatioThreshold
	}
	if cfg.MinAccountAge > 0 {
		rc.MinAccountAge = cfg.MinAccountAge
	}
	if cfg.MinDescriptionLength > 0 {
		rc.MinDescriptionLength = cfg.MinDescriptionLength
	}
	if len(cfg.ScamPhrases) > 0 {
		rc.ScamPhrases = cfg.ScamPhrases
	}
	if len(cfg.CrossBorderPhrases) > 0 {
		rc.CrossBorderPhrases = cfg.CrossBorderPhrases
	}
	if len(cfg.StockPhotoHosts) > 0 {
		rc.StockPhotoHosts = cfg.StockPhotoHosts
	}
	if len(cfg.Weights) > 0 {
		rc.Weights = cfg.Weights
	}
	return risk.NewScorer(rc)
}

func anchorOptions(cfg config.AnchorsConfig) valuation.AnchorOptions {
	opts := valuation.DefaultAnchorOptions()
	set := func(dst *decimal.Decimal, v float64) {
		if v > 0 {
			*dst = decimal.NewFromFloat(v)
		}
	}
	set(&opts.OpenDiscount, cfg.OpenDiscount)
	set(&opts.TargetDiscount, cfg.TargetDiscount)
	set(&opts.WalkawayDiscount, cfg.WalkawayDiscount)
	set(&opts.StepPerRiskPoint, cfg.StepPerRiskPoint)
	set(&opts.MaxDiscount, cfg.MaxDiscount)
	set(&opts.Increment, cfg.Increment)
	if cfg.RiskPivot > 0 {
		opts.RiskPivot = cfg.RiskPivot
	}
	return opts
}

func floorValue(cfg config.ValuationConfig) decimal.Decimal {
	return decimal.NewFromFloat(cfg.FloorValue)
}

// newTabs picks the tab provisioner and returns its shutdown hook.
func (a *App) newTabs() (scanner.TabProvisioner, func()) {
	if a.Config.Scanner.Provisioner == "browser" {
		b := a.Config.Browser
		p := scanner.NewBrowserProvisioner(scanner.BrowserOptions{
			Headless:    b.Headless,
			ExecPath:    b.ExecPath,
			UserAgent:   b.UserAgent,
			SettleDelay: b.SettleDelay,
		})
		return p, p.Shutdown
	}
	e := a.Config.Extractor
	return scanner.NewHTTPProvisioner(scanner.HTTPOptions{
		UserAgent:      e.UserAgent,
		RequestTimeout: e.RequestTimeout,
		MaxBodySize:    e.MaxBodySize,
	}), func() {}
}

func (a *App) newExtractor() scanner.PageExtractor {
	return scanner.NewCardExtractor(nil, a.Config.Extractor.MaxPerPage)
}

// newSpecCache prefers Redis when configured.
func (a *App) newSpecCache() (specs.Cache, func(), error) {
	r := a.Config.Redis
	if r.URL == "" {
		return specs.NewMemoryCache(), nil, nil
	}
	client, err := specs.ConnectRedis(r.URL)
	if err != nil {
		return nil, nil, err
	}
	cache := specs.NewRedisCache(client, r.Prefix, r.TTL)
	return cache, func() {
		if err := cache.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close redis cache")
		}
	}, nil
}

// newNotifiers builds every enabled notification channel.
func (a *App) newNotifiers() []alerting.Notifier {
	cfg := a.Config.Alerting
	var notifiers []alerting.Notifier
	if cfg.Telegram.Enabled {
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, 10*time.Second, a.Logger))
	}
	if cfg.Webhook.Enabled {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.Webhook.URL, cfg.Webhook.Secret, cfg.Webhook.Timeout, a.Logger))
	}
	return notifiers
}

// newDispatcher builds the notification fan-out, or nil when alerting is off
// or no sink is enabled.
func (a *App) newDispatcher() *alerting.Dispatcher {
	cfg := a.Config.Alerting
	if !cfg.Enabled {
		return nil
	}
	notifiers := a.newNotifiers()
	if len(notifiers) == 0 {
		a.Logger.Warn().Msg("alerting enabled but no notifier configured")
		return nil
	}

	var types []alerting.EventType
	for _, raw := range cfg.Events {
		t, ok := alerting.ParseEventType(raw)
		if !ok {
			a.Logger.Warn().Str("event", raw).Msg("ignoring unknown alert event type")
			continue
		}
		types = append(types, t)
	}
	return alerting.NewDispatcher(alerting.DispatcherOptions{
		Buffer:  cfg.Buffer,
		Timeout: cfg.Timeout,
		Types:   types,
	}, a.Logger, notifiers...)
}
