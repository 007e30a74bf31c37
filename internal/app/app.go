package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"rigscout/internal/alerting"
	"rigscout/internal/config"
	"rigscout/internal/pipeline"
	"rigscout/internal/scheduler"
	"rigscout/internal/service"
	"rigscout/internal/specs"
	"rigscout/internal/storage"
	"rigscout/internal/valuation"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	mu sync.Mutex
	rt *runtime
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// runtime holds the dependencies opened lazily by commands.
type runtime struct {
	kv          storage.KV
	store       *storage.Store
	targets     *storage.TargetRepository
	priceTables *storage.PriceTableRepository
	dispatcher  *alerting.Dispatcher
	deals       *pipeline.Pipeline
	cache       specs.Cache
	closers     []func()
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// Close releases database, cache and notifier resources.
func (a *App) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rt != nil {
		a.rt.close()
		a.rt = nil
	}
}

func (a *App) runtime(ctx context.Context) (*runtime, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rt != nil {
		return a.rt, nil
	}

	rt := &runtime{}
	if a.Config.Database.DSN != "" {
		store, err := storage.Open(ctx, a.Config.Database)
		if err != nil {
			return nil, err
		}
		rt.store = store
		rt.kv = store
		rt.closers = append(rt.closers, store.Close)
	} else {
		a.Logger.Warn().Msg("database.dsn not configured; state is kept in memory for this process only")
		rt.kv = storage.NewMemoryKV()
	}

	rt.targets = storage.NewTargetRepository(rt.kv)
	rt.priceTables = storage.NewPriceTableRepository(rt.kv)

	cache, closeCache, err := a.newSpecCache()
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.cache = cache
	if closeCache != nil {
		rt.closers = append(rt.closers, closeCache)
	}

	var publisher alerting.Publisher = alerting.NopPublisher{}
	if d := a.newDispatcher(); d != nil {
		// started detached so Close can drain events published by short commands
		d.Start(context.WithoutCancel(ctx))
		rt.dispatcher = d
		publisher = d
		rt.closers = append(rt.closers, d.Close)
	}
	rt.deals = pipeline.New(storage.NewDealStore(rt.kv), publisher, a.Logger)

	a.rt = rt
	return rt, nil
}

// activePriceTable returns the stored active table, seeding it from
// valuation.price_table_path on first use.
func (a *App) activePriceTable(ctx context.Context, rt *runtime) (*valuation.PriceTable, error) {
	table, err := rt.priceTables.Active(ctx)
	if err == nil {
		return table, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	path := a.Config.Valuation.PriceTablePath
	if path == "" {
		return nil, errors.New("no price table imported; run `rigscout pricetable import <file>` or set valuation.price_table_path")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read price table: %w", err)
	}
	table, err = rt.priceTables.Import(ctx, raw, nowUTC())
	if err != nil {
		return nil, err
	}
	a.Logger.Info().Str("version", table.Version).Str("path", path).Msg("price table seeded from file")
	return table, nil
}

func (a *App) newEvaluator(ctx context.Context, rt *runtime) (*service.Evaluator, error) {
	table, err := a.activePriceTable(ctx, rt)
	if err != nil {
		return nil, err
	}
	engine, err := valuation.NewEngine(table, valuation.Options{FloorValue: floorValue(a.Config.Valuation)})
	if err != nil {
		return nil, err
	}
	scorer, err := newScorer(a.Config.Risk)
	if err != nil {
		return nil, err
	}
	anchors, err := valuation.NewAnchors(anchorOptions(a.Config.Anchors))
	if err != nil {
		return nil, err
	}
	normalizer := specs.NewCachedNormalizer(specs.NewNormalizer(a.Config.Normalizer.MinMatchLength), rt.cache, a.Logger)
	return service.NewEvaluator(normalizer, engine, scorer, anchors, nil, a.Logger)
}

func (a *App) newService(ctx context.Context, rt *runtime, opts ...service.Option) (*service.Service, error) {
	evaluator, err := a.newEvaluator(ctx, rt)
	if err != nil {
		return nil, err
	}
	tabs, shutdown := a.newTabs()
	rt.closers = append(rt.closers, shutdown)

	if rt.store != nil {
		opts = append(opts, service.WithAdvisoryLock(rt.store, a.Config.Scheduler.AdvisoryLockKey))
	}
	return service.New(scannerOptions(a.Config.Scanner), tabs, a.newExtractor(), rt.targets, evaluator, rt.deals, a.Logger, opts...)
}

// Run executes the long-running scan service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer a.Close()

	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}
	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunAtStart:   true,
	}, a.Logger)

	svc, err := a.newService(ctx, rt, service.WithScheduler(sched))
	if err != nil {
		return err
	}

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting scan service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("scan service stopped")
	return nil
}
