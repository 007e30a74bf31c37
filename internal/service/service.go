package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"rigscout/internal/listing"
	"rigscout/internal/pipeline"
	"rigscout/internal/scanner"
	"rigscout/internal/scheduler"
	"rigscout/internal/storage"
	"rigscout/internal/valuation"
)

// TargetStore is the slice of target persistence the service needs.
type TargetStore interface {
	Get(ctx context.Context, id string) (listing.SearchTarget, error)
	List(ctx context.Context) ([]listing.SearchTarget, error)
	RecordRun(ctx context.Context, t listing.SearchTarget) error
}

// Service orchestrates scan rounds: due targets go to the scanner, drafts come
// back through the evaluator into the deal pipeline.
type Service struct {
	scheduler *scheduler.Scheduler
	scanner   *scanner.Scanner
	targets   TargetStore
	evaluator *Evaluator
	pipeline  *pipeline.Pipeline
	logger    zerolog.Logger
	now       func() time.Time

	locker  storage.AdvisoryLocker
	lockKey int64
}

// Option customises a Service.
type Option func(*Service)

// WithScheduler enables Run.
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(svc *Service) { svc.scheduler = s }
}

// WithAdvisoryLock serialises scan rounds across processes sharing a database.
func WithAdvisoryLock(locker storage.AdvisoryLocker, key int64) Option {
	return func(svc *Service) {
		svc.locker = locker
		svc.lockKey = key
	}
}

// WithClock overrides the time source used to pick due targets.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

// New constructs the scan service and the scanner feeding it.
func New(scanOpts scanner.Options, tabs scanner.TabProvisioner, extractor scanner.PageExtractor, targets TargetStore, evaluator *Evaluator, deals *pipeline.Pipeline, logger zerolog.Logger, opts ...Option) (*Service, error) {
	if targets == nil || evaluator == nil || deals == nil {
		return nil, errors.New("service requires targets, evaluator and pipeline")
	}
	s := &Service{
		targets:   targets,
		evaluator: evaluator,
		pipeline:  deals,
		logger:    logger.With().Str("component", "service").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	scan, err := scanner.New(scanOpts, tabs, extractor, s, logger)
	if err != nil {
		return nil, fmt.Errorf("build scanner: %w", err)
	}
	s.scanner = scan
	return s, nil
}

// Scanner exposes the underlying scanner for depth and in-flight reporting.
func (s *Service) Scanner() *scanner.Scanner {
	return s.scanner
}

// Run begins the periodic scan loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessRound)
}

// Stop cancels the scan in progress. Unstarted targets stay queued.
func (s *Service) Stop() {
	s.scanner.Stop()
}

// ProcessRound 执行一轮扫描:在持有 advisory lock 时扫描到期的目标。
func (s *Service) ProcessRound(ctx context.Context, round time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("round", round).Msg("skip round because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	_, err = s.ScanDue(ctx)
	return err
}

// ScanDue scans every enabled target whose cadence has elapsed.
func (s *Service) ScanDue(ctx context.Context) (scanner.RunReport, error) {
	all, err := s.targets.List(ctx)
	if err != nil {
		return scanner.RunReport{}, fmt.Errorf("list targets: %w", err)
	}
	due := scheduler.Due(all, s.now())
	if len(due) == 0 && s.scanner.Depth() == 0 {
		s.logger.Debug().Int("targets", len(all)).Msg("no targets due")
		return scanner.RunReport{StartedAt: s.now(), FinishedAt: s.now()}, nil
	}
	return s.scan(ctx, due)
}

// ScanTargets scans the named targets now, regardless of cadence. Manual
// targets only ever run this way. Disabled targets are rejected.
func (s *Service) ScanTargets(ctx context.Context, ids ...string) (scanner.RunReport, error) {
	targets := make([]listing.SearchTarget, 0, len(ids))
	for _, id := range ids {
		t, err := s.targets.Get(ctx, id)
		if err != nil {
			return scanner.RunReport{}, err
		}
		if !t.Enabled {
			return scanner.RunReport{}, fmt.Errorf("target %s is disabled", id)
		}
		targets = append(targets, t)
	}
	return s.scan(ctx, targets)
}

func (s *Service) scan(ctx context.Context, targets []listing.SearchTarget) (scanner.RunReport, error) {
	added := s.scanner.Enqueue(targets...)
	s.logger.Info().Int("requested", len(targets)).Int("enqueued", added).Int("depth", s.scanner.Depth()).Msg("scan round starting")

	report, err := s.scanner.Run(ctx)
	if err != nil {
		return report, err
	}

	// results of a stopped run still get recorded
	persistCtx := context.WithoutCancel(ctx)
	var errs []error
	for _, res := range report.Results {
		if res.Status != scanner.StatusSucceeded {
			continue
		}
		if err := s.targets.RecordRun(persistCtx, res.Target); err != nil {
			errs = append(errs, fmt.Errorf("record run for %s: %w", res.TargetID, err))
		}
	}
	return report, errors.Join(errs...)
}

// HandleDrafts is the scanner sink: every draft is evaluated and upserted into
// the pipeline in extraction order.
func (s *Service) HandleDrafts(ctx context.Context, target listing.SearchTarget, drafts []listing.Draft) error {
	var errs []error
	created := 0
	for _, d := range drafts {
		if err := ctx.Err(); err != nil {
			return err
		}
		cand, err := s.evaluator.Evaluate(ctx, d, s.now())
		if err != nil {
			errs = append(errs, fmt.Errorf("evaluate %s: %w", d.Key(), err))
			continue
		}
		deal, isNew, err := s.pipeline.Upsert(ctx, cand)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if isNew {
			created++
		}
		s.logger.Debug().Str("deal_id", deal.ID).Str("listing", deal.ListingKey).Bool("created", isNew).
			Str("profit", cand.ExpectedProfit.String()).Str("recommendation", string(cand.Risk.Recommendation)).
			Msg("candidate ingested")
	}
	s.logger.Info().Str("target_id", target.ID).Int("drafts", len(drafts)).Int("new_deals", created).Msg("drafts ingested")
	return errors.Join(errs...)
}

// ApplyPriceTable swaps in a new valuation engine and revalues open deals
// appraised against an older table.
func (s *Service) ApplyPriceTable(ctx context.Context, table *valuation.PriceTable) (int, error) {
	current := s.evaluator.Engine()
	engine, err := valuation.NewEngine(table, valuation.Options{FloorValue: current.Floor()})
	if err != nil {
		return 0, err
	}
	s.evaluator.SetEngine(engine)
	return s.pipeline.Revalue(ctx, engine, s.evaluator.Anchors())
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

var _ scanner.DraftSink = (*Service)(nil)
