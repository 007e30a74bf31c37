package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"rigscout/internal/listing"
	"rigscout/internal/pipeline"
	"rigscout/internal/risk"
	"rigscout/internal/specs"
	"rigscout/internal/valuation"
)

// Evaluator turns a raw draft into a pipeline candidate: specs, FMV, risk and
// offer anchors. The valuation engine can be swapped while scans run.
type Evaluator struct {
	normalizer *specs.CachedNormalizer
	engine     atomic.Pointer[valuation.Engine]
	scorer     *risk.Scorer
	anchors    *valuation.Anchors
	trust      risk.TrustSource
	logger     zerolog.Logger
}

// NewEvaluator wires the per-listing stages. A nil trust source reports every
// seller as unknown.
func NewEvaluator(normalizer *specs.CachedNormalizer, engine *valuation.Engine, scorer *risk.Scorer, anchors *valuation.Anchors, trust risk.TrustSource, logger zerolog.Logger) (*Evaluator, error) {
	if normalizer == nil || engine == nil || scorer == nil || anchors == nil {
		return nil, errors.New("evaluator requires normalizer, engine, scorer and anchors")
	}
	if trust == nil {
		trust = risk.NoTrustSignals{}
	}
	e := &Evaluator{
		normalizer: normalizer,
		scorer:     scorer,
		anchors:    anchors,
		trust:      trust,
		logger:     logger.With().Str("component", "evaluator").Logger(),
	}
	e.engine.Store(engine)
	return e, nil
}

// Engine returns the valuation engine in use.
func (e *Evaluator) Engine() *valuation.Engine {
	return e.engine.Load()
}

// SetEngine replaces the valuation engine for subsequent evaluations.
func (e *Evaluator) SetEngine(engine *valuation.Engine) {
	if engine != nil {
		e.engine.Store(engine)
	}
}

// Anchors returns the anchor calculator in use.
func (e *Evaluator) Anchors() *valuation.Anchors {
	return e.anchors
}

// Evaluate runs normalisation, then valuation and the seller lookup side by
// side, then risk scoring and anchor computation. A failed trust lookup
// degrades to an unknown seller.
func (e *Evaluator) Evaluate(ctx context.Context, d listing.Draft, scannedAt time.Time) (pipeline.Candidate, error) {
	cs := e.normalizer.Normalize(ctx, d)
	engine := e.engine.Load()

	var (
		fmv    valuation.FMVResult
		seller risk.SellerTrust
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmv = engine.Appraise(cs)
		return nil
	})
	g.Go(func() error {
		if d.SellerRef == "" {
			return nil
		}
		trust, err := e.trust.Lookup(gctx, d.Platform, d.SellerRef)
		if err != nil {
			e.logger.Warn().Err(err).Str("listing", d.Key()).Msg("seller lookup failed, treating seller as unknown")
			return nil
		}
		seller = trust
		return nil
	})
	if err := g.Wait(); err != nil {
		return pipeline.Candidate{}, err
	}
	if err := ctx.Err(); err != nil {
		return pipeline.Candidate{}, err
	}

	assessment := e.scorer.Assess(risk.Input{Draft: d, FMV: fmv, Seller: seller})
	offers := e.anchors.Compute(fmv, assessment.Score)
	return pipeline.NewCandidate(d, cs, fmv, assessment, offers, scannedAt), nil
}
