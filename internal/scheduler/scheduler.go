package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"rigscout/internal/listing"
)

// TickFunc is invoked once per scan round.
type TickFunc func(ctx context.Context, round time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	// RunAtStart fires one round immediately after the startup delay.
	RunAtStart bool
}

// Scheduler drives periodic scan rounds.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking tick on every interval until ctx is cancelled. Tick
// errors are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.opts.RunAtStart {
		s.fire(ctx, tick, time.Now().UTC())
	}

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			// a slow round overran one or more intervals; skip them
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_round", next).Msg("waiting for next round")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		s.fire(ctx, tick, s.roundStart(next))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) fire(ctx context.Context, tick TickFunc, round time.Time) {
	if ctx.Err() != nil {
		return
	}
	s.logger.Info().Time("round", round).Msg("executing scan round")
	if err := tick(ctx, round); err != nil {
		s.logger.Error().Err(err).Time("round", round).Msg("scan round failed")
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) roundStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}

// Due picks the targets whose cadence has elapsed at now, never-run targets
// first, then the most overdue. Disabled and manual targets are excluded.
func Due(targets []listing.SearchTarget, now time.Time) []listing.SearchTarget {
	out := make([]listing.SearchTarget, 0, len(targets))
	for _, t := range targets {
		if t.Due(now) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return overdue(out[i], now) > overdue(out[j], now)
	})
	return out
}

func overdue(t listing.SearchTarget, now time.Time) time.Duration {
	if t.LastRunAt == nil {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(t.LastRunAt.Add(t.Cadence))
}
