package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"rigscout/internal/listing"
)

var (
	// ErrExtractionTimeout marks an attempt that did not finish within Options.Timeout.
	ErrExtractionTimeout = errors.New("extraction timed out")
	// ErrExtractionFailure marks an attempt whose tab or extractor returned an error.
	ErrExtractionFailure = errors.New("extraction failed")
	// ErrPlatformUnavailable is reported for targets skipped by an open platform breaker.
	ErrPlatformUnavailable = errors.New("platform temporarily unavailable")
	// ErrAlreadyRunning is returned when Run is called while a run is active.
	ErrAlreadyRunning = errors.New("scan run already in progress")
)

// Status is the per-target outcome of a run.
type Status string

// Target statuses.
const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
	StatusPending   Status = "pending"
)

// TargetResult reports what happened to one target. Target carries the updated
// lastRunAt/resultsFound and is unchanged unless the scan succeeded.
type TargetResult struct {
	TargetID string
	Status   Status
	Attempts int
	Found    int
	Err      error
	Target   listing.SearchTarget
}

// RunReport summarises one drain of the backlog.
type RunReport struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Cancelled  bool
	Results    []TargetResult
}

// Count returns how many results have status st.
func (r RunReport) Count(st Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == st {
			n++
		}
	}
	return n
}

// Partial reports whether some but not all targets succeeded.
func (r RunReport) Partial() bool {
	ok := r.Count(StatusSucceeded)
	return ok > 0 && ok < len(r.Results)
}

// DraftSink receives the drafts of one target in extraction order.
type DraftSink interface {
	HandleDrafts(ctx context.Context, target listing.SearchTarget, drafts []listing.Draft) error
}

// SinkFunc adapts a function to DraftSink.
type SinkFunc func(ctx context.Context, target listing.SearchTarget, drafts []listing.Draft) error

// HandleDrafts calls f.
func (f SinkFunc) HandleDrafts(ctx context.Context, target listing.SearchTarget, drafts []listing.Draft) error {
	return f(ctx, target, drafts)
}

// Options tune the scanner.
type Options struct {
	MaxConcurrent    int
	Timeout          time.Duration
	RetryAttempts    int
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
	Now              func() time.Time
}

// DefaultOptions returns 3 workers, a 30s timeout and 3 attempts per target.
func DefaultOptions() Options {
	return Options{
		MaxConcurrent:    3,
		Timeout:          30 * time.Second,
		RetryAttempts:    3,
		BreakerThreshold: 5,
		BreakerCooldown:  2 * time.Minute,
	}
}

// Validate checks the option ranges.
func (o Options) Validate() error {
	if o.MaxConcurrent <= 0 {
		return errors.New("scanner max_concurrent must be positive")
	}
	if o.Timeout <= 0 {
		return errors.New("scanner timeout must be positive")
	}
	if o.RetryAttempts <= 0 {
		return errors.New("scanner retry_attempts must be positive")
	}
	if o.BreakerThreshold > 0 && o.BreakerCooldown <= 0 {
		return errors.New("scanner breaker_cooldown must be positive when the breaker is enabled")
	}
	return nil
}

type job struct {
	target   listing.SearchTarget
	attempts int
	lastErr  error
}

type outcome struct {
	job    *job
	drafts []listing.Draft
	err    error
}

// Scanner drains a backlog of search targets with a bounded number of
// concurrent extractions.
type Scanner struct {
	opts      Options
	tabs      TabProvisioner
	extractor PageExtractor
	sink      DraftSink
	breakers  *platformBreakers
	logger    zerolog.Logger

	mu       sync.Mutex
	backlog  []*job
	queued   map[string]struct{}
	inFlight int
	running  bool
	stop     context.CancelFunc
}

// New validates opts and builds a Scanner.
func New(opts Options, tabs TabProvisioner, extractor PageExtractor, sink DraftSink, logger zerolog.Logger) (*Scanner, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if tabs == nil || extractor == nil {
		return nil, errors.New("scanner requires a tab provisioner and a page extractor")
	}
	if sink == nil {
		sink = SinkFunc(func(context.Context, listing.SearchTarget, []listing.Draft) error { return nil })
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	logger = logger.With().Str("component", "scanner").Logger()

	s := &Scanner{
		opts:      opts,
		tabs:      tabs,
		extractor: extractor,
		sink:      sink,
		logger:    logger,
		queued:    make(map[string]struct{}),
	}
	if opts.BreakerThreshold > 0 {
		s.breakers = newPlatformBreakers(opts.BreakerThreshold, opts.BreakerCooldown, logger)
	}
	return s, nil
}

// Enqueue appends targets to the backlog. Targets already queued or in flight
// are ignored. It returns how many were added.
func (s *Scanner) Enqueue(targets ...listing.SearchTarget) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, t := range targets {
		if t.ID == "" {
			continue
		}
		if _, ok := s.queued[t.ID]; ok {
			continue
		}
		s.queued[t.ID] = struct{}{}
		s.backlog = append(s.backlog, &job{target: t})
		added++
	}
	return added
}

// Depth is the number of backlog entries waiting for a worker.
func (s *Scanner) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.backlog)
}

// InFlight is the number of extractions currently running.
func (s *Scanner) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Stop cancels the active run. In-flight tabs are released and the remaining
// backlog stays queued for the next run.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		s.stop()
	}
}

// Run drains the backlog until it is empty, ctx is done or Stop is called.
// Per-target failures are reported in the RunReport, never returned.
func (s *Scanner) Run(ctx context.Context) (RunReport, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return RunReport{}, ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.stop = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.running = false
		s.stop = nil
		s.mu.Unlock()
	}()

	report := RunReport{ID: uuid.NewString(), StartedAt: s.opts.Now()}
	log := s.logger.With().Str("run_id", report.ID).Logger()
	log.Info().Int("backlog", s.Depth()).Int("max_concurrent", s.opts.MaxConcurrent).Msg("scan run started")

	// buffered to the worker bound so a finishing worker never blocks
	outcomes := make(chan outcome, s.opts.MaxConcurrent)
	active := 0
	running := make(map[listing.Platform]int)
	// jobs held back while their platform's half-open breaker has a trial in flight
	var parked []*job

	for {
		for active < s.opts.MaxConcurrent && runCtx.Err() == nil {
			j := s.pop()
			if j == nil {
				break
			}
			p := j.target.Platform
			switch s.breakers.state(p) {
			case gobreaker.StateOpen:
				report.Results = append(report.Results, s.finish(j, StatusSkipped, ErrPlatformUnavailable))
				log.Warn().Str("target_id", j.target.ID).Str("platform", string(p)).Msg("platform breaker open, target skipped")
				continue
			case gobreaker.StateHalfOpen:
				if running[p] > 0 {
					s.park()
					parked = append(parked, j)
					continue
				}
			}
			active++
			running[p]++
			go s.work(runCtx, j, outcomes)
		}
		if active == 0 {
			break
		}

		o := <-outcomes
		active--
		running[o.job.target.Platform]--
		if len(parked) > 0 {
			s.pushFront(parked)
			parked = nil
		}
		if res, done := s.settle(runCtx, o, log); done {
			report.Results = append(report.Results, res)
		}
	}
	if len(parked) > 0 {
		s.pushFront(parked)
	}

	if runCtx.Err() != nil {
		report.Cancelled = true
		s.mu.Lock()
		for _, j := range s.backlog {
			report.Results = append(report.Results, TargetResult{
				TargetID: j.target.ID,
				Status:   StatusPending,
				Attempts: j.attempts,
				Err:      j.lastErr,
				Target:   j.target,
			})
			// the retry budget is per run
			j.attempts = 0
			j.lastErr = nil
		}
		s.mu.Unlock()
	}

	report.FinishedAt = s.opts.Now()
	log.Info().
		Int("succeeded", report.Count(StatusSucceeded)).
		Int("failed", report.Count(StatusFailed)).
		Int("skipped", report.Count(StatusSkipped)).
		Int("cancelled", report.Count(StatusCancelled)).
		Int("pending", report.Count(StatusPending)).
		Bool("stopped", report.Cancelled).
		Msg("scan run finished")
	return report, nil
}

func (s *Scanner) pop() *job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.backlog) == 0 {
		return nil
	}
	j := s.backlog[0]
	s.backlog[0] = nil
	s.backlog = s.backlog[1:]
	s.inFlight++
	return j
}

// park gives back the in-flight slot taken by pop; the job stays queued.
func (s *Scanner) park() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
}

// pushFront puts parked jobs back at the head of the backlog in their original order.
func (s *Scanner) pushFront(jobs []*job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backlog = append(append(make([]*job, 0, len(jobs)+len(s.backlog)), jobs...), s.backlog...)
}

func (s *Scanner) work(ctx context.Context, j *job, out chan<- outcome) {
	j.attempts++
	drafts, err := s.breakers.do(j.target.Platform, func() ([]listing.Draft, error) {
		return s.scanOnce(ctx, j.target)
	})
	if err == nil && len(drafts) > 0 {
		if serr := s.sink.HandleDrafts(ctx, j.target, drafts); serr != nil {
			if ctx.Err() != nil {
				// stopped mid-ingest: the drafts were not all handled
				out <- outcome{job: j, err: ctx.Err()}
				return
			}
			s.logger.Error().Err(serr).Str("target_id", j.target.ID).Msg("draft sink failed")
		}
	}
	out <- outcome{job: j, drafts: drafts, err: err}
}

// settle records an attempt outcome. It reports done=false when the job went
// back on the backlog for another attempt.
func (s *Scanner) settle(ctx context.Context, o outcome, log zerolog.Logger) (TargetResult, bool) {
	j := o.job
	logEvent := log.With().Str("target_id", j.target.ID).Int("attempt", j.attempts).Logger()

	switch {
	case o.err == nil:
		now := s.opts.Now()
		j.target.LastRunAt = &now
		j.target.ResultsFound = len(o.drafts)
		logEvent.Info().Int("found", len(o.drafts)).Msg("target scanned")
		res := s.finish(j, StatusSucceeded, nil)
		res.Found = len(o.drafts)
		return res, true

	case errors.Is(o.err, ErrPlatformUnavailable):
		return s.finish(j, StatusSkipped, o.err), true

	case ctx.Err() != nil:
		logEvent.Debug().Err(o.err).Msg("target cancelled")
		return s.finish(j, StatusCancelled, o.err), true

	case j.attempts < s.opts.RetryAttempts:
		j.lastErr = o.err
		logEvent.Warn().Err(o.err).Msg("target attempt failed, requeued")
		s.mu.Lock()
		s.inFlight--
		s.backlog = append(s.backlog, j)
		s.mu.Unlock()
		return TargetResult{}, false

	default:
		logEvent.Error().Err(o.err).Msg("target failed after retries")
		return s.finish(j, StatusFailed, o.err), true
	}
}

// finish releases the job's queue slot and builds its result.
func (s *Scanner) finish(j *job, st Status, err error) TargetResult {
	s.mu.Lock()
	s.inFlight--
	delete(s.queued, j.target.ID)
	s.mu.Unlock()
	return TargetResult{
		TargetID: j.target.ID,
		Status:   st,
		Attempts: j.attempts,
		Err:      err,
		Target:   j.target,
	}
}

// scanOnce runs one attempt: open a tab, extract under the timeout, always close.
func (s *Scanner) scanOnce(ctx context.Context, target listing.SearchTarget) ([]listing.Draft, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	h, err := s.tabs.Open(attemptCtx, target.URL)
	if err != nil {
		return nil, s.classify(ctx, attemptCtx, fmt.Errorf("open tab: %w", err))
	}
	defer func() {
		if cerr := s.tabs.Close(h); cerr != nil {
			s.logger.Warn().Err(cerr).Str("target_id", target.ID).Msg("close tab failed")
		}
	}()

	type result struct {
		drafts []listing.Draft
		err    error
	}
	done := make(chan result, 1)
	go func() {
		drafts, err := s.extractor.Extract(attemptCtx, target.Platform, h)
		done <- result{drafts: drafts, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, s.classify(ctx, attemptCtx, r.err)
		}
		return r.drafts, nil
	case <-attemptCtx.Done():
		return nil, s.classify(ctx, attemptCtx, attemptCtx.Err())
	}
}

func (s *Scanner) classify(parent, attempt context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrExtractionTimeout, s.opts.Timeout)
	}
	return fmt.Errorf("%w: %w", ErrExtractionFailure, err)
}
