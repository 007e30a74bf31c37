package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rigscout/internal/alerting"
	"rigscout/internal/valuation"
)

// Pipeline is the deal state machine. All mutations are serialised; a failed
// call leaves the stored deal untouched.
type Pipeline struct {
	store     Store
	publisher alerting.Publisher
	now       func() time.Time
	logger    zerolog.Logger

	mu sync.Mutex
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New builds a pipeline over store. A nil publisher discards events.
func New(store Store, publisher alerting.Publisher, logger zerolog.Logger, opts ...Option) *Pipeline {
	if publisher == nil {
		publisher = alerting.NopPublisher{}
	}
	p := &Pipeline{
		store:     store,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CreateDeal starts tracking c in stage discovered. It fails with
// ErrDuplicateDeal when the listing already has a deal.
func (p *Pipeline) CreateDeal(ctx context.Context, c Candidate) (Deal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := c.Listing.Key()
	if _, err := p.store.GetByListing(ctx, key); err == nil {
		return Deal{}, fmt.Errorf("%w: %s", ErrDuplicateDeal, key)
	} else if !IsNotFound(err) {
		return Deal{}, fmt.Errorf("lookup listing %s: %w", key, err)
	}
	return p.create(ctx, c)
}

// Upsert creates a deal for a new listing or refreshes the snapshot of an
// existing one. created reports which happened.
func (p *Pipeline) Upsert(ctx context.Context, c Candidate) (deal Deal, created bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := c.Listing.Key()
	existing, err := p.store.GetByListing(ctx, key)
	if err != nil {
		if !IsNotFound(err) {
			return Deal{}, false, fmt.Errorf("lookup listing %s: %w", key, err)
		}
		d, err := p.create(ctx, c)
		return d, err == nil, err
	}

	now := p.now()
	existing.Metrics.Sightings++
	existing.Metrics.DaysInPipeline = existing.daysAt(now)
	existing.LastSeenAt = now
	if !existing.Stage.Terminal() {
		existing.Listing = c.Listing
		existing.Valuation = snapshotOf(c)
		existing.UpdatedAt = now
	}
	if err := p.store.Put(ctx, existing); err != nil {
		return Deal{}, false, fmt.Errorf("save deal %s: %w", existing.ID, err)
	}
	return existing, false, nil
}

func (p *Pipeline) create(ctx context.Context, c Candidate) (Deal, error) {
	now := p.now()
	d := Deal{
		ID:         uuid.NewString(),
		ListingKey: c.Listing.Key(),
		Listing:    c.Listing,
		Stage:      StageDiscovered,
		CreatedAt:  now,
		UpdatedAt:  now,
		LastSeenAt: now,
		Notes:      []Note{},
		Tasks:      []Task{},
		Metrics:    Metrics{Sightings: 1},
		Valuation:  snapshotOf(c),
	}
	if err := p.store.Put(ctx, d); err != nil {
		return Deal{}, fmt.Errorf("save deal: %w", err)
	}
	p.logger.Info().Str("deal_id", d.ID).Str("listing", d.ListingKey).
		Str("fmv", c.FMV.Total.String()).Int("risk", c.Risk.Score).
		Msg("deal created")
	p.publisher.Publish(alerting.Event{Type: alerting.EventCandidateFound, Payload: c, OccurredAt: now})
	return d, nil
}

// Transition moves a deal to stage to.
func (p *Pipeline) Transition(ctx context.Context, id string, to Stage) (Deal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	d, err := p.store.Get(ctx, id)
	if err != nil {
		return Deal{}, err
	}
	if !CanTransition(d.Stage, to) {
		return Deal{}, &InvalidTransitionError{DealID: id, From: d.Stage, To: to}
	}

	now := p.now()
	from := d.Stage
	d.Metrics.DaysInPipeline = d.daysAt(now)
	d.Metrics.Touchpoints++
	d.Stage = to
	d.UpdatedAt = now
	if err := p.store.Put(ctx, d); err != nil {
		return Deal{}, fmt.Errorf("save deal %s: %w", id, err)
	}

	change := StageChange{DealID: d.ID, ListingKey: d.ListingKey, Title: d.Listing.Title, From: from, To: to, At: now}
	p.logger.Info().Str("deal_id", id).Str("from", string(from)).Str("to", string(to)).Msg("deal stage changed")
	p.publisher.Publish(alerting.Event{Type: alerting.EventDealStageChanged, Payload: change, OccurredAt: now})
	return d, nil
}

// AddNote appends a note. The stage is unchanged.
func (p *Pipeline) AddNote(ctx context.Context, id, body string) (Deal, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Deal{}, errors.New("note body is empty")
	}
	return p.mutate(ctx, id, func(d *Deal, now time.Time) error {
		d.Notes = append(d.Notes, Note{ID: uuid.NewString(), Body: body, CreatedAt: now})
		return nil
	})
}

// AddTask appends an open task and returns it.
func (p *Pipeline) AddTask(ctx context.Context, id, title string, due *time.Time) (Deal, Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Deal{}, Task{}, errors.New("task title is empty")
	}
	var task Task
	d, err := p.mutate(ctx, id, func(d *Deal, now time.Time) error {
		task = Task{ID: uuid.NewString(), Title: title, Due: due, CreatedAt: now}
		d.Tasks = append(d.Tasks, task)
		return nil
	})
	return d, task, err
}

// CompleteTask marks a task done. Completing a done task is a no-op.
func (p *Pipeline) CompleteTask(ctx context.Context, id, taskID string) (Deal, error) {
	return p.mutate(ctx, id, func(d *Deal, now time.Time) error {
		for i := range d.Tasks {
			if d.Tasks[i].ID != taskID {
				continue
			}
			if !d.Tasks[i].Done {
				d.Tasks[i].Done = true
				d.Tasks[i].CompletedAt = &now
			}
			return nil
		}
		return &NotFoundError{Kind: "task", ID: taskID}
	})
}

func (p *Pipeline) mutate(ctx context.Context, id string, fn func(d *Deal, now time.Time) error) (Deal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	d, err := p.store.Get(ctx, id)
	if err != nil {
		return Deal{}, err
	}
	now := p.now()
	if err := fn(&d, now); err != nil {
		return Deal{}, err
	}
	d.Metrics.DaysInPipeline = d.daysAt(now)
	d.UpdatedAt = now
	if err := p.store.Put(ctx, d); err != nil {
		return Deal{}, fmt.Errorf("save deal %s: %w", id, err)
	}
	return d, nil
}

// Get returns one deal.
func (p *Pipeline) Get(ctx context.Context, id string) (Deal, error) {
	return p.store.Get(ctx, id)
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Stages    []Stage
	OpenOnly  bool
	MinProfit *decimal.Decimal
}

func (f Filter) match(d Deal) bool {
	if f.OpenOnly && d.Stage.Terminal() {
		return false
	}
	if len(f.Stages) > 0 {
		ok := false
		for _, s := range f.Stages {
			if s == d.Stage {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.MinProfit != nil && d.Valuation.ExpectedProfit.LessThan(*f.MinProfit) {
		return false
	}
	return true
}

// List returns deals matching f, oldest first.
func (p *Pipeline) List(ctx context.Context, f Filter) ([]Deal, error) {
	all, err := p.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}
	out := make([]Deal, 0, len(all))
	for _, d := range all {
		if f.match(d) {
			out = append(out, d)
		}
	}
	SortByCreated(out)
	return out, nil
}

// Stats summarises the pipeline.
type Stats struct {
	Counts         map[Stage]int   `json:"counts"`
	Total          int             `json:"total"`
	AverageDays    float64         `json:"average_days"`
	CompletionRate float64         `json:"completion_rate"`
	OpenProfit     decimal.Decimal `json:"open_profit"`
}

// StatsByStage counts deals per stage. It has no side effects.
func (p *Pipeline) StatsByStage(ctx context.Context) (Stats, error) {
	deals, err := p.store.List(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list deals: %w", err)
	}
	return ComputeStats(deals, p.now()), nil
}

// ComputeStats derives Stats from deals as of now.
func ComputeStats(deals []Deal, now time.Time) Stats {
	st := Stats{Counts: make(map[Stage]int, len(Stages())), OpenProfit: decimal.Zero}
	for _, s := range Stages() {
		st.Counts[s] = 0
	}
	days := 0
	for _, d := range deals {
		st.Counts[d.Stage]++
		st.Total++
		days += d.daysAt(now)
		if !d.Stage.Terminal() && d.Valuation.ExpectedProfit.IsPositive() {
			st.OpenProfit = st.OpenProfit.Add(d.Valuation.ExpectedProfit)
		}
	}
	if st.Total > 0 {
		st.AverageDays = float64(days) / float64(st.Total)
		st.CompletionRate = float64(st.Counts[StageSold]) / float64(st.Total)
	}
	return st
}

// Revalue re-appraises open deals whose snapshot came from a different price
// table version. It returns how many deals changed.
func (p *Pipeline) Revalue(ctx context.Context, engine *valuation.Engine, anchors *valuation.Anchors) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	deals, err := p.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list deals: %w", err)
	}
	now := p.now()
	changed := 0
	for _, d := range deals {
		if d.Stage.Terminal() || d.Valuation.FMV.PriceTableVersion == engine.Version() {
			continue
		}
		fmv := engine.Appraise(d.Valuation.Specs)
		d.Valuation.FMV = fmv
		d.Valuation.Anchors = anchors.Compute(fmv, d.Valuation.Risk.Score)
		d.Valuation.ExpectedProfit = ExpectedProfit(fmv, d.Listing.Price)
		d.Valuation.AppraisedAt = now
		d.Metrics.DaysInPipeline = d.daysAt(now)
		d.UpdatedAt = now
		if err := p.store.Put(ctx, d); err != nil {
			return changed, fmt.Errorf("save deal %s: %w", d.ID, err)
		}
		changed++
	}
	if changed > 0 {
		p.logger.Info().Int("deals", changed).Str("price_table", engine.Version()).Msg("deals revalued")
	}
	return changed, nil
}
