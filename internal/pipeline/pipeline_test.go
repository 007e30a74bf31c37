package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rigscout/internal/alerting"
	"rigscout/internal/listing"
	"rigscout/internal/risk"
	"rigscout/internal/specs"
	"rigscout/internal/valuation"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type eventLog struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (l *eventLog) Publish(ev alerting.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) types() []alerting.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]alerting.EventType, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Type)
	}
	return out
}

func newTestPipeline() (*Pipeline, *clock, *eventLog) {
	clk := &clock{now: time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)}
	events := &eventLog{}
	return New(NewMemoryStore(), events, zerolog.Nop(), WithClock(clk.Now)), clk, events
}

func candidate(id string, price, fmv int64) Candidate {
	d := listing.Draft{
		ExternalID: id,
		Platform:   listing.PlatformOfferUp,
		Title:      "Gaming PC " + id,
		Price:      decimal.NewFromInt(price),
	}
	result := valuation.FMVResult{Total: decimal.NewFromInt(fmv), Confidence: 0.9, PriceTableVersion: "v1"}
	return NewCandidate(d, specs.ComponentSet{}, result, risk.Assessment{Score: 2, Recommendation: risk.Safe}, valuation.OfferAnchors{}, time.Now())
}

func mustCreate(t *testing.T, p *Pipeline, c Candidate) Deal {
	t.Helper()
	d, err := p.CreateDeal(context.Background(), c)
	if err != nil {
		t.Fatalf("create deal: %v", err)
	}
	return d
}

func TestCreateDealStartsDiscovered(t *testing.T) {
	p, _, events := newTestPipeline()
	d := mustCreate(t, p, candidate("a", 500, 800))

	if d.Stage != StageDiscovered {
		t.Fatalf("expected discovered, got %s", d.Stage)
	}
	if d.Metrics.DaysInPipeline != 0 || d.Metrics.Touchpoints != 0 {
		t.Fatalf("metrics should start zeroed: %+v", d.Metrics)
	}
	if !d.Valuation.ExpectedProfit.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("unexpected profit %s", d.Valuation.ExpectedProfit)
	}
	if got := events.types(); len(got) != 1 || got[0] != alerting.EventCandidateFound {
		t.Fatalf("expected CandidateFound event, got %v", got)
	}
}

func TestCreateDealTwiceFails(t *testing.T) {
	p, _, _ := newTestPipeline()
	mustCreate(t, p, candidate("a", 500, 800))

	if _, err := p.CreateDeal(context.Background(), candidate("a", 450, 800)); !errors.Is(err, ErrDuplicateDeal) {
		t.Fatalf("expected ErrDuplicateDeal, got %v", err)
	}
	deals, _ := p.List(context.Background(), Filter{})
	if len(deals) != 1 {
		t.Fatalf("expected a single deal, got %d", len(deals))
	}
}

func TestUpsertRefreshesExistingDeal(t *testing.T) {
	p, clk, events := newTestPipeline()
	first, created, err := p.Upsert(context.Background(), candidate("a", 500, 800))
	if err != nil || !created {
		t.Fatalf("first upsert should create: %v %v", created, err)
	}

	clk.Advance(2 * time.Hour)
	second, created, err := p.Upsert(context.Background(), candidate("a", 450, 800))
	if err != nil || created {
		t.Fatalf("second upsert should update: %v %v", created, err)
	}
	if second.ID != first.ID {
		t.Fatal("upsert created a new deal")
	}
	if second.Metrics.Sightings != 2 || !second.Listing.Price.Equal(decimal.NewFromInt(450)) {
		t.Fatalf("deal not refreshed: %+v", second)
	}
	if len(events.types()) != 1 {
		t.Fatalf("only the creation should emit, got %v", events.types())
	}
}

func TestTransitionIsTotalOverStages(t *testing.T) {
	for _, from := range Stages() {
		for _, to := range Stages() {
			p, _, _ := newTestPipeline()
			d := mustCreate(t, p, candidate("x", 100, 200))
			d = forceStage(t, p, d, from)

			_, err := p.Transition(context.Background(), d.ID, to)
			want := allowed(from, to)
			if want && err != nil {
				t.Errorf("%s → %s should succeed: %v", from, to, err)
			}
			if !want {
				if !IsInvalidTransition(err) {
					t.Errorf("%s → %s should fail with InvalidTransitionError, got %v", from, to, err)
				}
				after, _ := p.Get(context.Background(), d.ID)
				if after.Stage != from || after.Metrics.Touchpoints != d.Metrics.Touchpoints || !after.UpdatedAt.Equal(d.UpdatedAt) {
					t.Errorf("%s → %s: failed transition mutated the deal", from, to)
				}
			}
		}
	}
}

// allowed restates the lifecycle independently of CanTransition.
func allowed(from, to Stage) bool {
	if from == StageSold || from == StageLost {
		return false
	}
	if to == StageLost {
		return true
	}
	order := map[Stage]int{}
	for i, s := range linear {
		order[s] = i
	}
	return order[to] > order[from]
}

// forceStage writes the stage directly so every origin can be tested.
func forceStage(t *testing.T, p *Pipeline, d Deal, st Stage) Deal {
	t.Helper()
	d.Stage = st
	if err := p.store.Put(context.Background(), d); err != nil {
		t.Fatalf("put: %v", err)
	}
	return d
}

func TestTransitionSoldTwice(t *testing.T) {
	p, _, events := newTestPipeline()
	d := mustCreate(t, p, candidate("a", 500, 800))

	if _, err := p.Transition(context.Background(), d.ID, StageSold); err != nil {
		t.Fatalf("first sold: %v", err)
	}
	_, err := p.Transition(context.Background(), d.ID, StageSold)
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("second sold should fail with InvalidTransitionError, got %v", err)
	}
	if invalid.From != StageSold || invalid.To != StageSold {
		t.Fatalf("unexpected error detail %+v", invalid)
	}
	if got := events.types(); len(got) != 2 || got[1] != alerting.EventDealStageChanged {
		t.Fatalf("expected one stage change event, got %v", got)
	}
}

func TestTransitionUnknownDeal(t *testing.T) {
	p, _, _ := newTestPipeline()
	_, err := p.Transition(context.Background(), "missing", StageContacted)
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.ID != "missing" {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestTransitionUpdatesMetrics(t *testing.T) {
	p, clk, _ := newTestPipeline()
	d := mustCreate(t, p, candidate("a", 500, 800))

	clk.Advance(50 * time.Hour)
	d, err := p.Transition(context.Background(), d.ID, StageContacted)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if d.Metrics.Touchpoints != 1 || d.Metrics.DaysInPipeline != 2 {
		t.Fatalf("unexpected metrics %+v", d.Metrics)
	}
	if !d.UpdatedAt.Equal(clk.Now()) {
		t.Fatalf("updatedAt not refreshed")
	}

	clk.Advance(24 * time.Hour)
	d, _ = p.Transition(context.Background(), d.ID, StageAcquired)
	if d.Metrics.Touchpoints != 2 || d.Metrics.DaysInPipeline != 3 {
		t.Fatalf("unexpected metrics after skip-forward %+v", d.Metrics)
	}
}

func TestDaysInPipelineFrozenWhenTerminal(t *testing.T) {
	p, clk, _ := newTestPipeline()
	d := mustCreate(t, p, candidate("a", 500, 800))
	clk.Advance(72 * time.Hour)
	d, _ = p.Transition(context.Background(), d.ID, StageLost)
	if d.Metrics.DaysInPipeline != 3 {
		t.Fatalf("expected 3 days, got %d", d.Metrics.DaysInPipeline)
	}

	clk.Advance(240 * time.Hour)
	d, err := p.AddNote(context.Background(), d.ID, "seller ghosted")
	if err != nil {
		t.Fatalf("note on terminal deal: %v", err)
	}
	if d.Metrics.DaysInPipeline != 3 || d.Stage != StageLost {
		t.Fatalf("terminal deal changed: %+v", d)
	}
}

func TestNotesAndTasks(t *testing.T) {
	p, _, _ := newTestPipeline()
	d := mustCreate(t, p, candidate("a", 500, 800))
	ctx := context.Background()

	if _, err := p.AddNote(ctx, d.ID, "  "); err == nil {
		t.Fatal("empty note should fail")
	}
	if _, err := p.AddNote(ctx, d.ID, "asked for serial photos"); err != nil {
		t.Fatalf("add note: %v", err)
	}
	due := time.Date(2026, 9, 3, 18, 0, 0, 0, time.UTC)
	d, task, err := p.AddTask(ctx, d.ID, "pick up in Fremont", &due)
	if err != nil {
		t.Fatalf("add task: %v", err)
	}
	if d.OpenTasks() != 1 {
		t.Fatalf("expected one open task, got %d", d.OpenTasks())
	}
	d, err = p.CompleteTask(ctx, d.ID, task.ID)
	if err != nil {
		t.Fatalf("complete task: %v", err)
	}
	if len(d.Notes) != 1 || len(d.Tasks) != 1 || !d.Tasks[0].Done || d.Tasks[0].CompletedAt == nil || d.OpenTasks() != 0 {
		t.Fatalf("unexpected deal %+v", d)
	}
	if d.Stage != StageDiscovered {
		t.Fatalf("notes and tasks must not move the stage")
	}
	if _, err := p.CompleteTask(ctx, d.ID, "nope"); !IsNotFound(err) {
		t.Fatalf("expected NotFoundError for unknown task, got %v", err)
	}
}

func TestStatsByStage(t *testing.T) {
	p, clk, _ := newTestPipeline()
	ctx := context.Background()
	a := mustCreate(t, p, candidate("a", 500, 800))
	b := mustCreate(t, p, candidate("b", 500, 600))
	mustCreate(t, p, candidate("c", 900, 600))
	mustCreate(t, p, candidate("d", 100, 400))

	clk.Advance(48 * time.Hour)
	if _, err := p.Transition(ctx, a.ID, StageSold); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := p.Transition(ctx, b.ID, StageNegotiating); err != nil {
		t.Fatalf("transition: %v", err)
	}

	st, err := p.StatsByStage(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 4 || st.Counts[StageSold] != 1 || st.Counts[StageNegotiating] != 1 || st.Counts[StageDiscovered] != 2 {
		t.Fatalf("unexpected counts %+v", st.Counts)
	}
	if st.CompletionRate != 0.25 {
		t.Fatalf("unexpected completion rate %.2f", st.CompletionRate)
	}
	if st.AverageDays != 2 {
		t.Fatalf("unexpected average days %.2f", st.AverageDays)
	}
	// b (+100) and d (+300); c is under water and a is sold
	if !st.OpenProfit.Equal(decimal.NewFromInt(400)) {
		t.Fatalf("unexpected open profit %s", st.OpenProfit)
	}

	again, _ := p.StatsByStage(ctx)
	if again.Total != st.Total || again.AverageDays != st.AverageDays {
		t.Fatal("stats must be side-effect free")
	}
}

func TestListFilter(t *testing.T) {
	p, _, _ := newTestPipeline()
	ctx := context.Background()
	a := mustCreate(t, p, candidate("a", 500, 800))
	mustCreate(t, p, candidate("b", 500, 550))
	if _, err := p.Transition(ctx, a.ID, StageLost); err != nil {
		t.Fatalf("transition: %v", err)
	}

	open, _ := p.List(ctx, Filter{OpenOnly: true})
	if len(open) != 1 || open[0].Listing.ExternalID != "b" {
		t.Fatalf("unexpected open deals %+v", open)
	}
	threshold := decimal.NewFromInt(100)
	rich, _ := p.List(ctx, Filter{MinProfit: &threshold})
	if len(rich) != 1 || rich[0].Listing.ExternalID != "a" {
		t.Fatalf("unexpected profitable deals %+v", rich)
	}
	lost, _ := p.List(ctx, Filter{Stages: []Stage{StageLost}})
	if len(lost) != 1 {
		t.Fatalf("expected one lost deal, got %d", len(lost))
	}
}

func TestRevalueOnPriceTableChange(t *testing.T) {
	p, _, _ := newTestPipeline()
	ctx := context.Background()

	c := candidate("a", 300, 800)
	c.Specs = specs.ComponentSet{GPU: &specs.Component{Model: "RTX 3070", Confidence: 1}}
	d := mustCreate(t, p, c)

	table := &valuation.PriceTable{
		Version: "v2",
		GPU:     map[string]decimal.Decimal{"RTX 3070": decimal.NewFromInt(380)},
	}
	engine, err := valuation.NewEngine(table, valuation.Options{})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	anchors, _ := valuation.NewAnchors(valuation.DefaultAnchorOptions())

	n, err := p.Revalue(ctx, engine, anchors)
	if err != nil || n != 1 {
		t.Fatalf("expected one revalued deal, got %d %v", n, err)
	}
	d, _ = p.Get(ctx, d.ID)
	if d.Valuation.FMV.PriceTableVersion != "v2" || !d.Valuation.ExpectedProfit.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("deal not revalued: %+v", d.Valuation)
	}
	if !d.Valuation.Anchors.Open.IsPositive() {
		t.Fatal("anchors not recomputed")
	}

	if n, _ := p.Revalue(ctx, engine, anchors); n != 0 {
		t.Fatalf("second revalue should be a no-op, changed %d", n)
	}
}

func TestParseStage(t *testing.T) {
	if s, err := ParseStage(" Pending_Pickup "); err != nil || s != StagePendingPickup {
		t.Fatalf("unexpected parse %s %v", s, err)
	}
	if _, err := ParseStage("archived"); err == nil {
		t.Fatal("unknown stage should fail")
	}
}
