package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rigscout/internal/listing"
	"rigscout/internal/pipeline"
	"rigscout/internal/risk"
	"rigscout/internal/specs"
	"rigscout/internal/valuation"
)

func TestMemoryKVRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	if _, err := kv.Get(ctx, "ns", "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_ = kv.Put(ctx, "ns", "b", []byte(`2`))
	_ = kv.Put(ctx, "ns", "a", []byte(`1`))
	_ = kv.Put(ctx, "other", "c", []byte(`3`))

	entries, err := kv.List(ctx, "ns")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].Key != "a" || entries[1].Key != "b" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	_ = kv.Delete(ctx, "ns", "a")
	if _, err := kv.Get(ctx, "ns", "a"); !errors.Is(err, ErrNotFound) {
		t.Fatal("deleted key still present")
	}
}

func TestStoreWithoutPool(t *testing.T) {
	var s *Store
	if _, err := s.Get(context.Background(), "ns", "k"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if err := s.EnsureSchema(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestTargetRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewTargetRepository(NewMemoryKV())

	target := listing.SearchTarget{
		ID:       "t1",
		Platform: listing.PlatformCraigslist,
		URL:      "https://sfbay.craigslist.org/search/sya?query=gaming+pc",
		Cadence:  30 * time.Minute,
		Enabled:  true,
	}
	if err := repo.Save(ctx, target); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := repo.Get(ctx, "missing"); !pipeline.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}

	if _, err := repo.SetEnabled(ctx, "t1", false); err != nil {
		t.Fatalf("disable: %v", err)
	}

	ran := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	target.LastRunAt = &ran
	target.ResultsFound = 12
	target.Enabled = true
	if err := repo.RecordRun(ctx, target); err != nil {
		t.Fatalf("record run: %v", err)
	}

	got, err := repo.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Enabled {
		t.Fatal("RecordRun must not re-enable a disabled target")
	}
	if got.ResultsFound != 12 || got.LastRunAt == nil || !got.LastRunAt.Equal(ran) || got.Cadence != 30*time.Minute {
		t.Fatalf("unexpected target %+v", got)
	}

	if err := repo.Delete(ctx, "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Get(ctx, "t1"); !pipeline.IsNotFound(err) {
		t.Fatalf("deleted target still loadable: %v", err)
	}
	if err := repo.Delete(ctx, "t1"); !pipeline.IsNotFound(err) {
		t.Fatalf("expected NotFoundError deleting twice, got %v", err)
	}
}

func TestDealStoreBacksPipeline(t *testing.T) {
	ctx := context.Background()
	store := NewDealStore(NewMemoryKV())
	p := pipeline.New(store, nil, zerolog.Nop())

	draft := listing.Draft{ExternalID: "991", Platform: listing.PlatformFacebook, Title: "RTX 3080 build", Price: decimal.NewFromInt(900)}
	fmv := valuation.FMVResult{
		Total:             decimal.NewFromInt(1200),
		ByComponent:       map[specs.Kind]decimal.Decimal{specs.KindGPU: decimal.NewFromInt(1200)},
		Confidence:        0.7,
		PriceTableVersion: "v1",
	}
	c := pipeline.NewCandidate(draft, specs.ComponentSet{GPU: &specs.Component{Model: "RTX 3080", Confidence: 1}}, fmv,
		risk.Assessment{Score: 1, Flags: []risk.Flag{{Rule: "thin_description", Severity: risk.SeverityLow}}}, valuation.OfferAnchors{}, time.Now())

	d, err := p.CreateDeal(ctx, c)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := p.CreateDeal(ctx, c); !errors.Is(err, pipeline.ErrDuplicateDeal) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	byListing, err := store.GetByListing(ctx, draft.Key())
	if err != nil || byListing.ID != d.ID {
		t.Fatalf("index lookup failed: %v", err)
	}
	if !byListing.Valuation.FMV.ByComponent[specs.KindGPU].Equal(decimal.NewFromInt(1200)) {
		t.Fatalf("valuation not persisted: %+v", byListing.Valuation.FMV)
	}
	if len(byListing.Valuation.Risk.Flags) != 1 {
		t.Fatalf("risk flags not persisted")
	}

	if _, err := p.Transition(ctx, d.ID, pipeline.StageContacted); err != nil {
		t.Fatalf("transition: %v", err)
	}
	all, err := store.List(ctx)
	if err != nil || len(all) != 1 || all[0].Stage != pipeline.StageContacted {
		t.Fatalf("unexpected list %+v %v", all, err)
	}
}

const tableV1 = `version: v1
gpu:
  RTX 3070: 400
`

const tableV2 = `version: v2
gpu:
  RTX 3070: 380
`

func TestPriceTableRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewPriceTableRepository(NewMemoryKV())

	if _, err := repo.Active(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before import, got %v", err)
	}
	if _, err := repo.Import(ctx, []byte("gpu: {}"), time.Now()); err == nil {
		t.Fatal("table without version should be rejected")
	}

	t0 := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	if _, err := repo.Import(ctx, []byte(tableV1), t0); err != nil {
		t.Fatalf("import v1: %v", err)
	}
	if _, err := repo.Import(ctx, []byte(tableV2), t0.Add(time.Hour)); err != nil {
		t.Fatalf("import v2: %v", err)
	}

	active, err := repo.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active.Version != "v2" {
		t.Fatalf("expected v2 active, got %s", active.Version)
	}
	versions, _ := repo.Versions(ctx)
	if len(versions) != 2 || versions[0].Version != "v2" {
		t.Fatalf("unexpected versions %+v", versions)
	}
}
