package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"rigscout/internal/listing"
	"rigscout/internal/pipeline"
	"rigscout/internal/valuation"
)

// TargetRepository persists SearchTargets.
type TargetRepository struct {
	kv KV
}

// NewTargetRepository wraps kv.
func NewTargetRepository(kv KV) *TargetRepository {
	return &TargetRepository{kv: kv}
}

// Save inserts or replaces t.
func (r *TargetRepository) Save(ctx context.Context, t listing.SearchTarget) error {
	if t.ID == "" {
		return errors.New("target id is required")
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal target %s: %w", t.ID, err)
	}
	return r.kv.Put(ctx, NamespaceTargets, t.ID, raw)
}

// Get loads one target.
func (r *TargetRepository) Get(ctx context.Context, id string) (listing.SearchTarget, error) {
	raw, err := r.kv.Get(ctx, NamespaceTargets, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return listing.SearchTarget{}, &pipeline.NotFoundError{Kind: "target", ID: id}
		}
		return listing.SearchTarget{}, err
	}
	var t listing.SearchTarget
	if err := json.Unmarshal(raw, &t); err != nil {
		return listing.SearchTarget{}, fmt.Errorf("decode target %s: %w", id, err)
	}
	return t, nil
}

// List returns every target ordered by id.
func (r *TargetRepository) List(ctx context.Context) ([]listing.SearchTarget, error) {
	entries, err := r.kv.List(ctx, NamespaceTargets)
	if err != nil {
		return nil, err
	}
	out := make([]listing.SearchTarget, 0, len(entries))
	for _, e := range entries {
		var t listing.SearchTarget
		if err := json.Unmarshal(e.Value, &t); err != nil {
			return nil, fmt.Errorf("decode target %s: %w", e.Key, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// SetEnabled flips a target on or off.
func (r *TargetRepository) SetEnabled(ctx context.Context, id string, enabled bool) (listing.SearchTarget, error) {
	t, err := r.Get(ctx, id)
	if err != nil {
		return listing.SearchTarget{}, err
	}
	t.Enabled = enabled
	return t, r.Save(ctx, t)
}

// Delete removes a target on explicit request. Scans never call it.
func (r *TargetRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return r.kv.Delete(ctx, NamespaceTargets, id)
}

// RecordRun stores the lastRunAt/resultsFound carried by t without touching
// fields edited elsewhere in the meantime.
func (r *TargetRepository) RecordRun(ctx context.Context, t listing.SearchTarget) error {
	current, err := r.Get(ctx, t.ID)
	if err != nil {
		return err
	}
	current.LastRunAt = t.LastRunAt
	current.ResultsFound = t.ResultsFound
	return r.Save(ctx, current)
}

// DealStore implements pipeline.Store on a KV, with a listing-key index.
type DealStore struct {
	kv KV
}

// NewDealStore wraps kv.
func NewDealStore(kv KV) *DealStore {
	return &DealStore{kv: kv}
}

// Get loads one deal.
func (s *DealStore) Get(ctx context.Context, id string) (pipeline.Deal, error) {
	raw, err := s.kv.Get(ctx, NamespaceDeals, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return pipeline.Deal{}, &pipeline.NotFoundError{Kind: "deal", ID: id}
		}
		return pipeline.Deal{}, err
	}
	var d pipeline.Deal
	if err := json.Unmarshal(raw, &d); err != nil {
		return pipeline.Deal{}, fmt.Errorf("decode deal %s: %w", id, err)
	}
	return d, nil
}

// GetByListing resolves the listing index then loads the deal.
func (s *DealStore) GetByListing(ctx context.Context, listingKey string) (pipeline.Deal, error) {
	raw, err := s.kv.Get(ctx, NamespaceDealIndex, listingKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return pipeline.Deal{}, &pipeline.NotFoundError{Kind: "listing", ID: listingKey}
		}
		return pipeline.Deal{}, err
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return pipeline.Deal{}, fmt.Errorf("decode deal index %s: %w", listingKey, err)
	}
	return s.Get(ctx, id)
}

// Put writes the deal then its index entry.
func (s *DealStore) Put(ctx context.Context, d pipeline.Deal) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal deal %s: %w", d.ID, err)
	}
	if err := s.kv.Put(ctx, NamespaceDeals, d.ID, raw); err != nil {
		return err
	}
	idx, err := json.Marshal(d.ID)
	if err != nil {
		return fmt.Errorf("marshal deal index: %w", err)
	}
	return s.kv.Put(ctx, NamespaceDealIndex, d.ListingKey, idx)
}

// List returns every deal ordered by creation time.
func (s *DealStore) List(ctx context.Context) ([]pipeline.Deal, error) {
	entries, err := s.kv.List(ctx, NamespaceDeals)
	if err != nil {
		return nil, err
	}
	out := make([]pipeline.Deal, 0, len(entries))
	for _, e := range entries {
		var d pipeline.Deal
		if err := json.Unmarshal(e.Value, &d); err != nil {
			return nil, fmt.Errorf("decode deal %s: %w", e.Key, err)
		}
		out = append(out, d)
	}
	pipeline.SortByCreated(out)
	return out, nil
}

const activePriceTableKey = "active_price_table"

// PriceTableRecord is a stored price table revision.
type PriceTableRecord struct {
	Version    string    `json:"version"`
	YAML       string    `json:"yaml"`
	ImportedAt time.Time `json:"imported_at"`
}

// PriceTableRepository keeps every imported price table and tracks the active one.
type PriceTableRepository struct {
	kv KV
}

// NewPriceTableRepository wraps kv.
func NewPriceTableRepository(kv KV) *PriceTableRepository {
	return &PriceTableRepository{kv: kv}
}

// Import validates raw YAML, stores it under its version and makes it active.
func (r *PriceTableRepository) Import(ctx context.Context, raw []byte, now time.Time) (*valuation.PriceTable, error) {
	table, err := valuation.ParsePriceTable(raw)
	if err != nil {
		return nil, err
	}
	rec, err := json.Marshal(PriceTableRecord{Version: table.Version, YAML: string(raw), ImportedAt: now})
	if err != nil {
		return nil, fmt.Errorf("marshal price table: %w", err)
	}
	if err := r.kv.Put(ctx, NamespacePriceTables, table.Version, rec); err != nil {
		return nil, err
	}
	active, err := json.Marshal(table.Version)
	if err != nil {
		return nil, fmt.Errorf("marshal active version: %w", err)
	}
	if err := r.kv.Put(ctx, NamespaceMeta, activePriceTableKey, active); err != nil {
		return nil, err
	}
	return table, nil
}

// Active returns the active table. It returns ErrNotFound when none was imported.
func (r *PriceTableRepository) Active(ctx context.Context) (*valuation.PriceTable, error) {
	raw, err := r.kv.Get(ctx, NamespaceMeta, activePriceTableKey)
	if err != nil {
		return nil, err
	}
	var version string
	if err := json.Unmarshal(raw, &version); err != nil {
		return nil, fmt.Errorf("decode active version: %w", err)
	}
	rec, err := r.Get(ctx, version)
	if err != nil {
		return nil, err
	}
	return valuation.ParsePriceTable([]byte(rec.YAML))
}

// Get loads one stored revision.
func (r *PriceTableRepository) Get(ctx context.Context, version string) (PriceTableRecord, error) {
	raw, err := r.kv.Get(ctx, NamespacePriceTables, version)
	if err != nil {
		return PriceTableRecord{}, err
	}
	var rec PriceTableRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return PriceTableRecord{}, fmt.Errorf("decode price table %s: %w", version, err)
	}
	return rec, nil
}

// Versions lists stored revisions, newest import first.
func (r *PriceTableRepository) Versions(ctx context.Context) ([]PriceTableRecord, error) {
	entries, err := r.kv.List(ctx, NamespacePriceTables)
	if err != nil {
		return nil, err
	}
	out := make([]PriceTableRecord, 0, len(entries))
	for _, e := range entries {
		var rec PriceTableRecord
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			return nil, fmt.Errorf("decode price table %s: %w", e.Key, err)
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ImportedAt.After(out[j].ImportedAt) })
	return out, nil
}

var _ pipeline.Store = (*DealStore)(nil)
