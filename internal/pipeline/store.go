package pipeline

import (
	"context"
	"sort"
	"sync"
)

// Store persists deals. Get and GetByListing return a *NotFoundError for unknown
// keys. Put must be atomic per deal.
type Store interface {
	Get(ctx context.Context, id string) (Deal, error)
	GetByListing(ctx context.Context, listingKey string) (Deal, error)
	Put(ctx context.Context, d Deal) error
	List(ctx context.Context) ([]Deal, error)
}

// MemoryStore keeps deals in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	deals     map[string]Deal
	byListing map[string]string
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		deals:     make(map[string]Deal),
		byListing: make(map[string]string),
	}
}

// Get returns the deal with id.
func (s *MemoryStore) Get(_ context.Context, id string) (Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deals[id]
	if !ok {
		return Deal{}, &NotFoundError{Kind: "deal", ID: id}
	}
	return d.Clone(), nil
}

// GetByListing returns the deal tracking listingKey.
func (s *MemoryStore) GetByListing(ctx context.Context, listingKey string) (Deal, error) {
	s.mu.RLock()
	id, ok := s.byListing[listingKey]
	s.mu.RUnlock()
	if !ok {
		return Deal{}, &NotFoundError{Kind: "listing", ID: listingKey}
	}
	return s.Get(ctx, id)
}

// Put inserts or replaces d.
func (s *MemoryStore) Put(_ context.Context, d Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deals[d.ID] = d.Clone()
	s.byListing[d.ListingKey] = d.ID
	return nil
}

// List returns every deal ordered by creation time.
func (s *MemoryStore) List(_ context.Context) ([]Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Deal, 0, len(s.deals))
	for _, d := range s.deals {
		out = append(out, d.Clone())
	}
	SortByCreated(out)
	return out, nil
}

// SortByCreated orders deals oldest first, breaking ties by id.
func SortByCreated(deals []Deal) {
	sort.SliceStable(deals, func(i, j int) bool {
		if deals[i].CreatedAt.Equal(deals[j].CreatedAt) {
			return deals[i].ID < deals[j].ID
		}
		return deals[i].CreatedAt.Before(deals[j].CreatedAt)
	})
}

var _ Store = (*MemoryStore)(nil)
