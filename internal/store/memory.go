package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/habitaq/lead-analytics/internal/models"
)

// MemoryCounterStore is an in-memory CounterStore twin used in tests and
// when no Redis is configured. Sketches are exact sets, which over-
// approximates nothing and keeps assertions deterministic.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counts   map[string]int64
	floats   map[string]float64
	sketches map[string]map[string]struct{}
	sets     map[string]map[string]struct{}

	// FailNext forces the next operations to fail, for breaker and
	// degradation tests.
	FailNext int
}

// NewMemoryCounterStore constructs an empty in-memory counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		counts:   make(map[string]int64),
		floats:   make(map[string]float64),
		sketches: make(map[string]map[string]struct{}),
		sets:     make(map[string]map[string]struct{}),
	}
}

func (s *MemoryCounterStore) failing() bool {
	if s.FailNext > 0 {
		s.FailNext--
		return true
	}
	return false
}

// Apply applies the batch atomically under the store lock.
func (s *MemoryCounterStore) Apply(ctx context.Context, batch CounterBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing() {
		return ErrStoreUnavailable
	}
	for _, in := range batch.Incrs {
		s.counts[in.Key] += in.Delta
	}
	for _, in := range batch.FloatIncrs {
		s.floats[in.Key] += in.Delta
	}
	for _, sk := range batch.Sketches {
		if s.sketches[sk.Key] == nil {
			s.sketches[sk.Key] = make(map[string]struct{})
		}
		s.sketches[sk.Key][sk.Member] = struct{}{}
	}
	for _, sa := range batch.Sets {
		if s.sets[sa.Key] == nil {
			s.sets[sa.Key] = make(map[string]struct{})
		}
		s.sets[sa.Key][sa.Member] = struct{}{}
	}
	return nil
}

// GetCount reads a scalar counter.
func (s *MemoryCounterStore) GetCount(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing() {
		return 0, ErrStoreUnavailable
	}
	return s.counts[key], nil
}

// GetFloat reads a float counter.
func (s *MemoryCounterStore) GetFloat(ctx context.Context, key string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing() {
		return 0, ErrStoreUnavailable
	}
	return s.floats[key], nil
}

// Estimate returns the exact cardinality of the stand-in sketch.
func (s *MemoryCounterStore) Estimate(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing() {
		return 0, ErrStoreUnavailable
	}
	return int64(len(s.sketches[key])), nil
}

// Members reads a day index set.
func (s *MemoryCounterStore) Members(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing() {
		return nil, ErrStoreUnavailable
	}
	members := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		members = append(members, m)
	}
	return members, nil
}

// Delete removes keys from every namespace.
func (s *MemoryCounterStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing() {
		return ErrStoreUnavailable
	}
	for _, k := range keys {
		delete(s.counts, k)
		delete(s.floats, k)
		delete(s.sketches, k)
		delete(s.sets, k)
	}
	return nil
}

// MemoryLeadStore is an in-memory LeadStore twin with the same optimistic
// concurrency contract as the Redis implementation.
type MemoryLeadStore struct {
	mu    sync.Mutex
	leads map[string][]byte

	// FailNext forces the next operations to fail.
	FailNext int
}

// NewMemoryLeadStore constructs an empty in-memory lead store.
func NewMemoryLeadStore() *MemoryLeadStore {
	return &MemoryLeadStore{leads: make(map[string][]byte)}
}

func (s *MemoryLeadStore) failing() bool {
	if s.FailNext > 0 {
		s.FailNext--
		return true
	}
	return false
}

// Get loads a lead, or nil when absent. Records round-trip through JSON
// so tests exercise the same serialization as production.
func (s *MemoryLeadStore) Get(ctx context.Context, listingID, seekerID string) (*models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing() {
		return nil, ErrStoreUnavailable
	}
	raw, ok := s.leads[LeadKey(listingID, seekerID)]
	if !ok {
		return nil, nil
	}
	var lead models.Lead
	if err := json.Unmarshal(raw, &lead); err != nil {
		return nil, err
	}
	return &lead, nil
}

// Save enforces the version check and bumps the version on success.
func (s *MemoryLeadStore) Save(ctx context.Context, lead *models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing() {
		return ErrStoreUnavailable
	}

	key := LeadKey(lead.ListingID, lead.SeekerID)
	var storedVersion int64
	if raw, ok := s.leads[key]; ok {
		var existing models.Lead
		if err := json.Unmarshal(raw, &existing); err != nil {
			return err
		}
		storedVersion = existing.Version
	}
	if storedVersion != lead.Version {
		return ErrVersionConflict
	}

	next := *lead
	next.Version++
	raw, err := json.Marshal(&next)
	if err != nil {
		return err
	}
	s.leads[key] = raw
	lead.Version = next.Version
	return nil
}
