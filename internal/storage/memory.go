package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/habitaq/lead-analytics/internal/models"
)

var errForced = errors.New("forced failure")

// MemoryRollupRepo is an in-memory RollupRepo used when no database is
// configured and in tests.
type MemoryRollupRepo struct {
	mu   sync.RWMutex
	rows map[string]*models.AnalyticsRollupRow

	// FailNext forces the next N calls to fail.
	FailNext int
}

// NewMemoryRollupRepo creates an empty in-memory rollup repository.
func NewMemoryRollupRepo() *MemoryRollupRepo {
	return &MemoryRollupRepo{rows: make(map[string]*models.AnalyticsRollupRow)}
}

func (r *MemoryRollupRepo) failing() bool {
	if r.FailNext > 0 {
		r.FailNext--
		return true
	}
	return false
}

func (r *MemoryRollupRepo) Upsert(ctx context.Context, row *models.AnalyticsRollupRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing() {
		return errForced
	}
	cp := *row
	r.rows[row.EntityID+"|"+row.Date.Format("2006-01-02")] = &cp
	return nil
}

func (r *MemoryRollupRepo) GetRange(ctx context.Context, entityID string, from, to time.Time) ([]*models.AnalyticsRollupRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.failing() {
		return nil, errForced
	}
	var result []*models.AnalyticsRollupRow
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if row, ok := r.rows[entityID+"|"+d.Format("2006-01-02")]; ok {
			cp := *row
			result = append(result, &cp)
		}
	}
	return result, nil
}

// MemoryLeadRepo is an in-memory LeadRepo. Leads are stored as JSON so
// callers never share mutable state with the repo, matching the behavior of
// the durable implementation.
type MemoryLeadRepo struct {
	mu    sync.RWMutex
	leads map[string][]byte

	FailNext int
}

// NewMemoryLeadRepo creates an empty in-memory lead repository.
func NewMemoryLeadRepo() *MemoryLeadRepo {
	return &MemoryLeadRepo{leads: make(map[string][]byte)}
}

func (r *MemoryLeadRepo) failing() bool {
	if r.FailNext > 0 {
		r.FailNext--
		return true
	}
	return false
}

func (r *MemoryLeadRepo) Upsert(ctx context.Context, lead *models.Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing() {
		return errForced
	}
	data, err := json.Marshal(lead)
	if err != nil {
		return err
	}
	r.leads[lead.Key()] = data
	return nil
}

func (r *MemoryLeadRepo) GetByKey(ctx context.Context, listingID, seekerID string) (*models.Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.failing() {
		return nil, errForced
	}
	data, ok := r.leads[listingID+":"+seekerID]
	if !ok {
		return nil, nil
	}
	var lead models.Lead
	if err := json.Unmarshal(data, &lead); err != nil {
		return nil, err
	}
	return &lead, nil
}

func (r *MemoryLeadRepo) ListByTenant(ctx context.Context, listerID string, listerType models.ListerType, from, to time.Time) ([]*models.Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.failing() {
		return nil, errForced
	}
	var leads []*models.Lead
	for _, data := range r.leads {
		var lead models.Lead
		if err := json.Unmarshal(data, &lead); err != nil {
			return nil, err
		}
		if lead.ListerID != listerID {
			continue
		}
		if listerType != "" && lead.ListerType != listerType {
			continue
		}
		if lead.FirstActionAt.Before(from) || lead.FirstActionAt.After(to) {
			continue
		}
		leads = append(leads, &lead)
	}
	return leads, nil
}
