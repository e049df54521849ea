package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/habitaq/lead-analytics/internal/models"
)

// ErrVersionConflict is returned when a lead save races another merge.
// The merger retries the whole merge; last-writer-wins would drop actions.
var ErrVersionConflict = errors.New("lead version conflict")

// ===========================================
// KEY SCHEME
// ===========================================
//
// Scalar counters:  <entity_kind>:<entity_id>:day:<ISO date>:<metric>
// Sketches:         same prefix with unique_<metric>
// Lead working set: lead:<listing_id>:<seeker_id>
// Day indexes:      entities:touched:<date>, leads:touched:<date>

// CounterKey builds the scalar counter key for one metric.
func CounterKey(kind models.EntityKind, entityID, day, metric string) string {
	return fmt.Sprintf("%s:%s:day:%s:%s", kind, entityID, day, metric)
}

// SketchKey builds the cardinality-sketch key for one metric.
func SketchKey(kind models.EntityKind, entityID, day, metric string) string {
	return CounterKey(kind, entityID, day, "unique_"+metric)
}

// LeadKey builds the working-copy key for a lead.
func LeadKey(listingID, seekerID string) string {
	return fmt.Sprintf("lead:%s:%s", listingID, seekerID)
}

// EntityIndexKey is the day index of entities that received any event.
func EntityIndexKey(day string) string {
	return "entities:touched:" + day
}

// LeadIndexKey is the day index of leads touched by a merge.
func LeadIndexKey(day string) string {
	return "leads:touched:" + day
}

// ===========================================
// COUNTER STORE
// ===========================================

// Incr is one scalar increment in a batch.
type Incr struct {
	Key   string
	Delta int64
}

// FloatIncr is one float increment in a batch (monetary metrics).
type FloatIncr struct {
	Key   string
	Delta float64
}

// SketchAdd adds one member to a cardinality sketch.
type SketchAdd struct {
	Key    string
	Member string
}

// SetAdd adds one member to a day index set.
type SetAdd struct {
	Key    string
	Member string
}

// CounterBatch is the full set of counter writes for one logical event.
// The store applies it as a single pipeline. Counters are approximate
// load indicators: a retried batch may over-count, and that is accepted.
type CounterBatch struct {
	Incrs      []Incr
	FloatIncrs []FloatIncr
	Sketches   []SketchAdd
	Sets       []SetAdd
	TTL        time.Duration
}

// Empty reports whether the batch carries no writes.
func (b *CounterBatch) Empty() bool {
	return len(b.Incrs) == 0 && len(b.FloatIncrs) == 0 && len(b.Sketches) == 0 && len(b.Sets) == 0
}

// CounterStore is the ephemeral per-day counter service. Only atomic
// increment and sketch-add operations are permitted on it directly.
type CounterStore interface {
	// Apply writes the whole batch in one pipeline.
	Apply(ctx context.Context, batch CounterBatch) error

	// GetCount reads a scalar counter. Missing keys read as 0.
	GetCount(ctx context.Context, key string) (int64, error)

	// GetFloat reads a float counter. Missing keys read as 0.
	GetFloat(ctx context.Context, key string) (float64, error)

	// Estimate reads a cardinality sketch's estimate.
	Estimate(ctx context.Context, key string) (int64, error)

	// Members reads a day index set.
	Members(ctx context.Context, key string) ([]string, error)

	// Delete removes counter keys after a durable flush.
	Delete(ctx context.Context, keys ...string) error
}

// ===========================================
// LEAD WORKING STORE
// ===========================================

// LeadStore holds the authoritative working copy of leads until the
// rollup flushes them. Unlike counters it requires read-modify-write,
// so Save enforces optimistic concurrency via Lead.Version.
type LeadStore interface {
	// Get loads a lead, or nil when no working copy exists.
	Get(ctx context.Context, listingID, seekerID string) (*models.Lead, error)

	// Save stores the lead if the stored version still equals
	// lead.Version, then bumps lead.Version. Returns ErrVersionConflict
	// when another merge won the race.
	Save(ctx context.Context, lead *models.Lead) error
}
