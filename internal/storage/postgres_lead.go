package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/habitaq/lead-analytics/internal/models"
)

// PostgresLeadRepo implements LeadRepo using PostgreSQL. It holds the
// durable projection of merged leads; the working copies live in Redis.
type PostgresLeadRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresLeadRepo creates a new PostgreSQL-backed lead repository.
func NewPostgresLeadRepo(pool *pgxpool.Pool) *PostgresLeadRepo {
	return &PostgresLeadRepo{pool: pool}
}

const leadSchema = `
CREATE TABLE IF NOT EXISTS leads (
	listing_id       TEXT NOT NULL,
	seeker_id        TEXT NOT NULL,
	lister_id        TEXT NOT NULL,
	lister_type      TEXT NOT NULL,
	context_type     TEXT NOT NULL,
	is_anonymous     BOOLEAN NOT NULL DEFAULT FALSE,
	status           TEXT NOT NULL,
	lead_actions     JSONB NOT NULL DEFAULT '[]',
	total_actions    BIGINT NOT NULL DEFAULT 0,
	first_action_at  TIMESTAMPTZ,
	last_action_at   TIMESTAMPTZ,
	last_action_type TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	version          BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (listing_id, seeker_id)
);
CREATE INDEX IF NOT EXISTS idx_leads_lister ON leads (lister_id, lister_type, first_action_at)`

// EnsureSchema creates the leads table and its tenant index when missing.
func (r *PostgresLeadRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, leadSchema); err != nil {
		return fmt.Errorf("failed to create leads: %w", err)
	}
	return nil
}

// Upsert writes the full lead aggregate keyed by (listing_id, seeker_id).
func (r *PostgresLeadRepo) Upsert(ctx context.Context, lead *models.Lead) error {
	actions, err := json.Marshal(lead.Actions)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO leads (
			listing_id, seeker_id, lister_id, lister_type, context_type,
			is_anonymous, status, lead_actions, total_actions,
			first_action_at, last_action_at, last_action_type, created_at, version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (listing_id, seeker_id) DO UPDATE SET
			lister_id        = EXCLUDED.lister_id,
			lister_type      = EXCLUDED.lister_type,
			context_type     = EXCLUDED.context_type,
			is_anonymous     = EXCLUDED.is_anonymous,
			status           = EXCLUDED.status,
			lead_actions     = EXCLUDED.lead_actions,
			total_actions    = EXCLUDED.total_actions,
			first_action_at  = EXCLUDED.first_action_at,
			last_action_at   = EXCLUDED.last_action_at,
			last_action_type = EXCLUDED.last_action_type,
			version          = EXCLUDED.version
	`, lead.ListingID, lead.SeekerID, lead.ListerID, lead.ListerType, lead.ContextType,
		lead.IsAnonymous, lead.Status, actions, lead.TotalActions,
		lead.FirstActionAt, lead.LastActionAt, lead.LastActionType, lead.CreatedAt, lead.Version)

	if err != nil {
		return fmt.Errorf("failed to upsert lead: %w", err)
	}
	return nil
}

// GetByKey fetches one lead, returning (nil, nil) when absent.
func (r *PostgresLeadRepo) GetByKey(ctx context.Context, listingID, seekerID string) (*models.Lead, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT listing_id, seeker_id, lister_id, lister_type, context_type,
		       is_anonymous, status, lead_actions, total_actions,
		       first_action_at, last_action_at, last_action_type, created_at, version
		FROM leads
		WHERE listing_id = $1 AND seeker_id = $2
	`, listingID, seekerID)

	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return lead, err
}

// ListByTenant returns leads for a lister whose first action falls in the
// inclusive range. listerType narrows the match when non-empty.
func (r *PostgresLeadRepo) ListByTenant(ctx context.Context, listerID string, listerType models.ListerType, from, to time.Time) ([]*models.Lead, error) {
	query := `
		SELECT listing_id, seeker_id, lister_id, lister_type, context_type,
		       is_anonymous, status, lead_actions, total_actions,
		       first_action_at, last_action_at, last_action_type, created_at, version
		FROM leads
		WHERE lister_id = $1 AND first_action_at >= $2 AND first_action_at <= $3`
	args := []interface{}{listerID, from, to}

	if listerType != "" {
		query += ` AND lister_type = $4`
		args = append(args, listerType)
	}
	query += ` ORDER BY first_action_at`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()

	var leads []*models.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

func scanLead(row pgx.Row) (*models.Lead, error) {
	var lead models.Lead
	var actions []byte

	if err := row.Scan(
		&lead.ListingID, &lead.SeekerID, &lead.ListerID, &lead.ListerType, &lead.ContextType,
		&lead.IsAnonymous, &lead.Status, &actions, &lead.TotalActions,
		&lead.FirstActionAt, &lead.LastActionAt, &lead.LastActionType, &lead.CreatedAt, &lead.Version,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(actions, &lead.Actions); err != nil {
		return nil, fmt.Errorf("failed to decode lead actions: %w", err)
	}
	return &lead, nil
}
