package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/habitaq/lead-analytics/internal/config"
	"github.com/habitaq/lead-analytics/internal/models"
)

// ClickHouseArchive writes normalized events to a ClickHouse table for
// offline analysis. The archive is an append-only sink on the side of the
// hot path; callers treat write failures as non-fatal.
type ClickHouseArchive struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewClickHouseArchive connects to ClickHouse and verifies the connection.
func NewClickHouseArchive(cfg config.ArchiveConfig, logger *zap.Logger) (*ClickHouseArchive, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return &ClickHouseArchive{conn: conn, logger: logger}, nil
}

// InitSchema creates the archive table if it does not exist.
func (a *ClickHouseArchive) InitSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS lead_events (
			kind            LowCardinality(String),
			timestamp       DateTime64(3),
			entity_kind     LowCardinality(String),
			entity_id       String,
			lister_id       String,
			lister_type     LowCardinality(String),
			seeker_id       String,
			channel         LowCardinality(String),
			context_type    LowCardinality(String),
			idempotency_key String,
			ingested_at     DateTime64(3) DEFAULT now64(3)
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (entity_id, timestamp)
	`
	if err := a.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create lead_events table: %w", err)
	}
	a.logger.Info("archive schema initialized")
	return nil
}

// Archive appends a batch of events to the archive table.
func (a *ClickHouseArchive) Archive(ctx context.Context, events []*models.NormalizedEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO lead_events (
			kind, timestamp, entity_kind, entity_id, lister_id, lister_type,
			seeker_id, channel, context_type, idempotency_key
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare archive batch: %w", err)
	}

	for _, ev := range events {
		if err := batch.Append(
			string(ev.Kind),
			ev.Timestamp,
			string(ev.EntityKind),
			ev.EntityID,
			ev.ListerID,
			string(ev.ListerType),
			ev.SeekerID,
			string(ev.Channel),
			string(ev.ContextType),
			ev.IdempotencyKey,
		); err != nil {
			return fmt.Errorf("failed to append event to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send archive batch: %w", err)
	}
	return nil
}

// Close releases the ClickHouse connection.
func (a *ClickHouseArchive) Close() error {
	return a.conn.Close()
}
