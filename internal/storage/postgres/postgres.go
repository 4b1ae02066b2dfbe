// Package postgres implements storage.Store on PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rewired-gh/spikewatch/internal/models"
	"github.com/rewired-gh/spikewatch/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS blacklist (
	instrument  TEXT PRIMARY KEY,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS paused_alerts (
	instrument  TEXT PRIMARY KEY,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS alert_history (
	id                TEXT PRIMARY KEY,
	instrument        TEXT NOT NULL,
	bucket_key        TEXT NOT NULL,
	prev_volume       DOUBLE PRECISION NOT NULL,
	curr_volume       DOUBLE PRECISION NOT NULL,
	prev_price        DOUBLE PRECISION NOT NULL,
	curr_price        DOUBLE PRECISION NOT NULL,
	volume_change_pct DOUBLE PRECISION NOT NULL,
	price_change_pct  DOUBLE PRECISION NOT NULL,
	delivered         BOOLEAN NOT NULL DEFAULT false,
	created_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alert_history_created_at ON alert_history(created_at DESC);
`

// Store is a storage.Store backed by a pgx connection pool.
type Store struct {
	pool         *pgxpool.Pool
	historyLimit int
}

var _ storage.Store = (*Store)(nil)

// New connects to dsn, verifies the connection and applies the schema.
func New(ctx context.Context, dsn string, historyLimit int) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{pool: pool, historyLimit: historyLimit}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func table(list storage.List) (string, error) {
	switch list {
	case storage.Denylist, storage.PauseList:
		return string(list), nil
	default:
		return "", fmt.Errorf("unknown list %q", list)
	}
}

func (s *Store) Add(ctx context.Context, list storage.List, inst models.Instrument) error {
	tbl, err := table(list)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+tbl+` (instrument) VALUES ($1) ON CONFLICT (instrument) DO NOTHING`,
		string(inst))
	if err != nil {
		return fmt.Errorf("add %s to %s: %w", inst, list, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, list storage.List, inst models.Instrument) error {
	tbl, err := table(list)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+tbl+` WHERE instrument = $1`, string(inst))
	if err != nil {
		return fmt.Errorf("remove %s from %s: %w", inst, list, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s in %s: %w", inst, list, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, list storage.List) ([]models.Instrument, error) {
	tbl, err := table(list)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT instrument FROM `+tbl+` ORDER BY instrument`)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", list, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", list, err)
	}

	out := make([]models.Instrument, len(names))
	for i, n := range names {
		out[i] = models.Instrument(n)
	}
	return out, nil
}

func (s *Store) AddAlert(ctx context.Context, rec *models.AlertRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO alert_history
			(id, instrument, bucket_key, prev_volume, curr_volume, prev_price, curr_price,
			 volume_change_pct, price_change_pct, delivered, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		rec.ID, string(rec.Instrument), rec.BucketKey, rec.PrevVolume, rec.CurrVolume,
		rec.PrevPrice, rec.CurrPrice, rec.VolumeChangePct, rec.PriceChangePct,
		rec.Delivered, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}

	if s.historyLimit > 0 {
		if _, err = tx.Exec(ctx, `
			DELETE FROM alert_history WHERE id NOT IN (
				SELECT id FROM alert_history ORDER BY created_at DESC LIMIT $1
			)`, s.historyLimit); err != nil {
			return fmt.Errorf("enforce history cap: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]models.AlertRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, instrument, bucket_key, prev_volume, curr_volume, prev_price, curr_price,
		       volume_change_pct, price_change_pct, delivered, created_at
		FROM alert_history ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.AlertRecord
	for rows.Next() {
		var a models.AlertRecord
		var inst string
		if err := rows.Scan(
			&a.ID, &inst, &a.BucketKey, &a.PrevVolume, &a.CurrVolume, &a.PrevPrice, &a.CurrPrice,
			&a.VolumeChangePct, &a.PriceChangePct, &a.Delivered, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Instrument = models.Instrument(inst)
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, nil
}
