// Package storage provides persistence for exclusion lists and alert history.
// The default backend is SQLite; see storage/postgres for PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/spikewatch/internal/models"
	_ "modernc.org/sqlite"
)

// SQLite is a Store backed by a single SQLite file.
type SQLite struct {
	db           *sql.DB
	historyLimit int
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens or creates the database at dbPath.
// An empty dbPath defaults to $TMPDIR/spikewatch/data.db. historyLimit caps alert history rows (0 keeps all).
func NewSQLite(dbPath string, historyLimit int) (*SQLite, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "spikewatch", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &SQLite{db: db, historyLimit: historyLimit}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS blacklist (
			instrument  TEXT PRIMARY KEY,
			created_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS paused_alerts (
			instrument  TEXT PRIMARY KEY,
			created_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alert_history (
			id                TEXT PRIMARY KEY,
			instrument        TEXT NOT NULL,
			bucket_key        TEXT NOT NULL,
			prev_volume       REAL NOT NULL,
			curr_volume       REAL NOT NULL,
			prev_price        REAL NOT NULL,
			curr_price        REAL NOT NULL,
			volume_change_pct REAL NOT NULL,
			price_change_pct  REAL NOT NULL,
			delivered         INTEGER NOT NULL DEFAULT 0,
			created_at        INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_history_created_at ON alert_history(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Add(ctx context.Context, list List, inst models.Instrument) error {
	if !validList(list) {
		return fmt.Errorf("unknown list %q", list)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO `+string(list)+` (instrument, created_at) VALUES (?, ?)`,
		string(inst), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to add %s to %s: %w", inst, list, err)
	}
	return nil
}

func (s *SQLite) Remove(ctx context.Context, list List, inst models.Instrument) error {
	if !validList(list) {
		return fmt.Errorf("unknown list %q", list)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+string(list)+` WHERE instrument = ?`, string(inst))
	if err != nil {
		return fmt.Errorf("failed to remove %s from %s: %w", inst, list, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%s in %s: %w", inst, list, ErrNotFound)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, list List) ([]models.Instrument, error) {
	if !validList(list) {
		return nil, fmt.Errorf("unknown list %q", list)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT instrument FROM `+string(list)+` ORDER BY instrument`)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", list, err)
	}
	defer rows.Close()

	out := []models.Instrument{}
	for rows.Next() {
		var inst string
		if err := rows.Scan(&inst); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", list, err)
		}
		out = append(out, models.Instrument(inst))
	}
	return out, rows.Err()
}

// AddAlert inserts rec, assigning an ID and timestamp if unset, then trims history to the configured cap.
func (s *SQLite) AddAlert(ctx context.Context, rec *models.AlertRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO alert_history
			(id, instrument, bucket_key, prev_volume, curr_volume, prev_price, curr_price,
			 volume_change_pct, price_change_pct, delivered, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, string(rec.Instrument), rec.BucketKey, rec.PrevVolume, rec.CurrVolume,
		rec.PrevPrice, rec.CurrPrice, rec.VolumeChangePct, rec.PriceChangePct,
		boolToInt(rec.Delivered), rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	if s.historyLimit > 0 {
		if _, err = tx.ExecContext(ctx, `
			DELETE FROM alert_history WHERE id NOT IN (
				SELECT id FROM alert_history ORDER BY created_at DESC LIMIT ?
			)`, s.historyLimit); err != nil {
			return fmt.Errorf("failed to enforce history cap: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLite) RecentAlerts(ctx context.Context, limit int) ([]models.AlertRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, instrument, bucket_key, prev_volume, curr_volume, prev_price, curr_price,
		       volume_change_pct, price_change_pct, delivered, created_at
		FROM alert_history ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.AlertRecord
	for rows.Next() {
		var a models.AlertRecord
		var inst string
		var delivered int
		var createdAtNano int64

		err := rows.Scan(
			&a.ID, &inst, &a.BucketKey, &a.PrevVolume, &a.CurrVolume, &a.PrevPrice, &a.CurrPrice,
			&a.VolumeChangePct, &a.PriceChangePct, &delivered, &createdAtNano,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}

		a.Instrument = models.Instrument(inst)
		a.Delivered = delivered != 0
		a.CreatedAt = time.Unix(0, createdAtNano)
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
