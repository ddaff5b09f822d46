// Package survey persists scan history: one record per scan session and one
// row per BSS sighting reported while the scan ran. The driver treats the
// survey as best-effort; persistence failures are logged, never surfaced to
// the scan caller.
package survey

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tmorgen/airvane/internal/store"
)

// ErrNotFound is returned when a scan record does not exist.
var ErrNotFound = errors.New("survey: scan not found")

// Scan session terminal statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusTimedOut  = "timed_out"
	StatusError     = "error"
)

// ScanRecord is one persisted scan session.
type ScanRecord struct {
	ID        string
	VdevID    int
	StartedAt string
	EndedAt   string
	Status    string
	BSSCount  int
}

// Sighting is one BSS observed during a scan.
type Sighting struct {
	BSSID   string
	SSID    string
	FreqMHz int
	RSSI    int
}

// Store records scan sessions in the shared SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNow overrides the store's time source. Tests use it to pin the
// record timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a survey store and applies its migrations.
func New(ctx context.Context, s *store.SQLiteStore, opts ...Option) (*Store, error) {
	if err := s.Migrate(ctx, "survey", migrations); err != nil {
		return nil, err
	}
	st := &Store{db: s.DB(), now: time.Now}
	for _, opt := range opts {
		opt(st)
	}
	return st, nil
}

var migrations = []store.Migration{
	{
		Version:     1,
		Description: "create survey tables",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE survey_scans (
					id         TEXT PRIMARY KEY,
					vdev_id    INTEGER NOT NULL,
					started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					ended_at   DATETIME,
					status     TEXT NOT NULL DEFAULT 'running'
				)`,
				`CREATE INDEX idx_survey_scans_status ON survey_scans(status)`,
				`CREATE TABLE survey_bss (
					scan_id  TEXT NOT NULL REFERENCES survey_scans(id) ON DELETE CASCADE,
					bssid    TEXT NOT NULL,
					ssid     TEXT NOT NULL DEFAULT '',
					freq_mhz INTEGER NOT NULL,
					rssi     INTEGER NOT NULL,
					seen_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_survey_bss_scan ON survey_bss(scan_id)`,
			}
			for _, stmt := range stmts {
				if _, err := tx.Exec(stmt); err != nil {
					return err
				}
			}
			return nil
		},
	},
}

// BeginScan inserts a running scan record and returns its id.
func (s *Store) BeginScan(ctx context.Context, vdevID int) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO survey_scans (id, vdev_id, started_at, status)
		VALUES (?, ?, ?, ?)`,
		id, vdevID, s.now().UTC().Format(time.RFC3339), StatusRunning,
	)
	if err != nil {
		return "", fmt.Errorf("begin scan: %w", err)
	}
	return id, nil
}

// EndScan marks the scan record terminal with the given status.
func (s *Store) EndScan(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE survey_scans SET status = ?, ended_at = ? WHERE id = ?`,
		status, s.now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("end scan %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return nil
}

// RecordSighting attaches one observed BSS to a scan record.
func (s *Store) RecordSighting(ctx context.Context, scanID string, b Sighting) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO survey_bss (scan_id, bssid, ssid, freq_mhz, rssi)
		VALUES (?, ?, ?, ?, ?)`,
		scanID, b.BSSID, b.SSID, b.FreqMHz, b.RSSI,
	)
	if err != nil {
		return fmt.Errorf("record sighting: %w", err)
	}
	return nil
}

// Get returns a single scan record with its sighting count.
func (s *Store) Get(ctx context.Context, id string) (*ScanRecord, error) {
	var rec ScanRecord
	var endedAt sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.vdev_id, s.started_at, s.ended_at, s.status,
		       (SELECT COUNT(*) FROM survey_bss b WHERE b.scan_id = s.id)
		FROM survey_scans s WHERE s.id = ?`, id,
	).Scan(&rec.ID, &rec.VdevID, &rec.StartedAt, &endedAt, &rec.Status, &rec.BSSCount)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get scan %q: %w", id, err)
	}
	if endedAt.Valid {
		rec.EndedAt = endedAt.String
	}
	return &rec, nil
}

// Recent returns the most recent scan records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]ScanRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.vdev_id, s.started_at, s.ended_at, s.status,
		       (SELECT COUNT(*) FROM survey_bss b WHERE b.scan_id = s.id)
		FROM survey_scans s ORDER BY s.started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	var recs []ScanRecord
	for rows.Next() {
		var rec ScanRecord
		var endedAt sql.NullString
		if err := rows.Scan(&rec.ID, &rec.VdevID, &rec.StartedAt, &endedAt,
			&rec.Status, &rec.BSSCount); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if endedAt.Valid {
			rec.EndedAt = endedAt.String
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scans: %w", err)
	}
	return recs, nil
}
