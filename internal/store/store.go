// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

// Package store persists recommendation records in DuckDB and implements
// the lifecycle state machine and cooldown-based resurfacing policy.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/perch-labs/perch/internal/metrics"
)

var (
	// ErrNotFound indicates the requested recommendation record does not exist.
	ErrNotFound = errors.New("recommendation not found")

	// ErrInvalidTransition indicates the record exists but its current
	// status does not permit the requested transition.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Record is one persisted recommendation, keyed uniquely on
// (UserID, CandidateID).
type Record struct {
	ID              string
	UserID          string
	CandidateID     string
	SourceID        string
	Category        string
	Status          Status
	ConfidenceScore float64
	ScheduleRef     string
	DeclineReason   string
	CreatedAt       time.Time
	LastShownAt     time.Time
	ViewedAt        *time.Time
	RespondedAt     *time.Time
	ExpiresAt       time.Time
	DisplayCount    int
}

// Config holds the store settings.
type Config struct {
	// Path is the DuckDB database file. Empty means in-memory, which is
	// what the tests use.
	Path string `json:"path" koanf:"path"`

	// RecordTTL is how long a surfaced recommendation stays actionable
	// before the sweeper expires it.
	RecordTTL time.Duration `json:"record_ttl" koanf:"record_ttl"`

	// Cooldowns is the resurfacing policy.
	Cooldowns CooldownConfig `json:"cooldowns" koanf:"cooldowns"`
}

// DefaultConfig returns the shipped store settings.
func DefaultConfig() Config {
	return Config{
		Path:      "data/perch.db",
		RecordTTL: 24 * time.Hour,
		Cooldowns: DefaultCooldownConfig(),
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.RecordTTL <= 0 {
		return fmt.Errorf("record_ttl must be positive, got %s", c.RecordTTL)
	}
	return c.Cooldowns.Validate()
}

// Store is the DuckDB-backed recommendation store.
type Store struct {
	conn   *sql.DB
	cfg    Config
	logger zerolog.Logger
}

// New opens (or creates) the database and initializes the schema.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func New(cfg Config, logger zerolog.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}

	if cfg.Path != "" {
		dir := filepath.Dir(cfg.Path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dir, err)
			}
		}
	}

	conn, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{
		conn:   conn,
		cfg:    cfg,
		logger: logger.With().Str("component", "store").Logger(),
	}
	if err := s.initialize(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Cooldowns returns the active resurfacing policy.
func (s *Store) Cooldowns() CooldownConfig {
	return s.cfg.Cooldowns
}

func (s *Store) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS recommendations (
			id VARCHAR PRIMARY KEY,
			user_id VARCHAR NOT NULL,
			candidate_id VARCHAR NOT NULL,
			source_id VARCHAR NOT NULL,
			category VARCHAR NOT NULL DEFAULT '',
			status VARCHAR NOT NULL,
			confidence_score DOUBLE NOT NULL,
			schedule_ref VARCHAR NOT NULL DEFAULT '',
			decline_reason VARCHAR NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			last_shown_at TIMESTAMP NOT NULL,
			viewed_at TIMESTAMP,
			responded_at TIMESTAMP,
			expires_at TIMESTAMP NOT NULL,
			display_count INTEGER NOT NULL DEFAULT 0,
			UNIQUE (user_id, candidate_id)
		)`,
		`CREATE TABLE IF NOT EXISTS blocklist (
			user_id VARCHAR NOT NULL,
			candidate_id VARCHAR NOT NULL,
			blocked_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, candidate_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recommendations_user_status
			ON recommendations (user_id, status)`,
	}
	for _, stmt := range schema {
		if _, err := s.conn.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}
	}
	return nil
}

// Save upserts a batch of surfaced recommendations for one user. Every
// record becomes pending with fresh created/shown/expiry timestamps and
// zeroed display metadata; an existing (user, candidate) row is updated in
// place, never duplicated.
func (s *Store) Save(ctx context.Context, userID string, records []Record) error {
	start := time.Now()
	err := s.save(ctx, userID, records)
	metrics.RecordStoreOp("save", time.Since(start), err)
	return err
}

func (s *Store) save(ctx context.Context, userID string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const upsert = `INSERT INTO recommendations
		(id, user_id, candidate_id, source_id, category, status,
		 confidence_score, created_at, last_shown_at, expires_at, display_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT (user_id, candidate_id) DO UPDATE SET
			source_id = excluded.source_id,
			category = excluded.category,
			status = excluded.status,
			confidence_score = excluded.confidence_score,
			created_at = excluded.created_at,
			last_shown_at = excluded.last_shown_at,
			expires_at = excluded.expires_at,
			display_count = 0,
			schedule_ref = '',
			decline_reason = '',
			viewed_at = NULL,
			responded_at = NULL`

	now := time.Now().UTC()
	for _, r := range records {
		id := r.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err := tx.ExecContext(ctx, upsert,
			id, userID, r.CandidateID, r.SourceID, r.Category, string(StatusPending),
			r.ConfidenceScore, now, now, now.Add(s.cfg.RecordTTL))
		if err != nil {
			return fmt.Errorf("upsert recommendation %s: %w", r.CandidateID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Load returns the user's currently eligible records per the cooldown
// policy: pending, declined past the short cooldown, or viewed/expired
// past the long one; never blocked, accepted, not_interested, expired
// past expires_at, or stale beyond the freshness window.
func (s *Store) Load(ctx context.Context, userID string) ([]Record, error) {
	start := time.Now()
	records, err := s.load(ctx, userID)
	metrics.RecordStoreOp("load", time.Since(start), err)
	return records, err
}

func (s *Store) load(ctx context.Context, userID string) ([]Record, error) {
	const q = `SELECT r.id, r.user_id, r.candidate_id, r.source_id, r.category,
			r.status, r.confidence_score, r.schedule_ref, r.decline_reason,
			r.created_at, r.last_shown_at, r.viewed_at, r.responded_at,
			r.expires_at, r.display_count
		FROM recommendations r
		LEFT JOIN blocklist b
			ON b.user_id = r.user_id AND b.candidate_id = r.candidate_id
		WHERE r.user_id = ? AND b.candidate_id IS NULL
		ORDER BY r.confidence_score DESC`

	rows, err := s.conn.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("query recommendations: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	eligible := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if s.cfg.Cooldowns.Eligible(r, now) {
			eligible = append(eligible, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recommendations: %w", err)
	}
	return eligible, nil
}

// Suppressed returns the candidate IDs whose record exists for the user
// but is not currently eligible: accepted, not_interested, or still inside
// a cooldown. The engine drops these before scoring so a declined place
// does not resurface early.
func (s *Store) Suppressed(ctx context.Context, userID string) (map[string]struct{}, error) {
	start := time.Now()
	out, err := s.suppressed(ctx, userID)
	metrics.RecordStoreOp("suppressed", time.Since(start), err)
	return out, err
}

func (s *Store) suppressed(ctx context.Context, userID string) (map[string]struct{}, error) {
	const q = `SELECT id, user_id, candidate_id, source_id, category,
			status, confidence_score, schedule_ref, decline_reason,
			created_at, last_shown_at, viewed_at, responded_at,
			expires_at, display_count
		FROM recommendations WHERE user_id = ?`

	rows, err := s.conn.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("query suppressed: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	out := make(map[string]struct{})
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		// A pending record past freshness is regenerable, not suppressed.
		if r.Status == StatusPending {
			continue
		}
		if !s.cfg.Cooldowns.Eligible(r, now) {
			out[r.CandidateID] = struct{}{}
		}
	}
	return out, rows.Err()
}

// LastShown returns hours since each of the user's candidates was last
// surfaced. The scorer's recency penalty reads this map.
func (s *Store) LastShown(ctx context.Context, userID string) (map[string]float64, error) {
	start := time.Now()
	out, err := s.lastShown(ctx, userID)
	metrics.RecordStoreOp("last_shown", time.Since(start), err)
	return out, err
}

func (s *Store) lastShown(ctx context.Context, userID string) (map[string]float64, error) {
	const q = `SELECT candidate_id, last_shown_at FROM recommendations WHERE user_id = ?`

	rows, err := s.conn.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("query last shown: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	out := make(map[string]float64)
	for rows.Next() {
		var candidateID string
		var lastShown time.Time
		if err := rows.Scan(&candidateID, &lastShown); err != nil {
			return nil, fmt.Errorf("scan last shown: %w", err)
		}
		out[candidateID] = now.Sub(lastShown).Hours()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate last shown: %w", err)
	}
	return out, nil
}

// MarkViewed transitions a pending record to viewed.
func (s *Store) MarkViewed(ctx context.Context, id string) error {
	start := time.Now()
	err := s.transition(ctx, id, StatusViewed, func(tx *sql.Tx, now time.Time) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE recommendations SET status = ?, viewed_at = ? WHERE id = ?`,
			string(StatusViewed), now, id)
		return err
	})
	metrics.RecordStoreOp("mark_viewed", time.Since(start), err)
	return err
}

// MarkAccepted transitions a pending or viewed record to accepted and
// links it to the downstream scheduling entity that consumed it.
func (s *Store) MarkAccepted(ctx context.Context, id, scheduleRef string) error {
	start := time.Now()
	err := s.transition(ctx, id, StatusAccepted, func(tx *sql.Tx, now time.Time) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE recommendations SET status = ?, responded_at = ?, schedule_ref = ? WHERE id = ?`,
			string(StatusAccepted), now, scheduleRef, id)
		return err
	})
	metrics.RecordStoreOp("mark_accepted", time.Since(start), err)
	return err
}

// MarkDeclined transitions a pending or viewed record to declined with an
// optional reason, starting its short cooldown.
func (s *Store) MarkDeclined(ctx context.Context, id, reason string) error {
	start := time.Now()
	err := s.transition(ctx, id, StatusDeclined, func(tx *sql.Tx, now time.Time) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE recommendations SET status = ?, responded_at = ?, decline_reason = ?, last_shown_at = ? WHERE id = ?`,
			string(StatusDeclined), now, reason, now, id)
		return err
	})
	metrics.RecordStoreOp("mark_declined", time.Since(start), err)
	return err
}

// MarkNotInterested transitions a record to not_interested and adds the
// candidate to the user's blocklist so it never resurfaces.
func (s *Store) MarkNotInterested(ctx context.Context, id string) error {
	start := time.Now()
	err := s.markNotInterested(ctx, id)
	metrics.RecordStoreOp("mark_not_interested", time.Since(start), err)
	return err
}

func (s *Store) markNotInterested(ctx context.Context, id string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(rec.Status, StatusNotInterested) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, StatusNotInterested)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin not_interested: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE recommendations SET status = ?, responded_at = ? WHERE id = ?`,
		string(StatusNotInterested), now, id); err != nil {
		return fmt.Errorf("update not_interested: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO blocklist (user_id, candidate_id, blocked_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, candidate_id) DO NOTHING`,
		rec.UserID, rec.CandidateID, now); err != nil {
		return fmt.Errorf("insert blocklist: %w", err)
	}

	return tx.Commit()
}

// ClearPending bulk-transitions the user's pending records to declined
// with a fresh cooldown clock. Returns the number of records cleared.
func (s *Store) ClearPending(ctx context.Context, userID string) (int64, error) {
	start := time.Now()
	now := time.Now().UTC()
	res, err := s.conn.ExecContext(ctx,
		`UPDATE recommendations SET status = ?, last_shown_at = ? WHERE user_id = ? AND status = ?`,
		string(StatusDeclined), now, userID, string(StatusPending))
	metrics.RecordStoreOp("clear_pending", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("clear pending: %w", err)
	}
	return res.RowsAffected()
}

// Block adds a candidate to the user's permanent opt-out list and flips
// any live record for it to not_interested.
func (s *Store) Block(ctx context.Context, userID, candidateID string) error {
	start := time.Now()
	err := s.block(ctx, userID, candidateID)
	metrics.RecordStoreOp("block", time.Since(start), err)
	return err
}

func (s *Store) block(ctx context.Context, userID, candidateID string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin block: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO blocklist (user_id, candidate_id, blocked_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, candidate_id) DO NOTHING`,
		userID, candidateID, now); err != nil {
		return fmt.Errorf("insert blocklist: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE recommendations SET status = ?, responded_at = ?
		 WHERE user_id = ? AND candidate_id = ? AND status != ?`,
		string(StatusNotInterested), now, userID, candidateID, string(StatusAccepted)); err != nil {
		return fmt.Errorf("update blocked record: %w", err)
	}

	return tx.Commit()
}

// Unblock removes the candidate from the opt-out list. A not_interested
// record for it moves to declined, re-entering the normal cooldown cycle.
func (s *Store) Unblock(ctx context.Context, userID, candidateID string) error {
	start := time.Now()
	err := s.unblock(ctx, userID, candidateID)
	metrics.RecordStoreOp("unblock", time.Since(start), err)
	return err
}

func (s *Store) unblock(ctx context.Context, userID, candidateID string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unblock: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM blocklist WHERE user_id = ? AND candidate_id = ?`,
		userID, candidateID); err != nil {
		return fmt.Errorf("delete blocklist: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE recommendations SET status = ?
		 WHERE user_id = ? AND candidate_id = ? AND status = ?`,
		string(StatusDeclined), userID, candidateID, string(StatusNotInterested)); err != nil {
		return fmt.Errorf("restore unblocked record: %w", err)
	}

	return tx.Commit()
}

// IsBlocked reports whether the candidate is on the user's opt-out list.
func (s *Store) IsBlocked(ctx context.Context, userID, candidateID string) (bool, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM blocklist WHERE user_id = ? AND candidate_id = ?`,
		userID, candidateID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query blocklist: %w", err)
	}
	return n > 0, nil
}

// Blocked returns the user's full opt-out set.
func (s *Store) Blocked(ctx context.Context, userID string) (map[string]struct{}, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT candidate_id FROM blocklist WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("query blocklist: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan blocklist: %w", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// ExpireStale transitions pending and viewed records past their expiry to
// expired. Returns the number of records swept.
func (s *Store) ExpireStale(ctx context.Context) (int64, error) {
	start := time.Now()
	now := time.Now().UTC()
	res, err := s.conn.ExecContext(ctx,
		`UPDATE recommendations SET status = ?
		 WHERE status IN (?, ?) AND expires_at < ?`,
		string(StatusExpired), string(StatusPending), string(StatusViewed), now)
	metrics.RecordStoreOp("expire_stale", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("expire stale: %w", err)
	}

	swept, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		metrics.StoreExpiredRecords.Add(float64(swept))
		s.logger.Info().Int64("swept", swept).Msg("expired stale recommendations")
	}
	return swept, nil
}

// Get fetches one record by ID.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	const q = `SELECT id, user_id, candidate_id, source_id, category,
			status, confidence_score, schedule_ref, decline_reason,
			created_at, last_shown_at, viewed_at, responded_at,
			expires_at, display_count
		FROM recommendations WHERE id = ?`

	row := s.conn.QueryRowContext(ctx, q, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// transition runs a guarded status update: the record must exist and its
// current status must allow the target per CanTransition.
func (s *Store) transition(ctx context.Context, id string, to Status, update func(*sql.Tx, time.Time) error) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(rec.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, to)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := update(tx, time.Now().UTC()); err != nil {
		return fmt.Errorf("transition to %s: %w", to, err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var r Record
	var status string
	var viewedAt, respondedAt sql.NullTime

	err := row.Scan(&r.ID, &r.UserID, &r.CandidateID, &r.SourceID, &r.Category,
		&status, &r.ConfidenceScore, &r.ScheduleRef, &r.DeclineReason,
		&r.CreatedAt, &r.LastShownAt, &viewedAt, &respondedAt,
		&r.ExpiresAt, &r.DisplayCount)
	if err != nil {
		return Record{}, err
	}

	r.Status = Status(status)
	if viewedAt.Valid {
		t := viewedAt.Time
		r.ViewedAt = &t
	}
	if respondedAt.Valid {
		t := respondedAt.Time
		r.RespondedAt = &t
	}
	return r, nil
}
