// Package store persists execution records and learned patterns in SQLite.
//
// Store is both the learning.RecordSource a run reads from and a
// learning.PatternSink it writes to.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/athena/internal/learning"
)

// ErrNotFound is returned when a pattern ID has no row.
var ErrNotFound = errors.New("not found")

// Store is a SQLite-backed record source and pattern sink.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	window time.Duration
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithWindow limits Records to executions completed within d of now. Zero
// means all history.
func WithWindow(d time.Duration) Option {
	return func(s *Store) { s.window = d }
}

// WithClock overrides the clock used for the window and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string, logger *zap.Logger, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path cannot be empty")
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s, err := New(ctx, db, logger, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection and runs migrations.
func New(ctx context.Context, db *sql.DB, logger *zap.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{db: db, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("store migration failed: %w", err)
	}
	return s, nil
}

// dsn applies per-connection pragmas through the driver's _pragma
// parameters so every pooled connection gets them.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	if path != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	return "file:" + path + "?" + q.Encode()
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS task_executions (
			task_id TEXT PRIMARY KEY,
			estimated_minutes REAL NOT NULL DEFAULT 0,
			actual_minutes REAL NOT NULL DEFAULT 0,
			success INTEGER NOT NULL,
			priority TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			completed_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_executions_completed
			ON task_executions (completed_at)`,
		`CREATE TABLE IF NOT EXISTS patterns (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			pattern_type TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			condition TEXT NOT NULL,
			prediction TEXT NOT NULL DEFAULT '',
			success_rate REAL NOT NULL,
			sample_size INTEGER NOT NULL,
			confidence_score REAL NOT NULL,
			validated INTEGER NOT NULL DEFAULT 0,
			validation_notes TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const upsertExecution = `
		INSERT INTO task_executions
			(task_id, estimated_minutes, actual_minutes, success, priority, category, tags, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			estimated_minutes = excluded.estimated_minutes,
			actual_minutes = excluded.actual_minutes,
			success = excluded.success,
			priority = excluded.priority,
			category = excluded.category,
			tags = excluded.tags,
			completed_at = excluded.completed_at`

// RecordExecution inserts or replaces an execution record by task ID.
func (s *Store) RecordExecution(ctx context.Context, r learning.ExecutionRecord) error {
	return s.recordExecution(ctx, s.db, r)
}

// RecordExecutions records a batch in one transaction: either every
// record is stored or none is.
func (s *Store) RecordExecutions(ctx context.Context, records []learning.ExecutionRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, r := range records {
		if err := s.recordExecution(ctx, tx, r); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing executions: %w", err)
	}

	s.logger.Debug("recorded executions", zap.Int("count", len(records)))
	return nil
}

func (s *Store) recordExecution(ctx context.Context, db execer, r learning.ExecutionRecord) error {
	if strings.TrimSpace(r.TaskID) == "" {
		return errors.New("task_id is required")
	}
	tags, err := json.Marshal(nonNil(r.Tags))
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}
	completed := r.CompletedAt
	if completed.IsZero() {
		completed = s.now()
	}
	_, err = db.ExecContext(ctx, upsertExecution,
		r.TaskID, r.EstimatedMinutes, r.ActualMinutes, r.Success,
		r.Priority, r.Category, string(tags), completed.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("recording execution %s: %w", r.TaskID, err)
	}
	return nil
}

// Records implements learning.RecordSource. Rows are returned oldest
// first.
func (s *Store) Records(ctx context.Context) ([]learning.ExecutionRecord, error) {
	var since int64
	if s.window > 0 {
		since = s.now().Add(-s.window).UTC().UnixMilli()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, estimated_minutes, actual_minutes, success, priority, category, tags, completed_at
		FROM task_executions
		WHERE completed_at >= ?
		ORDER BY completed_at, task_id`, since)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var out []learning.ExecutionRecord
	for rows.Next() {
		var (
			r         learning.ExecutionRecord
			tags      string
			completed int64
		)
		if err := rows.Scan(&r.TaskID, &r.EstimatedMinutes, &r.ActualMinutes, &r.Success,
			&r.Priority, &r.Category, &tags, &completed); err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
			s.logger.Warn("ignoring malformed tags", zap.String("task_id", r.TaskID), zap.Error(err))
			r.Tags = nil
		}
		if len(r.Tags) == 0 {
			r.Tags = nil
		}
		r.CompletedAt = time.UnixMilli(completed).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating executions: %w", err)
	}

	s.logger.Debug("loaded execution records",
		zap.Int("count", len(out)),
		zap.Duration("window", s.window))
	return out, nil
}

// SavePatterns implements learning.PatternSink. Patterns are upserted by
// ID in one transaction. A stored pattern keeps its created_at, and once
// validated it stays validated. An unvalidated save over a validated row
// refreshes the statistics but keeps the stored confidence_score and
// notes, since that confidence already carries the evaluator's
// adjustment.
func (s *Store) SavePatterns(ctx context.Context, patterns []learning.Pattern) error {
	if len(patterns) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO patterns
			(id, name, pattern_type, description, condition, prediction, success_rate,
			 sample_size, confidence_score, validated, validation_notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			prediction = excluded.prediction,
			success_rate = excluded.success_rate,
			sample_size = excluded.sample_size,
			confidence_score = CASE
				WHEN patterns.validated = 1 AND excluded.validated = 0 THEN patterns.confidence_score
				ELSE excluded.confidence_score END,
			validated = MAX(patterns.validated, excluded.validated),
			validation_notes = CASE
				WHEN excluded.validation_notes != '' THEN excluded.validation_notes
				ELSE patterns.validation_notes END,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	now := s.now().UTC().UnixMilli()
	for _, p := range patterns {
		cond, err := json.Marshal(p.Condition)
		if err != nil {
			return fmt.Errorf("encoding condition for %s: %w", p.ID, err)
		}
		created := p.CreatedAt
		if created.IsZero() {
			created = s.now()
		}
		if _, err := stmt.ExecContext(ctx,
			p.ID, p.Name, string(p.Type), p.Description, string(cond), p.Prediction,
			p.SuccessRate, p.SampleSize, p.ConfidenceScore, p.Validated, p.ValidationNotes,
			created.UTC().UnixMilli(), now); err != nil {
			return fmt.Errorf("upserting pattern %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing patterns: %w", err)
	}

	s.logger.Debug("saved patterns", zap.Int("count", len(patterns)))
	return nil
}

const patternColumns = `id, name, pattern_type, description, condition, prediction, success_rate,
	sample_size, confidence_score, validated, validation_notes, created_at`

// Patterns returns every stored pattern, highest confidence first.
func (s *Store) Patterns(ctx context.Context) ([]learning.Pattern, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+patternColumns+` FROM patterns ORDER BY confidence_score DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("querying patterns: %w", err)
	}
	defer rows.Close()

	var out []learning.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating patterns: %w", err)
	}
	return out, nil
}

// Pattern returns the pattern with id, or ErrNotFound.
func (s *Store) Pattern(ctx context.Context, id string) (learning.Pattern, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM patterns WHERE id = ?`, id)
	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return learning.Pattern{}, fmt.Errorf("pattern %s: %w", id, ErrNotFound)
	}
	return p, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPattern(sc scanner) (learning.Pattern, error) {
	var (
		p       learning.Pattern
		typ     string
		cond    string
		created int64
	)
	err := sc.Scan(&p.ID, &p.Name, &typ, &p.Description, &cond, &p.Prediction, &p.SuccessRate,
		&p.SampleSize, &p.ConfidenceScore, &p.Validated, &p.ValidationNotes, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("scanning pattern: %w", err)
	}
	p.Type = learning.PatternType(typ)
	if err := json.Unmarshal([]byte(cond), &p.Condition); err != nil {
		return p, fmt.Errorf("decoding condition for %s: %w", p.ID, err)
	}
	p.CreatedAt = time.UnixMilli(created).UTC()
	return p, nil
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
