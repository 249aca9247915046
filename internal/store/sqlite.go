package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/seantiz/fluxd/internal/model"

	_ "modernc.org/sqlite"
)

const createGenerationsTable = `
CREATE TABLE IF NOT EXISTS generations (
    id          TEXT PRIMARY KEY,
    variant     TEXT NOT NULL,
    prompt      TEXT NOT NULL,
    width       INTEGER NOT NULL,
    height      INTEGER NOT NULL,
    batch_size  INTEGER NOT NULL,
    seed        TEXT NOT NULL,
    steps       INTEGER NOT NULL,
    status      TEXT NOT NULL,
    prompt_id   TEXT,
    error       TEXT,
    duration_ms INTEGER,
    created_at  DATETIME NOT NULL,
    finished_at DATETIME
)`

const createGenerationsIndex = `
CREATE INDEX IF NOT EXISTS generations_created_at ON generations (created_at DESC)`

const generationColumns = `id, variant, prompt, width, height, batch_size, seed, steps,
	status, prompt_id, error, duration_ms, created_at, finished_at`

// ErrNotFound is returned when a generation is not found.
var ErrNotFound = errors.New("generation not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createGenerationsTable, createGenerationsIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate generations: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateGeneration inserts a new generation record.
func (s *SQLiteStore) CreateGeneration(ctx context.Context, g *model.Generation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generations (`+generationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Variant, g.Prompt, g.Width, g.Height, g.BatchSize,
		strconv.FormatUint(g.Seed, 10), g.Steps, g.Status,
		nullString(g.PromptID), nullString(g.Error), g.DurationMS,
		g.CreatedAt, g.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

// GetGeneration retrieves a generation by ID.
func (s *SQLiteStore) GetGeneration(ctx context.Context, id string) (*model.Generation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+generationColumns+` FROM generations WHERE id = ?`, id,
	)
	g, err := scanGeneration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get generation: %w", err)
	}
	return g, nil
}

// ListGenerations returns a paginated list of generations ordered by
// created_at DESC, along with the total count of all generations.
func (s *SQLiteStore) ListGenerations(ctx context.Context, limit, offset int) ([]*model.Generation, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM generations").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count generations: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+generationColumns+` FROM generations
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var generations []*model.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan generation: %w", err)
		}
		generations = append(generations, g)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate generations: %w", err)
	}

	return generations, total, nil
}

// FinishGeneration records the terminal outcome of a pending generation and
// sets finished_at.
func (s *SQLiteStore) FinishGeneration(ctx context.Context, id string, out Outcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM generations WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read generation status: %w", err)
	}

	if !model.ValidTransition(current, out.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, out.Status)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE generations SET status = ?, prompt_id = ?, error = ?, duration_ms = ?, finished_at = ?
		WHERE id = ?`,
		out.Status, nullString(out.PromptID), nullString(out.Error), out.DurationMS,
		time.Now().UTC(), id,
	); err != nil {
		return fmt.Errorf("update generation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit generation outcome: %w", err)
	}
	return nil
}

// GetGenerationStats returns aggregate counts by status and variant and the
// average duration of finished generations.
func (s *SQLiteStore) GetGenerationStats(ctx context.Context) (*GenerationStats, error) {
	stats := &GenerationStats{
		CountByStatus:  make(map[string]int),
		CountByVariant: make(map[string]int),
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM generations").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("count generations: %w", err)
	}

	if err := s.countBy(ctx, "status", stats.CountByStatus); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "variant", stats.CountByVariant); err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM generations WHERE duration_ms IS NOT NULL",
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	return stats, nil
}

// countBy fills dst with row counts grouped by column. column is never
// caller-supplied.
func (s *SQLiteStore) countBy(ctx context.Context, column string, dst map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM generations GROUP BY "+column,
	)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		dst[key] = n
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGeneration(sc scanner) (*model.Generation, error) {
	g := &model.Generation{}
	var (
		seed     string
		promptID sql.NullString
		errText  sql.NullString
		duration sql.NullInt64
		finished sql.NullTime
	)
	if err := sc.Scan(
		&g.ID, &g.Variant, &g.Prompt, &g.Width, &g.Height, &g.BatchSize,
		&seed, &g.Steps, &g.Status, &promptID, &errText, &duration,
		&g.CreatedAt, &finished,
	); err != nil {
		return nil, err
	}

	v, err := strconv.ParseUint(seed, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse seed %q: %w", seed, err)
	}
	g.Seed = v
	g.PromptID = promptID.String
	g.Error = errText.String
	if duration.Valid {
		d := int(duration.Int64)
		g.DurationMS = &d
	}
	if finished.Valid {
		t := finished.Time
		g.FinishedAt = &t
	}
	return g, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
