package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazz-dev/gatecheck/internal/orchestrator"
)

const schema = `
CREATE TABLE IF NOT EXISTS activations (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    activation_id  TEXT    NOT NULL UNIQUE,
    base_url       TEXT    NOT NULL,
    outcome        TEXT    NOT NULL CHECK(outcome IN ('connected', 'failed', 'degraded')),
    status         TEXT    NOT NULL,
    message        TEXT    NOT NULL,
    declared_state TEXT    NOT NULL DEFAULT '',
    error_code     TEXT    NOT NULL DEFAULT '',
    http_status    INTEGER NOT NULL DEFAULT 0,
    duration_ms    INTEGER NOT NULL,
    started_at     TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activations_started_at ON activations(started_at DESC);
`

// timeLayout is RFC 3339 with fixed-width nanoseconds so that stored
// timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Record is a stored activation.
type Record struct {
	ID            int64     `json:"id"`
	ActivationID  string    `json:"activation_id"`
	BaseURL       string    `json:"base_url"`
	Outcome       string    `json:"outcome"`
	Status        string    `json:"status"`
	Message       string    `json:"message"`
	DeclaredState string    `json:"declared_state,omitempty"`
	ErrorCode     string    `json:"error_code,omitempty"`
	HTTPStatus    int       `json:"http_status,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
	StartedAt     time.Time `json:"started_at"`
}

// DB wraps a SQLite database.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %q: %w", path, err)
	}
	// Each :memory: connection is its own database.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// InsertActivation persists a settled activation.
func (d *DB) InsertActivation(ctx context.Context, a orchestrator.Activation) error {
	var code string
	var httpStatus int
	if a.Cause != nil {
		code = a.Cause.Code
		httpStatus = a.Cause.HTTPStatus
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO activations (activation_id, base_url, outcome, status, message, declared_state, error_code, http_status, duration_ms, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(),
		a.BaseURL,
		string(a.Outcome),
		a.State.Status,
		a.State.Message,
		a.DeclaredState,
		code,
		httpStatus,
		a.Duration().Milliseconds(),
		a.StartedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting activation %s: %w", a.ID, err)
	}
	return nil
}

const selectColumns = `id, activation_id, base_url, outcome, status, message, declared_state, error_code, http_status, duration_ms, started_at`

// LatestActivation returns the most recent activation, or nil if none.
func (d *DB) LatestActivation(ctx context.Context) (*Record, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM activations ORDER BY started_at DESC, id DESC LIMIT 1`,
	)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest activation: %w", err)
	}
	return r, nil
}

// History returns paginated activations, newest first, plus the total count.
func (d *DB) History(ctx context.Context, limit, offset int) ([]Record, int, error) {
	var total int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activations`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting activations: %w", err)
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM activations ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying activation history: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// SuccessRate returns the percentage of "connected" outcomes in the last N activations.
func (d *DB) SuccessRate(ctx context.Context, last int) (float64, error) {
	var total int
	var connected sql.NullInt64
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(CASE WHEN outcome = 'connected' THEN 1 ELSE 0 END)
		FROM (
			SELECT outcome FROM activations ORDER BY started_at DESC, id DESC LIMIT ?
		)
	`, last).Scan(&total, &connected)
	if err != nil {
		return 0, fmt.Errorf("calculating success rate: %w", err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(connected.Int64) / float64(total) * 100, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var r Record
	var startedAt string
	err := row.Scan(&r.ID, &r.ActivationID, &r.BaseURL, &r.Outcome, &r.Status, &r.Message,
		&r.DeclaredState, &r.ErrorCode, &r.HTTPStatus, &r.DurationMs, &startedAt)
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(timeLayout, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at %q: %w", startedAt, err)
	}
	r.StartedAt = t
	return &r, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning activation row: %w", err)
		}
		records = append(records, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activation rows: %w", err)
	}
	return records, nil
}
