package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ahrav/go-sweep/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
	id         TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	doc        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_experiments_created
	ON experiments (created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS responses (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT NOT NULL UNIQUE,
	experiment_id TEXT NOT NULL,
	doc           TEXT NOT NULL,
	FOREIGN KEY (experiment_id) REFERENCES experiments(id)
);

CREATE INDEX IF NOT EXISTS idx_responses_experiment
	ON responses (experiment_id, seq);
`

// SQLiteStore persists experiments and responses as JSON documents in SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens a SQLite database at path and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows one writer; a single connection serializes the sweep's
	// concurrent appends instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		schema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init db: %w", err)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateExperiment(ctx context.Context, exp *domain.Experiment) (string, error) {
	c := prepareExperiment(exp, s.now())
	doc, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal experiment: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO experiments (id, created_at, doc) VALUES (?, ?, ?)`,
		c.ID, c.CreatedAt.UnixNano(), string(doc),
	)
	if err != nil {
		return "", fmt.Errorf("insert experiment: %w", err)
	}
	return c.ID, nil
}

func (s *SQLiteStore) UpdateExperiment(ctx context.Context, id string, patch domain.ExperimentPatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	exp, err := getExperiment(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := patch.Apply(exp, s.now()); err != nil {
		return err
	}
	doc, err := json.Marshal(exp)
	if err != nil {
		return fmt.Errorf("marshal experiment: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE experiments SET doc = ? WHERE id = ?`, string(doc), id); err != nil {
		return fmt.Errorf("update experiment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getExperiment(ctx context.Context, q queryRower, id string) (*domain.Experiment, error) {
	var doc string
	err := q.QueryRowContext(ctx, `SELECT doc FROM experiments WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("query experiment: %w", err)
	}
	var exp domain.Experiment
	if err := json.Unmarshal([]byte(doc), &exp); err != nil {
		return nil, fmt.Errorf("decode experiment %s: %w", id, err)
	}
	return &exp, nil
}

func (s *SQLiteStore) GetExperiment(ctx context.Context, id string) (*domain.Experiment, error) {
	return getExperiment(ctx, s.db, id)
}

func (s *SQLiteStore) ListExperiments(ctx context.Context, limit int, cursor string) (*ExperimentPage, error) {
	limit = NormalizeLimit(limit)

	var (
		rows *sql.Rows
		err  error
	)
	if cursor == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, doc FROM experiments ORDER BY created_at DESC, id DESC LIMIT ?`,
			limit+1)
	} else {
		var createdAt int64
		err = s.db.QueryRowContext(ctx, `SELECT created_at FROM experiments WHERE id = ?`, cursor).Scan(&createdAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errInvalidCursor(cursor)
		}
		if err != nil {
			return nil, fmt.Errorf("query cursor: %w", err)
		}
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, doc FROM experiments
			 WHERE created_at < ? OR (created_at = ? AND id < ?)
			 ORDER BY created_at DESC, id DESC LIMIT ?`,
			createdAt, createdAt, cursor, limit+1)
	}
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	page := &ExperimentPage{}
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scan experiment: %w", err)
		}
		var exp domain.Experiment
		if err := json.Unmarshal([]byte(doc), &exp); err != nil {
			return nil, fmt.Errorf("decode experiment %s: %w", id, err)
		}
		page.Experiments = append(page.Experiments, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate experiments: %w", err)
	}

	if len(page.Experiments) > limit {
		page.Experiments = page.Experiments[:limit]
		page.HasMore = true
		page.NextCursor = page.Experiments[limit-1].ID
	}
	return page, nil
}

func (s *SQLiteStore) AddResponse(ctx context.Context, experimentID string, resp *domain.Response) (string, error) {
	c := prepareResponse(experimentID, resp, s.now())
	doc, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal response: %w", err)
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM experiments WHERE id = ?`, experimentID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound(experimentID)
	}
	if err != nil {
		return "", fmt.Errorf("query experiment: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO responses (id, experiment_id, doc) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		c.ID, experimentID, string(doc),
	)
	if err != nil {
		return "", fmt.Errorf("insert response: %w", err)
	}
	return c.ID, nil
}

func (s *SQLiteStore) GetResponse(ctx context.Context, experimentID, responseID string) (*domain.Response, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM responses WHERE experiment_id = ? AND id = ?`,
		experimentID, responseID,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResponseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query response: %w", err)
	}

	var r domain.Response
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return nil, fmt.Errorf("decode response %s: %w", responseID, err)
	}
	return &r, nil
}

func (s *SQLiteStore) ListResponses(ctx context.Context, experimentID string) ([]domain.Response, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM responses WHERE experiment_id = ? ORDER BY seq`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	var out []domain.Response
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		var r domain.Response
		if err := json.Unmarshal([]byte(doc), &r); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate responses: %w", err)
	}
	return out, nil
}

// DeleteAllResponses removes every response of the experiment in one
// statement, which SQLite applies atomically.
func (s *SQLiteStore) DeleteAllResponses(ctx context.Context, experimentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM responses WHERE experiment_id = ?`, experimentID); err != nil {
		return fmt.Errorf("delete responses: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteExperiment(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var remaining int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM responses WHERE experiment_id = ?`, id).Scan(&remaining); err != nil {
		return fmt.Errorf("count responses: %w", err)
	}
	if remaining > 0 {
		return ErrHasResponses
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM experiments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete experiment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(id)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
