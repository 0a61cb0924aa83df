// Package sqlite persists job records in a single-file SQLite database.
// WAL mode with a single writer connection keeps every mutation atomic
// with respect to concurrent status reads.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"

	"github.com/mvailland/scribe/internal/domain"
	"github.com/mvailland/scribe/internal/port"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

var hookOnce sync.Once

func registerHook() {
	hookOnce.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, dsn string) error {
			pragmas := []string{
				"PRAGMA journal_mode = WAL",
				"PRAGMA busy_timeout = 5000",
				"PRAGMA synchronous = NORMAL",
				"PRAGMA foreign_keys = ON",
			}
			for _, p := range pragmas {
				if _, err := conn.ExecContext(context.Background(), p, nil); err != nil {
					return fmt.Errorf("execute %s: %w", p, err)
				}
			}
			return nil
		})
	})
}

func NewStore(dataDir string) (*Store, error) {
	registerHook()

	dbPath := filepath.Join(dataDir, "scribe.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single connection for SQLite (WAL allows concurrent reads but only one writer)
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const jobColumns = `id, filename, source_path, language, task, model_id, compute_type,
	state, progress, outputs, error_message, duration, detected_language,
	language_probability, preview, created_at, started_at, completed_at`

func (s *Store) Create(job *domain.Job) error {
	outputs, err := json.Marshal(job.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	if job.Outputs == nil {
		outputs = []byte("{}")
	}

	_, err = s.db.Exec(`INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Filename, job.SourcePath,
		job.Params.Language, string(job.Params.Task), job.Params.ModelID, job.Params.ComputeType,
		string(job.State), job.Progress, string(outputs), job.ErrorMessage,
		job.Duration, job.Language, job.LanguageProbability, job.Preview,
		job.CreatedAt, nullTime(job.StartedAt), nullTime(job.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *Store) Get(id string) (*domain.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *Store) List(limit int) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	return collectJobs(rows)
}

func (s *Store) CountQueued() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE state = 'queued'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queued: %w", err)
	}
	return n, nil
}

func (s *Store) ClaimNext() (*domain.Job, error) {
	row := s.db.QueryRow(`UPDATE jobs SET state = 'processing', started_at = ?
		WHERE id = (SELECT id FROM jobs WHERE state = 'queued' ORDER BY created_at, id LIMIT 1)
		RETURNING `+jobColumns, time.Now().UTC())
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return job, nil
}

func (s *Store) UpdateProgress(id string, value float64) error {
	// Monotonic per job: stale or out-of-order reports never lower the
	// stored value.
	_, err := s.db.Exec(`UPDATE jobs SET progress = ?
		WHERE id = ? AND state = 'processing' AND progress < ?`, value, id, value)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

func (s *Store) UpdatePreview(id string, preview string) error {
	// Advisory like progress: writes against a non-processing job are
	// dropped, and Complete overwrites with the final text.
	_, err := s.db.Exec(`UPDATE jobs SET preview = ?
		WHERE id = ? AND state = 'processing'`, preview, id)
	if err != nil {
		return fmt.Errorf("update preview: %w", err)
	}
	return nil
}

func (s *Store) Complete(id string, outputs map[string]string, t *domain.Transcript, preview string) error {
	if len(outputs) == 0 {
		return fmt.Errorf("complete job %s: empty outputs", id)
	}
	encoded, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	if t == nil {
		t = &domain.Transcript{}
	}

	res, err := s.db.Exec(`UPDATE jobs SET state = 'completed', progress = 1.0, outputs = ?,
		duration = ?, detected_language = ?, language_probability = ?, preview = ?, completed_at = ?
		WHERE id = ? AND state = 'processing'`,
		string(encoded), t.Duration, t.Language, t.LanguageProbability, preview,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return s.requireTransition(res, id, domain.JobStateCompleted)
}

func (s *Store) Fail(id string, reason string) error {
	res, err := s.db.Exec(`UPDATE jobs SET state = 'failed', error_message = ?, progress = 0,
		outputs = '{}', completed_at = ?
		WHERE id = ? AND state IN ('queued', 'processing')`,
		reason, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return s.requireTransition(res, id, domain.JobStateFailed)
}

func (s *Store) ListExpired(cutoff time.Time) ([]*domain.Job, error) {
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM jobs
		WHERE state IN ('completed', 'failed') AND completed_at IS NOT NULL AND completed_at < ?
		ORDER BY completed_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	return collectJobs(rows)
}

func (s *Store) Expire(id string) error {
	res, err := s.db.Exec(`UPDATE jobs SET state = 'expired'
		WHERE id = ? AND state IN ('completed', 'failed')`, id)
	if err != nil {
		return fmt.Errorf("expire job: %w", err)
	}
	return s.requireTransition(res, id, domain.JobStateExpired)
}

func (s *Store) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

func (s *Store) ResetStalled() error {
	_, err := s.db.Exec(`UPDATE jobs SET state = 'queued', started_at = NULL, progress = 0
		WHERE state = 'processing'`)
	if err != nil {
		return fmt.Errorf("reset stalled jobs: %w", err)
	}
	return nil
}

// requireTransition maps a zero-row UPDATE to NotFound or an invalid
// transition, so callers never silently skip a state change.
func (s *Store) requireTransition(res sql.Result, id string, to domain.JobState) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var state string
	err = s.db.QueryRow(`SELECT state FROM jobs WHERE id = ?`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("job %s: invalid transition %s -> %s", id, state, to)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var (
		job        domain.Job
		task       string
		state      string
		outputs    string
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)
	err := row.Scan(&job.ID, &job.Filename, &job.SourcePath,
		&job.Params.Language, &task, &job.Params.ModelID, &job.Params.ComputeType,
		&state, &job.Progress, &outputs, &job.ErrorMessage,
		&job.Duration, &job.Language, &job.LanguageProbability, &job.Preview,
		&job.CreatedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	job.Params.Task = domain.Task(task)
	job.State = domain.JobState(state)
	if outputs != "" {
		if err := json.Unmarshal([]byte(outputs), &job.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs: %w", err)
		}
	}
	if len(job.Outputs) == 0 {
		job.Outputs = nil
	}
	if startedAt.Valid {
		job.StartedAt = startedAt.Time
	}
	if finishedAt.Valid {
		job.CompletedAt = finishedAt.Time
	}
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]*domain.Job, error) {
	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

var _ port.JobStore = (*Store)(nil)
