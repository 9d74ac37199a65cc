package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PeerHerholz/neuroscout/pkg/model"
)

const jobColumns = `id, name, state, args, result, error, attempts, max_attempts,
	worker_id, created_at, started_at, completed_at, lease_until`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*model.Job, error) {
	var j model.Job
	var name, state, args, result, createdAt string
	var startedAt, completedAt, leaseUntil *string

	if err := row.Scan(&j.ID, &name, &state, &args, &result, &j.Error, &j.Attempts, &j.MaxAttempts,
		&j.WorkerID, &createdAt, &startedAt, &completedAt, &leaseUntil); err != nil {
		return nil, err
	}
	j.Name = model.JobName(name)
	j.State = model.JobState(state)
	j.Args = json.RawMessage(args)
	if result != "" {
		if err := json.Unmarshal([]byte(result), &j.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result of %s: %w", j.ID, err)
		}
	}
	j.CreatedAt = parseTime(createdAt)
	j.StartedAt = parseTimePtr(startedAt)
	j.CompletedAt = parseTimePtr(completedAt)
	j.LeaseUntil = parseTimePtr(leaseUntil)
	return &j, nil
}

func (s *SQLStore) CreateJob(ctx context.Context, job *model.Job) error {
	s.logger.Debug("sql", "op", "insert", "table", "jobs", "id", job.ID)

	args := string(job.Args)
	if args == "" {
		args = "{}"
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO jobs (id, name, state, args, attempts, max_attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		job.ID, string(job.Name), string(job.State), args, job.Attempts, job.MaxAttempts,
		formatTime(job.CreatedAt),
	)
	return err
}

func (s *SQLStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	s.logger.Debug("sql", "op", "select", "table", "jobs", "id", id)

	job, err := scanJob(s.db.QueryRowContext(ctx, s.q(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

func (s *SQLStore) ListJobs(ctx context.Context, opts model.ListOptions) ([]*model.Job, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "jobs", "state", opts.State, "name", opts.Name)

	var where []string
	var args []any
	if opts.State != "" {
		where = append(where, "state = ?")
		args = append(args, opts.State)
	}
	if opts.Name != "" {
		where = append(where, "name = ?")
		args = append(args, string(opts.Name))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM jobs`+clause), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+jobColumns+` FROM jobs`+clause+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`),
		append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	jobs := []*model.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

// CancelJob moves a QUEUED job to CANCELLED. Jobs in any other state return
// ErrStateConflict; running jobs cannot be interrupted.
func (s *SQLStore) CancelJob(ctx context.Context, id string) (*model.Job, error) {
	s.logger.Debug("sql", "op", "cancel", "table", "jobs", "id", id)

	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE jobs SET state = 'CANCELLED', completed_at = ? WHERE id = ? AND state = 'QUEUED'`),
		formatTime(time.Now()), id)
	if err != nil {
		return nil, err
	}
	n, _ := res.RowsAffected()
	job, err := s.GetJob(ctx, id)
	if err != nil || job == nil {
		return job, err
	}
	if n == 0 {
		return job, fmt.Errorf("%w: job %s is %s", ErrStateConflict, id, job.State)
	}
	return job, nil
}

// CheckoutJob atomically finds the oldest QUEUED job, transitions it to
// RUNNING with a lease, and assigns it to the worker. Returns nil if no job
// is available.
func (s *SQLStore) CheckoutJob(ctx context.Context, workerID string, lease time.Duration) (*model.Job, error) {
	s.logger.Debug("sql", "op", "checkout_job", "worker_id", workerID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT id FROM jobs WHERE state = 'QUEUED' ORDER BY created_at, id LIMIT 1`
	if s.dialect == dialectPostgres {
		query += ` FOR UPDATE SKIP LOCKED`
	}
	var id string
	err = tx.QueryRowContext(ctx, query).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, s.q(
		`UPDATE jobs SET state = 'RUNNING', worker_id = ?, attempts = attempts + 1,
		 started_at = ?, lease_until = ?, error = ''
		 WHERE id = ? AND state = 'QUEUED'`),
		workerID, formatTime(now), formatTime(now.Add(lease)), id)
	if err != nil {
		return nil, fmt.Errorf("update job state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Another worker won the row.
		return nil, nil
	}

	_, err = tx.ExecContext(ctx, s.q(`UPDATE workers SET last_seen = ?, state = 'online' WHERE id = ?`),
		formatTime(now), workerID)
	if err != nil {
		return nil, fmt.Errorf("update worker last_seen: %w", err)
	}

	job, err := scanJob(tx.QueryRowContext(ctx, s.q(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return job, nil
}

// CompleteJob records the outcome of a delivery. Only the worker holding
// the RUNNING delivery may complete it; a stale duplicate gets ErrNotOwner.
func (s *SQLStore) CompleteJob(ctx context.Context, id, workerID string, req model.CompleteRequest) (*model.Job, error) {
	s.logger.Debug("sql", "op", "complete", "table", "jobs", "id", id, "worker_id", workerID, "state", req.State)

	if req.State != model.JobStateSuccess && req.State != model.JobStateFailed {
		return nil, &model.InvalidTransitionError{Entity: "job", ID: id, From: string(model.JobStateRunning), To: string(req.State)}
	}
	result := ""
	if req.Result != nil {
		data, err := json.Marshal(req.Result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		result = string(data)
	}

	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE jobs SET state = ?, result = ?, error = ?, completed_at = ?, lease_until = NULL
		 WHERE id = ? AND worker_id = ? AND state = 'RUNNING'`),
		string(req.State), result, req.Error, formatTime(time.Now()), id, workerID)
	if err != nil {
		return nil, err
	}
	n, _ := res.RowsAffected()
	job, err := s.GetJob(ctx, id)
	if err != nil || job == nil {
		return job, err
	}
	if n == 0 {
		return job, fmt.Errorf("%w: job %s (%s, worker %q)", ErrNotOwner, id, job.State, job.WorkerID)
	}
	return job, nil
}

// ExtendLeases pushes out the lease of every job the worker is running.
func (s *SQLStore) ExtendLeases(ctx context.Context, workerID string, lease time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE jobs SET lease_until = ? WHERE worker_id = ? AND state = 'RUNNING'`),
		formatTime(time.Now().Add(lease)), workerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReapExpired handles RUNNING jobs whose lease ended before now: they are
// queued again while attempts remain, otherwise failed.
func (s *SQLStore) ReapExpired(ctx context.Context, now time.Time) (int64, int64, error) {
	ts := formatTime(now)

	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE jobs SET state = 'FAILED', error = 'lease expired', completed_at = ?, lease_until = NULL
		 WHERE state = 'RUNNING' AND lease_until < ? AND attempts >= max_attempts`),
		ts, ts)
	if err != nil {
		return 0, 0, fmt.Errorf("fail expired: %w", err)
	}
	failed, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, s.q(
		`UPDATE jobs SET state = 'QUEUED', worker_id = '', started_at = NULL, lease_until = NULL
		 WHERE state = 'RUNNING' AND lease_until < ? AND attempts < max_attempts`),
		ts)
	if err != nil {
		return 0, failed, fmt.Errorf("requeue expired: %w", err)
	}
	requeued, _ := res.RowsAffected()

	if requeued > 0 || failed > 0 {
		s.logger.Debug("sql", "op", "reap", "requeued", requeued, "failed", failed)
	}
	return requeued, failed, nil
}
