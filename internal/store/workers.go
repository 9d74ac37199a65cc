package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/PeerHerholz/neuroscout/pkg/model"
)

const workerColumns = `id, name, hostname, state, concurrency, last_seen, registered_at`

func scanWorker(row scanner) (*model.Worker, error) {
	var w model.Worker
	var state, lastSeen, registeredAt string
	if err := row.Scan(&w.ID, &w.Name, &w.Hostname, &state, &w.Concurrency, &lastSeen, &registeredAt); err != nil {
		return nil, err
	}
	w.State = model.WorkerState(state)
	w.LastSeen = parseTime(lastSeen)
	w.RegisteredAt = parseTime(registeredAt)
	return &w, nil
}

func (s *SQLStore) CreateWorker(ctx context.Context, w *model.Worker) error {
	s.logger.Debug("sql", "op", "insert", "table", "workers", "id", w.ID)

	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO workers (`+workerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		w.ID, w.Name, w.Hostname, string(w.State), w.Concurrency,
		formatTime(w.LastSeen), formatTime(w.RegisteredAt),
	)
	return err
}

func (s *SQLStore) GetWorker(ctx context.Context, id string) (*model.Worker, error) {
	s.logger.Debug("sql", "op", "select", "table", "workers", "id", id)

	w, err := scanWorker(s.db.QueryRowContext(ctx, s.q(`SELECT `+workerColumns+` FROM workers WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return w, err
}

// TouchWorker records a heartbeat and marks the worker online.
func (s *SQLStore) TouchWorker(ctx context.Context, id string, now time.Time) error {
	result, err := s.db.ExecContext(ctx, s.q(
		`UPDATE workers SET last_seen = ?, state = 'online' WHERE id = ?`),
		formatTime(now), id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("worker %s not found", id)
	}
	return nil
}

func (s *SQLStore) DeleteWorker(ctx context.Context, id string) error {
	s.logger.Debug("sql", "op", "delete", "table", "workers", "id", id)

	result, err := s.db.ExecContext(ctx, s.q(`DELETE FROM workers WHERE id = ?`), id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("worker %s not found", id)
	}
	return nil
}

func (s *SQLStore) ListWorkers(ctx context.Context) ([]*model.Worker, error) {
	s.logger.Debug("sql", "op", "list", "table", "workers")

	rows, err := s.db.QueryContext(ctx, `SELECT `+workerColumns+` FROM workers ORDER BY registered_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	workers := []*model.Worker{}
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

// MarkStaleWorkers sets online workers not seen since cutoff offline.
func (s *SQLStore) MarkStaleWorkers(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.q(
		`UPDATE workers SET state = 'offline' WHERE state = 'online' AND last_seen < ?`),
		formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
