package store

import (
	"context"
	"errors"
	"time"

	"github.com/PeerHerholz/neuroscout/pkg/model"
)

var (
	// ErrStateConflict is returned when a conditional transition finds the
	// job in a different state than required.
	ErrStateConflict = errors.New("job state conflict")
	// ErrNotOwner is returned when a worker completes a job it no longer
	// holds the delivery for.
	ErrNotOwner = errors.New("job is not held by this worker")
)

// Store defines the persistence layer for the job queue and worker
// registry. Get methods return nil, nil when the row does not exist.
type Store interface {
	// Job queue
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, opts model.ListOptions) ([]*model.Job, int, error)
	CancelJob(ctx context.Context, id string) (*model.Job, error)
	CheckoutJob(ctx context.Context, workerID string, lease time.Duration) (*model.Job, error)
	CompleteJob(ctx context.Context, id, workerID string, req model.CompleteRequest) (*model.Job, error)
	ExtendLeases(ctx context.Context, workerID string, lease time.Duration) (int64, error)
	ReapExpired(ctx context.Context, now time.Time) (requeued, failed int64, err error)

	// Worker registry
	CreateWorker(ctx context.Context, w *model.Worker) error
	GetWorker(ctx context.Context, id string) (*model.Worker, error)
	TouchWorker(ctx context.Context, id string, now time.Time) error
	DeleteWorker(ctx context.Context, id string) error
	ListWorkers(ctx context.Context) ([]*model.Worker, error)
	MarkStaleWorkers(ctx context.Context, cutoff time.Time) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
}
