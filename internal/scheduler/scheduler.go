package scheduler

import "context"

// Scheduler keeps the job queue healthy: it redelivers jobs whose lease
// expired and marks silent workers offline.
type Scheduler interface {
	// Start begins the loop. Blocks until ctx is cancelled.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the scheduler.
	Stop() error

	// Tick runs a single iteration. Used for testing.
	Tick(ctx context.Context) error
}
