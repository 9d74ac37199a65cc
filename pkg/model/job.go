package model

import (
	"encoding/json"
	"time"
)

// JobName identifies a named unit of asynchronous work.
type JobName string

const (
	JobCompile        JobName = "workflow.compile"
	JobGenerateReport JobName = "workflow.generate_report"
	JobUpload         JobName = "neurovault.upload"
)

// KnownJobNames lists every job name a worker can execute.
var KnownJobNames = []JobName{JobCompile, JobGenerateReport, JobUpload}

// IsKnown reports whether the name is one of KnownJobNames.
func (n JobName) IsKnown() bool {
	for _, k := range KnownJobNames {
		if k == n {
			return true
		}
	}
	return false
}

// Job is one enqueued invocation of a named operation.
// All context a job needs travels in Args; jobs share no state.
type Job struct {
	ID          string          `json:"id"`
	Name        JobName         `json:"name"`
	State       JobState        `json:"state"`
	Args        json.RawMessage `json:"args"`
	Result      map[string]any  `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	WorkerID    string          `json:"worker_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	LeaseUntil  *time.Time      `json:"lease_expires_at,omitempty"`
}

// DefaultMaxAttempts bounds redelivery when the caller does not choose.
const DefaultMaxAttempts = 3

// CanRedeliver reports whether another delivery is allowed.
func (j *Job) CanRedeliver() bool {
	return j.Attempts < j.MaxAttempts
}
