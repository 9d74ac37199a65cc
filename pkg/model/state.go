package model

// JobState represents the lifecycle state of a Job.
type JobState string

const (
	JobStateQueued    JobState = "QUEUED"
	JobStateRunning   JobState = "RUNNING"
	JobStateSuccess   JobState = "SUCCESS"
	JobStateFailed    JobState = "FAILED"
	JobStateCancelled JobState = "CANCELLED"
)

// String returns the string representation of the job state.
func (s JobState) String() string {
	return string(s)
}

// IsTerminal returns true if the job is in a final state.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateSuccess, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// ValidJobTransitions defines the allowed state transitions for Jobs.
// RUNNING -> QUEUED is a redelivery after the worker's lease expired.
var ValidJobTransitions = map[JobState][]JobState{
	JobStateQueued:  {JobStateRunning, JobStateCancelled},
	JobStateRunning: {JobStateSuccess, JobStateFailed, JobStateQueued},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s JobState) CanTransitionTo(next JobState) bool {
	for _, allowed := range ValidJobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseJobState returns the state for s, or false when s names no state.
func ParseJobState(s string) (JobState, bool) {
	switch st := JobState(s); st {
	case JobStateQueued, JobStateRunning, JobStateSuccess, JobStateFailed, JobStateCancelled:
		return st, true
	}
	return "", false
}
