package model

import "time"

// Worker represents a worker process that pulls and executes jobs.
type Worker struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Hostname     string      `json:"hostname"`
	State        WorkerState `json:"state"`
	Concurrency  int         `json:"concurrency"`
	LastSeen     time.Time   `json:"last_seen"`
	RegisteredAt time.Time   `json:"registered_at"`
}

// WorkerState represents the lifecycle state of a Worker.
type WorkerState string

const (
	WorkerStateOnline  WorkerState = "online"
	WorkerStateOffline WorkerState = "offline"
)
