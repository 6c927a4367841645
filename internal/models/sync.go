package models

import "time"

// SyncStatus is the lifecycle state of a sync job.
type SyncStatus string

const (
	SyncPending   SyncStatus = "pending"
	SyncRunning   SyncStatus = "running"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

// SyncWindow bounds the history requested from the broker bridge.
type SyncWindow struct {
	From time.Time
	To   time.Time
}

// SyncJob tracks one sync invocation. It is ephemeral: created per invocation
// and discarded after reaching a terminal state.
type SyncJob struct {
	AccountRef string
	Window     SyncWindow
	Status     SyncStatus
	RetryCount int
	LastError  string
}

// Transition moves the job to the next state. Only the documented transitions
// are honored; anything else leaves the job unchanged.
func (j *SyncJob) Transition(next SyncStatus) bool {
	switch {
	case j.Status == SyncPending && next == SyncRunning:
	case j.Status == SyncPending && next == SyncFailed:
		// Pre-flight rejection (validation, rate limiting) before the job
		// ever starts running.
	case j.Status == SyncRunning && (next == SyncCompleted || next == SyncFailed):
	case j.Status == SyncFailed && next == SyncPending:
		// Re-entry via the offline queue, counted toward the retry cap.
		j.RetryCount++
	default:
		return false
	}
	j.Status = next
	return true
}

// Terminal reports whether the job can make no further progress.
func (j *SyncJob) Terminal() bool {
	return j.Status == SyncCompleted || j.Status == SyncFailed
}

// SyncResult is what a sync invocation hands back to the caller.
type SyncResult struct {
	Success       bool   `json:"success"`
	TotalTrades   int    `json:"totalTrades"`
	NewTrades     int    `json:"newTrades"`
	UpdatedTrades int    `json:"updatedTrades"`
	// Warning is set when the sync succeeded but persistence degraded to
	// the local cache.
	Warning string `json:"warning,omitempty"`
	Error   string `json:"error,omitempty"`
}
