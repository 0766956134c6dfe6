// Package domain contains the core types shared by the run front ends and
// the history store.
package domain

import (
	"time"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	// RunPartial means the connection dropped mid-loop; rewards are those
	// collected before the drop.
	RunPartial  RunStatus = "partial"
	RunCanceled RunStatus = "canceled"
	RunFailed   RunStatus = "failed"
)

// Done reports whether the status is terminal.
func (s RunStatus) Done() bool {
	return s != RunRunning
}

// Run is one invocation of the spin front end.
type Run struct {
	ID        string           `json:"id"`
	Requester string           `json:"requester"`
	Username  string           `json:"username"`
	Requested int              `json:"requested"`
	Attempted int              `json:"attempted"`
	Replied   int              `json:"replied"`
	Missed    int              `json:"missed"`
	Status    RunStatus        `json:"status"`
	Error     string           `json:"error,omitempty"`
	Rewards   map[string]int64 `json:"-"`
	StartedAt time.Time        `json:"started_at"`
	// FinishedAt is zero while the run is in progress.
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Duration returns how long the run took, or has taken so far.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
