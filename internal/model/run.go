package model

import "time"

// RunStatus is the terminal status of a discovery run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// RunCounter names one of the per-run monotonic counters.
type RunCounter string

const (
	CountDiscovered RunCounter = "discovered"
	CountCreated    RunCounter = "created_new"
	CountMerged     RunCounter = "merged"
	CountQueued     RunCounter = "queued_for_review"
)

// DiscoveryRun is the audit record for one source ingestion run. Its
// counters are mutable only while Status is RunRunning.
type DiscoveryRun struct {
	ID           string     `json:"id"`
	SourceName   string     `json:"source_name"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Discovered   int        `json:"discovered"`
	CreatedNew   int        `json:"created_new"`
	Merged       int        `json:"merged"`
	Queued       int        `json:"queued_for_review"`
	Status       RunStatus  `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
}
