package model

import "time"

// MergeStatus is the review state of a merge candidate.
type MergeStatus string

const (
	MergePending   MergeStatus = "pending"
	MergeConfirmed MergeStatus = "confirmed"
	MergeRejected  MergeStatus = "rejected"
)

// MergeCandidate is an unresolved possible-duplicate pairing awaiting a
// reviewer. CompanyBID is set for canonical-canonical pairs (identifier
// conflicts); Candidate holds a snapshot for canonical-discovered pairs.
// Exactly one of the two is populated.
type MergeCandidate struct {
	ID         int64              `json:"id"`
	CompanyAID int64              `json:"company_a_id"`
	CompanyBID *int64             `json:"company_b_id,omitempty"`
	Candidate  *DiscoveredCompany `json:"candidate,omitempty"`

	// PairKey is a stable fingerprint of the pairing, used to make
	// enqueueing idempotent and rejection permanent.
	PairKey string `json:"pair_key"`

	MatchMethod string      `json:"match_method"`
	Confidence  float64     `json:"confidence"`
	Status      MergeStatus `json:"status"`
	ReviewedAt  *time.Time  `json:"reviewed_at,omitempty"`
	ReviewedBy  string      `json:"reviewed_by,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// TaskType is the kind of work a review task asks a human to do.
type TaskType string

const (
	TaskFindWebsite    TaskType = "find_website"
	TaskConfirmMerge   TaskType = "confirm_merge"
	TaskValidateSector TaskType = "validate_sector"
	TaskValidateData   TaskType = "validate_data"
)

// TaskStatus is the review task lifecycle position.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskSkipped    TaskStatus = "skipped"
)

// TaskContext carries task-type-specific context. Exactly one variant is
// populated, keyed by the task type.
type TaskContext struct {
	FindWebsite    *FindWebsiteContext    `json:"find_website,omitempty"`
	ConfirmMerge   *ConfirmMergeContext   `json:"confirm_merge,omitempty"`
	ValidateSector *ValidateSectorContext `json:"validate_sector,omitempty"`
	ValidateData   *ValidateDataContext   `json:"validate_data,omitempty"`
}

// FindWebsiteContext explains why website discovery stalled.
type FindWebsiteContext struct {
	CompanyName    string   `json:"company_name"`
	Country        string   `json:"country"`
	MethodsTried   []string `json:"methods_tried,omitempty"`
	RelevanceMatch bool     `json:"relevance_match"`
}

// ConfirmMergeContext points at the merge candidate needing a decision.
type ConfirmMergeContext struct {
	MergeCandidateID int64   `json:"merge_candidate_id"`
	MatchMethod      string  `json:"match_method"`
	Confidence       float64 `json:"confidence"`
}

// ValidateSectorContext asks a reviewer to confirm a low-confidence
// sector classification.
type ValidateSectorContext struct {
	Sector     string  `json:"sector"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// ValidateDataContext flags suspect field values for review.
type ValidateDataContext struct {
	Fields []string `json:"fields"`
	Reason string   `json:"reason,omitempty"`
}

// ReviewTask is a unit of escalated human work against a company.
type ReviewTask struct {
	ID          int64       `json:"id"`
	CompanyID   int64       `json:"company_id"`
	TaskType    TaskType    `json:"task_type"`
	Priority    int         `json:"priority"` // 1 (low) to 10 (urgent)
	Context     TaskContext `json:"context"`
	Status      TaskStatus  `json:"status"`
	AssignedTo  string      `json:"assigned_to,omitempty"`
	Resolution  string      `json:"resolution,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}
