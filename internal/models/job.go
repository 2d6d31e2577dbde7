package models

import "time"

// Priority orders JobSpecs for scheduling within C6.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// priorityRank gives a numeric ordering for comparisons (higher is served first).
var priorityRank = map[Priority]int{
	PriorityLow:    0,
	PriorityMedium: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

// Rank returns the numeric scheduling weight of the priority; unknown values rank as low.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return 0
}

// RetryPolicy configures per-page retry behavior for a job.
type RetryPolicy struct {
	MaxAttempts  int     `json:"max_attempts"`
	BackoffBase  float64 `json:"backoff_base"`
	FailRatio    float64 `json:"fail_ratio"` // fraction of failed targets that fails the job
	GraceSeconds int     `json:"grace_seconds"`
}

// DefaultRetryPolicy returns the documented default retry knobs.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BackoffBase: 2.0, FailRatio: 0.5, GraceSeconds: 30}
}

// JobSpec is immutable after creation.
type JobSpec struct {
	JobID                string      `json:"job_id"`
	JobName              string      `json:"job_name"`
	SourceIDs            []string    `json:"source_ids"` // as supplied; case preserved for display, matched case-insensitively
	MaxQuestionsPerSrc   int         `json:"max_questions_per_source"`
	TargetCategories     []string    `json:"target_categories,omitempty"`
	Priority             Priority    `json:"priority"`
	Retry                RetryPolicy `json:"retry"`
	CreatedAt            time.Time   `json:"created_at"`
	CreatedBy            string      `json:"created_by,omitempty"`
}

// JobState is the JobRun state-machine value.
type JobState string

const (
	JobQueued     JobState = "queued"
	JobRunning    JobState = "running"
	JobPaused     JobState = "paused"
	JobCompleting JobState = "completing"
	JobCompleted  JobState = "completed" // terminal
	JobFailed     JobState = "failed"    // terminal
	JobCancelled  JobState = "cancelled" // terminal
)

// IsTerminal reports whether a state is one of the three terminal states.
func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// validTransitions enumerates the state machine's legal edges.
var validTransitions = map[JobState]map[JobState]bool{
	JobQueued:     {JobRunning: true, JobCancelled: true},
	JobRunning:    {JobPaused: true, JobCancelled: true, JobCompleting: true, JobFailed: true},
	JobPaused:     {JobRunning: true, JobCancelled: true},
	JobCompleting: {JobCompleted: true, JobFailed: true},
}

// CanTransition reports whether moving from `from` to `to` is a legal state-machine edge.
func CanTransition(from, to JobState) bool {
	if from.IsTerminal() {
		return false
	}
	return validTransitions[from][to]
}

// TargetProgress tracks per-target sub-progress within a JobRun.
// PagesFetched is always an integer.
type TargetProgress struct {
	TargetID     string `json:"target_id"`
	PagesFetched int    `json:"pages_fetched"`
	Attempted    int    `json:"attempted"`
	Extracted    int    `json:"extracted"`
	Approved     int    `json:"approved"`
	Rejected     int    `json:"rejected"`
	Duplicates   int    `json:"duplicates"`
	Failed       bool   `json:"failed"`
	PageCursor   string `json:"page_cursor,omitempty"` // persisted for exact pause/resume
	LastError    string `json:"last_error,omitempty"`
}

// RunProgress is the JobRun's aggregate running counters: monotonically
// non-decreasing across a run, with approved <= validated <= attempted.
type RunProgress struct {
	Attempted  int `json:"attempted"`
	Extracted  int `json:"extracted"`
	Validated  int `json:"validated"`
	Approved   int `json:"approved"`
	Rejected   int `json:"rejected"`
	Duplicates int `json:"duplicates"`
}

// JobRun is exactly one activation of a JobSpec.
type JobRun struct {
	RunID       string                    `json:"run_id"`
	JobSpecID   string                    `json:"job_spec_id"`
	Spec        JobSpec                   `json:"spec"` // config snapshot, for replay/resume independent of later JobSpec mutation
	State       JobState                  `json:"state"`
	Progress    RunProgress               `json:"progress"`
	Targets     map[string]TargetProgress `json:"targets"` // keyed by target_id
	CreatedAt   time.Time                 `json:"created_at"`
	StartedAt   time.Time                 `json:"started_at,omitempty"`
	PausedAt    time.Time                 `json:"paused_at,omitempty"`
	CompletedAt time.Time                 `json:"completed_at,omitempty"`
	LastError   string                    `json:"last_error,omitempty"`
	Deleted     bool                      `json:"deleted,omitempty"`
}
