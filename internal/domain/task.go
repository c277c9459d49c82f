package domain

import (
	"fmt"
	"time"
)

// MaxErrorLen bounds the error text persisted into a task's last_error.
const MaxErrorLen = 200

// Status tracks the lifecycle of a push task.
//
// A queued task is either available or leased; the lease fields tell the
// two apart. Processing is only ever written by older worker revisions and
// is returned to queued by stale recovery.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// ResultSummary is the one-word outcome recorded when a task is finalized.
type ResultSummary string

const (
	SummarySuccess       ResultSummary = "success"
	SummaryPartial       ResultSummary = "partial"
	SummaryFailed        ResultSummary = "failed"
	SummaryException     ResultSummary = "exception"
	SummaryNoRecipients  ResultSummary = "no-recipients"
	SummaryNoValidTokens ResultSummary = "no-valid-tokens"
	SummaryMaxAttempts   ResultSummary = "max-attempts"
)

// TerminalStatus maps a summary to the status written alongside it.
func (r ResultSummary) TerminalStatus() Status {
	switch r {
	case SummaryFailed, SummaryException, SummaryMaxAttempts:
		return StatusFailed
	}
	return StatusDone
}

// Task is one queued push notification aimed at a single recipient.
type Task struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	Shard       int        `json:"shard"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	RecipientID string     `json:"recipient_id"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	LeaseUntil  *time.Time `json:"lease_until,omitempty"`
	LeaseOwner  *string    `json:"lease_owner,omitempty"`
	LeasedAt    *time.Time `json:"leased_at,omitempty"`
	Attempt     int        `json:"attempt"`

	// Set once, at finalize.
	Result      *TaskResult `json:"result,omitempty"`
	FinalizedAt *time.Time  `json:"finalized_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the fields the worker depends on. A task that fails here
// is finalized on its own instead of failing the whole round.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: empty id", ErrMalformedTask)
	}
	if t.RecipientID == "" {
		return fmt.Errorf("%w: task %s has no recipient_id", ErrMalformedTask, t.ID)
	}
	if t.ScheduledAt.IsZero() {
		return fmt.Errorf("%w: task %s has no scheduled_at", ErrMalformedTask, t.ID)
	}
	return nil
}

// Leased reports whether someone holds an unexpired lease at now.
func (t *Task) Leased(now time.Time) bool {
	return t.LeaseUntil != nil && t.LeaseUntil.After(now)
}

// TaskResult holds the terminal accounting fields of a finalized task.
type TaskResult struct {
	TotalRecipients int           `json:"total_recipients"`
	SuccessCount    int           `json:"success_count"`
	InvalidCount    int           `json:"invalid_count"`
	FailCount       int           `json:"fail_count"`
	LastError       *string       `json:"last_error,omitempty"`
	Summary         ResultSummary `json:"result_summary"`
}

// Finalization is a pending terminal write for one task.
type Finalization struct {
	TaskID string
	Status Status
	Result TaskResult
}

// FinalizationFromStat derives the terminal write from accumulated delivery counters.
func FinalizationFromStat(taskID string, s TaskStat) Finalization {
	summary := s.Summary()
	res := TaskResult{
		TotalRecipients: s.Total,
		SuccessCount:    s.Success,
		InvalidCount:    s.Invalid,
		FailCount:       s.Fail,
		Summary:         summary,
	}
	if s.LastError != "" {
		msg := Truncate(s.LastError, MaxErrorLen)
		res.LastError = &msg
	}
	return Finalization{TaskID: taskID, Status: summary.TerminalStatus(), Result: res}
}

// ImmediateFinalization builds a terminal write for a task that never
// reached dispatch. lastErr may be empty.
func ImmediateFinalization(taskID string, summary ResultSummary, lastErr string) Finalization {
	res := TaskResult{Summary: summary}
	if lastErr != "" {
		msg := Truncate(lastErr, MaxErrorLen)
		res.LastError = &msg
	}
	return Finalization{TaskID: taskID, Status: summary.TerminalStatus(), Result: res}
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// CreateTaskRequest is the producer-side payload for a new task.
type CreateTaskRequest struct {
	RecipientID string     `json:"recipient_id"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

func (r *CreateTaskRequest) Validate() error {
	if r.RecipientID == "" {
		return ErrInvalidRecipient
	}
	if len([]rune(r.Title)) > 256 {
		return ErrInvalidTitle
	}
	return nil
}
