package state

// ItemStatus is the lifecycle status of a queue item.
type ItemStatus string

const (
	ItemStatusNew        ItemStatus = "new"
	ItemStatusInProgress ItemStatus = "in_progress"
	ItemStatusDone       ItemStatus = "done"
	ItemStatusFailed     ItemStatus = "failed"
	ItemStatusAbandoned  ItemStatus = "abandoned"
)

func (s ItemStatus) String() string {
	return string(s)
}

// Terminal reports whether no further automatic transition happens from s.
// A stored "failed" row is always exhausted: application failures with
// retries left are written back as "new", never as "failed".
func (s ItemStatus) Terminal() bool {
	return s == ItemStatusDone || s == ItemStatusFailed || s == ItemStatusAbandoned
}

var AllItemStatuses = []ItemStatus{
	ItemStatusNew,
	ItemStatusInProgress,
	ItemStatusDone,
	ItemStatusFailed,
	ItemStatusAbandoned,
}

// ErrorType classifies a failed item. Application errors are retryable,
// business errors are terminal on first report.
type ErrorType string

const (
	ErrorTypeApplication ErrorType = "application"
	ErrorTypeBusiness    ErrorType = "business"
)

func (e ErrorType) Valid() bool {
	return e == ErrorTypeApplication || e == ErrorTypeBusiness
}

// TriggerType discriminates the two trigger variants. The type-specific
// field groups are mutually exclusive and cleared when the type changes.
type TriggerType string

const (
	TriggerTypeTime  TriggerType = "time"
	TriggerTypeQueue TriggerType = "queue"
)

func (t TriggerType) Valid() bool {
	return t == TriggerTypeTime || t == TriggerTypeQueue
}

// JobSource records how a job came to exist.
type JobSource string

const (
	JobSourceManual  JobSource = "manual"
	JobSourceTrigger JobSource = "trigger"
)

// JobStatus is the lifecycle status of a job record.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

type ItemTransition struct {
	From ItemStatus
	To   ItemStatus
}

// ValidItemTransitions is the full item state machine. "in_progress -> new"
// is the implicit requeue after a retryable application failure or an
// expired lease; "failed -> new" is the explicit administrative requeue.
var ValidItemTransitions = []ItemTransition{
	{From: ItemStatusNew, To: ItemStatusInProgress},
	{From: ItemStatusInProgress, To: ItemStatusDone},
	{From: ItemStatusInProgress, To: ItemStatusFailed},
	{From: ItemStatusInProgress, To: ItemStatusNew},
	{From: ItemStatusInProgress, To: ItemStatusAbandoned},
	{From: ItemStatusFailed, To: ItemStatusNew},
}

func IsValidItemTransition(from, to ItemStatus) bool {
	for _, t := range ValidItemTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}
