package core

// -----------------------------------------------------------------------------
// Run Status
// -----------------------------------------------------------------------------

// StatusType is the lifecycle status of an automation run. Success and
// failure are terminal; scheduled runs are resolved later by a timer job.
type StatusType string

const (
	StatusPending   StatusType = "PENDING"
	StatusRunning   StatusType = "RUNNING"
	StatusScheduled StatusType = "SCHEDULED"
	StatusSuccess   StatusType = "SUCCESS"
	StatusFailure   StatusType = "FAILURE"
	StatusSkipped   StatusType = "SKIPPED"
	StatusCanceled  StatusType = "CANCELED"
)

// IsTerminal reports whether the status can no longer change.
func (s StatusType) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusCanceled
}

// -----------------------------------------------------------------------------
// Operation Type
// -----------------------------------------------------------------------------

// OperationType tags a history entry with the kind of mutation it records.
type OperationType string

const (
	OperationInsert OperationType = "insert"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// -----------------------------------------------------------------------------
// Input / Output
// -----------------------------------------------------------------------------

type Input map[string]any

type Output map[string]any

func (i Input) AsMap() map[string]any {
	return map[string]any(i)
}

func (o Output) AsMap() map[string]any {
	return map[string]any(o)
}
