package run

import (
	"context"
	"errors"
	"time"

	"github.com/pubflow/pubflow/engine/core"
)

// ErrTerminal is returned when a transition targets a run that already
// reached success or failure. Handlers treat it as a duplicate delivery and
// no-op.
var ErrTerminal = errors.New("action run is already in a terminal state")

// Result is the persisted outcome of a run.
type Result struct {
	Report string         `json:"report,omitempty"`
	Issues core.IssueList `json:"issues,omitempty"`
	Error  string         `json:"error,omitempty"`
	Code   core.ErrorCode `json:"code,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// Run is one execution record of an action instance. It is created at the
// start of chain execution, transitions once to a terminal state, and is
// never mutated afterward except by the scheduler resolving a scheduled run.
type Run struct {
	ID               core.ID         `json:"id"`
	AutomationID     core.ID         `json:"automationId"`
	ActionInstanceID core.ID         `json:"actionInstanceId"`
	PubID            core.ID         `json:"pubId"`
	Status           core.StatusType `json:"status"`
	// Config is the resolved configuration snapshot the executor saw.
	Config            map[string]any `json:"config,omitempty"`
	Result            *Result        `json:"result,omitempty"`
	Actor             core.Actor     `json:"actor"`
	SourceActionRunID core.ID        `json:"sourceActionRunId,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	FinishedAt        *time.Time     `json:"finishedAt,omitempty"`
}

// Repository persists runs. Finish must reject transitions out of terminal
// states with ErrTerminal so duplicate queue deliveries stay idempotent.
type Repository interface {
	Create(ctx context.Context, r *Run) error
	Get(ctx context.Context, id core.ID) (*Run, error)
	// Finish moves the run into success/failure/canceled, recording the
	// result and snapshot config.
	Finish(ctx context.Context, id core.ID, status core.StatusType, config map[string]any, result *Result) error
	// MarkRunning flips a scheduled run into running when its timer fires.
	MarkRunning(ctx context.Context, id core.ID) error
}
