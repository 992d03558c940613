package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/pubflow/pubflow/engine/core"
	"github.com/pubflow/pubflow/engine/event"
)

// Task types handled by the worker.
const (
	TypeDeliverEvent    = "event:deliver"
	TypeRunAutomation   = "automation:run"
	TypeScheduleDelayed = "automation:schedule_delayed"
	TypeRunDelayed      = "automation:run_delayed"
	TypeCancelScheduled = "automation:cancel_scheduled"
)

// Trigger describes what fired the automation.
type Trigger struct {
	Event  event.Type      `json:"event"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Community carries the community scope of the job.
type Community struct {
	ID core.ID `json:"id"`
}

// RunAutomationPayload is the primary "run automation" job: one matched
// automation for one event occurrence. Stack is the call stack accumulated
// along the chain, passed by value. RunID is minted at fan-out so a
// redelivered job resolves to the same run instead of executing twice.
type RunAutomationPayload struct {
	Type         string    `json:"type"`
	RunID        core.ID   `json:"runId"`
	AutomationID core.ID   `json:"automationId"`
	PubID        core.ID   `json:"pubId"`
	StageID      core.ID   `json:"stageId,omitempty"`
	Trigger      Trigger   `json:"trigger"`
	Community    Community `json:"community"`
	Stack        []core.ID `json:"stack,omitempty"`
	// SourceActionRunID links a chained run back to the run that caused it.
	SourceActionRunID core.ID `json:"sourceActionRunId,omitempty"`
}

// DelayedAutomationPayload is shared by the schedule/run/cancel family. It
// carries the same trigger and stack shape plus the run id once scheduled.
type DelayedAutomationPayload struct {
	Type            string    `json:"type"`
	AutomationID    core.ID   `json:"automationId"`
	PubID           core.ID   `json:"pubId"`
	StageID         core.ID   `json:"stageId,omitempty"`
	Trigger         Trigger   `json:"trigger"`
	Community       Community `json:"community"`
	Stack           []core.ID `json:"stack,omitempty"`
	AutomationRunID core.ID   `json:"automationRunId"`
}

// StageDurationPayload arms a pubInStageForDuration timer. When it fires,
// the handler re-checks that the pub is still in the stage before emitting
// the duration event; a stale timer drops silently.
type StageDurationPayload struct {
	Type        string  `json:"type"`
	PubID       core.ID `json:"pubId"`
	StageID     core.ID `json:"stageId"`
	CommunityID core.ID `json:"communityId"`
	Duration    string  `json:"duration"`
}

// Marshal encodes any payload for the queue.
func Marshal(payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}
	return data, nil
}
