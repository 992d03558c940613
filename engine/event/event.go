package event

import (
	"encoding/json"
	"fmt"

	"github.com/pubflow/pubflow/engine/core"
)

// Type tags a pub lifecycle event.
type Type string

const (
	PubEnteredStage    Type = "pubEnteredStage"
	PubLeftStage       Type = "pubLeftStage"
	ActionSucceeded    Type = "actionSucceeded"
	ActionFailed       Type = "actionFailed"
	PubInStageDuration Type = "pubInStageForDuration"
)

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case PubEnteredStage, PubLeftStage, ActionSucceeded, ActionFailed, PubInStageDuration:
		return true
	}
	return false
}

// IsChained reports whether the event is emitted by a finished action run
// and therefore carries a source run for chained rule matching.
func (t Type) IsChained() bool {
	return t == ActionSucceeded || t == ActionFailed
}

// Event is an immutable lifecycle occurrence on a pub. SourceActionRunID is
// set only for chained events; Stack carries the action-run ids accumulated
// along the chain for cycle detection.
type Event struct {
	Type                 Type      `json:"type"`
	PubID                core.ID   `json:"pubId"`
	StageID              core.ID   `json:"stageId,omitempty"`
	CommunityID          core.ID   `json:"communityId"`
	SourceActionRunID    core.ID   `json:"sourceActionRunId,omitempty"`
	SourceActionInstance core.ID   `json:"sourceActionInstanceId,omitempty"`
	Stack                []core.ID `json:"stack,omitempty"`
	Duration             string    `json:"duration,omitempty"`
}

// Validate checks structural invariants before an event enters the outbox.
func (e *Event) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.PubID.IsZero() {
		return fmt.Errorf("event %s is missing a pub id", e.Type)
	}
	if e.Type.IsChained() && e.SourceActionRunID.IsZero() {
		return fmt.Errorf("chained event %s requires a source action run", e.Type)
	}
	return nil
}

// Marshal encodes the event for the outbox payload column.
func (e *Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

// Unmarshal decodes an outbox payload back into an event.
func Unmarshal(raw []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return &e, nil
}
