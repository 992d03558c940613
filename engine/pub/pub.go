package pub

import (
	"context"
	"time"

	"github.com/pubflow/pubflow/engine/core"
)

// Snapshot is the engine's read view of a pub: its identity, current stage
// and field values. The executor always re-reads a fresh snapshot instead
// of trusting state cached in a triggering event, since jobs for the same
// pub are not processed in wall-clock order.
type Snapshot struct {
	ID          core.ID        `json:"id"`
	CommunityID core.ID        `json:"communityId"`
	StageID     core.ID        `json:"stageId"`
	Title       string         `json:"title"`
	Values      map[string]any `json:"values"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// TemplateContext builds the data context shared by the template resolver
// and the condition evaluator for this snapshot.
func (s *Snapshot) TemplateContext(extra map[string]any) map[string]any {
	values := s.Values
	if values == nil {
		values = map[string]any{}
	}
	ctx := map[string]any{
		"pub": map[string]any{
			"id":        s.ID.String(),
			"title":     s.Title,
			"stageId":   s.StageID.String(),
			"values":    values,
			"community": map[string]any{"id": s.CommunityID.String()},
		},
	}
	for k, v := range extra {
		ctx[k] = v
	}
	return ctx
}

// Mutation attributes a write and carries the chain provenance of the run
// performing it. Stack must flow onto every lifecycle event the mutation
// emits; a stage move that dropped it would restart cycle detection from an
// empty chain. User-initiated mutations carry a nil stack.
type Mutation struct {
	Actor core.Actor
	Stack []core.ID
}

// Store reads and mutates pubs. ApplyFieldChange must write the value
// change, the history entry and any outbox event inside one transaction so
// a failure mid-chain never leaves partial mutations visible.
type Store interface {
	GetCurrent(ctx context.Context, id core.ID) (*Snapshot, error)
	ApplyFieldChange(ctx context.Context, id core.ID, changes map[string]any, mut Mutation) error
	MoveToStage(ctx context.Context, id core.ID, stageID core.ID, mut Mutation) error
}
