package rule

import (
	"context"
	"errors"
	"time"

	"github.com/pubflow/pubflow/engine/condition"
	"github.com/pubflow/pubflow/engine/core"
	"github.com/pubflow/pubflow/engine/event"
)

// ErrRuleExists is returned when a rule would violate the uniqueness
// invariant: one regular rule per (actionInstance, event), one chained rule
// per (actionInstance, event, sourceActionInstance).
var ErrRuleExists = errors.New("a rule for this action instance and event already exists")

// Config is the per-rule options blob stored alongside the binding.
type Config struct {
	Condition *condition.Node `json:"condition,omitempty"`
	// Duration applies to pubInStageForDuration rules only.
	Duration string `json:"duration,omitempty"`
}

// Rule binds an automation's primary action instance to an event. A nil
// SourceActionInstanceID makes it a regular rule that fires on any trigger
// of the event; a non-nil one scopes it to runs caused by that specific
// upstream action instance.
type Rule struct {
	ID                     core.ID    `json:"id"`
	ActionInstanceID       core.ID    `json:"actionInstanceId"`
	Event                  event.Type `json:"event"`
	SourceActionInstanceID *core.ID   `json:"sourceActionInstanceId,omitempty"`
	Config                 *Config    `json:"config,omitempty"`
	CreatedAt              time.Time  `json:"createdAt"`
}

// IsChained reports whether the rule is scoped to an upstream action.
func (r *Rule) IsChained() bool {
	return r.SourceActionInstanceID != nil && !r.SourceActionInstanceID.IsZero()
}

// Repository persists rules. Create must surface ErrRuleExists on
// uniqueness violations. Rules are written by the configuration surface and
// read-only to the engine.
type Repository interface {
	Create(ctx context.Context, r *Rule) error
	Delete(ctx context.Context, id core.ID) error
	// ListForEvent returns all rules bound to the event type for the given
	// community, in insertion order.
	ListForEvent(ctx context.Context, communityID core.ID, ev event.Type) ([]*Rule, error)
}
