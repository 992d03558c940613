package rule

import (
	"context"
	"fmt"

	"github.com/pubflow/pubflow/engine/automation"
	"github.com/pubflow/pubflow/engine/core"
	"github.com/pubflow/pubflow/engine/event"
	"github.com/pubflow/pubflow/pkg/logger"
)

// Match pairs a matched rule with the automation it triggers.
type Match struct {
	Rule       *Rule
	Automation *automation.Automation
}

// Matcher resolves which automations react to an event.
type Matcher struct {
	rules       Repository
	automations automation.Repository
}

func NewMatcher(rules Repository, automations automation.Repository) *Matcher {
	return &Matcher{rules: rules, automations: automations}
}

// Match returns every automation configured to react to the event. Regular
// rules match any trigger of their event type; chained rules match only
// when the event was caused by their specific upstream action instance.
// When both apply, both are returned: chaining does not suppress the
// unconditional rule. Order is stable insertion order.
func (m *Matcher) Match(
	ctx context.Context,
	ev *event.Event,
	sourceActionInstanceID core.ID,
) ([]Match, error) {
	log := logger.FromContext(ctx)
	rules, err := m.rules.ListForEvent(ctx, ev.CommunityID, ev.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules for %s: %w", ev.Type, err)
	}
	var matches []Match
	for _, r := range rules {
		if r.IsChained() {
			if sourceActionInstanceID.IsZero() || *r.SourceActionInstanceID != sourceActionInstanceID {
				continue
			}
		}
		// Duration rules only match the timer event armed for their own
		// duration; a 1h rule must not fire when a 2d timer elapses.
		if ev.Type == event.PubInStageDuration {
			if r.Config == nil || r.Config.Duration != ev.Duration {
				continue
			}
		}
		auto, err := m.automations.GetByInstance(ctx, r.ActionInstanceID)
		if err != nil {
			log.Warn("rule references unknown action instance, skipping",
				"rule_id", r.ID, "action_instance_id", r.ActionInstanceID)
			continue
		}
		matches = append(matches, Match{Rule: r, Automation: auto})
	}
	return matches, nil
}

// StageDurations lists the distinct durations of pubInStageForDuration
// rules in the community. Each distinct duration gets one timer per stage
// entry; the rules are matched again when the timer event is delivered.
func (m *Matcher) StageDurations(ctx context.Context, communityID core.ID) ([]string, error) {
	rules, err := m.rules.ListForEvent(ctx, communityID, event.PubInStageDuration)
	if err != nil {
		return nil, fmt.Errorf("failed to list duration rules: %w", err)
	}
	seen := make(map[string]struct{}, len(rules))
	var durations []string
	for _, r := range rules {
		if r.Config == nil || r.Config.Duration == "" {
			continue
		}
		if _, ok := seen[r.Config.Duration]; ok {
			continue
		}
		seen[r.Config.Duration] = struct{}{}
		durations = append(durations, r.Config.Duration)
	}
	return durations, nil
}
