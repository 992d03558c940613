package rule_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/pubflow/pubflow/engine/automation"
	"github.com/pubflow/pubflow/engine/core"
	"github.com/pubflow/pubflow/engine/event"
	"github.com/pubflow/pubflow/engine/rule"
	"github.com/pubflow/pubflow/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRules struct {
	rules []*rule.Rule
}

func (m *memRules) Create(_ context.Context, r *rule.Rule) error {
	for _, existing := range m.rules {
		if existing.ActionInstanceID == r.ActionInstanceID && existing.Event == r.Event {
			regular := existing.SourceActionInstanceID == nil && r.SourceActionInstanceID == nil
			chained := existing.SourceActionInstanceID != nil && r.SourceActionInstanceID != nil &&
				*existing.SourceActionInstanceID == *r.SourceActionInstanceID
			if regular || chained {
				return rule.ErrRuleExists
			}
		}
	}
	m.rules = append(m.rules, r)
	return nil
}

func (m *memRules) Delete(_ context.Context, id core.ID) error {
	for i, r := range m.rules {
		if r.ID == id {
			m.rules = append(m.rules[:i], m.rules[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("rule %s not found", id)
}

func (m *memRules) ListForEvent(_ context.Context, _ core.ID, ev event.Type) ([]*rule.Rule, error) {
	var out []*rule.Rule
	for _, r := range m.rules {
		if r.Event == ev {
			out = append(out, r)
		}
	}
	return out, nil
}

type memAutomations struct {
	byInstance map[core.ID]*automation.Automation
}

func (m *memAutomations) Get(_ context.Context, id core.ID) (*automation.Automation, error) {
	for _, auto := range m.byInstance {
		if auto.ID == id {
			return auto, nil
		}
	}
	return nil, fmt.Errorf("automation %s not found", id)
}

func (m *memAutomations) GetByInstance(_ context.Context, instanceID core.ID) (*automation.Automation, error) {
	auto, ok := m.byInstance[instanceID]
	if !ok {
		return nil, fmt.Errorf("instance %s not found", instanceID)
	}
	return auto, nil
}

func newAutomation(name string) *automation.Automation {
	autoID := core.MustNewID()
	return &automation.Automation{
		ID:   autoID,
		Name: name,
		Instances: []automation.Instance{{
			ID:           core.MustNewID(),
			AutomationID: autoID,
			Action:       "log",
		}},
	}
}

func testCtx() context.Context {
	return logger.ContextWithLogger(context.Background(), logger.NewForTests())
}

func TestMatch(t *testing.T) {
	communityID := core.MustNewID()

	t.Run("Should match regular rules on any trigger of the event", func(t *testing.T) {
		auto := newAutomation("notifier")
		autos := &memAutomations{byInstance: map[core.ID]*automation.Automation{auto.Instances[0].ID: auto}}
		rules := &memRules{}
		require.NoError(t, rules.Create(testCtx(), &rule.Rule{
			ID:               core.MustNewID(),
			ActionInstanceID: auto.Instances[0].ID,
			Event:            event.PubEnteredStage,
		}))
		m := rule.NewMatcher(rules, autos)

		matches, err := m.Match(testCtx(), &event.Event{
			Type:        event.PubEnteredStage,
			PubID:       core.MustNewID(),
			CommunityID: communityID,
		}, core.ID(""))
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, auto.ID, matches[0].Automation.ID)
	})

	t.Run("Should match chained rules only for their upstream instance", func(t *testing.T) {
		upstream := newAutomation("upstream")
		downstream := newAutomation("downstream")
		autos := &memAutomations{byInstance: map[core.ID]*automation.Automation{
			upstream.Instances[0].ID:   upstream,
			downstream.Instances[0].ID: downstream,
		}}
		rules := &memRules{}
		sourceID := upstream.Instances[0].ID
		require.NoError(t, rules.Create(testCtx(), &rule.Rule{
			ID:                     core.MustNewID(),
			ActionInstanceID:       downstream.Instances[0].ID,
			Event:                  event.ActionSucceeded,
			SourceActionInstanceID: &sourceID,
		}))
		m := rule.NewMatcher(rules, autos)

		ev := &event.Event{
			Type:                 event.ActionSucceeded,
			PubID:                core.MustNewID(),
			CommunityID:          communityID,
			SourceActionRunID:    core.MustNewID(),
			SourceActionInstance: sourceID,
		}
		matches, err := m.Match(testCtx(), ev, sourceID)
		require.NoError(t, err)
		require.Len(t, matches, 1)

		// The same event caused by a different instance matches nothing.
		matches, err = m.Match(testCtx(), ev, core.MustNewID())
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("Should return both regular and chained matches when both apply", func(t *testing.T) {
		upstream := newAutomation("upstream")
		regular := newAutomation("regular")
		chained := newAutomation("chained")
		autos := &memAutomations{byInstance: map[core.ID]*automation.Automation{
			upstream.Instances[0].ID: upstream,
			regular.Instances[0].ID:  regular,
			chained.Instances[0].ID:  chained,
		}}
		rules := &memRules{}
		sourceID := upstream.Instances[0].ID
		require.NoError(t, rules.Create(testCtx(), &rule.Rule{
			ID:               core.MustNewID(),
			ActionInstanceID: regular.Instances[0].ID,
			Event:            event.ActionSucceeded,
		}))
		require.NoError(t, rules.Create(testCtx(), &rule.Rule{
			ID:                     core.MustNewID(),
			ActionInstanceID:       chained.Instances[0].ID,
			Event:                  event.ActionSucceeded,
			SourceActionInstanceID: &sourceID,
		}))
		m := rule.NewMatcher(rules, autos)

		matches, err := m.Match(testCtx(), &event.Event{
			Type:                 event.ActionSucceeded,
			PubID:                core.MustNewID(),
			CommunityID:          communityID,
			SourceActionRunID:    core.MustNewID(),
			SourceActionInstance: sourceID,
		}, sourceID)
		require.NoError(t, err)
		assert.Len(t, matches, 2, "chaining does not suppress the unconditional rule")
	})

	t.Run("Should match duration rules only for their own duration", func(t *testing.T) {
		hourly := newAutomation("hourly")
		daily := newAutomation("daily")
		autos := &memAutomations{byInstance: map[core.ID]*automation.Automation{
			hourly.Instances[0].ID: hourly,
			daily.Instances[0].ID:  daily,
		}}
		rules := &memRules{}
		require.NoError(t, rules.Create(testCtx(), &rule.Rule{
			ID:               core.MustNewID(),
			ActionInstanceID: hourly.Instances[0].ID,
			Event:            event.PubInStageDuration,
			Config:           &rule.Config{Duration: "1h"},
		}))
		require.NoError(t, rules.Create(testCtx(), &rule.Rule{
			ID:               core.MustNewID(),
			ActionInstanceID: daily.Instances[0].ID,
			Event:            event.PubInStageDuration,
			Config:           &rule.Config{Duration: "2d"},
		}))
		m := rule.NewMatcher(rules, autos)

		// The 1h timer elapsing must not fire the 2d rule.
		matches, err := m.Match(testCtx(), &event.Event{
			Type:        event.PubInStageDuration,
			PubID:       core.MustNewID(),
			CommunityID: communityID,
			Duration:    "1h",
		}, core.ID(""))
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, hourly.ID, matches[0].Automation.ID)
	})

	t.Run("Should skip rules whose action instance no longer resolves", func(t *testing.T) {
		autos := &memAutomations{byInstance: map[core.ID]*automation.Automation{}}
		rules := &memRules{}
		require.NoError(t, rules.Create(testCtx(), &rule.Rule{
			ID:               core.MustNewID(),
			ActionInstanceID: core.MustNewID(),
			Event:            event.PubEnteredStage,
		}))
		m := rule.NewMatcher(rules, autos)
		matches, err := m.Match(testCtx(), &event.Event{
			Type:        event.PubEnteredStage,
			PubID:       core.MustNewID(),
			CommunityID: communityID,
		}, core.ID(""))
		require.NoError(t, err)
		assert.Empty(t, matches)
	})
}

func TestStageDurations(t *testing.T) {
	t.Run("Should list distinct durations and skip rules without one", func(t *testing.T) {
		rules := &memRules{}
		for _, d := range []string{"1h", "2d", "1h", ""} {
			var cfg *rule.Config
			if d != "" {
				cfg = &rule.Config{Duration: d}
			}
			require.NoError(t, rules.Create(testCtx(), &rule.Rule{
				ID:               core.MustNewID(),
				ActionInstanceID: core.MustNewID(),
				Event:            event.PubInStageDuration,
				Config:           cfg,
			}))
		}
		m := rule.NewMatcher(rules, &memAutomations{})
		durations, err := m.StageDurations(testCtx(), core.MustNewID())
		require.NoError(t, err)
		assert.Equal(t, []string{"1h", "2d"}, durations)
	})
}

func TestRuleUniqueness(t *testing.T) {
	t.Run("Should reject a duplicate regular rule", func(t *testing.T) {
		rules := &memRules{}
		instanceID := core.MustNewID()
		r := &rule.Rule{ID: core.MustNewID(), ActionInstanceID: instanceID, Event: event.PubEnteredStage}
		require.NoError(t, rules.Create(testCtx(), r))
		dup := &rule.Rule{ID: core.MustNewID(), ActionInstanceID: instanceID, Event: event.PubEnteredStage}
		assert.ErrorIs(t, rules.Create(testCtx(), dup), rule.ErrRuleExists)
	})

	t.Run("Should allow a chained rule next to a regular one", func(t *testing.T) {
		rules := &memRules{}
		instanceID := core.MustNewID()
		sourceID := core.MustNewID()
		require.NoError(t, rules.Create(testCtx(), &rule.Rule{
			ID: core.MustNewID(), ActionInstanceID: instanceID, Event: event.ActionSucceeded,
		}))
		require.NoError(t, rules.Create(testCtx(), &rule.Rule{
			ID: core.MustNewID(), ActionInstanceID: instanceID, Event: event.ActionSucceeded,
			SourceActionInstanceID: &sourceID,
		}))
		dup := &rule.Rule{
			ID: core.MustNewID(), ActionInstanceID: instanceID, Event: event.ActionSucceeded,
			SourceActionInstanceID: &sourceID,
		}
		assert.ErrorIs(t, rules.Create(testCtx(), dup), rule.ErrRuleExists)
	})
}
