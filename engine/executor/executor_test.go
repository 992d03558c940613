package executor_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pubflow/pubflow/engine/automation"
	"github.com/pubflow/pubflow/engine/condition"
	"github.com/pubflow/pubflow/engine/core"
	"github.com/pubflow/pubflow/engine/event"
	"github.com/pubflow/pubflow/engine/executor"
	"github.com/pubflow/pubflow/engine/pub"
	"github.com/pubflow/pubflow/engine/run"
	"github.com/pubflow/pubflow/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

type memAutomations struct {
	byID map[core.ID]*automation.Automation
}

func (m *memAutomations) Get(_ context.Context, id core.ID) (*automation.Automation, error) {
	auto, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("automation %s not found", id)
	}
	return auto, nil
}

func (m *memAutomations) GetByInstance(_ context.Context, instanceID core.ID) (*automation.Automation, error) {
	for _, auto := range m.byID {
		for i := range auto.Instances {
			if auto.Instances[i].ID == instanceID {
				return auto, nil
			}
		}
	}
	return nil, fmt.Errorf("instance %s not found", instanceID)
}

type memRuns struct {
	mu   sync.Mutex
	byID map[core.ID]*run.Run
}

func newMemRuns() *memRuns {
	return &memRuns{byID: map[core.ID]*run.Run{}}
}

func (m *memRuns) Create(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *r
	m.byID[r.ID] = &copied
	return nil
}

func (m *memRuns) Get(_ context.Context, id core.ID) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("run %s not found", id)
	}
	copied := *r
	return &copied, nil
}

func (m *memRuns) Finish(
	_ context.Context,
	id core.ID,
	status core.StatusType,
	config map[string]any,
	result *run.Result,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("run %s not found", id)
	}
	if r.Status.IsTerminal() {
		return run.ErrTerminal
	}
	now := time.Now().UTC()
	r.Status = status
	r.Config = config
	r.Result = result
	r.FinishedAt = &now
	return nil
}

func (m *memRuns) MarkRunning(_ context.Context, id core.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("run %s not found", id)
	}
	if r.Status != core.StatusScheduled {
		return run.ErrTerminal
	}
	r.Status = core.StatusRunning
	return nil
}

type memPubs struct {
	snapshot     *pub.Snapshot
	lastMutation pub.Mutation
}

func (m *memPubs) GetCurrent(_ context.Context, id core.ID) (*pub.Snapshot, error) {
	if m.snapshot == nil || m.snapshot.ID != id {
		return nil, fmt.Errorf("pub %s not found", id)
	}
	copied := *m.snapshot
	return &copied, nil
}

func (m *memPubs) ApplyFieldChange(_ context.Context, _ core.ID, changes map[string]any, _ pub.Mutation) error {
	for k, v := range changes {
		m.snapshot.Values[k] = v
	}
	return nil
}

func (m *memPubs) MoveToStage(_ context.Context, _ core.ID, stageID core.ID, mut pub.Mutation) error {
	m.snapshot.StageID = stageID
	m.lastMutation = mut
	return nil
}

type memDispatcher struct {
	events []*event.Event
}

func (m *memDispatcher) Dispatch(_ context.Context, ev *event.Event) (uuid.UUID, error) {
	if err := ev.Validate(); err != nil {
		return uuid.Nil, err
	}
	m.events = append(m.events, ev)
	return uuid.New(), nil
}

type scheduledCall struct {
	runID core.ID
	delay time.Duration
}

type memScheduler struct {
	calls []scheduledCall
}

func (m *memScheduler) ScheduleResume(_ context.Context, _ *executor.Request, runID core.ID, delay time.Duration) error {
	m.calls = append(m.calls, scheduledCall{runID: runID, delay: delay})
	return nil
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

type fixture struct {
	exec       *executor.ChainExecutor
	runs       *memRuns
	pubs       *memPubs
	dispatcher *memDispatcher
	scheduler  *memScheduler
	catalog    *automation.Catalog
}

func newFixture(t *testing.T, snapshot *pub.Snapshot, opts ...executor.Option) *fixture {
	t.Helper()
	runs := newMemRuns()
	pubs := &memPubs{snapshot: snapshot}
	catalog := automation.NewCatalog()
	require.NoError(t, catalog.Register(automation.LogAction()))
	require.NoError(t, catalog.Register(automation.MoveToStageAction(pubs)))
	require.NoError(t, catalog.Register(failAction()))
	dispatcher := &memDispatcher{}
	scheduler := &memScheduler{}
	exec := executor.NewChainExecutor(
		&memAutomations{byID: map[core.ID]*automation.Automation{}},
		runs, pubs, catalog, dispatcher, scheduler, opts...,
	)
	return &fixture{
		exec:       exec,
		runs:       runs,
		pubs:       pubs,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		catalog:    catalog,
	}
}

func failAction() *automation.Action {
	return &automation.Action{
		Name: "alwaysFail",
		Run: func(_ context.Context, _ *automation.ExecInput) (*automation.ExecResult, error) {
			return &automation.ExecResult{Success: false, Report: "deliberate failure"}, nil
		},
	}
}

func testSnapshot() *pub.Snapshot {
	return &pub.Snapshot{
		ID:          core.MustNewID(),
		CommunityID: core.MustNewID(),
		StageID:     core.ID("stage-review"),
		Title:       "My Paper",
		Values:      map[string]any{"score": 42},
	}
}

func logAutomation(action string, config map[string]any) *automation.Automation {
	autoID := core.MustNewID()
	return &automation.Automation{
		ID:          autoID,
		CommunityID: core.MustNewID(),
		Name:        "test automation",
		Instances: []automation.Instance{{
			ID:           core.MustNewID(),
			AutomationID: autoID,
			Action:       action,
			Config:       config,
		}},
	}
}

func requestFor(auto *automation.Automation, snapshot *pub.Snapshot) *executor.Request {
	return &executor.Request{
		Automation: auto,
		Event: &event.Event{
			Type:        event.PubEnteredStage,
			PubID:       snapshot.ID,
			StageID:     snapshot.StageID,
			CommunityID: snapshot.CommunityID,
		},
		Actor: core.SystemActor(time.Now().UnixNano()),
	}
}

func testCtx() context.Context {
	return logger.ContextWithLogger(context.Background(), logger.NewForTests())
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestExecute(t *testing.T) {
	t.Run("Should run an automation to success and dispatch the chained event", func(t *testing.T) {
		snapshot := testSnapshot()
		f := newFixture(t, snapshot)
		auto := logAutomation("log", map[string]any{"message": "saw {{ .pub.title }}"})
		outcome, err := f.exec.Execute(testCtx(), requestFor(auto, snapshot))
		require.NoError(t, err)
		assert.Equal(t, core.StatusSuccess, outcome.Status)
		assert.Equal(t, "saw My Paper", outcome.Report)

		stored, err := f.runs.Get(testCtx(), outcome.RunID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusSuccess, stored.Status)
		resolved, _ := stored.Config[auto.Instances[0].ID.String()].(map[string]any)
		assert.Equal(t, "saw My Paper", resolved["message"])

		require.Len(t, f.dispatcher.events, 1)
		chained := f.dispatcher.events[0]
		assert.Equal(t, event.ActionSucceeded, chained.Type)
		assert.Equal(t, outcome.RunID, chained.SourceActionRunID)
		assert.Equal(t, auto.Instances[0].ID, chained.SourceActionInstance)
		assert.Equal(t, []core.ID{outcome.RunID}, chained.Stack)
	})

	t.Run("Should skip when the automation condition is not met", func(t *testing.T) {
		snapshot := testSnapshot()
		f := newFixture(t, snapshot)
		auto := logAutomation("log", nil)
		auto.Condition = &condition.Node{
			Field: "pub.values.score", Operator: condition.OpGreater, Value: 100,
		}
		outcome, err := f.exec.Execute(testCtx(), requestFor(auto, snapshot))
		require.NoError(t, err)
		assert.Equal(t, core.StatusSkipped, outcome.Status)
		assert.Empty(t, f.dispatcher.events, "skipped automations emit no events")
		assert.Empty(t, f.runs.byID, "skipped automations create no run")
	})

	t.Run("Should evaluate the rule condition alongside the automation condition", func(t *testing.T) {
		snapshot := testSnapshot()
		f := newFixture(t, snapshot)
		auto := logAutomation("log", nil)
		req := requestFor(auto, snapshot)
		req.TriggerCondition = &condition.Node{
			Field: "trigger.stageId", Operator: condition.OpEqual, Value: "somewhere-else",
		}
		outcome, err := f.exec.Execute(testCtx(), req)
		require.NoError(t, err)
		assert.Equal(t, core.StatusSkipped, outcome.Status)
	})

	t.Run("Should fail with issues when config resolution errors", func(t *testing.T) {
		snapshot := testSnapshot()
		f := newFixture(t, snapshot)
		auto := logAutomation("log", map[string]any{"message": "{{ .pub.missing.path }}"})
		outcome, err := f.exec.Execute(testCtx(), requestFor(auto, snapshot))
		require.NoError(t, err)
		assert.Equal(t, core.StatusFailure, outcome.Status)
		assert.NotEmpty(t, outcome.Issues)

		stored, err := f.runs.Get(testCtx(), outcome.RunID)
		require.NoError(t, err)
		require.NotNil(t, stored.Result)
		assert.Equal(t, core.CodeExpressionError, stored.Result.Code)

		require.Len(t, f.dispatcher.events, 1)
		assert.Equal(t, event.ActionFailed, f.dispatcher.events[0].Type)
	})

	t.Run("Should fail with invalid-key for unknown config fields", func(t *testing.T) {
		snapshot := testSnapshot()
		f := newFixture(t, snapshot)
		auto := logAutomation("log", map[string]any{"bogus": true})
		outcome, err := f.exec.Execute(testCtx(), requestFor(auto, snapshot))
		require.NoError(t, err)
		assert.Equal(t, core.StatusFailure, outcome.Status)
		require.NotEmpty(t, outcome.Issues)
		assert.Equal(t, "bogus", outcome.Issues[0].Path)
	})

	t.Run("Should report failure when an action reports failure", func(t *testing.T) {
		snapshot := testSnapshot()
		f := newFixture(t, snapshot)
		auto := logAutomation("alwaysFail", nil)
		outcome, err := f.exec.Execute(testCtx(), requestFor(auto, snapshot))
		require.NoError(t, err)
		assert.Equal(t, core.StatusFailure, outcome.Status)
		require.Len(t, f.dispatcher.events, 1)
		assert.Equal(t, event.ActionFailed, f.dispatcher.events[0].Type)
	})
}

func TestCycleDetection(t *testing.T) {
	t.Run("Should skip when the call stack already ran this instance", func(t *testing.T) {
		snapshot := testSnapshot()
		f := newFixture(t, snapshot)
		auto := logAutomation("log", nil)

		// A prior run of the same action instance sits on the stack, as it
		// would after A -> B -> (event) -> A.
		priorRun := &run.Run{
			ID:               core.MustNewID(),
			AutomationID:     auto.ID,
			ActionInstanceID: auto.Instances[0].ID,
			PubID:            snapshot.ID,
			Status:           core.StatusSuccess,
			Actor:            core.SystemActor(1),
		}
		require.NoError(t, f.runs.Create(testCtx(), priorRun))

		req := requestFor(auto, snapshot)
		req.Stack = []core.ID{priorRun.ID}
		outcome, err := f.exec.Execute(testCtx(), req)
		require.NoError(t, err)
		assert.Equal(t, core.StatusSkipped, outcome.Status)
		assert.Empty(t, f.dispatcher.events, "a cycle break dispatches nothing")
	})

	t.Run("Should allow reruns of the same instance across separate chains", func(t *testing.T) {
		snapshot := testSnapshot()
		f := newFixture(t, snapshot)
		auto := logAutomation("log", nil)

		first, err := f.exec.Execute(testCtx(), requestFor(auto, snapshot))
		require.NoError(t, err)
		require.Equal(t, core.StatusSuccess, first.Status)

		// A fresh trigger starts with an empty stack, so the same instance
		// may run again.
		second, err := f.exec.Execute(testCtx(), requestFor(auto, snapshot))
		require.NoError(t, err)
		assert.Equal(t, core.StatusSuccess, second.Status)
		assert.NotEqual(t, first.RunID, second.RunID)
	})

	t.Run("Should break chains deeper than the depth limit", func(t *testing.T) {
		snapshot := testSnapshot()
		f := newFixture(t, snapshot, executor.WithMaxDepth(2))
		auto := logAutomation("log", nil)

		other := &run.Run{
			ID:               core.MustNewID(),
			AutomationID:     core.MustNewID(),
			ActionInstanceID: core.MustNewID(),
			PubID:            snapshot.ID,
			Status:           core.StatusSuccess,
			Actor:            core.SystemActor(1),
		}
		another := &run.Run{
			ID:               core.MustNewID(),
			AutomationID:     core.MustNewID(),
			ActionInstanceID: core.MustNewID(),
			PubID:            snapshot.ID,
			Status:           core.StatusSuccess,
			Actor:            core.SystemActor(2),
		}
		require.NoError(t, f.runs.Create(testCtx(), other))
		require.NoError(t, f.runs.Create(testCtx(), another))

		req := requestFor(auto, snapshot)
		req.Stack = []core.ID{other.ID, another.ID}
		outcome, err := f.exec.Execute(testCtx(), req)
		require.NoError(t, err)
		assert.Equal(t, core.StatusSkipped, outcome.Status)
	})
}

func TestDelayedExecution(t *testing.T) {
	t.Run("Should schedule delayed automations instead of running them", func(t *testing.T) {
		snapshot := testSnapshot()
		f := newFixture(t, snapshot)
		auto := logAutomation("log", nil)
		auto.Delay = "90s"

		outcome, err := f.exec.Execute(testCtx(), requestFor(auto, snapshot))
		require.NoError(t, err)
		assert.Equal(t, core.StatusScheduled, outcome.Status)
		assert.Empty(t, f.dispatcher.events, "nothing runs until the timer fires")

		require.Len(t, f.scheduler.calls, 1)
		assert.Equal(t, outcome.RunID, f.scheduler.calls[0].runID)
		assert.Equal(t, 90*time.Second, f.scheduler.calls[0].delay)

		stored, err := f.runs.Get(testCtx(), outcome.RunID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusScheduled, stored.Status)
	})

	t.Run("Should resume a scheduled run when the timer fires", func(t *testing.T) {
		snapshot := testSnapshot()
		f := newFixture(t, snapshot)
		auto := logAutomation("log", map[string]any{"message": "delayed hello"})
		auto.Delay = "1h"

		scheduled, err := f.exec.Execute(testCtx(), requestFor(auto, snapshot))
		require.NoError(t, err)
		require.Equal(t, core.StatusScheduled, scheduled.Status)

		resumeReq := requestFor(auto, snapshot)
		resumeReq.ResumeRunID = scheduled.RunID
		outcome, err := f.exec.Execute(testCtx(), resumeReq)
		require.NoError(t, err)
		assert.Equal(t, core.StatusSuccess, outcome.Status)
		assert.Equal(t, scheduled.RunID, outcome.RunID)
		assert.Equal(t, "delayed hello", outcome.Report)
	})

	t.Run("Should no-op the timer for a canceled run", func(t *testing.T) {
		snapshot := testSnapshot()
		f := newFixture(t, snapshot)
		auto := logAutomation("log", nil)
		auto.Delay = "1h"

		scheduled, err := f.exec.Execute(testCtx(), requestFor(auto, snapshot))
		require.NoError(t, err)
		require.NoError(t, f.runs.Finish(testCtx(), scheduled.RunID, core.StatusCanceled, nil, nil))

		resumeReq := requestFor(auto, snapshot)
		resumeReq.ResumeRunID = scheduled.RunID
		_, err = f.exec.Execute(testCtx(), resumeReq)
		require.ErrorIs(t, err, run.ErrTerminal)
		assert.Empty(t, f.dispatcher.events)
	})

	t.Run("Should fail the run for an invalid delay string instead of erroring", func(t *testing.T) {
		snapshot := testSnapshot()
		f := newFixture(t, snapshot)
		auto := logAutomation("log", nil)
		auto.Delay = "ninety seconds"

		// A broken stored delay must not bubble up as an infrastructure
		// error, or the queue would retry the job forever.
		outcome, err := f.exec.Execute(testCtx(), requestFor(auto, snapshot))
		require.NoError(t, err)
		assert.Equal(t, core.StatusFailure, outcome.Status)
		assert.Empty(t, f.scheduler.calls, "nothing gets scheduled")

		stored, err := f.runs.Get(testCtx(), outcome.RunID)
		require.NoError(t, err)
		require.NotNil(t, stored.Result)
		assert.Equal(t, core.CodeValidationError, stored.Result.Code)
		require.NotEmpty(t, stored.Result.Issues)
		assert.Equal(t, "delay", stored.Result.Issues[0].Path)

		require.Len(t, f.dispatcher.events, 1)
		assert.Equal(t, event.ActionFailed, f.dispatcher.events[0].Type)
	})
}

func TestRedelivery(t *testing.T) {
	t.Run("Should drop a redelivered job whose run already exists", func(t *testing.T) {
		snapshot := testSnapshot()
		f := newFixture(t, snapshot)
		auto := logAutomation("log", map[string]any{"message": "once"})

		req := requestFor(auto, snapshot)
		req.RunID = core.MustNewID()
		first, err := f.exec.Execute(testCtx(), req)
		require.NoError(t, err)
		require.Equal(t, core.StatusSuccess, first.Status)
		require.Equal(t, req.RunID, first.RunID)

		// The queue delivers the same job again after a worker crash.
		_, err = f.exec.Execute(testCtx(), req)
		require.ErrorIs(t, err, run.ErrTerminal)
		assert.Len(t, f.runs.byID, 1, "no second run is created")
		assert.Len(t, f.dispatcher.events, 1, "chained events are not re-dispatched")
	})
}

func TestStageMoveAttribution(t *testing.T) {
	t.Run("Should stamp stage moves with the acting run's call stack", func(t *testing.T) {
		snapshot := testSnapshot()
		f := newFixture(t, snapshot)
		auto := logAutomation("moveToStage", map[string]any{"stageId": "stage-published"})

		outcome, err := f.exec.Execute(testCtx(), requestFor(auto, snapshot))
		require.NoError(t, err)
		require.Equal(t, core.StatusSuccess, outcome.Status)
		assert.Equal(t, core.ID("stage-published"), f.pubs.snapshot.StageID)

		// Events emitted by the stage move must carry the acting run, so
		// automations fired by the move stay on the same chain.
		assert.Equal(t, []core.ID{outcome.RunID}, f.pubs.lastMutation.Stack)
		assert.Equal(t, core.ActorActionRun, f.pubs.lastMutation.Actor.Kind)
		assert.Equal(t, outcome.RunID, f.pubs.lastMutation.Actor.ID)
	})
}

func TestService(t *testing.T) {
	newService := func(t *testing.T, snapshot *pub.Snapshot, auto *automation.Automation) (*executor.Service, *fixture) {
		t.Helper()
		f := newFixture(t, snapshot)
		autos := &memAutomations{byID: map[core.ID]*automation.Automation{auto.ID: auto}}
		exec := executor.NewChainExecutor(autos, f.runs, f.pubs, f.catalog, f.dispatcher, f.scheduler)
		return executor.NewService(exec, autos, f.runs), f
	}

	t.Run("Should run manually and report the outcome", func(t *testing.T) {
		snapshot := testSnapshot()
		auto := logAutomation("log", map[string]any{"message": "manual {{ .pub.title }}"})
		svc, _ := newService(t, snapshot, auto)
		result, err := svc.ManualRun(testCtx(), &executor.ManualRunInput{
			AutomationID: auto.ID,
			PubID:        snapshot.ID,
			CommunityID:  snapshot.CommunityID,
			Actor:        core.NewActor(core.ActorUser, core.MustNewID(), 1),
		})
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, "manual My Paper", result.Report)
	})

	t.Run("Should reject skipping conditions without the elevated capability", func(t *testing.T) {
		snapshot := testSnapshot()
		auto := logAutomation("log", nil)
		svc, _ := newService(t, snapshot, auto)
		_, err := svc.ManualRun(testCtx(), &executor.ManualRunInput{
			AutomationID:       auto.ID,
			PubID:              snapshot.ID,
			CommunityID:        snapshot.CommunityID,
			Actor:              core.NewActor(core.ActorUser, core.MustNewID(), 1),
			SkipConditionCheck: true,
		})
		assert.Error(t, err)
	})

	t.Run("Should skip conditions when elevated", func(t *testing.T) {
		snapshot := testSnapshot()
		auto := logAutomation("log", nil)
		auto.Condition = &condition.Node{
			Field: "pub.values.score", Operator: condition.OpGreater, Value: 100,
		}
		svc, _ := newService(t, snapshot, auto)
		result, err := svc.ManualRun(testCtx(), &executor.ManualRunInput{
			AutomationID:       auto.ID,
			PubID:              snapshot.ID,
			CommunityID:        snapshot.CommunityID,
			Actor:              core.NewActor(core.ActorUser, core.MustNewID(), 1),
			SkipConditionCheck: true,
			Elevated:           true,
		})
		require.NoError(t, err)
		assert.True(t, result.Success)
	})

	t.Run("Should explain an unmet condition on manual runs", func(t *testing.T) {
		snapshot := testSnapshot()
		auto := logAutomation("log", nil)
		auto.Condition = &condition.Node{
			Field: "pub.values.score", Operator: condition.OpGreater, Value: 100,
		}
		svc, _ := newService(t, snapshot, auto)
		result, err := svc.ManualRun(testCtx(), &executor.ManualRunInput{
			AutomationID: auto.ID,
			PubID:        snapshot.ID,
			CommunityID:  snapshot.CommunityID,
			Actor:        core.NewActor(core.ActorUser, core.MustNewID(), 1),
		})
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, "automation condition not met", result.Error)
	})

	t.Run("Should apply config overrides on manual runs", func(t *testing.T) {
		snapshot := testSnapshot()
		auto := logAutomation("log", map[string]any{"message": "stored"})
		svc, _ := newService(t, snapshot, auto)
		result, err := svc.ManualRun(testCtx(), &executor.ManualRunInput{
			AutomationID:   auto.ID,
			PubID:          snapshot.ID,
			CommunityID:    snapshot.CommunityID,
			Actor:          core.NewActor(core.ActorUser, core.MustNewID(), 1),
			ConfigOverride: map[string]any{"message": "overridden"},
		})
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, "overridden", result.Report)
	})

	t.Run("Should cancel a scheduled run before the timer fires", func(t *testing.T) {
		snapshot := testSnapshot()
		auto := logAutomation("log", nil)
		auto.Delay = "1h"
		svc, f := newService(t, snapshot, auto)

		autos := &memAutomations{byID: map[core.ID]*automation.Automation{auto.ID: auto}}
		exec := executor.NewChainExecutor(autos, f.runs, f.pubs, f.catalog, f.dispatcher, f.scheduler)
		scheduled, err := exec.Execute(testCtx(), requestFor(auto, snapshot))
		require.NoError(t, err)
		require.Equal(t, core.StatusScheduled, scheduled.Status)

		actor := core.NewActor(core.ActorUser, core.MustNewID(), 1)
		require.NoError(t, svc.CancelScheduled(testCtx(), scheduled.RunID, actor))

		stored, err := f.runs.Get(testCtx(), scheduled.RunID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusCanceled, stored.Status)

		// Canceling again fails because the run is no longer scheduled.
		assert.Error(t, svc.CancelScheduled(testCtx(), scheduled.RunID, actor))
	})
}
