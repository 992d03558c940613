package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pubflow/pubflow/engine/automation"
	"github.com/pubflow/pubflow/engine/condition"
	"github.com/pubflow/pubflow/engine/core"
	"github.com/pubflow/pubflow/engine/event"
	"github.com/pubflow/pubflow/engine/outbox"
	"github.com/pubflow/pubflow/engine/pub"
	"github.com/pubflow/pubflow/engine/run"
	"github.com/pubflow/pubflow/engine/schema"
	"github.com/pubflow/pubflow/pkg/logger"
	"github.com/pubflow/pubflow/pkg/tplengine"
)

// Request is one automation invocation.
type Request struct {
	Automation *automation.Automation
	Event      *event.Event
	// TriggerCondition is the matched rule's condition, evaluated together
	// with the automation's own condition.
	TriggerCondition *condition.Node
	Stack            []core.ID
	Actor            core.Actor
	// SkipConditionCheck bypasses step 2; callers must hold the elevated
	// capability to set it.
	SkipConditionCheck bool
	// ConfigOverride is merged over each instance's stored config before
	// resolution (manual runs editing parameters just before executing).
	ConfigOverride map[string]any
	// ResumeRunID resumes a scheduled run whose timer fired; condition and
	// cycle checks already happened when the run was scheduled.
	ResumeRunID core.ID
	// RunID preassigns the new run's id. Queue jobs carry one so a
	// redelivered job finds the run from its first attempt instead of
	// minting a second one and repeating the action's side effects.
	RunID core.ID
}

// Outcome is the terminal result reported to the caller.
type Outcome struct {
	Status core.StatusType `json:"status"`
	RunID  core.ID         `json:"runId,omitempty"`
	Report string          `json:"report,omitempty"`
	Issues core.IssueList  `json:"issues,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ChainExecutor runs one automation through its state machine:
// pending -> condition-check -> {skipped | scheduled | running} ->
// {success | failure}. Follow-up chained events go through the dispatcher
// as new jobs, never as synchronous recursion.
type ChainExecutor struct {
	automations automation.Repository
	runs        run.Repository
	pubs        pub.Store
	catalog     *automation.Catalog
	conditions  *condition.Evaluator
	resolver    *tplengine.TemplateEngine
	dispatcher  outbox.Dispatcher
	scheduler   Scheduler
	timeout     time.Duration
	maxDepth    int
}

// Scheduler enqueues the timer job that resumes a scheduled run.
type Scheduler interface {
	ScheduleResume(ctx context.Context, req *Request, runID core.ID, delay time.Duration) error
}

type Option func(*ChainExecutor)

func WithTimeout(d time.Duration) Option {
	return func(e *ChainExecutor) { e.timeout = d }
}

func WithMaxDepth(n int) Option {
	return func(e *ChainExecutor) { e.maxDepth = n }
}

func NewChainExecutor(
	automations automation.Repository,
	runs run.Repository,
	pubs pub.Store,
	catalog *automation.Catalog,
	dispatcher outbox.Dispatcher,
	scheduler Scheduler,
	opts ...Option,
) *ChainExecutor {
	e := &ChainExecutor{
		automations: automations,
		runs:        runs,
		pubs:        pubs,
		catalog:     catalog,
		conditions:  condition.NewEvaluator(),
		resolver:    tplengine.NewEngine(),
		dispatcher:  dispatcher,
		scheduler:   scheduler,
		timeout:     5 * time.Minute,
		maxDepth:    10,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one automation invocation to a terminal (or scheduled)
// outcome. Resolution and validation failures are terminal for this
// automation but never propagate to siblings matched for the same event.
func (e *ChainExecutor) Execute(ctx context.Context, req *Request) (*Outcome, error) {
	log := logger.FromContext(ctx)
	auto := req.Automation
	primary, err := auto.PrimaryInstance()
	if err != nil {
		return nil, err
	}

	// The engine always re-reads current record state rather than trusting
	// a snapshot cached in the triggering event.
	snapshot, err := e.pubs.GetCurrent(ctx, req.Event.PubID)
	if err != nil {
		return nil, fmt.Errorf("failed to read pub %s: %w", req.Event.PubID, err)
	}
	tplCtx := e.templateContext(snapshot, req)

	if req.ResumeRunID.IsZero() {
		if !req.SkipConditionCheck && !e.conditionsPass(req, tplCtx) {
			log.Debug("automation condition not met, skipping",
				"automation_id", auto.ID, "pub_id", snapshot.ID)
			return &Outcome{Status: core.StatusSkipped}, nil
		}
		if cycle, err := e.detectCycle(ctx, primary.ID, req.Stack); err != nil {
			return nil, err
		} else if cycle {
			// A cycle break is logged and skipped, never treated as an error.
			log.Info("cycle detected in automation chain, skipping",
				"automation_id", auto.ID,
				"action_instance_id", primary.ID,
				"stack_depth", len(req.Stack),
				"code", core.CodeCycleDetected)
			return &Outcome{Status: core.StatusSkipped}, nil
		}
	}

	// An unparseable delay is a stored-config defect, not an infrastructure
	// failure: run with no delay and fail the run below, so the queue does
	// not retry the job forever.
	delay, delayErr := auto.DelayDuration()
	if delayErr != nil {
		delay = 0
	}

	runRow, err := e.prepareRun(ctx, req, primary, snapshot, delay)
	if err != nil {
		return nil, err
	}
	if runRow.Status == core.StatusScheduled {
		return &Outcome{Status: core.StatusScheduled, RunID: runRow.ID}, nil
	}
	if delayErr != nil && req.ResumeRunID.IsZero() {
		return e.finish(ctx, req, runRow, nil, &run.Result{
			Error:  delayErr.Error(),
			Code:   core.CodeValidationError,
			Issues: core.IssueList{{Path: "delay", Message: delayErr.Error()}},
		}, core.StatusFailure)
	}

	resolved, resErr := e.resolveInstances(auto, req.ConfigOverride, tplCtx)
	if resErr != nil {
		var issues core.IssueList
		errors.As(resErr, &issues)
		return e.finish(ctx, req, runRow, resolved, &run.Result{
			Issues: issues,
			Error:  resErr.Error(),
			Code:   core.CodeOf(resErr),
		}, core.StatusFailure)
	}

	chainStack := core.ExtendStack(req.Stack, runRow.ID)
	result, status := e.invokeInstances(ctx, auto, runRow, chainStack, resolved, snapshot)
	return e.finish(ctx, req, runRow, resolved, result, status)
}

func (e *ChainExecutor) templateContext(snapshot *pub.Snapshot, req *Request) map[string]any {
	return snapshot.TemplateContext(map[string]any{
		"trigger": map[string]any{
			"event":   string(req.Event.Type),
			"stageId": req.Event.StageID.String(),
		},
	})
}

func (e *ChainExecutor) conditionsPass(req *Request, tplCtx map[string]any) bool {
	if !e.conditions.Evaluate(req.TriggerCondition, tplCtx) {
		return false
	}
	return e.conditions.Evaluate(req.Automation.Condition, tplCtx)
}

// detectCycle maps the call stack's run ids back to the action instances
// they executed and refuses to run an instance twice in one chain. Stacks
// deeper than maxDepth break unconditionally.
func (e *ChainExecutor) detectCycle(ctx context.Context, instanceID core.ID, stack []core.ID) (bool, error) {
	if len(stack) >= e.maxDepth {
		return true, nil
	}
	for _, runID := range stack {
		prior, err := e.runs.Get(ctx, runID)
		if err != nil {
			return false, fmt.Errorf("failed to load run %s from call stack: %w", runID, err)
		}
		if prior.ActionInstanceID == instanceID {
			return true, nil
		}
	}
	return false, nil
}

// prepareRun creates the run row, or resumes the scheduled one. Automations
// with a configured delay go to scheduled and return early; a timer job
// resumes them into running.
func (e *ChainExecutor) prepareRun(
	ctx context.Context,
	req *Request,
	primary *automation.Instance,
	snapshot *pub.Snapshot,
	delay time.Duration,
) (*run.Run, error) {
	if !req.ResumeRunID.IsZero() {
		existing, err := e.runs.Get(ctx, req.ResumeRunID)
		if err != nil {
			return nil, fmt.Errorf("failed to load scheduled run %s: %w", req.ResumeRunID, err)
		}
		if existing.Status != core.StatusScheduled {
			// Duplicate delivery or cancellation race: the run moved on.
			return nil, run.ErrTerminal
		}
		if err := e.runs.MarkRunning(ctx, existing.ID); err != nil {
			return nil, err
		}
		existing.Status = core.StatusRunning
		return existing, nil
	}

	runID := req.RunID
	if runID.IsZero() {
		runID = core.MustNewID()
	} else if _, err := e.runs.Get(ctx, runID); err == nil {
		// This job already created its run on a previous delivery.
		return nil, run.ErrTerminal
	}
	status := core.StatusRunning
	if delay > 0 {
		status = core.StatusScheduled
	}
	runRow := &run.Run{
		ID:                runID,
		AutomationID:      req.Automation.ID,
		ActionInstanceID:  primary.ID,
		PubID:             snapshot.ID,
		Status:            status,
		Actor:             req.Actor,
		SourceActionRunID: req.Event.SourceActionRunID,
		CreatedAt:         time.Now().UTC(),
	}
	if err := e.runs.Create(ctx, runRow); err != nil {
		return nil, fmt.Errorf("failed to create action run: %w", err)
	}
	if delay > 0 {
		if err := e.scheduler.ScheduleResume(ctx, req, runRow.ID, delay); err != nil {
			return nil, fmt.Errorf("failed to schedule delayed automation: %w", err)
		}
	}
	return runRow, nil
}

// invokeInstances runs the resolved instances in order, stopping at the
// first failure.
func (e *ChainExecutor) invokeInstances(
	ctx context.Context,
	auto *automation.Automation,
	runRow *run.Run,
	stack []core.ID,
	resolved map[string]any,
	snapshot *pub.Snapshot,
) (*run.Result, core.StatusType) {
	log := logger.FromContext(ctx)
	result := &run.Result{}
	for i := range auto.Instances {
		instance := &auto.Instances[i]
		action, err := e.catalog.Lookup(instance.Action)
		if err != nil {
			result.Error = err.Error()
			result.Code = core.CodeUnknownError
			return result, core.StatusFailure
		}
		cfg, _ := resolved[instance.ID.String()].(map[string]any)
		execResult, err := e.invoke(ctx, action, runRow, stack, cfg, snapshot)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				result.Error = fmt.Sprintf("action %s exceeded its deadline", instance.Action)
			} else {
				result.Error = err.Error()
			}
			result.Code = core.CodeUnknownError
			return result, core.StatusFailure
		}
		if result.Report == "" {
			result.Report = execResult.Report
		} else if execResult.Report != "" {
			result.Report += "\n" + execResult.Report
		}
		if execResult.Data != nil {
			if result.Data == nil {
				result.Data = map[string]any{}
			}
			result.Data[instance.Action] = execResult.Data
		}
		if !execResult.Success {
			log.Debug("action reported failure",
				"automation_id", auto.ID, "action", instance.Action)
			return result, core.StatusFailure
		}
	}
	return result, core.StatusSuccess
}

func (e *ChainExecutor) invoke(
	ctx context.Context,
	action *automation.Action,
	runRow *run.Run,
	stack []core.ID,
	cfg map[string]any,
	snapshot *pub.Snapshot,
) (*automation.ExecResult, error) {
	deadline := time.Now().Add(e.timeout)
	execCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	// Stamped with a fresh logical timestamp so the history recorder can
	// tell explicit attribution from a leftover actor binding. The stack
	// already includes the acting run, so events emitted by pub mutations
	// stay on the same chain as the synthetic chained events.
	actor := core.NewActor(core.ActorActionRun, runRow.ID, time.Now().UnixNano())
	return action.Run(execCtx, &automation.ExecInput{
		Pub:      snapshot,
		Config:   cfg,
		Actor:    actor,
		Stack:    stack,
		Deadline: deadline,
	})
}

// finish persists the terminal state and dispatches the synthetic chained
// event with the extended call stack.
func (e *ChainExecutor) finish(
	ctx context.Context,
	req *Request,
	runRow *run.Run,
	resolved map[string]any,
	result *run.Result,
	status core.StatusType,
) (*Outcome, error) {
	if err := e.runs.Finish(ctx, runRow.ID, status, resolved, result); err != nil {
		if errors.Is(err, run.ErrTerminal) {
			// Duplicate delivery: report the stored outcome without
			// re-dispatching chained events.
			return e.outcomeFromStored(ctx, runRow.ID)
		}
		return nil, fmt.Errorf("failed to persist action run: %w", err)
	}
	if err := e.dispatchChained(ctx, req, runRow, status); err != nil {
		return nil, err
	}
	outcome := &Outcome{
		Status: status,
		RunID:  runRow.ID,
		Report: result.Report,
		Issues: result.Issues,
		Error:  result.Error,
	}
	return outcome, nil
}

func (e *ChainExecutor) outcomeFromStored(ctx context.Context, runID core.ID) (*Outcome, error) {
	stored, err := e.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	outcome := &Outcome{Status: stored.Status, RunID: stored.ID}
	if stored.Result != nil {
		outcome.Report = stored.Result.Report
		outcome.Issues = stored.Result.Issues
		outcome.Error = stored.Result.Error
	}
	return outcome, nil
}

func (e *ChainExecutor) dispatchChained(
	ctx context.Context,
	req *Request,
	runRow *run.Run,
	status core.StatusType,
) error {
	evType := event.ActionSucceeded
	if status != core.StatusSuccess {
		evType = event.ActionFailed
	}
	chained := &event.Event{
		Type:                 evType,
		PubID:                runRow.PubID,
		StageID:              req.Event.StageID,
		CommunityID:          req.Event.CommunityID,
		SourceActionRunID:    runRow.ID,
		SourceActionInstance: runRow.ActionInstanceID,
		Stack:                core.ExtendStack(req.Stack, runRow.ID),
	}
	if _, err := e.dispatcher.Dispatch(ctx, chained); err != nil {
		return fmt.Errorf("failed to dispatch chained event: %w", err)
	}
	return nil
}

// resolveInstances resolves and validates every instance's configuration.
// Any field failure aborts the whole automation with a structured issue
// list; nothing is invoked.
func (e *ChainExecutor) resolveInstances(
	auto *automation.Automation,
	override map[string]any,
	tplCtx map[string]any,
) (map[string]any, error) {
	resolved := make(map[string]any, len(auto.Instances))
	for i := range auto.Instances {
		instance := &auto.Instances[i]
		cfg, err := e.resolveInstance(instance, override, tplCtx)
		if err != nil {
			return resolved, err
		}
		resolved[instance.ID.String()] = cfg
	}
	return resolved, nil
}

func (e *ChainExecutor) resolveInstance(
	instance *automation.Instance,
	override map[string]any,
	tplCtx map[string]any,
) (map[string]any, error) {
	action, err := e.catalog.Lookup(instance.Action)
	if err != nil {
		return nil, core.WrapError(core.CodeUnknownError, "action lookup failed",
			core.IssueList{{Path: instance.Action, Message: err.Error()}})
	}
	cfg := buildConfig(instance, action, override)
	resolvedAny, err := e.resolver.ResolveMap(cfg, tplCtx)
	if err != nil {
		return nil, core.WrapError(core.CodeOf(err),
			fmt.Sprintf("failed to resolve config for %s", instance.Action),
			core.IssueList{{Path: instance.Action, Message: err.Error()}})
	}
	resolvedCfg, ok := resolvedAny.(map[string]any)
	if !ok {
		return nil, core.WrapError(core.CodeValidationError, "resolved config is not an object",
			core.IssueList{{Path: instance.Action, Message: "resolved config is not an object"}})
	}
	validator := schema.NewParamsValidator(resolvedCfg, action.Schema, instance.Action)
	if err := validator.Validate(); err != nil {
		return nil, err
	}
	return resolvedCfg, nil
}
