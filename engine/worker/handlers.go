package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/pubflow/pubflow/engine/automation"
	"github.com/pubflow/pubflow/engine/condition"
	"github.com/pubflow/pubflow/engine/core"
	"github.com/pubflow/pubflow/engine/event"
	"github.com/pubflow/pubflow/engine/executor"
	"github.com/pubflow/pubflow/engine/infra/queue"
	"github.com/pubflow/pubflow/engine/pub"
	"github.com/pubflow/pubflow/engine/rule"
	"github.com/pubflow/pubflow/engine/run"
	"github.com/pubflow/pubflow/engine/worker/tasks"
	"github.com/pubflow/pubflow/pkg/logger"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// Handlers processes automation jobs pulled off the queue. Each job is
// handled by exactly one worker at a time; different jobs proceed
// concurrently across the pool.
type Handlers struct {
	matcher     *rule.Matcher
	automations automation.Repository
	executor    *executor.ChainExecutor
	service     *executor.Service
	pubs        pub.Store
	client      queue.Client
}

func NewHandlers(
	matcher *rule.Matcher,
	automations automation.Repository,
	exec *executor.ChainExecutor,
	service *executor.Service,
	pubs pub.Store,
	client queue.Client,
) *Handlers {
	return &Handlers{
		matcher:     matcher,
		automations: automations,
		executor:    exec,
		service:     service,
		pubs:        pubs,
		client:      client,
	}
}

// HandleDeliverEvent fans one lifecycle event out into per-automation run
// jobs. Each matched automation executes as its own job, so one failing
// automation never blocks its siblings.
func (h *Handlers) HandleDeliverEvent(ctx context.Context, task *asynq.Task) error {
	log := logger.FromContext(ctx)
	ev, err := event.Unmarshal(task.Payload())
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	matches, err := h.matcher.Match(ctx, ev, ev.SourceActionInstance)
	if err != nil {
		return err
	}
	// Entering a stage arms duration timers regardless of whether anything
	// matches the entry event itself.
	if ev.Type == event.PubEnteredStage {
		if err := h.armStageTimers(ctx, ev); err != nil {
			return err
		}
	}
	if len(matches) == 0 {
		log.Debug("no automations match event", "event", ev.Type, "pub_id", ev.PubID)
		return nil
	}
	for _, match := range matches {
		payload, err := runPayload(ev, match)
		if err != nil {
			return err
		}
		data, err := tasks.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := h.client.Enqueue(
			ctx,
			tasks.TypeRunAutomation,
			data,
			queue.WithQueue(queue.QueueAutomations),
		); err != nil {
			return fmt.Errorf("failed to enqueue automation run: %w", err)
		}
	}
	log.Info("event fanned out",
		"event", ev.Type, "pub_id", ev.PubID, "automations", len(matches))
	return nil
}

func runPayload(ev *event.Event, match rule.Match) (*tasks.RunAutomationPayload, error) {
	var triggerCfg json.RawMessage
	if match.Rule.Config != nil {
		data, err := json.Marshal(match.Rule.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal rule config: %w", err)
		}
		triggerCfg = data
	}
	return &tasks.RunAutomationPayload{
		Type:         tasks.TypeRunAutomation,
		RunID:        core.MustNewID(),
		AutomationID: match.Automation.ID,
		PubID:        ev.PubID,
		StageID:      ev.StageID,
		Trigger: tasks.Trigger{
			Event:  ev.Type,
			Config: triggerCfg,
		},
		Community:         tasks.Community{ID: ev.CommunityID},
		Stack:             ev.Stack,
		SourceActionRunID: ev.SourceActionRunID,
	}, nil
}

// armStageTimers schedules one pubInStageForDuration timer per distinct
// rule duration in the community. The timer payload remembers the stage the
// pub was in; HandleStageDuration re-reads the pub when the timer fires and
// drops the job if the pub has moved on, so leaving a stage implicitly
// cancels its pending timers.
func (h *Handlers) armStageTimers(ctx context.Context, ev *event.Event) error {
	log := logger.FromContext(ctx)
	durations, err := h.matcher.StageDurations(ctx, ev.CommunityID)
	if err != nil {
		return err
	}
	for _, d := range durations {
		wait, err := str2duration.ParseDuration(d)
		if err != nil {
			log.Warn("skipping duration rule with unparseable duration",
				"duration", d, "community_id", ev.CommunityID, "error", err)
			continue
		}
		data, err := tasks.Marshal(&tasks.StageDurationPayload{
			Type:        tasks.TypeScheduleDelayed,
			PubID:       ev.PubID,
			StageID:     ev.StageID,
			CommunityID: ev.CommunityID,
			Duration:    d,
		})
		if err != nil {
			return err
		}
		if _, err := h.client.Enqueue(
			ctx,
			tasks.TypeScheduleDelayed,
			data,
			queue.WithQueue(queue.QueueAutomations),
			queue.WithProcessIn(wait),
		); err != nil {
			return fmt.Errorf("failed to enqueue stage duration timer: %w", err)
		}
		log.Debug("stage duration timer armed",
			"pub_id", ev.PubID, "stage_id", ev.StageID, "duration", d)
	}
	return nil
}

// HandleStageDuration fires a stage-duration timer. The pub's current stage
// is re-read first: a pub that left the stage since the timer was armed gets
// no duration event.
func (h *Handlers) HandleStageDuration(ctx context.Context, task *asynq.Task) error {
	log := logger.FromContext(ctx)
	var payload tasks.StageDurationPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	snapshot, err := h.pubs.GetCurrent(ctx, payload.PubID)
	if err != nil {
		return fmt.Errorf("failed to load pub %s: %w", payload.PubID, err)
	}
	if snapshot.StageID != payload.StageID {
		log.Debug("pub left stage before duration elapsed, dropping timer",
			"pub_id", payload.PubID, "stage_id", payload.StageID,
			"current_stage_id", snapshot.StageID)
		return nil
	}
	data, err := json.Marshal(&event.Event{
		Type:        event.PubInStageDuration,
		PubID:       payload.PubID,
		StageID:     payload.StageID,
		CommunityID: payload.CommunityID,
		Duration:    payload.Duration,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal duration event: %w", err)
	}
	if _, err := h.client.Enqueue(
		ctx,
		tasks.TypeDeliverEvent,
		data,
		queue.WithQueue(queue.QueueAutomations),
	); err != nil {
		return fmt.Errorf("failed to enqueue duration event: %w", err)
	}
	log.Info("stage duration elapsed",
		"pub_id", payload.PubID, "stage_id", payload.StageID, "duration", payload.Duration)
	return nil
}

// HandleRunAutomation executes one matched automation through the chain
// executor. Infrastructure errors bubble up for queue retry; resolution and
// action failures are terminal and already persisted by the executor.
func (h *Handlers) HandleRunAutomation(ctx context.Context, task *asynq.Task) error {
	log := logger.FromContext(ctx)
	var payload tasks.RunAutomationPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	auto, err := h.automations.Get(ctx, payload.AutomationID)
	if err != nil {
		return fmt.Errorf("failed to load automation %s: %w", payload.AutomationID, err)
	}
	req := &executor.Request{
		Automation:       auto,
		Event:            eventFromPayload(&payload),
		TriggerCondition: triggerCondition(payload.Trigger.Config),
		Stack:            payload.Stack,
		Actor:            core.SystemActor(0),
		RunID:            payload.RunID,
	}
	outcome, err := h.executor.Execute(ctx, req)
	if err != nil {
		if errors.Is(err, run.ErrTerminal) {
			log.Info("run already exists for this job, dropping duplicate delivery",
				"run_id", payload.RunID)
			return nil
		}
		return err
	}
	log.Info("automation executed",
		"automation_id", auto.ID,
		"pub_id", payload.PubID,
		"status", outcome.Status,
		"run_id", outcome.RunID)
	return nil
}

// HandleRunDelayed resumes a scheduled run whose timer fired. A run that
// was canceled or already finished is a duplicate delivery and no-ops.
func (h *Handlers) HandleRunDelayed(ctx context.Context, task *asynq.Task) error {
	log := logger.FromContext(ctx)
	var payload tasks.DelayedAutomationPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	auto, err := h.automations.Get(ctx, payload.AutomationID)
	if err != nil {
		return fmt.Errorf("failed to load automation %s: %w", payload.AutomationID, err)
	}
	req := &executor.Request{
		Automation:  auto,
		Event:       delayedEventFromPayload(&payload),
		Stack:       payload.Stack,
		Actor:       core.SystemActor(0),
		ResumeRunID: payload.AutomationRunID,
	}
	outcome, err := h.executor.Execute(ctx, req)
	if err != nil {
		if errors.Is(err, run.ErrTerminal) {
			log.Info("scheduled run already resolved, dropping timer job",
				"run_id", payload.AutomationRunID)
			return nil
		}
		return err
	}
	log.Info("delayed automation executed",
		"automation_id", auto.ID, "status", outcome.Status, "run_id", outcome.RunID)
	return nil
}

// HandleCancelScheduled cancels a scheduled run before its timer fires.
func (h *Handlers) HandleCancelScheduled(ctx context.Context, task *asynq.Task) error {
	var payload tasks.DelayedAutomationPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	err := h.service.CancelScheduled(ctx, payload.AutomationRunID, core.SystemActor(0))
	if err != nil {
		logger.FromContext(ctx).Warn("cancel scheduled run failed",
			"run_id", payload.AutomationRunID, "error", err)
	}
	return nil
}

func eventFromPayload(p *tasks.RunAutomationPayload) *event.Event {
	return &event.Event{
		Type:              p.Trigger.Event,
		PubID:             p.PubID,
		StageID:           p.StageID,
		CommunityID:       p.Community.ID,
		SourceActionRunID: p.SourceActionRunID,
		Stack:             p.Stack,
	}
}

func delayedEventFromPayload(p *tasks.DelayedAutomationPayload) *event.Event {
	return &event.Event{
		Type:        p.Trigger.Event,
		PubID:       p.PubID,
		StageID:     p.StageID,
		CommunityID: p.Community.ID,
		Stack:       p.Stack,
	}
}

func triggerCondition(raw json.RawMessage) *condition.Node {
	if len(raw) == 0 {
		return nil
	}
	var cfg rule.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil
	}
	return cfg.Condition
}
