package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/pubflow/pubflow/engine/automation"
	"github.com/pubflow/pubflow/engine/core"
	"github.com/pubflow/pubflow/engine/event"
	"github.com/pubflow/pubflow/engine/run"
	"github.com/pubflow/pubflow/pkg/logger"
)

// ManualRunInput is a user-initiated "run now and show me the result"
// invocation. It executes synchronously in the calling request; only the
// follow-up chained event is asynchronous.
type ManualRunInput struct {
	AutomationID core.ID
	PubID        core.ID
	CommunityID  core.ID
	Actor        core.Actor
	// SkipConditionCheck requires the elevated capability; Elevated is
	// asserted by the (external) authorization layer.
	SkipConditionCheck bool
	Elevated           bool
	// ConfigOverride is merged over the stored configuration before
	// resolution, for users editing parameters just before running.
	ConfigOverride map[string]any
}

// ManualRunResult is the caller-facing outcome envelope.
type ManualRunResult struct {
	Success bool           `json:"success"`
	Report  string         `json:"report,omitempty"`
	Issues  core.IssueList `json:"issues,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Service wraps the chain executor with the manual invocation and
// scheduled-run management paths.
type Service struct {
	executor    *ChainExecutor
	automations automation.Repository
	runs        run.Repository
}

func NewService(exec *ChainExecutor, automations automation.Repository, runs run.Repository) *Service {
	return &Service{executor: exec, automations: automations, runs: runs}
}

// ManualRun executes one automation synchronously and reports per-field
// issues so a configuration UI can highlight the offending field.
func (s *Service) ManualRun(ctx context.Context, input *ManualRunInput) (*ManualRunResult, error) {
	if input.SkipConditionCheck && !input.Elevated {
		return nil, fmt.Errorf("skipping the condition check requires an elevated capability")
	}
	auto, err := s.automations.Get(ctx, input.AutomationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load automation %s: %w", input.AutomationID, err)
	}
	// Manual runs have no lifecycle trigger; a synthetic stage event gives
	// the executor a pub to read and a community scope.
	outcome, err := s.executor.Execute(ctx, &Request{
		Automation: auto,
		Event: &event.Event{
			Type:        event.PubEnteredStage,
			PubID:       input.PubID,
			CommunityID: input.CommunityID,
		},
		Actor:              input.Actor,
		SkipConditionCheck: input.SkipConditionCheck,
		ConfigOverride:     input.ConfigOverride,
	})
	if err != nil {
		return &ManualRunResult{Success: false, Error: err.Error()}, nil
	}
	result := &ManualRunResult{
		Success: outcome.Status == core.StatusSuccess,
		Report:  outcome.Report,
		Issues:  outcome.Issues,
		Error:   outcome.Error,
	}
	if outcome.Status == core.StatusSkipped && result.Error == "" {
		result.Error = "automation condition not met"
	}
	return result, nil
}

// CancelScheduled cancels a scheduled automation before its timer fires.
// The timer job later observes the canceled state and no-ops.
func (s *Service) CancelScheduled(ctx context.Context, runID core.ID, actor core.Actor) error {
	log := logger.FromContext(ctx)
	existing, err := s.runs.Get(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if existing.Status != core.StatusScheduled {
		return fmt.Errorf("run %s is not scheduled (status %s)", runID, existing.Status)
	}
	err = s.runs.Finish(ctx, runID, core.StatusCanceled, nil, &run.Result{
		Report: fmt.Sprintf("canceled by %s", actor),
	})
	if err != nil && !errors.Is(err, run.ErrTerminal) {
		return fmt.Errorf("failed to cancel run %s: %w", runID, err)
	}
	log.Info("scheduled automation canceled", "run_id", runID, "actor", actor.String())
	return nil
}
