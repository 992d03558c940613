package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/pubflow/pubflow/engine/core"
	"github.com/pubflow/pubflow/engine/executor"
	"github.com/pubflow/pubflow/engine/infra/queue"
	"github.com/pubflow/pubflow/engine/worker/tasks"
)

// QueueScheduler resumes delayed automations through the job queue: the
// timer job is enqueued with the configured delay and carries the scheduled
// run id so the handler can resume exactly that run.
type QueueScheduler struct {
	client queue.Client
}

func NewQueueScheduler(client queue.Client) *QueueScheduler {
	return &QueueScheduler{client: client}
}

func (s *QueueScheduler) ScheduleResume(
	ctx context.Context,
	req *executor.Request,
	runID core.ID,
	delay time.Duration,
) error {
	payload := tasks.DelayedAutomationPayload{
		Type:         tasks.TypeRunDelayed,
		AutomationID: req.Automation.ID,
		PubID:        req.Event.PubID,
		StageID:      req.Event.StageID,
		Trigger: tasks.Trigger{
			Event: req.Event.Type,
		},
		Community:       tasks.Community{ID: req.Event.CommunityID},
		Stack:           req.Stack,
		AutomationRunID: runID,
	}
	data, err := tasks.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.client.Enqueue(
		ctx,
		tasks.TypeRunDelayed,
		data,
		queue.WithQueue(queue.QueueAutomations),
		queue.WithProcessIn(delay),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue delayed automation: %w", err)
	}
	return nil
}
