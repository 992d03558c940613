package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pubflow/pubflow/engine/infra/queue"
	"github.com/pubflow/pubflow/engine/worker/tasks"
	"github.com/pubflow/pubflow/pkg/logger"
	"github.com/sethvargo/go-retry"
)

// Poller converts committed outbox rows into queue jobs. Multiple pollers
// can run concurrently; row claiming keeps them from double-publishing
// within a single poll cycle, and the queue's at-least-once semantics cover
// the rest.
type Poller struct {
	store     Store
	client    queue.Client
	interval  time.Duration
	batchSize int
}

func NewPoller(store Store, client queue.Client, interval time.Duration, batchSize int) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Poller{store: store, client: client, interval: interval, batchSize: batchSize}
}

// Run polls until ctx is canceled.
func (p *Poller) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Drain(ctx); err != nil {
				log.Error("outbox poll failed", "error", err)
			}
		}
	}
}

// Drain publishes one batch of pending rows. Exposed separately so tests
// and the manual-run path can flush synchronously.
func (p *Poller) Drain(ctx context.Context) error {
	rows, err := p.store.ClaimPending(ctx, p.batchSize)
	if err != nil {
		return fmt.Errorf("failed to claim outbox rows: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	log := logger.FromContext(ctx)
	published := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		if err := p.publish(ctx, row); err != nil {
			log.Error("failed to publish outbox row", "row_id", row.ID, "error", err)
			if markErr := p.store.MarkFailed(ctx, row.ID); markErr != nil {
				log.Error("failed to record outbox attempt", "row_id", row.ID, "error", markErr)
			}
			continue
		}
		published = append(published, row.ID)
	}
	if len(published) == 0 {
		return nil
	}
	if err := p.store.MarkPublished(ctx, published); err != nil {
		return fmt.Errorf("failed to mark outbox rows published: %w", err)
	}
	return nil
}

func (p *Poller) publish(ctx context.Context, row *Row) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := p.client.Enqueue(
			ctx,
			tasks.TypeDeliverEvent,
			row.Payload,
			queue.WithQueue(queue.QueueAutomations),
		)
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
