package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pubflow/pubflow/engine/event"
)

// Row is one pending event in the outbox table. Rows are appended in the
// same transaction as the mutation that produced the event, so a committed
// mutation is guaranteed to eventually produce a job and a rolled-back one
// produces none.
type Row struct {
	ID          uuid.UUID  `json:"id"`
	EventType   string     `json:"eventType"`
	Payload     []byte     `json:"payload"`
	CreatedAt   time.Time  `json:"createdAt"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	Attempts    int        `json:"attempts"`
}

// Store persists and claims outbox rows. ClaimPending must lock claimed
// rows against concurrent pollers (FOR UPDATE SKIP LOCKED in the Postgres
// implementation).
type Store interface {
	Insert(ctx context.Context, ev *event.Event) (uuid.UUID, error)
	ClaimPending(ctx context.Context, limit int) ([]*Row, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

// Dispatcher is the engine-facing event sink: dispatch appends to the
// outbox and never executes an automation synchronously.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *event.Event) (uuid.UUID, error)
}

// StoreDispatcher adapts a Store into the Dispatcher contract with payload
// validation up front.
type StoreDispatcher struct {
	store Store
}

func NewDispatcher(store Store) *StoreDispatcher {
	return &StoreDispatcher{store: store}
}

func (d *StoreDispatcher) Dispatch(ctx context.Context, ev *event.Event) (uuid.UUID, error) {
	if err := ev.Validate(); err != nil {
		return uuid.Nil, fmt.Errorf("refusing to dispatch invalid event: %w", err)
	}
	id, err := d.store.Insert(ctx, ev)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to append event to outbox: %w", err)
	}
	return id, nil
}
