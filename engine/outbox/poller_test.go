package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pubflow/pubflow/engine/core"
	"github.com/pubflow/pubflow/engine/event"
	"github.com/pubflow/pubflow/engine/infra/queue"
	"github.com/pubflow/pubflow/engine/worker/tasks"
	"github.com/pubflow/pubflow/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	rows    []*Row
	failing map[uuid.UUID]int
}

func newMemStore() *memStore {
	return &memStore{failing: map[uuid.UUID]int{}}
}

func (s *memStore) Insert(_ context.Context, ev *event.Event) (uuid.UUID, error) {
	payload, err := ev.Marshal()
	if err != nil {
		return uuid.Nil, err
	}
	row := &Row{ID: uuid.New(), EventType: string(ev.Type), Payload: payload, CreatedAt: time.Now()}
	s.rows = append(s.rows, row)
	return row.ID, nil
}

func (s *memStore) ClaimPending(_ context.Context, limit int) ([]*Row, error) {
	var claimed []*Row
	for _, row := range s.rows {
		if row.PublishedAt == nil {
			row.Attempts++
			claimed = append(claimed, row)
			if len(claimed) == limit {
				break
			}
		}
	}
	return claimed, nil
}

func (s *memStore) MarkPublished(_ context.Context, ids []uuid.UUID) error {
	now := time.Now()
	for _, row := range s.rows {
		for _, id := range ids {
			if row.ID == id {
				row.PublishedAt = &now
			}
		}
	}
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, id uuid.UUID) error {
	s.failing[id]++
	return nil
}

func (s *memStore) pending() int {
	n := 0
	for _, row := range s.rows {
		if row.PublishedAt == nil {
			n++
		}
	}
	return n
}

func testEvent() *event.Event {
	return &event.Event{
		Type:        event.PubEnteredStage,
		PubID:       core.MustNewID(),
		StageID:     core.ID("stage-review"),
		CommunityID: core.MustNewID(),
	}
}

func testCtx() context.Context {
	return logger.ContextWithLogger(context.Background(), logger.NewForTests())
}

func TestDispatcher(t *testing.T) {
	t.Run("Should append valid events to the store", func(t *testing.T) {
		store := newMemStore()
		d := NewDispatcher(store)
		id, err := d.Dispatch(testCtx(), testEvent())
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, id)
		assert.Len(t, store.rows, 1)
	})

	t.Run("Should refuse invalid events", func(t *testing.T) {
		store := newMemStore()
		d := NewDispatcher(store)
		_, err := d.Dispatch(testCtx(), &event.Event{Type: "bogus"})
		require.Error(t, err)
		assert.Empty(t, store.rows)
	})

	t.Run("Should require a source run on chained events", func(t *testing.T) {
		store := newMemStore()
		d := NewDispatcher(store)
		_, err := d.Dispatch(testCtx(), &event.Event{
			Type:        event.ActionSucceeded,
			PubID:       core.MustNewID(),
			CommunityID: core.MustNewID(),
		})
		assert.Error(t, err)
	})
}

func TestPollerDrain(t *testing.T) {
	t.Run("Should publish pending rows as deliver-event jobs", func(t *testing.T) {
		store := newMemStore()
		client := queue.NewMemoryClient()
		_, err := store.Insert(testCtx(), testEvent())
		require.NoError(t, err)
		_, err = store.Insert(testCtx(), testEvent())
		require.NoError(t, err)

		p := NewPoller(store, client, time.Second, 100)
		require.NoError(t, p.Drain(testCtx()))

		jobs := client.Jobs()
		require.Len(t, jobs, 2)
		assert.Equal(t, tasks.TypeDeliverEvent, jobs[0].Type)
		assert.Equal(t, queue.QueueAutomations, jobs[0].Queue)
		assert.Equal(t, 0, store.pending())

		ev, err := event.Unmarshal(jobs[0].Payload)
		require.NoError(t, err)
		assert.Equal(t, event.PubEnteredStage, ev.Type)
	})

	t.Run("Should leave rows pending when publishing fails", func(t *testing.T) {
		store := newMemStore()
		_, err := store.Insert(testCtx(), testEvent())
		require.NoError(t, err)

		p := NewPoller(store, &failingClient{}, time.Second, 100)
		require.NoError(t, p.Drain(testCtx()))
		assert.Equal(t, 1, store.pending(), "unpublished rows stay eligible for the next sweep")
		assert.Len(t, store.failing, 1)
	})

	t.Run("Should do nothing when the outbox is empty", func(t *testing.T) {
		store := newMemStore()
		client := queue.NewMemoryClient()
		p := NewPoller(store, client, time.Second, 100)
		require.NoError(t, p.Drain(testCtx()))
		assert.Empty(t, client.Jobs())
	})
}

type failingClient struct{}

func (f *failingClient) Enqueue(context.Context, string, []byte, ...queue.Option) (string, error) {
	return "", errors.New("broker unavailable")
}

func (f *failingClient) Close() error { return nil }
