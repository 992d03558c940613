package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/pubflow/pubflow/engine/core"
	"github.com/pubflow/pubflow/engine/event"
	"github.com/pubflow/pubflow/engine/history"
	"github.com/pubflow/pubflow/engine/pub"
)

const pubColumnsSQL = "id, community_id, stage_id, title, field_values, created_at, updated_at"

// PubStore implements pub.Store. Every mutation writes the pub row, its
// history entry and any lifecycle events to the outbox inside a single
// transaction, so a committed mutation always has its audit trail and a
// rolled-back one leaves no events behind.
type PubStore struct {
	db DB
}

func NewPubStore(db DB) *PubStore {
	return &PubStore{db: db}
}

type pubDB struct {
	ID          string    `db:"id"`
	CommunityID string    `db:"community_id"`
	StageID     string    `db:"stage_id"`
	Title       string    `db:"title"`
	Values      []byte    `db:"field_values"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (p *pubDB) toSnapshot() (*pub.Snapshot, error) {
	out := &pub.Snapshot{
		ID:          core.ID(p.ID),
		CommunityID: core.ID(p.CommunityID),
		StageID:     core.ID(p.StageID),
		Title:       p.Title,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if err := fromJSONBMap(p.Values, &out.Values); err != nil {
		return nil, fmt.Errorf("decoding pub values: %w", err)
	}
	if out.Values == nil {
		out.Values = map[string]any{}
	}
	return out, nil
}

func (s *PubStore) GetCurrent(ctx context.Context, id core.ID) (*pub.Snapshot, error) {
	query := fmt.Sprintf("SELECT %s FROM pubs WHERE id = $1", pubColumnsSQL)
	var row pubDB
	if err := pgxscan.Get(ctx, s.db, &row, query, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPubNotFound
		}
		return nil, fmt.Errorf("scanning pub: %w", err)
	}
	return row.toSnapshot()
}

func getForUpdate(ctx context.Context, tx pgx.Tx, id core.ID) (*pub.Snapshot, error) {
	query := fmt.Sprintf("SELECT %s FROM pubs WHERE id = $1 FOR UPDATE", pubColumnsSQL)
	var row pubDB
	if err := pgxscan.Get(ctx, tx, &row, query, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPubNotFound
		}
		return nil, fmt.Errorf("scanning pub with lock: %w", err)
	}
	return row.toSnapshot()
}

// Create inserts a new pub, records the insert in history and emits
// pubEnteredStage for its initial stage.
func (s *PubStore) Create(ctx context.Context, snapshot *pub.Snapshot, actor core.Actor) error {
	if snapshot.ID.IsZero() {
		snapshot.ID = core.MustNewID()
	}
	return withTx(ctx, s.db, func(tx pgx.Tx) error {
		values, err := toJSONB(snapshot.Values)
		if err != nil {
			return fmt.Errorf("marshaling pub values: %w", err)
		}
		query := `
            INSERT INTO pubs (id, community_id, stage_id, title, field_values)
            VALUES ($1, $2, $3, $4, COALESCE($5, '{}'::jsonb))
        `
		if _, err := tx.Exec(ctx, query,
			snapshot.ID, snapshot.CommunityID, snapshot.StageID, snapshot.Title, values); err != nil {
			return fmt.Errorf("inserting pub: %w", err)
		}
		recorder := history.NewRecorder(NewHistoryRepo(tx))
		if err := recorder.Record(ctx, &history.Entry{
			Table:      "pubs",
			PubID:      snapshot.ID,
			Operation:  core.OperationInsert,
			NewRowData: rowData(snapshot),
			Actor:      actor,
		}); err != nil {
			return err
		}
		_, err = NewOutboxStore(tx).Insert(ctx, &event.Event{
			Type:        event.PubEnteredStage,
			PubID:       snapshot.ID,
			StageID:     snapshot.StageID,
			CommunityID: snapshot.CommunityID,
		})
		return err
	})
}

// ApplyFieldChange merges the given field values into the pub. A nil change
// value deletes the field. The mutation and its history entry commit
// together or not at all.
func (s *PubStore) ApplyFieldChange(
	ctx context.Context,
	id core.ID,
	changes map[string]any,
	mut pub.Mutation,
) error {
	if len(changes) == 0 {
		return nil
	}
	return withTx(ctx, s.db, func(tx pgx.Tx) error {
		current, err := getForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		oldData := rowData(current)
		next := make(map[string]any, len(current.Values)+len(changes))
		for k, v := range current.Values {
			next[k] = v
		}
		for k, v := range changes {
			if v == nil {
				delete(next, k)
				continue
			}
			next[k] = v
		}
		values, err := toJSONB(next)
		if err != nil {
			return fmt.Errorf("marshaling pub values: %w", err)
		}
		if _, err := tx.Exec(ctx,
			"UPDATE pubs SET field_values = $2, updated_at = now() WHERE id = $1", id, values); err != nil {
			return fmt.Errorf("updating pub values: %w", err)
		}
		updated := *current
		updated.Values = next
		recorder := history.NewRecorder(NewHistoryRepo(tx))
		return recorder.Record(ctx, &history.Entry{
			Table:      "pubs",
			PubID:      id,
			Operation:  core.OperationUpdate,
			OldRowData: oldData,
			NewRowData: rowData(&updated),
			Actor:      mut.Actor,
		})
	})
}

// MoveToStage transitions the pub to a new stage. It records the update in
// history and appends pubLeftStage and pubEnteredStage to the outbox, all
// in the same transaction. The mutation's chain stack goes onto both
// events; without it a stage move performed by an action would restart
// cycle detection from scratch. Moving to the current stage is a no-op.
func (s *PubStore) MoveToStage(ctx context.Context, id core.ID, stageID core.ID, mut pub.Mutation) error {
	if stageID.IsZero() {
		return fmt.Errorf("target stage id is required")
	}
	return withTx(ctx, s.db, func(tx pgx.Tx) error {
		current, err := getForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.StageID == stageID {
			return nil
		}
		if _, err := tx.Exec(ctx,
			"UPDATE pubs SET stage_id = $2, updated_at = now() WHERE id = $1", id, stageID); err != nil {
			return fmt.Errorf("updating pub stage: %w", err)
		}
		updated := *current
		updated.StageID = stageID
		recorder := history.NewRecorder(NewHistoryRepo(tx))
		if err := recorder.Record(ctx, &history.Entry{
			Table:      "pubs",
			PubID:      id,
			Operation:  core.OperationUpdate,
			OldRowData: rowData(current),
			NewRowData: rowData(&updated),
			Actor:      mut.Actor,
		}); err != nil {
			return err
		}
		ob := NewOutboxStore(tx)
		if _, err := ob.Insert(ctx, &event.Event{
			Type:        event.PubLeftStage,
			PubID:       id,
			StageID:     current.StageID,
			CommunityID: current.CommunityID,
			Stack:       mut.Stack,
		}); err != nil {
			return err
		}
		_, err = ob.Insert(ctx, &event.Event{
			Type:        event.PubEnteredStage,
			PubID:       id,
			StageID:     stageID,
			CommunityID: current.CommunityID,
			Stack:       mut.Stack,
		})
		return err
	})
}

// rowData projects a snapshot into the history row-data shape.
func rowData(s *pub.Snapshot) map[string]any {
	return map[string]any{
		"title":   s.Title,
		"stageId": s.StageID.String(),
		"values":  s.Values,
	}
}
