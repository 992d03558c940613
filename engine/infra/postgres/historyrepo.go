package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/pubflow/pubflow/engine/core"
	"github.com/pubflow/pubflow/engine/history"
)

var historyColumns = []string{
	"id",
	"table_name",
	"pub_id",
	"operation",
	"old_row_data",
	"new_row_data",
	"actor",
	"created_at",
}

// HistoryRepo implements history.Repository backed by a pgx-compatible
// pool. Passing a pgx.Tx as the DB makes appends transactional with the
// mutation they audit.
type HistoryRepo struct {
	db DB
}

func NewHistoryRepo(db DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

type historyDB struct {
	ID         string    `db:"id"`
	TableName  string    `db:"table_name"`
	PubID      string    `db:"pub_id"`
	Operation  string    `db:"operation"`
	OldRowData []byte    `db:"old_row_data"`
	NewRowData []byte    `db:"new_row_data"`
	Actor      string    `db:"actor"`
	CreatedAt  time.Time `db:"created_at"`
}

func (h *historyDB) toEntry() (*history.Entry, error) {
	actor, err := core.ParseActor(h.Actor)
	if err != nil {
		return nil, fmt.Errorf("decoding history actor: %w", err)
	}
	out := &history.Entry{
		ID:        core.ID(h.ID),
		Table:     h.TableName,
		PubID:     core.ID(h.PubID),
		Operation: core.OperationType(h.Operation),
		Actor:     actor,
		CreatedAt: h.CreatedAt,
	}
	if err := fromJSONBMap(h.OldRowData, &out.OldRowData); err != nil {
		return nil, fmt.Errorf("decoding old row data: %w", err)
	}
	if err := fromJSONBMap(h.NewRowData, &out.NewRowData); err != nil {
		return nil, fmt.Errorf("decoding new row data: %w", err)
	}
	return out, nil
}

func (r *HistoryRepo) Append(ctx context.Context, entry *history.Entry) error {
	oldData, err := toJSONB(entry.OldRowData)
	if err != nil {
		return fmt.Errorf("marshaling old row data: %w", err)
	}
	newData, err := toJSONB(entry.NewRowData)
	if err != nil {
		return fmt.Errorf("marshaling new row data: %w", err)
	}
	sql, args, err := squirrel.Insert("history").
		Columns(historyColumns...).
		Values(entry.ID, entry.Table, entry.PubID, string(entry.Operation),
			oldData, newData, entry.Actor.String(), entry.CreatedAt).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}
	return nil
}

// Latest returns the most recent entry for the audited row, or nil when
// none exists.
func (r *HistoryRepo) Latest(ctx context.Context, table string, pubID core.ID) (*history.Entry, error) {
	sql, args, err := squirrel.Select(historyColumns...).
		From("history").
		Where(squirrel.Eq{"table_name": table, "pub_id": pubID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(1).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var row historyDB
	if err := pgxscan.Get(ctx, r.db, &row, sql, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning history entry: %w", err)
	}
	return row.toEntry()
}

func (r *HistoryRepo) List(ctx context.Context, pubID core.ID, limit int) ([]*history.Entry, error) {
	sb := squirrel.Select(historyColumns...).
		From("history").
		Where(squirrel.Eq{"pub_id": pubID}).
		OrderBy("created_at DESC", "id DESC").
		PlaceholderFormat(squirrel.Dollar)
	if limit > 0 {
		sb = sb.Limit(uint64(limit))
	}
	sql, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var rows []*historyDB
	if err := pgxscan.Select(ctx, r.db, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning history entries: %w", err)
	}
	entries := make([]*history.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
