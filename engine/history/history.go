package history

import (
	"context"
	"fmt"
	"time"

	"github.com/pubflow/pubflow/engine/core"
)

// Entry is one immutable row of the audit log. Old/new row data are
// mutually constrained by the operation type: inserts carry only new data,
// deletes only old data, updates both.
type Entry struct {
	ID         core.ID            `json:"id"`
	Table      string             `json:"table"`
	PubID      core.ID            `json:"pubId"`
	Operation  core.OperationType `json:"operation"`
	OldRowData map[string]any     `json:"oldRowData,omitempty"`
	NewRowData map[string]any     `json:"newRowData,omitempty"`
	Actor      core.Actor         `json:"actor"`
	CreatedAt  time.Time          `json:"createdAt"`
}

// Repository persists history entries. Latest returns the most recent entry
// for the audited row, or nil when none exists.
type Repository interface {
	Append(ctx context.Context, entry *Entry) error
	Latest(ctx context.Context, table string, pubID core.ID) (*Entry, error)
	List(ctx context.Context, pubID core.ID, limit int) ([]*Entry, error)
}

// Recorder guards the audit log invariants before anything reaches storage.
type Recorder struct {
	repo Repository
}

func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo}
}

// Record validates and appends one entry. Every mutating statement on an
// audited table must attribute itself explicitly; an update whose actor
// carries the same logical timestamp as the previous entry is rejected with
// missing-explicit-attribution. That failure is fatal for the surrounding
// transaction and is never retried.
func (r *Recorder) Record(ctx context.Context, entry *Entry) error {
	if err := validate(entry); err != nil {
		return err
	}
	if entry.Operation == core.OperationUpdate {
		prev, err := r.repo.Latest(ctx, entry.Table, entry.PubID)
		if err != nil {
			return fmt.Errorf("failed to load previous history entry: %w", err)
		}
		if prev != nil && prev.Actor.Seq == entry.Actor.Seq {
			return core.NewError(core.CodeMissingAttribution,
				"attribution was not explicitly set for this statement",
				map[string]any{"table": entry.Table, "pubId": entry.PubID.String()})
		}
	}
	if entry.ID.IsZero() {
		entry.ID = core.MustNewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return r.repo.Append(ctx, entry)
}

func validate(entry *Entry) error {
	if entry.Table == "" {
		return fmt.Errorf("history entry is missing a table")
	}
	if entry.PubID.IsZero() {
		return fmt.Errorf("history entry is missing a pub id")
	}
	if entry.Actor.IsZero() {
		return core.NewError(core.CodeMissingAttribution,
			"history entry has no attribution",
			map[string]any{"table": entry.Table, "pubId": entry.PubID.String()})
	}
	switch entry.Operation {
	case core.OperationInsert:
		if entry.OldRowData != nil {
			return fmt.Errorf("insert entry must not carry old row data")
		}
		if entry.NewRowData == nil {
			return fmt.Errorf("insert entry requires new row data")
		}
	case core.OperationUpdate:
		if entry.OldRowData == nil || entry.NewRowData == nil {
			return fmt.Errorf("update entry requires both old and new row data")
		}
	case core.OperationDelete:
		if entry.NewRowData != nil {
			return fmt.Errorf("delete entry must not carry new row data")
		}
		if entry.OldRowData == nil {
			return fmt.Errorf("delete entry requires old row data")
		}
	default:
		return fmt.Errorf("unknown operation type %q", entry.Operation)
	}
	return nil
}
