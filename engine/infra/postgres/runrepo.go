package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/pubflow/pubflow/engine/core"
	"github.com/pubflow/pubflow/engine/run"
)

const runColumnsSQL = "id, automation_id, action_instance_id, pub_id, status, " +
	"config, result, actor, source_action_run_id, created_at, finished_at"

// RunRepo implements run.Repository backed by a pgx-compatible pool.
type RunRepo struct {
	db DB
}

func NewRunRepo(db DB) *RunRepo {
	return &RunRepo{db: db}
}

type runDB struct {
	ID                string     `db:"id"`
	AutomationID      string     `db:"automation_id"`
	ActionInstanceID  string     `db:"action_instance_id"`
	PubID             string     `db:"pub_id"`
	Status            string     `db:"status"`
	Config            []byte     `db:"config"`
	Result            []byte     `db:"result"`
	Actor             string     `db:"actor"`
	SourceActionRunID *string    `db:"source_action_run_id"`
	CreatedAt         time.Time  `db:"created_at"`
	FinishedAt        *time.Time `db:"finished_at"`
}

func (r *runDB) toRun() (*run.Run, error) {
	actor, err := core.ParseActor(r.Actor)
	if err != nil {
		return nil, fmt.Errorf("decoding run actor: %w", err)
	}
	out := &run.Run{
		ID:               core.ID(r.ID),
		AutomationID:     core.ID(r.AutomationID),
		ActionInstanceID: core.ID(r.ActionInstanceID),
		PubID:            core.ID(r.PubID),
		Status:           core.StatusType(r.Status),
		Actor:            actor,
		CreatedAt:        r.CreatedAt,
		FinishedAt:       r.FinishedAt,
	}
	if r.SourceActionRunID != nil {
		out.SourceActionRunID = core.ID(*r.SourceActionRunID)
	}
	if err := fromJSONBMap(r.Config, &out.Config); err != nil {
		return nil, fmt.Errorf("decoding run config: %w", err)
	}
	if err := fromJSONB(r.Result, &out.Result); err != nil {
		return nil, fmt.Errorf("decoding run result: %w", err)
	}
	return out, nil
}

func (r *RunRepo) Create(ctx context.Context, ru *run.Run) error {
	if ru.ID.IsZero() {
		ru.ID = core.MustNewID()
	}
	if ru.CreatedAt.IsZero() {
		ru.CreatedAt = time.Now().UTC()
	}
	cfg, err := toJSONB(ru.Config)
	if err != nil {
		return fmt.Errorf("marshaling run config: %w", err)
	}
	result, err := toJSONB(ru.Result)
	if err != nil {
		return fmt.Errorf("marshaling run result: %w", err)
	}
	var source *string
	if !ru.SourceActionRunID.IsZero() {
		s := ru.SourceActionRunID.String()
		source = &s
	}
	query := `
        INSERT INTO action_runs (
            id, automation_id, action_instance_id, pub_id, status,
            config, result, actor, source_action_run_id, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `
	args := []any{
		ru.ID, ru.AutomationID, ru.ActionInstanceID, ru.PubID, string(ru.Status),
		cfg, result, ru.Actor.String(), source, ru.CreatedAt,
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

func (r *RunRepo) Get(ctx context.Context, id core.ID) (*run.Run, error) {
	query := fmt.Sprintf("SELECT %s FROM action_runs WHERE id = $1", runColumnsSQL)
	var row runDB
	if err := pgxscan.Get(ctx, r.db, &row, query, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	return row.toRun()
}

// Finish transitions the run to a terminal status. The status guard in the
// WHERE clause makes duplicate deliveries observable as run.ErrTerminal
// instead of silently overwriting the recorded outcome.
func (r *RunRepo) Finish(
	ctx context.Context,
	id core.ID,
	status core.StatusType,
	config map[string]any,
	result *run.Result,
) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finish requires a terminal status, got %q", status)
	}
	cfg, err := toJSONB(config)
	if err != nil {
		return fmt.Errorf("marshaling run config: %w", err)
	}
	res, err := toJSONB(result)
	if err != nil {
		return fmt.Errorf("marshaling run result: %w", err)
	}
	query := `
        UPDATE action_runs
        SET status = $2, config = COALESCE($3, config), result = $4, finished_at = now()
        WHERE id = $1 AND status IN ('PENDING', 'RUNNING', 'SCHEDULED')
    `
	tag, err := r.db.Exec(ctx, query, id, string(status), cfg, res)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.Get(ctx, id); errors.Is(getErr, ErrRunNotFound) {
			return ErrRunNotFound
		}
		return run.ErrTerminal
	}
	return nil
}

// MarkRunning flips a scheduled run into running when its timer fires. A
// run already canceled or finished stays untouched and reports ErrTerminal.
func (r *RunRepo) MarkRunning(ctx context.Context, id core.ID) error {
	query := `
        UPDATE action_runs
        SET status = $2
        WHERE id = $1 AND status = $3
    `
	tag, err := r.db.Exec(ctx, query, id, string(core.StatusRunning), string(core.StatusScheduled))
	if err != nil {
		return fmt.Errorf("marking run running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.Get(ctx, id); errors.Is(getErr, ErrRunNotFound) {
			return ErrRunNotFound
		}
		return run.ErrTerminal
	}
	return nil
}
