package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/pubflow/pubflow/engine/core"
	"github.com/pubflow/pubflow/engine/event"
	"github.com/pubflow/pubflow/engine/rule"
)

var ruleColumns = []string{
	"r.id",
	"r.action_instance_id",
	"r.event",
	"r.source_action_instance_id",
	"r.config",
	"r.created_at",
}

// RuleRepo implements rule.Repository backed by a pgx-compatible pool.
type RuleRepo struct {
	db DB
}

func NewRuleRepo(db DB) *RuleRepo {
	return &RuleRepo{db: db}
}

type ruleDB struct {
	ID                     string    `db:"id"`
	ActionInstanceID       string    `db:"action_instance_id"`
	Event                  string    `db:"event"`
	SourceActionInstanceID *string   `db:"source_action_instance_id"`
	Config                 []byte    `db:"config"`
	CreatedAt              time.Time `db:"created_at"`
}

func (r *ruleDB) toRule() (*rule.Rule, error) {
	out := &rule.Rule{
		ID:               core.ID(r.ID),
		ActionInstanceID: core.ID(r.ActionInstanceID),
		Event:            event.Type(r.Event),
		CreatedAt:        r.CreatedAt,
	}
	if r.SourceActionInstanceID != nil {
		src := core.ID(*r.SourceActionInstanceID)
		out.SourceActionInstanceID = &src
	}
	if err := fromJSONB(r.Config, &out.Config); err != nil {
		return nil, fmt.Errorf("decoding rule config: %w", err)
	}
	return out, nil
}

func (r *RuleRepo) Create(ctx context.Context, ru *rule.Rule) error {
	if ru.ID.IsZero() {
		ru.ID = core.MustNewID()
	}
	if ru.CreatedAt.IsZero() {
		ru.CreatedAt = time.Now().UTC()
	}
	cfg, err := toJSONB(ru.Config)
	if err != nil {
		return fmt.Errorf("marshaling rule config: %w", err)
	}
	var source *string
	if ru.SourceActionInstanceID != nil {
		s := ru.SourceActionInstanceID.String()
		source = &s
	}
	sql, args, err := squirrel.Insert("rules").
		Columns("id", "action_instance_id", "event", "source_action_instance_id", "config", "created_at").
		Values(ru.ID, ru.ActionInstanceID, string(ru.Event), source, cfg, ru.CreatedAt).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		if isUniqueViolation(err) {
			return rule.ErrRuleExists
		}
		return fmt.Errorf("inserting rule: %w", err)
	}
	return nil
}

func (r *RuleRepo) Delete(ctx context.Context, id core.ID) error {
	sql, args, err := squirrel.Delete("rules").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// ListForEvent returns every rule bound to the event across the community's
// automations, in insertion order.
func (r *RuleRepo) ListForEvent(ctx context.Context, communityID core.ID, ev event.Type) ([]*rule.Rule, error) {
	sql, args, err := squirrel.Select(ruleColumns...).
		From("rules r").
		Join("action_instances ai ON ai.id = r.action_instance_id").
		Join("automations a ON a.id = ai.automation_id").
		Where(squirrel.Eq{"a.community_id": communityID, "r.event": string(ev)}).
		OrderBy("r.created_at ASC").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var rows []*ruleDB
	if err := pgxscan.Select(ctx, r.db, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning rules: %w", err)
	}
	rules := make([]*rule.Rule, 0, len(rows))
	for _, row := range rows {
		ru, err := row.toRule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, ru)
	}
	return rules, nil
}
