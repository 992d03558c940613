package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/pubflow/pubflow/engine/automation"
	"github.com/pubflow/pubflow/engine/core"
)

// AutomationRepo implements automation.Repository backed by a
// pgx-compatible pool.
type AutomationRepo struct {
	db DB
}

func NewAutomationRepo(db DB) *AutomationRepo {
	return &AutomationRepo{db: db}
}

type automationDB struct {
	ID          string `db:"id"`
	CommunityID string `db:"community_id"`
	Name        string `db:"name"`
	Icon        string `db:"icon"`
	Condition   []byte `db:"condition"`
	Delay       string `db:"delay"`
}

func (a *automationDB) toAutomation() (*automation.Automation, error) {
	out := &automation.Automation{
		ID:          core.ID(a.ID),
		CommunityID: core.ID(a.CommunityID),
		Name:        a.Name,
		Icon:        a.Icon,
		Delay:       a.Delay,
	}
	if err := fromJSONB(a.Condition, &out.Condition); err != nil {
		return nil, fmt.Errorf("decoding automation condition: %w", err)
	}
	return out, nil
}

type instanceDB struct {
	ID           string `db:"id"`
	AutomationID string `db:"automation_id"`
	Action       string `db:"action"`
	Name         string `db:"name"`
	Config       []byte `db:"config"`
	UseDefaults  []byte `db:"use_defaults"`
	Order        int    `db:"ord"`
}

func (i *instanceDB) toInstance() (automation.Instance, error) {
	out := automation.Instance{
		ID:           core.ID(i.ID),
		AutomationID: core.ID(i.AutomationID),
		Action:       i.Action,
		Name:         i.Name,
		Order:        i.Order,
	}
	if err := fromJSONBMap(i.Config, &out.Config); err != nil {
		return automation.Instance{}, fmt.Errorf("decoding instance config: %w", err)
	}
	var defaults *[]string
	if err := fromJSONB(i.UseDefaults, &defaults); err != nil {
		return automation.Instance{}, fmt.Errorf("decoding instance defaults: %w", err)
	}
	if defaults != nil {
		out.UseDefaults = *defaults
	}
	return out, nil
}

func (r *AutomationRepo) Get(ctx context.Context, id core.ID) (*automation.Automation, error) {
	query := "SELECT id, community_id, name, icon, condition, delay FROM automations WHERE id = $1"
	var row automationDB
	if err := pgxscan.Get(ctx, r.db, &row, query, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAutomationNotFound
		}
		return nil, fmt.Errorf("scanning automation: %w", err)
	}
	auto, err := row.toAutomation()
	if err != nil {
		return nil, err
	}
	if auto.Instances, err = r.listInstances(ctx, auto.ID); err != nil {
		return nil, err
	}
	return auto, nil
}

// GetByInstance resolves the automation owning the given action instance.
// Matching and chained dispatch address automations through their primary
// instance, so this is the hot lookup path.
func (r *AutomationRepo) GetByInstance(ctx context.Context, instanceID core.ID) (*automation.Automation, error) {
	query := `
        SELECT a.id, a.community_id, a.name, a.icon, a.condition, a.delay
        FROM automations a
        JOIN action_instances ai ON ai.automation_id = a.id
        WHERE ai.id = $1
    `
	var row automationDB
	if err := pgxscan.Get(ctx, r.db, &row, query, instanceID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAutomationNotFound
		}
		return nil, fmt.Errorf("scanning automation: %w", err)
	}
	auto, err := row.toAutomation()
	if err != nil {
		return nil, err
	}
	if auto.Instances, err = r.listInstances(ctx, auto.ID); err != nil {
		return nil, err
	}
	return auto, nil
}

func (r *AutomationRepo) listInstances(ctx context.Context, automationID core.ID) ([]automation.Instance, error) {
	sql, args, err := squirrel.Select("id", "automation_id", "action", "name", "config", "use_defaults", "ord").
		From("action_instances").
		Where(squirrel.Eq{"automation_id": automationID}).
		OrderBy("ord ASC").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var rows []*instanceDB
	if err := pgxscan.Select(ctx, r.db, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning instances: %w", err)
	}
	instances := make([]automation.Instance, 0, len(rows))
	for _, row := range rows {
		inst, err := row.toInstance()
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, nil
}
