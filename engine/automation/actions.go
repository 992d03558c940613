package automation

import (
	"context"
	"fmt"

	"github.com/pubflow/pubflow/engine/core"
	"github.com/pubflow/pubflow/engine/pub"
	"github.com/pubflow/pubflow/engine/schema"
)

// SetFieldAction writes one field value on the pub. The write is attributed
// to the acting run, so it shows up in history and can trigger further
// automations through the normal event flow.
func SetFieldAction(pubs pub.Store) *Action {
	return &Action{
		Name: "setField",
		Schema: schema.Schema{
			"type": "object",
			"properties": map[string]any{
				"field": map[string]any{
					"type":      "string",
					"minLength": 1,
				},
				"value": map[string]any{},
			},
			"required": []any{"field"},
		},
		Run: func(ctx context.Context, input *ExecInput) (*ExecResult, error) {
			field, _ := input.Config["field"].(string)
			if field == "" {
				return nil, fmt.Errorf("setField requires a field name")
			}
			changes := map[string]any{field: input.Config["value"]}
			mut := pub.Mutation{Actor: input.Actor, Stack: input.Stack}
			if err := pubs.ApplyFieldChange(ctx, input.Pub.ID, changes, mut); err != nil {
				return nil, fmt.Errorf("failed to set field %q: %w", field, err)
			}
			return &ExecResult{
				Success: true,
				Report:  fmt.Sprintf("set %s on pub %s", field, input.Pub.ID),
			}, nil
		},
	}
}

// MoveToStageAction moves the pub to another stage. The stage change emits
// pubLeftStage and pubEnteredStage, so downstream automations fire with the
// acting run on their call stack.
func MoveToStageAction(pubs pub.Store) *Action {
	return &Action{
		Name: "moveToStage",
		Schema: schema.Schema{
			"type": "object",
			"properties": map[string]any{
				"stageId": map[string]any{
					"type":      "string",
					"minLength": 1,
				},
			},
			"required": []any{"stageId"},
		},
		Run: func(ctx context.Context, input *ExecInput) (*ExecResult, error) {
			stageID, _ := input.Config["stageId"].(string)
			if stageID == "" {
				return nil, fmt.Errorf("moveToStage requires a stage id")
			}
			mut := pub.Mutation{Actor: input.Actor, Stack: input.Stack}
			if err := pubs.MoveToStage(ctx, input.Pub.ID, core.ID(stageID), mut); err != nil {
				return nil, fmt.Errorf("failed to move pub to stage %s: %w", stageID, err)
			}
			return &ExecResult{
				Success: true,
				Report:  fmt.Sprintf("moved pub %s to stage %s", input.Pub.ID, stageID),
			}, nil
		},
	}
}
