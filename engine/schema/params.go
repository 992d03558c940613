package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonschema"
	"github.com/pubflow/pubflow/engine/core"
)

// ParamsValidator validates a resolved action configuration against the
// action's real parameter schema and reports field-level issues.
type ParamsValidator struct {
	id     string
	params map[string]any
	schema Schema
}

func NewParamsValidator(params map[string]any, schema Schema, id string) *ParamsValidator {
	return &ParamsValidator{id: id, params: params, schema: schema}
}

// Validate returns nil when the parameters satisfy the schema. Validation
// failures come back as a core.IssueList so callers can surface per-field
// messages. Keys absent from the schema map to invalid-key.
func (v *ParamsValidator) Validate() error {
	if v.schema == nil {
		return nil
	}
	if v.params == nil {
		return fmt.Errorf("validation error for %s: parameters are nil but a schema is defined", v.id)
	}
	if err := v.checkKnownKeys(); err != nil {
		return err
	}
	compiled, err := v.schema.Compile()
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", v.id, err)
	}
	result := compiled.Validate(v.params)
	if result.Valid {
		return nil
	}
	issues := collectIssues(result)
	if len(issues) == 0 {
		issues = core.IssueList{{Path: "", Message: "parameters do not satisfy schema"}}
	}
	return core.WrapError(core.CodeValidationError,
		fmt.Sprintf("invalid parameters for %s", v.id), issues)
}

// checkKnownKeys rejects parameters that reference fields outside the
// schema's declared properties.
func (v *ParamsValidator) checkKnownKeys() error {
	props, ok := v.schema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	var unknown []string
	for key := range v.params {
		if _, exists := props[key]; !exists {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	issues := make(core.IssueList, 0, len(unknown))
	for _, key := range unknown {
		issues = append(issues, core.Issue{Path: key, Message: "field is not part of the action schema"})
	}
	return core.WrapError(core.CodeInvalidKey,
		fmt.Sprintf("unknown config keys for %s", v.id), issues)
}

func collectIssues(result *jsonschema.EvaluationResult) core.IssueList {
	var issues core.IssueList
	walkResult(result, &issues)
	return issues
}

func walkResult(result *jsonschema.EvaluationResult, issues *core.IssueList) {
	if result == nil || result.Valid {
		return
	}
	for _, evalErr := range result.Errors {
		msg := evaluationErrorMessage(evalErr)
		*issues = append(*issues, core.Issue{
			Path:    instancePath(result.InstanceLocation),
			Message: msg,
		})
	}
	for _, detail := range result.Details {
		walkResult(detail, issues)
	}
}

func evaluationErrorMessage(evalErr *jsonschema.EvaluationError) string {
	data, err := json.Marshal(evalErr)
	if err != nil {
		return fmt.Sprintf("%v", evalErr)
	}
	var decoded struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &decoded) == nil && decoded.Message != "" {
		return decoded.Message
	}
	return fmt.Sprintf("%v", evalErr)
}

func instancePath(location string) string {
	trimmed := strings.TrimPrefix(location, "/")
	return strings.ReplaceAll(trimmed, "/", ".")
}
