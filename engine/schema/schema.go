package schema

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"
	"github.com/pubflow/pubflow/engine/core"
)

// Schema is a JSON schema document kept as the plain map it is stored as.
// Compilation happens on use; action schemas are small and validated far
// less often than configs are resolved.
type Schema map[string]any

func (s Schema) String() string {
	data, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(data)
}

// Compile builds the evaluable form of the schema. A nil schema compiles
// to nil, meaning "accept anything".
func (s Schema) Compile() (*jsonschema.Schema, error) {
	if s == nil {
		return nil, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	compiled, err := jsonschema.NewCompiler().Compile(data)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return compiled, nil
}

// Validate checks value against the schema. Failures come back as a
// validation-coded error carrying field-level issues, the same envelope
// the params validator produces.
func (s Schema) Validate(value any) error {
	compiled, err := s.Compile()
	if err != nil {
		return err
	}
	if compiled == nil {
		return nil
	}
	result := compiled.Validate(value)
	if result.Valid {
		return nil
	}
	issues := collectIssues(result)
	if len(issues) == 0 {
		issues = core.IssueList{{Path: "", Message: "value does not satisfy schema"}}
	}
	return core.WrapError(core.CodeValidationError, "schema validation failed", issues)
}
