package tplengine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/pubflow/pubflow/engine/core"
)

// ExprPrefix marks a bare expression-language string, e.g. "$.pub.title".
const ExprPrefix = "$."

// RecognitionPattern is the regex used by schema wrapping to accept a
// template string wherever a typed value is expected. It must agree with
// HasTemplate.
const RecognitionPattern = `(\{\{[\s\S]*\}\}|^\$\..+)`

// TemplateEngine resolves template strings embedded in automation
// configuration against a data context. It is pure with respect to its
// inputs and safe for concurrent use.
type TemplateEngine struct {
	globalValues map[string]any
}

func NewEngine() *TemplateEngine {
	return &TemplateEngine{globalValues: make(map[string]any)}
}

// AddGlobalValue adds a value visible to every render.
func (e *TemplateEngine) AddGlobalValue(name string, value any) {
	e.globalValues[name] = value
}

// HasTemplate returns true if the string contains template markers or a
// bare expression prefix.
func HasTemplate(s string) bool {
	return strings.Contains(s, "{{") || strings.HasPrefix(s, ExprPrefix)
}

// unterminated reports a "{{" marker with no closing "}}" anywhere after it.
func unterminated(s string) bool {
	open := strings.LastIndex(s, "{{")
	if open == -1 {
		return false
	}
	return !strings.Contains(s[open:], "}}")
}

// Resolve evaluates a raw configuration value against the data context.
// Non-template values pass through unchanged. Template strings are rendered
// and the output re-parsed so the produced value keeps its JSON type.
func (e *TemplateEngine) Resolve(raw any, data map[string]any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return raw, nil
	}
	if !HasTemplate(s) {
		return s, nil
	}
	if unterminated(s) {
		return nil, core.NewError(core.CodeSyntaxError,
			fmt.Sprintf("unterminated template marker in %q", s), nil)
	}
	expr := s
	if strings.HasPrefix(s, ExprPrefix) && !strings.Contains(s, "{{") {
		expr = "{{ " + pathToTemplate(s) + " }}"
	}
	// Simple object references bypass text/template so the referenced
	// value keeps its concrete type (maps, numbers, booleans).
	if path, ok := simpleReferencePath(expr); ok {
		val, found := traversePath(e.withGlobals(data), path)
		if !found {
			return nil, core.NewError(core.CodeExpressionError,
				fmt.Sprintf("unknown path %q", path), nil)
		}
		return val, nil
	}
	rendered, err := e.renderString(expr, data)
	if err != nil {
		return nil, err
	}
	return reparse(rendered)
}

// ResolveMap walks maps and slices, resolving every string leaf. The error
// carries the path of the first offending field.
func (e *TemplateEngine) ResolveMap(value any, data map[string]any) (any, error) {
	return e.resolveAt("", value, data)
}

func (e *TemplateEngine) resolveAt(path string, value any, data map[string]any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		resolved, err := e.Resolve(v, data)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fieldPath(path), err)
		}
		return resolved, nil
	case map[string]any:
		result := make(map[string]any, len(v))
		for k, val := range v {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			resolved, err := e.resolveAt(childPath, val, data)
			if err != nil {
				return nil, err
			}
			result[k] = resolved
		}
		return result, nil
	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			childPath := fmt.Sprintf("%s[%d]", path, i)
			resolved, err := e.resolveAt(childPath, val, data)
			if err != nil {
				return nil, err
			}
			result[i] = resolved
		}
		return result, nil
	default:
		return v, nil
	}
}

func fieldPath(path string) string {
	if path == "" {
		return "."
	}
	return path
}

func (e *TemplateEngine) renderString(templateStr string, data map[string]any) (string, error) {
	tmpl, err := template.New("inline").
		Option("missingkey=error").
		Funcs(sprig.FuncMap()).
		Parse(templateStr)
	if err != nil {
		return "", core.WrapError(core.CodeSyntaxError, "failed to parse template", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, e.withGlobals(data)); err != nil {
		return "", core.WrapError(core.CodeExpressionError, "template execution error", err)
	}
	return buf.String(), nil
}

func (e *TemplateEngine) withGlobals(data map[string]any) map[string]any {
	if len(e.globalValues) == 0 {
		if data == nil {
			return map[string]any{}
		}
		return data
	}
	merged := make(map[string]any, len(data)+len(e.globalValues))
	maps.Copy(merged, e.globalValues)
	maps.Copy(merged, data)
	return merged
}

// reparse converts rendered text back into a typed value: booleans and JSON
// literals become their native types, everything else stays a string.
func reparse(rendered string) (any, error) {
	switch rendered {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	trimmed := strings.TrimSpace(rendered)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var jsonObj any
		if err := json.Unmarshal([]byte(trimmed), &jsonObj); err != nil {
			return nil, core.WrapError(core.CodeParseError,
				"rendered output is not valid JSON", err)
		}
		return jsonObj, nil
	}
	if num, ok := parseNumber(trimmed); ok && trimmed == rendered {
		return num, nil
	}
	return rendered, nil
}

func parseNumber(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	var num json.Number
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&num); err != nil || dec.More() {
		return nil, false
	}
	if i, err := num.Int64(); err == nil {
		return i, true
	}
	if f, err := num.Float64(); err == nil {
		return f, true
	}
	return nil, false
}

// pathToTemplate turns "$.pub.title" into ".pub.title".
func pathToTemplate(s string) string {
	return "." + strings.TrimPrefix(s, ExprPrefix)
}

// simpleReferencePath matches templates of the form "{{ .a.b.c }}" with no
// pipelines or function calls.
func simpleReferencePath(tmpl string) (string, bool) {
	trimmed := strings.TrimSpace(tmpl)
	if !strings.HasPrefix(trimmed, "{{") || !strings.HasSuffix(trimmed, "}}") {
		return "", false
	}
	if strings.Count(trimmed, "{{") != 1 || strings.Count(trimmed, "}}") != 1 {
		return "", false
	}
	content := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
	if !strings.HasPrefix(content, ".") {
		return "", false
	}
	if strings.ContainsAny(content, "| ()\"") {
		return "", false
	}
	return strings.TrimPrefix(content, "."), true
}

func traversePath(data map[string]any, path string) (any, bool) {
	var current any = data
	for part := range strings.SplitSeq(path, ".") {
		if part == "" {
			continue
		}
		m, ok := asTraversableMap(current)
		if !ok {
			return nil, false
		}
		val, exists := m[part]
		if !exists {
			return nil, false
		}
		current = val
	}
	return current, true
}

func asTraversableMap(v any) (map[string]any, bool) {
	switch c := v.(type) {
	case map[string]any:
		return c, true
	case *map[string]any:
		if c != nil {
			return *c, true
		}
	case core.Input:
		return c, true
	case core.Output:
		return c, true
	case *core.Input:
		if c != nil {
			return *c, true
		}
	case *core.Output:
		if c != nil {
			return *c, true
		}
	}
	return nil, false
}
