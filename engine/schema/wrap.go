package schema

import (
	"github.com/pubflow/pubflow/pkg/tplengine"
)

// templateBranch accepts a template string in place of a typed value.
// Validation of the real type is deferred until the template resolves.
var templateBranch = map[string]any{
	"type":    "string",
	"pattern": tplengine.RecognitionPattern,
}

// WrapTemplates returns a copy of s where every leaf property additionally
// accepts a template string. Defaults and nullability modifiers of the
// original property are preserved and re-applied on the wrapper, so a field
// that was optional stays optional after wrapping.
func WrapTemplates(s Schema) Schema {
	if s == nil {
		return nil
	}
	wrapped := wrapNode(map[string]any(s))
	result, ok := wrapped.(map[string]any)
	if !ok {
		return s
	}
	return Schema(result)
}

func wrapNode(node map[string]any) any {
	out := make(map[string]any, len(node))
	for k, v := range node {
		out[k] = v
	}
	if props, ok := out["properties"].(map[string]any); ok {
		wrappedProps := make(map[string]any, len(props))
		for name, prop := range props {
			wrappedProps[name] = wrapProperty(prop)
		}
		out["properties"] = wrappedProps
	}
	return out
}

func wrapProperty(prop any) any {
	m, ok := prop.(map[string]any)
	if !ok {
		return prop
	}
	// Object schemas recurse so nested leaves get wrapped too.
	if _, hasProps := m["properties"]; hasProps {
		return wrapNode(m)
	}
	original := make(map[string]any, len(m))
	for k, v := range m {
		original[k] = v
	}
	wrapper := map[string]any{
		"anyOf": []any{original, templateBranch},
	}
	// Defaults live on the wrapper so they apply whichever branch matches.
	if def, ok := original["default"]; ok {
		wrapper["default"] = def
		delete(original, "default")
	}
	return wrapper
}
