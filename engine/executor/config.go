package executor

import (
	"dario.cat/mergo"

	"github.com/pubflow/pubflow/engine/automation"
	"github.com/pubflow/pubflow/engine/core"
)

// buildConfig assembles the effective configuration for one instance:
// stored config, minus fields marked use-default, plus schema defaults for
// missing fields, with any per-call override merged on top.
func buildConfig(
	instance *automation.Instance,
	action *automation.Action,
	override map[string]any,
) map[string]any {
	cfg, err := core.DeepCopyMap(instance.Config)
	if err != nil || cfg == nil {
		cfg = map[string]any{}
	}
	for _, field := range instance.UseDefaults {
		delete(cfg, field)
	}
	applyDefaults(cfg, action.Schema)
	if len(override) > 0 {
		if err := mergo.Merge(&cfg, override, mergo.WithOverride); err == nil {
			return cfg
		}
	}
	return cfg
}

// applyDefaults fills missing fields from the schema's property defaults.
func applyDefaults(cfg map[string]any, s map[string]any) {
	props, ok := s["properties"].(map[string]any)
	if !ok {
		return
	}
	for name, prop := range props {
		if _, set := cfg[name]; set {
			continue
		}
		propMap, ok := prop.(map[string]any)
		if !ok {
			continue
		}
		if def, has := propMap["default"]; has {
			cfg[name] = def
		}
	}
}
