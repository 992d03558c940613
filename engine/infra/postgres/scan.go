package postgres

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// toJSONB marshals a value to JSONB-compatible bytes, returning nil for nil
// input so nullable columns stay NULL.
func toJSONB(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	// Handle typed nil pointers (e.g., (*run.Result)(nil)).
	rv := reflect.ValueOf(v)
	if (rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Map || rv.Kind() == reflect.Slice) && rv.IsNil() {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling to jsonb: %w", err)
	}
	return data, nil
}

// fromJSONB unmarshals JSONB data into a pointer, setting nil if the source
// column was NULL.
func fromJSONB[T any](src []byte, dst **T) error {
	if src == nil {
		*dst = nil
		return nil
	}
	var target T
	if err := json.Unmarshal(src, &target); err != nil {
		return fmt.Errorf("unmarshaling from jsonb: %w", err)
	}
	*dst = &target
	return nil
}

// fromJSONBMap unmarshals a nullable JSONB column into a map, leaving dst
// nil when the column was NULL.
func fromJSONBMap(src []byte, dst *map[string]any) error {
	if src == nil {
		*dst = nil
		return nil
	}
	if err := json.Unmarshal(src, dst); err != nil {
		return fmt.Errorf("unmarshaling from jsonb: %w", err)
	}
	return nil
}
