package condition

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Operator is a leaf comparison operator.
type Operator string

const (
	OpEqual        Operator = "eq"
	OpNotEqual     Operator = "ne"
	OpGreater      Operator = "gt"
	OpGreaterEqual Operator = "gte"
	OpLess         Operator = "lt"
	OpLessEqual    Operator = "lte"
	OpContains     Operator = "contains"
	OpExists       Operator = "exists"
)

// Node is one node of a condition tree: exactly one of And, Or, Not or the
// leaf fields (Field/Operator) is set. The zero node evaluates to true, so
// automations without a condition always run.
type Node struct {
	And []*Node `json:"and,omitempty"`
	Or  []*Node `json:"or,omitempty"`
	Not *Node   `json:"not,omitempty"`

	Field    string   `json:"field,omitempty"`
	Operator Operator `json:"operator,omitempty"`
	Value    any      `json:"value,omitempty"`
}

// IsEmpty reports whether the node carries no condition at all.
func (n *Node) IsEmpty() bool {
	if n == nil {
		return true
	}
	return len(n.And) == 0 && len(n.Or) == 0 && n.Not == nil && n.Field == ""
}

// Parse decodes the stored JSON form of a condition tree. An empty blob is
// a valid absent condition.
func Parse(raw []byte) (*Node, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var node Node
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("failed to parse condition: %w", err)
	}
	return &node, nil
}

// Evaluator resolves condition trees against a data context. Field paths
// use dotted notation over the same context the template resolver sees.
type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate walks the tree with short-circuit semantics. Unknown field paths
// evaluate their leaf to false rather than erroring, keeping chain execution
// resilient to schema drift.
func (e *Evaluator) Evaluate(node *Node, context map[string]any) bool {
	if node.IsEmpty() {
		return true
	}
	doc, err := json.Marshal(context)
	if err != nil {
		return false
	}
	return e.eval(node, doc)
}

func (e *Evaluator) eval(node *Node, doc []byte) bool {
	switch {
	case node == nil:
		return true
	case len(node.And) > 0:
		for _, child := range node.And {
			if !e.eval(child, doc) {
				return false
			}
		}
		return true
	case len(node.Or) > 0:
		for _, child := range node.Or {
			if e.eval(child, doc) {
				return true
			}
		}
		return false
	case node.Not != nil:
		return !e.eval(node.Not, doc)
	default:
		return e.evalLeaf(node, doc)
	}
}

func (e *Evaluator) evalLeaf(node *Node, doc []byte) bool {
	if node.Field == "" {
		return true
	}
	field := gjson.GetBytes(doc, node.Field)
	switch node.Operator {
	case OpExists:
		return field.Exists()
	case OpEqual, "":
		return field.Exists() && equal(field, node.Value)
	case OpNotEqual:
		return field.Exists() && !equal(field, node.Value)
	case OpGreater:
		return compareNumeric(field, node.Value, func(a, b float64) bool { return a > b })
	case OpGreaterEqual:
		return compareNumeric(field, node.Value, func(a, b float64) bool { return a >= b })
	case OpLess:
		return compareNumeric(field, node.Value, func(a, b float64) bool { return a < b })
	case OpLessEqual:
		return compareNumeric(field, node.Value, func(a, b float64) bool { return a <= b })
	case OpContains:
		return contains(field, node.Value)
	default:
		return false
	}
}

func equal(field gjson.Result, value any) bool {
	switch v := value.(type) {
	case nil:
		return field.Type == gjson.Null
	case bool:
		return field.IsBool() && field.Bool() == v
	case string:
		return field.Type == gjson.String && field.Str == v
	case float64:
		return field.Type == gjson.Number && field.Num == v
	case int:
		return field.Type == gjson.Number && field.Num == float64(v)
	case int64:
		return field.Type == gjson.Number && field.Num == float64(v)
	default:
		expected, err := json.Marshal(v)
		if err != nil {
			return false
		}
		var a, b any
		if json.Unmarshal(expected, &a) != nil || json.Unmarshal([]byte(field.Raw), &b) != nil {
			return false
		}
		return deepEqualJSON(a, b)
	}
}

func deepEqualJSON(a, b any) bool {
	aBytes, errA := json.Marshal(a)
	bBytes, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(aBytes) == string(bBytes)
}

func compareNumeric(field gjson.Result, value any, cmp func(a, b float64) bool) bool {
	if field.Type != gjson.Number {
		return false
	}
	expected, ok := toFloat(value)
	if !ok {
		return false
	}
	return cmp(field.Num, expected)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func contains(field gjson.Result, value any) bool {
	switch field.Type {
	case gjson.String:
		s, ok := value.(string)
		return ok && strings.Contains(field.Str, s)
	case gjson.JSON:
		if !field.IsArray() {
			return false
		}
		found := false
		field.ForEach(func(_, item gjson.Result) bool {
			if equal(item, value) {
				found = true
				return false
			}
			return true
		})
		return found
	default:
		return false
	}
}
