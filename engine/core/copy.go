package core

import (
	"fmt"

	"github.com/mohae/deepcopy"
)

// DeepCopyMap returns a deep copy of the provided map[string]any.
func DeepCopyMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	copied, ok := deepcopy.Copy(m).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("failed to copy map")
	}
	return copied, nil
}

// ExtendStack returns a new stack with id appended, leaving the input
// untouched. Call stacks are threaded through chained jobs by value so
// concurrent branches of the same originating event cannot corrupt each
// other's cycle-detection state.
func ExtendStack(stack []ID, id ID) []ID {
	next := make([]ID, 0, len(stack)+1)
	next = append(next, stack...)
	return append(next, id)
}

// StackContains reports whether id already appears in the call stack.
func StackContains(stack []ID, id ID) bool {
	for _, s := range stack {
		if s == id {
			return true
		}
	}
	return false
}
