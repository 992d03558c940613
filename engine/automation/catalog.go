package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pubflow/pubflow/engine/core"
	"github.com/pubflow/pubflow/engine/pub"
	"github.com/pubflow/pubflow/engine/schema"
	"github.com/pubflow/pubflow/pkg/logger"
)

// ExecInput is what an action executor receives: the resolved config (all
// templates already substituted and validated), a fresh pub snapshot and
// the actor mutating actions must attribute their writes to. Stack is the
// chain call stack including the acting run; mutating actions must pass it
// along so the lifecycle events they cause stay cycle-checkable.
type ExecInput struct {
	Pub      *pub.Snapshot
	Config   map[string]any
	Actor    core.Actor
	Stack    []core.ID
	Deadline time.Time
}

// ExecResult is the executor's structured outcome.
type ExecResult struct {
	Success bool           `json:"success"`
	Report  string         `json:"report,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Executor runs one action with its resolved configuration. Implementations
// should respect ctx's deadline; the engine treats deadline-exceeded as a
// failure outcome.
type Executor func(ctx context.Context, input *ExecInput) (*ExecResult, error)

// Action couples an action name with its parameter schema and executor.
// The engine never inspects action internals beyond this contract.
type Action struct {
	Name   string
	Schema schema.Schema
	Run    Executor
}

// WrappedSchema returns the parameter schema with every leaf also
// accepting a template string.
func (a *Action) WrappedSchema() schema.Schema {
	return schema.WrapTemplates(a.Schema)
}

// Catalog is the read-only action registry, constructed once at process
// start and passed by reference into the executor.
type Catalog struct {
	mu      sync.RWMutex
	actions map[string]*Action
	sealed  bool
}

func NewCatalog() *Catalog {
	return &Catalog{actions: make(map[string]*Action)}
}

// Register adds an action. Registration after Seal or a duplicate name is a
// programming error.
func (c *Catalog) Register(action *Action) error {
	if action == nil || action.Name == "" || action.Run == nil {
		return fmt.Errorf("action registration requires a name and an executor")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return fmt.Errorf("catalog is sealed, cannot register %q", action.Name)
	}
	if _, exists := c.actions[action.Name]; exists {
		return fmt.Errorf("action %q is already registered", action.Name)
	}
	c.actions[action.Name] = action
	return nil
}

// Seal freezes the catalog; lookups after sealing are lock-free reads.
func (c *Catalog) Seal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sealed = true
}

// Lookup resolves an action by name.
func (c *Catalog) Lookup(name string) (*Action, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	action, ok := c.actions[name]
	if !ok {
		return nil, fmt.Errorf("unknown action %q", name)
	}
	return action, nil
}

// Names lists the registered action names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.actions))
	for name := range c.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LogAction is the built-in action that records a message against the pub.
// It doubles as the reference action for tests.
func LogAction() *Action {
	return &Action{
		Name: "log",
		Schema: schema.Schema{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{
					"type":    "string",
					"default": "automation ran",
				},
				"level": map[string]any{
					"type":    "string",
					"enum":    []any{"debug", "info", "warn"},
					"default": "info",
				},
			},
		},
		Run: func(ctx context.Context, input *ExecInput) (*ExecResult, error) {
			log := logger.FromContext(ctx)
			msg, _ := input.Config["message"].(string)
			if msg == "" {
				msg = "automation ran"
			}
			log.Info("log action", "pub_id", input.Pub.ID, "message", msg)
			return &ExecResult{Success: true, Report: msg}, nil
		},
	}
}
