package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/pubflow/pubflow/engine/condition"
	"github.com/pubflow/pubflow/engine/core"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// Instance is one configured action inside an automation: an action type
// plus its stored configuration. Config values may be literals or template
// strings; they stay unresolved until execution.
type Instance struct {
	ID           core.ID        `json:"id"`
	AutomationID core.ID        `json:"automationId"`
	Action       string         `json:"action"`
	Name         string         `json:"name,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	// UseDefaults lists config fields that should fall back to the action
	// schema's default instead of the stored value.
	UseDefaults []string `json:"useDefaults,omitempty"`
	Order       int      `json:"order"`
}

// Automation is the unit a user configures: an ordered list of action
// instances, an optional condition gating the whole run, and an optional
// delay that turns the run into a scheduled one.
type Automation struct {
	ID          core.ID         `json:"id"`
	CommunityID core.ID         `json:"communityId"`
	Name        string          `json:"name"`
	Icon        string          `json:"icon,omitempty"`
	Condition   *condition.Node `json:"condition,omitempty"`
	Delay       string          `json:"delay,omitempty"`
	Instances   []Instance      `json:"instances"`
}

// PrimaryInstance returns the instance rules bind to for matching.
func (a *Automation) PrimaryInstance() (*Instance, error) {
	if len(a.Instances) == 0 {
		return nil, fmt.Errorf("automation %s has no action instances", a.ID)
	}
	return &a.Instances[0], nil
}

// DelayDuration parses the configured delay ("90s", "1h30m", "2d"). A zero
// duration means the automation runs immediately.
func (a *Automation) DelayDuration() (time.Duration, error) {
	if a.Delay == "" {
		return 0, nil
	}
	d, err := str2duration.ParseDuration(a.Delay)
	if err != nil {
		return 0, fmt.Errorf("automation %s has an invalid delay %q: %w", a.ID, a.Delay, err)
	}
	return d, nil
}

// Repository loads automations and their instances.
type Repository interface {
	Get(ctx context.Context, id core.ID) (*Automation, error)
	GetByInstance(ctx context.Context, instanceID core.ID) (*Automation, error)
}
