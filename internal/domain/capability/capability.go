// Package capability provides capability-based permission management for plugins.
package capability

import (
	"errors"
	"fmt"
	"strings"
)

// Capability errors.
var (
	ErrInvalidCapability = errors.New("invalid capability")
	ErrCapabilityDenied  = errors.New("capability denied")
	ErrPathRestricted    = errors.New("path restricted")
)

// Category represents a capability category.
type Category string

// Category constants.
const (
	CategoryFiles   Category = "files"
	CategoryNetwork Category = "network"
	CategoryEnv     Category = "env"
	CategoryShell   Category = "shell"
	CategorySystem  Category = "system"
)

// Action represents a capability action within a category.
type Action string

// Action constants.
const (
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionExecute Action = "execute"
	ActionFetch   Action = "fetch"
	ActionModify  Action = "modify"
)

// Capability represents a single permission tag.
// Format: "category:action" (e.g. "files:read", "network:fetch").
type Capability struct {
	category Category
	action   Action
	raw      string
}

// New creates a capability from category and action.
func New(category Category, action Action) Capability {
	return Capability{
		category: category,
		action:   action,
		raw:      string(category) + ":" + string(action),
	}
}

// Parse parses a capability tag string.
func Parse(s string) (Capability, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Capability{}, fmt.Errorf("%w: empty capability", ErrInvalidCapability)
	}

	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Capability{}, fmt.Errorf("%w: must be category:action format", ErrInvalidCapability)
	}

	category := Category(parts[0])
	if !isValidCategory(category) {
		return Capability{}, fmt.Errorf("%w: unknown category %q", ErrInvalidCapability, category)
	}

	return Capability{
		category: category,
		action:   Action(parts[1]),
		raw:      s,
	}, nil
}

// MustParse parses a capability tag or panics.
func MustParse(s string) Capability {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Category returns the capability category.
func (c Capability) Category() Category {
	return c.category
}

// Action returns the capability action.
func (c Capability) Action() Action {
	return c.action
}

// String returns the raw tag.
func (c Capability) String() string {
	return c.raw
}

// IsZero returns true if the capability is empty.
func (c Capability) IsZero() bool {
	return c.raw == ""
}

// Matches checks if this capability matches another.
// Supports wildcards: "files:*" matches any files capability.
func (c Capability) Matches(other Capability) bool {
	if c.category != other.category {
		return false
	}
	if c.action == "*" || other.action == "*" {
		return true
	}
	return c.action == other.action
}

// IsDangerous returns true if granting this capability lets the plugin
// act outside the host's observation.
func (c Capability) IsDangerous() bool {
	for _, d := range dangerous {
		if c.Matches(d) {
			return true
		}
	}
	return false
}

// Well-known capabilities.
var (
	CapFilesRead    = New(CategoryFiles, ActionRead)
	CapFilesWrite   = New(CategoryFiles, ActionWrite)
	CapNetworkFetch = New(CategoryNetwork, ActionFetch)
	CapEnvRead      = New(CategoryEnv, ActionRead)
	CapEnvWrite     = New(CategoryEnv, ActionWrite)
	CapShellExecute = New(CategoryShell, ActionExecute)
	CapSystemModify = New(CategorySystem, ActionModify)
)

var dangerous = []Capability{
	CapShellExecute,
	CapSystemModify,
	CapEnvWrite,
}

func isValidCategory(c Category) bool {
	switch c {
	case CategoryFiles, CategoryNetwork, CategoryEnv, CategoryShell, CategorySystem:
		return true
	default:
		return false
	}
}
