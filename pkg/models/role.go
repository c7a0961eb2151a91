package models

import (
	"fmt"

	"github.com/lib/pq"
)

// Role represents a position in a team that an agent can fill
type Role struct {
	ID                   string         `json:"id" db:"id"`
	Name                 string         `json:"name" db:"name"`
	RequiredCapabilities pq.StringArray `json:"required_capabilities" db:"required_capabilities"`
	Priority             int            `json:"priority" db:"priority"`
	Categories           pq.StringArray `json:"categories,omitempty" db:"categories"`
	Filled               bool           `json:"filled" db:"filled"`
	AssignedAgent        *string        `json:"assigned_agent,omitempty" db:"assigned_agent"`
	TeamID               string         `json:"team_id,omitempty" db:"team_id"`
}

// Assign marks the role filled by the given agent
func (r *Role) Assign(agentID string) {
	r.AssignedAgent = &agentID
	r.Filled = true
}

// Release clears the role assignment
func (r *Role) Release() {
	r.AssignedAgent = nil
	r.Filled = false
}

// HasCategory checks whether the role carries the given category
func (r *Role) HasCategory(category string) bool {
	for _, c := range r.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// Clone returns a copy of the role with independent slices
func (r *Role) Clone() Role {
	copied := *r
	copied.RequiredCapabilities = append(pq.StringArray{}, r.RequiredCapabilities...)
	copied.Categories = append(pq.StringArray{}, r.Categories...)
	if r.AssignedAgent != nil {
		agent := *r.AssignedAgent
		copied.AssignedAgent = &agent
	}
	return copied
}

// Validate validates the role fields
func (r *Role) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("role name is required")
	}
	if r.Priority < 0 {
		return fmt.Errorf("role priority must be non-negative: %d", r.Priority)
	}
	return nil
}
