package models

import (
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Agent represents a registered agent in the mesh
type Agent struct {
	ID             string         `json:"id" db:"id"`
	Name           string         `json:"name" db:"name"`
	Specialization string         `json:"specialization,omitempty" db:"specialization"`
	Capabilities   pq.StringArray `json:"capabilities" db:"capabilities"`

	// Scoring inputs used by team formation and negotiation resolution
	PerformanceRating  float64 `json:"performance_rating" db:"performance_rating"`
	CollaborationScore float64 `json:"collaboration_score" db:"collaboration_score"`
	CostPerToken       float64 `json:"cost_per_token" db:"cost_per_token"`

	Available bool    `json:"available" db:"available"`
	Metadata  JSONMap `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Capability represents a named agent capability
type Capability struct {
	ID              string    `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	Category        string    `json:"category,omitempty" db:"category"`
	ComplexityLevel int       `json:"complexity_level" db:"complexity_level"`
	IsCore          bool      `json:"is_core" db:"is_core"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Helper methods

// HasCapability checks whether the agent holds the given capability
func (a *Agent) HasCapability(capabilityID string) bool {
	for _, c := range a.Capabilities {
		if c == capabilityID {
			return true
		}
	}
	return false
}

// HasAllCapabilities checks whether the agent holds every given capability
func (a *Agent) HasAllCapabilities(capabilityIDs []string) bool {
	for _, id := range capabilityIDs {
		if !a.HasCapability(id) {
			return false
		}
	}
	return true
}

// AddCapability adds a capability, preserving set semantics
func (a *Agent) AddCapability(capabilityID string) {
	if a.HasCapability(capabilityID) {
		return
	}
	a.Capabilities = append(a.Capabilities, capabilityID)
}

// SetDefaultValues sets default values for a new agent
func (a *Agent) SetDefaultValues() {
	if a.Capabilities == nil {
		a.Capabilities = pq.StringArray{}
	}
	if a.Metadata == nil {
		a.Metadata = make(JSONMap)
	}
}

// Validate validates the agent fields
func (a *Agent) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	if a.PerformanceRating < 0 || a.PerformanceRating > 10 {
		return fmt.Errorf("performance rating must be in [0, 10]: %f", a.PerformanceRating)
	}
	if a.CollaborationScore < 0 || a.CollaborationScore > 1 {
		return fmt.Errorf("collaboration score must be in [0, 1]: %f", a.CollaborationScore)
	}
	if a.CostPerToken < 0 {
		return fmt.Errorf("cost per token must be non-negative: %f", a.CostPerToken)
	}
	return nil
}

// Validate validates the capability fields
func (c *Capability) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("capability name is required")
	}
	if c.ComplexityLevel < 0 {
		return fmt.Errorf("complexity level must be non-negative: %d", c.ComplexityLevel)
	}
	return nil
}
