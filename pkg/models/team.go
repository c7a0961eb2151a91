package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
)

// Team represents a group of agents assembled to solve a task
type Team struct {
	ID     string `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	TaskID string `json:"task_id" db:"task_id"`

	Agents       pq.StringArray `json:"agents" db:"agents"`
	Leader       *string        `json:"leader,omitempty" db:"leader"`
	Capabilities pq.StringArray `json:"capabilities" db:"capabilities"`

	Status            TeamStatus        `json:"status" db:"status"`
	FormationStrategy FormationStrategy `json:"formation_strategy" db:"formation_strategy"`

	PerformanceMetrics JSONMap `json:"performance_metrics" db:"performance_metrics"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Optimistic locking
	Version int `json:"version" db:"version"`

	// Role assignments, persisted as separate rows
	Roles []Role `json:"roles,omitempty" db:"-"`
}

// TeamStatus represents the lifecycle state of a team
type TeamStatus string

const (
	TeamStatusForming   TeamStatus = "forming"
	TeamStatusActive    TeamStatus = "active"
	TeamStatusPartial   TeamStatus = "partial"
	TeamStatusComplete  TeamStatus = "complete"
	TeamStatusDisbanded TeamStatus = "disbanded"
)

// FormationStrategy selects the scoring rule used to build a team
type FormationStrategy string

const (
	StrategyCapability     FormationStrategy = "capability"
	StrategyPerformance    FormationStrategy = "performance"
	StrategyCost           FormationStrategy = "cost"
	StrategySpecialization FormationStrategy = "specialization"
	StrategyBalanced       FormationStrategy = "balanced"
	StrategyDiversity      FormationStrategy = "diversity"
)

// IsValid reports whether the strategy is a known value
func (s FormationStrategy) IsValid() bool {
	switch s {
	case StrategyCapability, StrategyPerformance, StrategyCost,
		StrategySpecialization, StrategyBalanced, StrategyDiversity:
		return true
	default:
		return false
	}
}

// Performance metric keys stored in Team.PerformanceMetrics
const (
	MetricCapabilityCoverage = "capability_coverage"
	MetricPerformanceRating  = "performance_rating"
	MetricCostEfficiency     = "cost_efficiency"
	MetricSpecialization     = "specialization"
	MetricCompositeScore     = "composite_score"
)

// Helper methods

// HasAgent checks whether the agent is a team member
func (t *Team) HasAgent(agentID string) bool {
	for _, a := range t.Agents {
		if a == agentID {
			return true
		}
	}
	return false
}

// AddAgent adds a member, preserving set semantics
func (t *Team) AddAgent(agentID string) {
	if t.HasAgent(agentID) {
		return
	}
	t.Agents = append(t.Agents, agentID)
}

// UnionCapabilities merges the given capability IDs into the team set
func (t *Team) UnionCapabilities(capabilityIDs []string) {
	existing := make(map[string]bool, len(t.Capabilities))
	for _, c := range t.Capabilities {
		existing[c] = true
	}
	for _, c := range capabilityIDs {
		if !existing[c] {
			t.Capabilities = append(t.Capabilities, c)
			existing[c] = true
		}
	}
	sort.Strings(t.Capabilities)
}

// CompositeScore returns the stored composite score, or 0 when unset
func (t *Team) CompositeScore() float64 {
	if t.PerformanceMetrics == nil {
		return 0
	}
	if v, ok := NumericValue(t.PerformanceMetrics[MetricCompositeScore]); ok {
		return v
	}
	return 0
}

// AllRolesFilled reports whether every role has an assigned agent
func (t *Team) AllRolesFilled() bool {
	for i := range t.Roles {
		if !t.Roles[i].Filled {
			return false
		}
	}
	return true
}

// IsDisbanded returns true if the team has been disbanded
func (t *Team) IsDisbanded() bool {
	return t.Status == TeamStatusDisbanded
}

// SetDefaultValues sets default values for a new team
func (t *Team) SetDefaultValues() {
	if t.Status == "" {
		t.Status = TeamStatusForming
	}
	if t.Agents == nil {
		t.Agents = pq.StringArray{}
	}
	if t.Capabilities == nil {
		t.Capabilities = pq.StringArray{}
	}
	if t.PerformanceMetrics == nil {
		t.PerformanceMetrics = make(JSONMap)
	}
}

// Validate validates the team fields
func (t *Team) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("team name is required")
	}
	if t.TaskID == "" {
		return fmt.Errorf("team task ID is required")
	}
	if t.FormationStrategy != "" && !t.FormationStrategy.IsValid() {
		return fmt.Errorf("invalid formation strategy: %s", t.FormationStrategy)
	}
	return nil
}
