package models

import (
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Task represents a unit of work that a team is formed to solve
type Task struct {
	ID          string `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description,omitempty" db:"description"`

	RequiredCapabilities pq.StringArray `json:"required_capabilities" db:"required_capabilities"`
	Priority             int            `json:"priority" db:"priority"`
	Complexity           int            `json:"complexity" db:"complexity"`
	MinTeamSize          int            `json:"min_team_size" db:"min_team_size"`
	MaxTeamSize          int            `json:"max_team_size" db:"max_team_size"`

	Status       TaskStatus `json:"status" db:"status"`
	AssignedTeam *string    `json:"assigned_team,omitempty" db:"assigned_team"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Ordered role requirements, persisted as separate rows
	RequiredRoles []Role `json:"required_roles,omitempty" db:"-"`
}

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskStatusCreated    TaskStatus = "created"
	TaskStatusAssigned   TaskStatus = "assigned"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// validTaskTransitions captures the allowed lifecycle edges
var validTaskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusCreated:    {TaskStatusAssigned, TaskStatusCancelled},
	TaskStatusAssigned:   {TaskStatusInProgress, TaskStatusCancelled},
	TaskStatusInProgress: {TaskStatusCompleted, TaskStatusCancelled},
	TaskStatusCompleted:  {},
	TaskStatusCancelled:  {},
}

// CanTransitionTo reports whether the status change is a valid lifecycle edge
func (t *Task) CanTransitionTo(target TaskStatus) bool {
	for _, allowed := range validTaskTransitions[t.Status] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the task is in a terminal state
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsValid reports whether the status is a known value
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusCreated, TaskStatusAssigned, TaskStatusInProgress, TaskStatusCompleted, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// SetDefaultValues sets default values for a new task
func (t *Task) SetDefaultValues() {
	if t.Status == "" {
		t.Status = TaskStatusCreated
	}
	if t.RequiredCapabilities == nil {
		t.RequiredCapabilities = pq.StringArray{}
	}
	if t.Priority == 0 {
		t.Priority = 5
	}
	if t.Complexity == 0 {
		t.Complexity = 5
	}
	if t.MinTeamSize == 0 {
		t.MinTeamSize = 1
	}
}

// Validate validates the task fields
func (t *Task) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if t.Priority < 1 || t.Priority > 10 {
		return fmt.Errorf("task priority must be in [1, 10]: %d", t.Priority)
	}
	if t.Complexity < 1 || t.Complexity > 10 {
		return fmt.Errorf("task complexity must be in [1, 10]: %d", t.Complexity)
	}
	if t.MaxTeamSize != 0 && t.MaxTeamSize < t.MinTeamSize {
		return fmt.Errorf("max team size %d below min team size %d", t.MaxTeamSize, t.MinTeamSize)
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("invalid task status: %s", t.Status)
	}
	return nil
}
