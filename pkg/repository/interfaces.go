// Package repository defines the persistence contracts for the coordination
// engines. Implementations live in the memory and postgres subpackages and
// must return the package sentinel errors so callers can translate them.
package repository

import (
	"context"

	"github.com/agent-mesh/agent-mesh/pkg/models"
)

// AgentFilter defines filtering options for agent queries
type AgentFilter struct {
	Available      *bool
	Specialization string
	Capability     string
	Limit          int
	Offset         int
}

// TaskFilter defines filtering options for task queries
type TaskFilter struct {
	Status models.TaskStatus
	Limit  int
	Offset int
}

// TeamFilter defines filtering options for team queries
type TeamFilter struct {
	Status  models.TeamStatus
	TaskID  string
	AgentID string
	Limit   int
	Offset  int
}

// ContextFilter defines filtering options for shared context queries
type ContextFilter struct {
	OwnerID     string
	ContextType string
	NameQuery   string
	Limit       int
	Offset      int
}

// NegotiationFilter defines filtering options for negotiation queries
type NegotiationFilter struct {
	Status     models.NegotiationStatus
	ActiveOnly bool
	PartyID    string
	Limit      int
	Offset     int
}

// AgentRepository persists agents
type AgentRepository interface {
	Create(ctx context.Context, agent *models.Agent) error
	Get(ctx context.Context, id string) (*models.Agent, error)
	Update(ctx context.Context, agent *models.Agent) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter AgentFilter) ([]*models.Agent, error)
}

// CapabilityRepository persists the capability catalog
type CapabilityRepository interface {
	Create(ctx context.Context, capability *models.Capability) error
	Get(ctx context.Context, id string) (*models.Capability, error)
	List(ctx context.Context) ([]*models.Capability, error)
}

// TaskRepository persists tasks along with their role requirements
type TaskRepository interface {
	Create(ctx context.Context, task *models.Task) error
	Get(ctx context.Context, id string) (*models.Task, error)
	Update(ctx context.Context, task *models.Task) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter TaskFilter) ([]*models.Task, error)
}

// TeamRepository persists teams along with their role assignments.
// Update enforces optimistic locking: the stored version must equal the
// entity's Version, and the version is bumped by one on success.
// A mismatch returns ErrOptimisticLock.
type TeamRepository interface {
	Create(ctx context.Context, team *models.Team) error
	Get(ctx context.Context, id string) (*models.Team, error)
	Update(ctx context.Context, team *models.Team) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter TeamFilter) ([]*models.Team, error)
}

// ContextRepository persists shared contexts, their access grants and their
// version history. Update enforces the same optimistic locking contract as
// TeamRepository. Version rows are immutable once created.
type ContextRepository interface {
	Create(ctx context.Context, sc *models.SharedContext) error
	Get(ctx context.Context, id string) (*models.SharedContext, error)
	Update(ctx context.Context, sc *models.SharedContext) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter ContextFilter) ([]*models.SharedContext, error)

	UpsertAccess(ctx context.Context, access *models.ContextAccess) error
	DeleteAccess(ctx context.Context, contextID, agentID string) error
	ListAccess(ctx context.Context, contextID string) ([]models.ContextAccess, error)

	CreateVersion(ctx context.Context, version *models.ContextVersion) error
	GetVersion(ctx context.Context, versionID string) (*models.ContextVersion, error)
	ListVersions(ctx context.Context, contextID string) ([]*models.ContextVersion, error)
	CountVersions(ctx context.Context, contextID string) (int, error)
}

// NegotiationRepository persists negotiations
type NegotiationRepository interface {
	Create(ctx context.Context, negotiation *models.Negotiation) error
	Get(ctx context.Context, id string) (*models.Negotiation, error)
	Update(ctx context.Context, negotiation *models.Negotiation) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter NegotiationFilter) ([]*models.Negotiation, error)
}

// Store aggregates the per-kind repositories behind one injection point
type Store interface {
	Agents() AgentRepository
	Capabilities() CapabilityRepository
	Tasks() TaskRepository
	Teams() TeamRepository
	Contexts() ContextRepository
	Negotiations() NegotiationRepository
}
