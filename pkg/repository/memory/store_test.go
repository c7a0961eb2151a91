package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-mesh/agent-mesh/pkg/models"
	"github.com/agent-mesh/agent-mesh/pkg/repository"
	"github.com/agent-mesh/agent-mesh/pkg/repository/memory"
)

func newAgent(id string, available bool, capabilities ...string) *models.Agent {
	return &models.Agent{
		ID:           id,
		Name:         "agent " + id,
		Capabilities: pq.StringArray(capabilities),
		Available:    available,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
}

func TestAgentRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	agents := store.Agents()

	agent := newAgent("agent-1", true, "coding")
	require.NoError(t, agents.Create(ctx, agent))
	assert.ErrorIs(t, agents.Create(ctx, agent), repository.ErrAlreadyExists)

	got, err := agents.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "agent agent-1", got.Name)

	// Mutating the returned entity must not reach the store
	got.Name = "changed"
	got.Capabilities[0] = "changed"
	again, err := agents.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "agent agent-1", again.Name)
	assert.Equal(t, "coding", again.Capabilities[0])

	agent.Available = false
	require.NoError(t, agents.Update(ctx, agent))
	updated, err := agents.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.False(t, updated.Available)

	require.NoError(t, agents.Delete(ctx, "agent-1"))
	_, err = agents.Get(ctx, "agent-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, agents.Delete(ctx, "agent-1"), repository.ErrNotFound)
}

func TestAgentRepository_ListFilters(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	agents := store.Agents()

	require.NoError(t, agents.Create(ctx, newAgent("a1", true, "coding", "review")))
	require.NoError(t, agents.Create(ctx, newAgent("a2", false, "coding")))
	require.NoError(t, agents.Create(ctx, newAgent("a3", true, "planning")))

	available := true
	got, err := agents.List(ctx, repository.AgentFilter{Available: &available})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = agents.List(ctx, repository.AgentFilter{Capability: "coding"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = agents.List(ctx, repository.AgentFilter{Available: &available, Capability: "coding"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)
}

func TestTeamRepository_OptimisticLock(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	teams := store.Teams()

	team := &models.Team{
		ID:      "team-1",
		Name:    "alpha",
		TaskID:  "task-1",
		Agents:  pq.StringArray{"a1"},
		Status:  models.TeamStatusActive,
		Version: 1,
	}
	require.NoError(t, teams.Create(ctx, team))

	first, err := teams.Get(ctx, "team-1")
	require.NoError(t, err)
	second, err := teams.Get(ctx, "team-1")
	require.NoError(t, err)

	first.Name = "alpha prime"
	require.NoError(t, teams.Update(ctx, first))
	assert.Equal(t, 2, first.Version)

	second.Name = "alpha stale"
	assert.ErrorIs(t, teams.Update(ctx, second), repository.ErrOptimisticLock)

	got, err := teams.Get(ctx, "team-1")
	require.NoError(t, err)
	assert.Equal(t, "alpha prime", got.Name)
	assert.Equal(t, 2, got.Version)
}

func TestContextRepository_OptimisticLockAndCascade(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	contexts := store.Contexts()

	sc := &models.SharedContext{
		ID:          "ctx-1",
		Name:        "shared notes",
		ContextType: "planning",
		OwnerID:     "a1",
		Content:     models.JSONMap{"k": "v"},
		Version:     1,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, contexts.Create(ctx, sc))

	stale := *sc
	sc.Content = models.JSONMap{"k": "v2"}
	require.NoError(t, contexts.Update(ctx, sc))
	assert.Equal(t, 2, sc.Version)
	assert.ErrorIs(t, contexts.Update(ctx, &stale), repository.ErrOptimisticLock)

	v1 := &models.ContextVersion{ID: "v1", ContextID: "ctx-1", AgentID: "a1", Timestamp: time.Now()}
	parent := "v1"
	v2 := &models.ContextVersion{ID: "v2", ContextID: "ctx-1", ParentVersionID: &parent, AgentID: "a1", Timestamp: time.Now()}
	require.NoError(t, contexts.CreateVersion(ctx, v1))
	require.NoError(t, contexts.CreateVersion(ctx, v2))
	assert.ErrorIs(t, contexts.CreateVersion(ctx, v1), repository.ErrAlreadyExists)

	count, err := contexts.CountVersions(ctx, "ctx-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	listed, err := contexts.ListVersions(ctx, "ctx-1")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "v1", listed[0].ID)
	assert.Equal(t, "v2", listed[1].ID)

	require.NoError(t, contexts.Delete(ctx, "ctx-1"))
	_, err = contexts.GetVersion(ctx, "v1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = contexts.ListVersions(ctx, "ctx-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestContextRepository_AccessRows(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	contexts := store.Contexts()

	sc := &models.SharedContext{ID: "ctx-1", Name: "notes", OwnerID: "a1", Version: 1}
	require.NoError(t, contexts.Create(ctx, sc))

	require.NoError(t, contexts.UpsertAccess(ctx, &models.ContextAccess{
		ContextID: "ctx-1", AgentID: "b2", Level: models.AccessReadOnly, GrantedBy: "a1", GrantedAt: time.Now(),
	}))
	require.NoError(t, contexts.UpsertAccess(ctx, &models.ContextAccess{
		ContextID: "ctx-1", AgentID: "a1", Level: models.AccessAdmin, GrantedBy: "a1", GrantedAt: time.Now(),
	}))

	// Upsert replaces an existing grant in place
	require.NoError(t, contexts.UpsertAccess(ctx, &models.ContextAccess{
		ContextID: "ctx-1", AgentID: "b2", Level: models.AccessReadWrite, GrantedBy: "a1", GrantedAt: time.Now(),
	}))

	rows, err := contexts.ListAccess(ctx, "ctx-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a1", rows[0].AgentID)
	assert.Equal(t, "b2", rows[1].AgentID)
	assert.Equal(t, models.AccessReadWrite, rows[1].Level)

	got, err := contexts.Get(ctx, "ctx-1")
	require.NoError(t, err)
	assert.Len(t, got.AccessControl, 2)

	require.NoError(t, contexts.DeleteAccess(ctx, "ctx-1", "b2"))
	assert.ErrorIs(t, contexts.DeleteAccess(ctx, "ctx-1", "b2"), repository.ErrNotFound)

	err = contexts.UpsertAccess(ctx, &models.ContextAccess{ContextID: "missing", AgentID: "a1"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestNegotiationRepository_ListFilters(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	negotiations := store.Negotiations()

	open := &models.Negotiation{
		ID:             "n1",
		InitiatorID:    "a1",
		ParticipantIDs: pq.StringArray{"b2"},
		Status:         models.NegotiationStatusInProgress,
		StartTime:      time.Now(),
	}
	closed := &models.Negotiation{
		ID:             "n2",
		InitiatorID:    "a1",
		ParticipantIDs: pq.StringArray{"c3"},
		Status:         models.NegotiationStatusSuccessful,
		StartTime:      time.Now().Add(time.Second),
	}
	require.NoError(t, negotiations.Create(ctx, open))
	require.NoError(t, negotiations.Create(ctx, closed))

	got, err := negotiations.List(ctx, repository.NegotiationFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "n1", got[0].ID)

	got, err = negotiations.List(ctx, repository.NegotiationFilter{PartyID: "c3"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "n2", got[0].ID)

	got, err = negotiations.List(ctx, repository.NegotiationFilter{Status: models.NegotiationStatusSuccessful})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "n2", got[0].ID)
}

func TestTaskRepository_ListByStatus(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	tasks := store.Tasks()

	created := &models.Task{ID: "t1", Name: "one", Status: models.TaskStatusCreated, Priority: 5, Complexity: 5, CreatedAt: time.Now()}
	assigned := &models.Task{ID: "t2", Name: "two", Status: models.TaskStatusAssigned, Priority: 5, Complexity: 5, CreatedAt: time.Now()}
	require.NoError(t, tasks.Create(ctx, created))
	require.NoError(t, tasks.Create(ctx, assigned))

	got, err := tasks.List(ctx, repository.TaskFilter{Status: models.TaskStatusAssigned})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t2", got[0].ID)
}
