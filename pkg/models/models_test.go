package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTaskTransitions(t *testing.T) {
	task := &Task{Status: TaskStatusCreated}

	assert.True(t, task.CanTransitionTo(TaskStatusAssigned))
	assert.True(t, task.CanTransitionTo(TaskStatusCancelled))
	assert.False(t, task.CanTransitionTo(TaskStatusCompleted))

	task.Status = TaskStatusAssigned
	assert.True(t, task.CanTransitionTo(TaskStatusInProgress))
	assert.False(t, task.CanTransitionTo(TaskStatusCreated))

	task.Status = TaskStatusCompleted
	assert.False(t, task.CanTransitionTo(TaskStatusInProgress))
	assert.True(t, task.IsTerminal())
}

func TestTaskValidate(t *testing.T) {
	task := &Task{Name: "analysis", Priority: 5, Complexity: 5, Status: TaskStatusCreated}
	assert.NoError(t, task.Validate())

	task.Priority = 11
	assert.Error(t, task.Validate())

	task.Priority = 5
	task.MinTeamSize = 3
	task.MaxTeamSize = 2
	assert.Error(t, task.Validate())
}

func TestTeamUnionCapabilities(t *testing.T) {
	team := &Team{}
	team.SetDefaultValues()

	team.UnionCapabilities([]string{"cap2", "cap1"})
	team.UnionCapabilities([]string{"cap1", "cap3"})

	assert.Equal(t, []string{"cap1", "cap2", "cap3"}, []string(team.Capabilities))
}

func TestTeamAddAgent_SetSemantics(t *testing.T) {
	team := &Team{}
	team.SetDefaultValues()

	team.AddAgent("agent-1")
	team.AddAgent("agent-1")
	team.AddAgent("agent-2")

	assert.Len(t, team.Agents, 2)
	assert.True(t, team.HasAgent("agent-1"))
}

func TestAccessLevelCovers(t *testing.T) {
	assert.True(t, AccessAdmin.Covers(AccessReadOnly))
	assert.True(t, AccessAdmin.Covers(AccessReadWrite))
	assert.True(t, AccessReadWrite.Covers(AccessReadOnly))
	assert.False(t, AccessReadOnly.Covers(AccessReadWrite))
	assert.False(t, AccessReadWrite.Covers(AccessAdmin))
}

func TestContextAccessExpiry(t *testing.T) {
	now := time.Now()
	expired := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	access := &ContextAccess{AgentID: "agent-1", Level: AccessReadOnly, ExpiresAt: &expired}
	assert.True(t, access.IsExpired(now))

	access.ExpiresAt = &future
	assert.False(t, access.IsExpired(now))

	access.ExpiresAt = nil
	assert.False(t, access.IsExpired(now))
}

func TestSharedContextSubscribers(t *testing.T) {
	ctx := &SharedContext{}
	ctx.SetDefaultValues()

	ctx.AddSubscriber("agent-1")
	ctx.AddSubscriber("agent-1")
	assert.Len(t, ctx.Subscribers, 1)

	ctx.RemoveSubscriber("agent-1")
	assert.False(t, ctx.IsSubscribed("agent-1"))
}

func TestComputeContentHash_Deterministic(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	changes := []ContextChange{
		{Operation: ChangeOperationUpdate, Path: "/x", NewValue: 2, AgentID: "agent-1", Timestamp: ts},
	}

	first := ComputeContentHash(changes)
	second := ComputeContentHash(changes)

	assert.NotEmpty(t, first)
	assert.Equal(t, first, second)

	changes[0].NewValue = 3
	assert.NotEqual(t, first, ComputeContentHash(changes))
}

func TestNegotiationParties(t *testing.T) {
	n := &Negotiation{
		InitiatorID:    "agent-1",
		ParticipantIDs: []string{"agent-2", "agent-3", "agent-1"},
	}

	parties := n.Parties()
	assert.Equal(t, []string{"agent-1", "agent-2", "agent-3"}, parties)
	assert.True(t, n.IsParty("agent-3"))
	assert.False(t, n.IsParty("agent-9"))
}

func TestNegotiationLifecycleHelpers(t *testing.T) {
	n := &Negotiation{Status: NegotiationStatusInitiated}
	assert.True(t, n.IsActive())
	assert.False(t, n.IsTerminal())

	n.Status = NegotiationStatusTimeout
	assert.False(t, n.IsActive())
	assert.True(t, n.IsTerminal())
}

func TestProposalCloneAndEqual(t *testing.T) {
	p := Proposal{"cpu": 4, "alloc": map[string]interface{}{"agent-1": 2}}

	clone := p.Clone()
	assert.True(t, p.Equal(clone))

	clone["alloc"].(map[string]interface{})["agent-1"] = 9
	assert.False(t, p.Equal(clone))
	assert.Equal(t, 2, p["alloc"].(map[string]interface{})["agent-1"])
}
