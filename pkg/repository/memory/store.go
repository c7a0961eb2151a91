// Package memory provides an in-memory repository.Store used by tests and
// by the embedded single-process mode. All entities are deep-copied on the
// way in and out so callers never share state with the store.
package memory

import (
	"sort"
	"sync"

	"github.com/lib/pq"

	"github.com/agent-mesh/agent-mesh/pkg/models"
	"github.com/agent-mesh/agent-mesh/pkg/repository"
)

// Store is an in-memory implementation of repository.Store
type Store struct {
	mu sync.RWMutex

	agents       map[string]*models.Agent
	capabilities map[string]*models.Capability
	tasks        map[string]*models.Task
	teams        map[string]*models.Team
	contexts     map[string]*models.SharedContext
	negotiations map[string]*models.Negotiation

	// access rows keyed by context ID then agent ID
	access map[string]map[string]models.ContextAccess

	// version rows keyed by version ID, plus per-context insertion order
	versions     map[string]*models.ContextVersion
	versionOrder map[string][]string
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		agents:       make(map[string]*models.Agent),
		capabilities: make(map[string]*models.Capability),
		tasks:        make(map[string]*models.Task),
		teams:        make(map[string]*models.Team),
		contexts:     make(map[string]*models.SharedContext),
		negotiations: make(map[string]*models.Negotiation),
		access:       make(map[string]map[string]models.ContextAccess),
		versions:     make(map[string]*models.ContextVersion),
		versionOrder: make(map[string][]string),
	}
}

// Agents returns the agent repository
func (s *Store) Agents() repository.AgentRepository { return &agentRepository{store: s} }

// Capabilities returns the capability repository
func (s *Store) Capabilities() repository.CapabilityRepository {
	return &capabilityRepository{store: s}
}

// Tasks returns the task repository
func (s *Store) Tasks() repository.TaskRepository { return &taskRepository{store: s} }

// Teams returns the team repository
func (s *Store) Teams() repository.TeamRepository { return &teamRepository{store: s} }

// Contexts returns the shared context repository
func (s *Store) Contexts() repository.ContextRepository { return &contextRepository{store: s} }

// Negotiations returns the negotiation repository
func (s *Store) Negotiations() repository.NegotiationRepository {
	return &negotiationRepository{store: s}
}

// applyWindow applies offset and limit to an already sorted result set
func applyWindow[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneStrings(in pq.StringArray) pq.StringArray {
	if in == nil {
		return nil
	}
	return append(pq.StringArray{}, in...)
}

func cloneStringPtr(in *string) *string {
	if in == nil {
		return nil
	}
	v := *in
	return &v
}

func cloneAgent(a *models.Agent) *models.Agent {
	copied := *a
	copied.Capabilities = cloneStrings(a.Capabilities)
	copied.Metadata = a.Metadata.Clone()
	return &copied
}

func cloneCapability(c *models.Capability) *models.Capability {
	copied := *c
	return &copied
}

func cloneRoles(in []models.Role) []models.Role {
	if in == nil {
		return nil
	}
	out := make([]models.Role, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

func cloneTask(t *models.Task) *models.Task {
	copied := *t
	copied.RequiredCapabilities = cloneStrings(t.RequiredCapabilities)
	copied.AssignedTeam = cloneStringPtr(t.AssignedTeam)
	copied.RequiredRoles = cloneRoles(t.RequiredRoles)
	return &copied
}

func cloneTeam(t *models.Team) *models.Team {
	copied := *t
	copied.Agents = cloneStrings(t.Agents)
	copied.Leader = cloneStringPtr(t.Leader)
	copied.Capabilities = cloneStrings(t.Capabilities)
	copied.PerformanceMetrics = t.PerformanceMetrics.Clone()
	copied.Roles = cloneRoles(t.Roles)
	return &copied
}

func cloneAccess(a models.ContextAccess) models.ContextAccess {
	copied := a
	if a.ExpiresAt != nil {
		expires := *a.ExpiresAt
		copied.ExpiresAt = &expires
	}
	return copied
}

func cloneContext(c *models.SharedContext) *models.SharedContext {
	copied := *c
	copied.Content = c.Content.Clone()
	copied.Subscribers = cloneStrings(c.Subscribers)
	copied.Metadata = c.Metadata.Clone()
	if c.AccessControl != nil {
		copied.AccessControl = make([]models.ContextAccess, len(c.AccessControl))
		for i, a := range c.AccessControl {
			copied.AccessControl[i] = cloneAccess(a)
		}
	}
	return &copied
}

func cloneChanges(in models.ChangeList) models.ChangeList {
	if in == nil {
		return nil
	}
	out := make(models.ChangeList, len(in))
	for i, ch := range in {
		copied := ch
		copied.OldValue = models.DeepCopyValue(ch.OldValue)
		copied.NewValue = models.DeepCopyValue(ch.NewValue)
		copied.Metadata = ch.Metadata.Clone()
		out[i] = copied
	}
	return out
}

func cloneVersion(v *models.ContextVersion) *models.ContextVersion {
	copied := *v
	copied.ParentVersionID = cloneStringPtr(v.ParentVersionID)
	copied.Changes = cloneChanges(v.Changes)
	copied.Metadata = v.Metadata.Clone()
	return &copied
}

func cloneMessages(in models.MessageList) models.MessageList {
	if in == nil {
		return nil
	}
	out := make(models.MessageList, len(in))
	for i, m := range in {
		copied := m
		copied.Content = m.Content.Clone()
		copied.InReplyTo = cloneStringPtr(m.InReplyTo)
		out[i] = copied
	}
	return out
}

func cloneNegotiation(n *models.Negotiation) *models.Negotiation {
	copied := *n
	copied.ParticipantIDs = cloneStrings(n.ParticipantIDs)
	copied.Resources = n.Resources.Clone()
	if n.EndTime != nil {
		end := *n.EndTime
		copied.EndTime = &end
	}
	if n.Proposals != nil {
		copied.Proposals = make(models.ProposalMap, len(n.Proposals))
		for agentID, p := range n.Proposals {
			copied.Proposals[agentID] = p.Clone()
		}
	}
	copied.Messages = cloneMessages(n.Messages)
	copied.State = cloneState(n.State)
	return &copied
}

func cloneState(s models.NegotiationState) models.NegotiationState {
	copied := models.NegotiationState{
		FinalAgreement:    s.FinalAgreement.Clone(),
		CurrentProposalID: s.CurrentProposalID,
	}
	if s.Acceptances != nil {
		copied.Acceptances = make(map[string]string, len(s.Acceptances))
		for k, v := range s.Acceptances {
			copied.Acceptances[k] = v
		}
	}
	if s.RoundResponses != nil {
		copied.RoundResponses = make(map[string]bool, len(s.RoundResponses))
		for k, v := range s.RoundResponses {
			copied.RoundResponses[k] = v
		}
	}
	return copied
}

// sortByCreation orders entities by creation time with the ID as tie-break,
// keeping list results deterministic
func sortByCreation[T any](items []T, createdAt func(T) int64, id func(T) string) {
	sort.Slice(items, func(i, j int) bool {
		ci, cj := createdAt(items[i]), createdAt(items[j])
		if ci != cj {
			return ci < cj
		}
		return id(items[i]) < id(items[j])
	})
}
