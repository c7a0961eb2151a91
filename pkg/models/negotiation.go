package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Negotiation represents a round-based agreement protocol among agents
type Negotiation struct {
	ID             string         `json:"id" db:"id"`
	InitiatorID    string         `json:"initiator_id" db:"initiator_id"`
	ParticipantIDs pq.StringArray `json:"participant_ids" db:"participant_ids"`
	Subject        string         `json:"subject" db:"subject"`
	Resources      JSONMap        `json:"resources,omitempty" db:"resources"`

	Status    NegotiationStatus `json:"status" db:"status"`
	StartTime time.Time         `json:"start_time" db:"start_time"`
	EndTime   *time.Time        `json:"end_time,omitempty" db:"end_time"`

	CurrentRound int           `json:"current_round" db:"current_round"`
	MaxRounds    int           `json:"max_rounds" db:"max_rounds"`
	Timeout      time.Duration `json:"timeout" db:"timeout_ns"`

	// Latest proposal per agent
	Proposals ProposalMap      `json:"proposals" db:"proposals"`
	Messages  MessageList      `json:"messages" db:"messages"`
	State     NegotiationState `json:"state" db:"state"`

	ConflictResolutionStrategy ResolutionStrategy `json:"conflict_resolution_strategy" db:"conflict_resolution_strategy"`
}

// NegotiationStatus represents the lifecycle state of a negotiation
type NegotiationStatus string

const (
	NegotiationStatusInitiated  NegotiationStatus = "initiated"
	NegotiationStatusInProgress NegotiationStatus = "in_progress"
	NegotiationStatusSuccessful NegotiationStatus = "successful"
	NegotiationStatusFailed     NegotiationStatus = "failed"
	NegotiationStatusTimeout    NegotiationStatus = "timeout"
)

// ResolutionStrategy selects how conflicts are resolved when rounds or time
// run out
type ResolutionStrategy string

const (
	ResolutionPriorityBased ResolutionStrategy = "priority_based"
	ResolutionCompromise    ResolutionStrategy = "compromise"
	ResolutionVoting        ResolutionStrategy = "voting"
	ResolutionOptimization  ResolutionStrategy = "optimization"
)

// IsValid reports whether the strategy is a known value
func (s ResolutionStrategy) IsValid() bool {
	switch s {
	case ResolutionPriorityBased, ResolutionCompromise, ResolutionVoting, ResolutionOptimization:
		return true
	default:
		return false
	}
}

// MessageType tags what a negotiation message carries
type MessageType string

const (
	MessageTypeProposal        MessageType = "proposal"
	MessageTypeCounterProposal MessageType = "counter_proposal"
	MessageTypeAccept          MessageType = "accept"
	MessageTypeReject          MessageType = "reject"
	MessageTypeResolution      MessageType = "resolution"
)

// SystemSender is the sender recorded on engine-generated messages
const SystemSender = "system"

// NegotiationMessage is one entry in a negotiation's ordered transcript
type NegotiationMessage struct {
	ID        string      `json:"id"`
	Sender    string      `json:"sender"`
	Type      MessageType `json:"type"`
	Content   JSONMap     `json:"content,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	InReplyTo *string     `json:"in_reply_to,omitempty"`
}

// Proposal is a map from resource key to a proposed value. Values are
// scalars or allocation maps keyed by agent ID.
type Proposal map[string]interface{}

// Clone returns a deep copy of the proposal
func (p Proposal) Clone() Proposal {
	if p == nil {
		return nil
	}
	copied := DeepCopyValue(map[string]interface{}(p))
	return Proposal(copied.(map[string]interface{}))
}

// Equal reports structural equality with another proposal
func (p Proposal) Equal(other Proposal) bool {
	return ValueEqual(map[string]interface{}(p), map[string]interface{}(other))
}

// ProposalMap stores the latest proposal per agent as a JSON column
type ProposalMap map[string]Proposal

// Value implements driver.Valuer for ProposalMap
func (m ProposalMap) Value() (driver.Value, error) {
	if m == nil {
		return json.Marshal(map[string]Proposal{})
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for ProposalMap
func (m *ProposalMap) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported type for ProposalMap: %T", value)
	}
}

// MessageList is an ordered transcript stored as a JSON column
type MessageList []NegotiationMessage

// Value implements driver.Valuer for MessageList
func (l MessageList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]NegotiationMessage{})
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for MessageList
func (l *MessageList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported type for MessageList: %T", value)
	}
}

// NegotiationState carries the mutable protocol bookkeeping. Acceptances
// record which proposal message each agent accepted, so an ACCEPT is always
// evaluated against the proposal that was current when it arrived.
type NegotiationState struct {
	FinalAgreement    Proposal          `json:"final_agreement,omitempty"`
	Acceptances       map[string]string `json:"acceptances,omitempty"`
	CurrentProposalID string            `json:"current_proposal_id,omitempty"`
	RoundResponses    map[string]bool   `json:"round_responses,omitempty"`
}

// Value implements driver.Valuer for NegotiationState
func (s NegotiationState) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for NegotiationState
func (s *NegotiationState) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("unsupported type for NegotiationState: %T", value)
	}
}

// Helper methods

// IsActive returns true while the negotiation accepts responses
func (n *Negotiation) IsActive() bool {
	return n.Status == NegotiationStatusInitiated || n.Status == NegotiationStatusInProgress
}

// IsTerminal returns true once the negotiation has closed
func (n *Negotiation) IsTerminal() bool {
	switch n.Status {
	case NegotiationStatusSuccessful, NegotiationStatusFailed, NegotiationStatusTimeout:
		return true
	default:
		return false
	}
}

// IsParty reports whether the agent is the initiator or a participant
func (n *Negotiation) IsParty(agentID string) bool {
	if agentID == n.InitiatorID {
		return true
	}
	for _, p := range n.ParticipantIDs {
		if p == agentID {
			return true
		}
	}
	return false
}

// Parties returns all involved agent IDs, initiator first
func (n *Negotiation) Parties() []string {
	parties := make([]string, 0, len(n.ParticipantIDs)+1)
	parties = append(parties, n.InitiatorID)
	for _, p := range n.ParticipantIDs {
		if p != n.InitiatorID {
			parties = append(parties, p)
		}
	}
	return parties
}

// Duration returns the elapsed time from start to end, or zero while open
func (n *Negotiation) Duration() time.Duration {
	if n.EndTime == nil {
		return 0
	}
	return n.EndTime.Sub(n.StartTime)
}

// SetDefaultValues sets default values for a new negotiation
func (n *Negotiation) SetDefaultValues() {
	if n.Status == "" {
		n.Status = NegotiationStatusInitiated
	}
	if n.CurrentRound == 0 {
		n.CurrentRound = 1
	}
	if n.Proposals == nil {
		n.Proposals = make(ProposalMap)
	}
	if n.Resources == nil {
		n.Resources = make(JSONMap)
	}
	if n.State.Acceptances == nil {
		n.State.Acceptances = make(map[string]string)
	}
	if n.State.RoundResponses == nil {
		n.State.RoundResponses = make(map[string]bool)
	}
}

// Validate validates the negotiation fields
func (n *Negotiation) Validate() error {
	if n.InitiatorID == "" {
		return fmt.Errorf("negotiation initiator is required")
	}
	if len(n.ParticipantIDs) == 0 {
		return fmt.Errorf("negotiation requires at least one participant")
	}
	if n.MaxRounds < 1 {
		return fmt.Errorf("max rounds must be at least 1: %d", n.MaxRounds)
	}
	if n.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive: %s", n.Timeout)
	}
	if !n.ConflictResolutionStrategy.IsValid() {
		return fmt.Errorf("invalid resolution strategy: %s", n.ConflictResolutionStrategy)
	}
	return nil
}
