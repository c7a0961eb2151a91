package models

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// SharedContext represents a versioned, access-controlled content tree
// shared by collaborating agents
type SharedContext struct {
	ID          string `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	ContextType string `json:"context_type" db:"context_type"`
	OwnerID     string `json:"owner_id" db:"owner_id"`

	CurrentVersionID string  `json:"current_version_id" db:"current_version_id"`
	Content          JSONMap `json:"content" db:"content"`
	IsCompressed     bool    `json:"is_compressed" db:"is_compressed"`

	Subscribers pq.StringArray `json:"subscribers" db:"subscribers"`
	Metadata    JSONMap        `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Optimistic locking
	Version int `json:"version" db:"version"`

	// Access rows, persisted separately
	AccessControl []ContextAccess `json:"access_control,omitempty" db:"-"`
}

// AccessLevel defines what an agent may do with a shared context
type AccessLevel string

const (
	AccessReadOnly  AccessLevel = "read_only"
	AccessReadWrite AccessLevel = "read_write"
	AccessAdmin     AccessLevel = "admin"
)

// accessRank orders levels so a higher level covers every lower one
var accessRank = map[AccessLevel]int{
	AccessReadOnly:  1,
	AccessReadWrite: 2,
	AccessAdmin:     3,
}

// IsValid reports whether the level is a known value
func (l AccessLevel) IsValid() bool {
	_, ok := accessRank[l]
	return ok
}

// Covers reports whether the level grants everything required does
func (l AccessLevel) Covers(required AccessLevel) bool {
	return accessRank[l] >= accessRank[required]
}

// ContextAccess represents one agent's access grant on a context
type ContextAccess struct {
	ContextID string      `json:"context_id" db:"context_id"`
	AgentID   string      `json:"agent_id" db:"agent_id"`
	Level     AccessLevel `json:"level" db:"level"`
	GrantedAt time.Time   `json:"granted_at" db:"granted_at"`
	GrantedBy string      `json:"granted_by" db:"granted_by"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty" db:"expires_at"`
}

// IsExpired reports whether the grant has lapsed at the given instant
func (a *ContextAccess) IsExpired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// ChangeOperation tags what a context change did
type ChangeOperation string

const (
	ChangeOperationCreate ChangeOperation = "create"
	ChangeOperationUpdate ChangeOperation = "update"
	ChangeOperationDelete ChangeOperation = "delete"
	ChangeOperationMerge  ChangeOperation = "merge"
)

// ValueAbsent marks a captured old value for a path that did not exist.
// It is a plain string so change rows stay JSON-serializable.
const ValueAbsent = "__absent__"

// ContextChange records one mutation applied to a context tree
type ContextChange struct {
	Operation ChangeOperation `json:"operation"`
	Path      string          `json:"path"`
	OldValue  interface{}     `json:"old_value,omitempty"`
	NewValue  interface{}     `json:"new_value,omitempty"`
	AgentID   string          `json:"agent_id"`
	Timestamp time.Time       `json:"timestamp"`
	Metadata  JSONMap         `json:"metadata,omitempty"`
}

// ChangeList is an ordered list of changes stored as a JSON column
type ChangeList []ContextChange

// Value implements driver.Valuer for ChangeList
func (c ChangeList) Value() (driver.Value, error) {
	if c == nil {
		return json.Marshal([]ContextChange{})
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner for ChangeList
func (c *ChangeList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return fmt.Errorf("unsupported type for ChangeList: %T", value)
	}
}

// ContextVersion is an immutable snapshot entry in a context's history
type ContextVersion struct {
	ID              string     `json:"id" db:"id"`
	ContextID       string     `json:"context_id" db:"context_id"`
	ParentVersionID *string    `json:"parent_version_id,omitempty" db:"parent_version_id"`
	Timestamp       time.Time  `json:"timestamp" db:"timestamp"`
	AgentID         string     `json:"agent_id" db:"agent_id"`
	Changes         ChangeList `json:"changes" db:"changes"`
	Metadata        JSONMap    `json:"metadata,omitempty" db:"metadata"`
	ContentHash     string     `json:"content_hash" db:"content_hash"`
}

// IsInitial reports whether this is the first version of its context
func (v *ContextVersion) IsInitial() bool {
	return v.ParentVersionID == nil
}

// ComputeContentHash returns a deterministic hash of an ordered change list.
// json.Marshal emits map keys in sorted order, which keeps the hash stable
// for structurally equal changes.
func ComputeContentHash(changes []ContextChange) string {
	data, err := json.Marshal(changes)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Helper methods

// IsSubscribed checks whether the agent is a subscriber
func (c *SharedContext) IsSubscribed(agentID string) bool {
	for _, s := range c.Subscribers {
		if s == agentID {
			return true
		}
	}
	return false
}

// AddSubscriber adds a subscriber, preserving set semantics
func (c *SharedContext) AddSubscriber(agentID string) {
	if c.IsSubscribed(agentID) {
		return
	}
	c.Subscribers = append(c.Subscribers, agentID)
}

// RemoveSubscriber drops a subscriber if present
func (c *SharedContext) RemoveSubscriber(agentID string) {
	for i, s := range c.Subscribers {
		if s == agentID {
			c.Subscribers = append(c.Subscribers[:i], c.Subscribers[i+1:]...)
			return
		}
	}
}

// AccessFor returns the unexpired access row for the agent, if any
func (c *SharedContext) AccessFor(agentID string, now time.Time) *ContextAccess {
	for i := range c.AccessControl {
		a := &c.AccessControl[i]
		if a.AgentID == agentID && !a.IsExpired(now) {
			return a
		}
	}
	return nil
}

// SetDefaultValues sets default values for a new context
func (c *SharedContext) SetDefaultValues() {
	if c.Content == nil {
		c.Content = make(JSONMap)
	}
	if c.Metadata == nil {
		c.Metadata = make(JSONMap)
	}
	if c.Subscribers == nil {
		c.Subscribers = pq.StringArray{}
	}
}

// Validate validates the context fields
func (c *SharedContext) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("context name is required")
	}
	if c.OwnerID == "" {
		return fmt.Errorf("context owner is required")
	}
	return nil
}
