// Package postgres implements repository.Store over PostgreSQL using sqlx.
// Optimistic locking on contexts and teams is enforced with a version
// predicate on UPDATE; zero affected rows reports repository.ErrOptimisticLock.
package postgres

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/agent-mesh/agent-mesh/pkg/observability"
	"github.com/agent-mesh/agent-mesh/pkg/repository"
)

// Store is a PostgreSQL-backed repository.Store
type Store struct {
	writeDB *sqlx.DB
	readDB  *sqlx.DB
	logger  observability.Logger
	tracer  observability.StartSpanFunc
}

// NewStore creates a PostgreSQL store. Pass the same handle for writeDB and
// readDB when no read replica is configured.
func NewStore(writeDB, readDB *sqlx.DB, logger observability.Logger, tracer observability.StartSpanFunc) *Store {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if tracer == nil {
		tracer = observability.NoopStartSpan
	}
	return &Store{
		writeDB: writeDB,
		readDB:  readDB,
		logger:  logger,
		tracer:  tracer,
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

// translateError maps database errors onto the repository sentinels
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return repository.ErrNotFound
	}
	if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" {
		return repository.ErrAlreadyExists
	}
	return err
}
