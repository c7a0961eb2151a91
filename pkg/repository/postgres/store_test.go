package postgres_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-mesh/agent-mesh/pkg/models"
	"github.com/agent-mesh/agent-mesh/pkg/observability"
	"github.com/agent-mesh/agent-mesh/pkg/repository"
	"github.com/agent-mesh/agent-mesh/pkg/repository/postgres"
)

func newMockStore(t *testing.T) (*postgres.Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	store := postgres.NewStore(sqlxDB, sqlxDB, observability.NewNoopLogger(), observability.NoopStartSpan)
	return store, mock
}

func TestContextRepository_UpdateBumpsVersion(t *testing.T) {
	store, mock := newMockStore(t)

	sc := &models.SharedContext{
		ID:          "ctx-1",
		Name:        "notes",
		ContextType: "planning",
		OwnerID:     "a1",
		Content:     models.JSONMap{"k": "v"},
		Version:     1,
		UpdatedAt:   time.Now(),
	}

	mock.ExpectExec("UPDATE contexts").
		WithArgs(
			sqlmock.AnyArg(), // name
			sqlmock.AnyArg(), // context_type
			sqlmock.AnyArg(), // owner_id
			sqlmock.AnyArg(), // current_version_id
			sqlmock.AnyArg(), // content
			sqlmock.AnyArg(), // is_compressed
			sqlmock.AnyArg(), // subscribers
			sqlmock.AnyArg(), // metadata
			sqlmock.AnyArg(), // updated_at
			"ctx-1",          // id
			1,                // version predicate
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Contexts().Update(context.Background(), sc))
	assert.Equal(t, 2, sc.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContextRepository_UpdateStaleVersion(t *testing.T) {
	store, mock := newMockStore(t)

	sc := &models.SharedContext{ID: "ctx-1", Name: "notes", OwnerID: "a1", Version: 3}

	mock.ExpectExec("UPDATE contexts").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Contexts().Update(context.Background(), sc)
	assert.ErrorIs(t, err, repository.ErrOptimisticLock)
	assert.Equal(t, 3, sc.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTeamRepository_UpdateStaleVersionRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	team := &models.Team{ID: "team-1", Name: "alpha", TaskID: "task-1", Version: 2}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE teams").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.Teams().Update(context.Background(), team)
	assert.ErrorIs(t, err, repository.ErrOptimisticLock)
	assert.Equal(t, 2, team.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTeamRepository_UpdateRewritesRoles(t *testing.T) {
	store, mock := newMockStore(t)

	agent := "a1"
	team := &models.Team{
		ID:      "team-1",
		Name:    "alpha",
		TaskID:  "task-1",
		Agents:  pq.StringArray{"a1"},
		Status:  models.TeamStatusActive,
		Version: 1,
		Roles: []models.Role{
			{ID: "r1", Name: "lead", Priority: 3, Filled: true, AssignedAgent: &agent},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE teams").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM team_roles").
		WithArgs("team-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO team_roles").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Teams().Update(context.Background(), team))
	assert.Equal(t, 2, team.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAgentRepository_GetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM agents").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Agents().Get(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAgentRepository_CreateDuplicate(t *testing.T) {
	store, mock := newMockStore(t)

	agent := &models.Agent{ID: "agent-1", Name: "dup", CreatedAt: time.Now(), UpdatedAt: time.Now()}

	mock.ExpectExec("INSERT INTO agents").
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.Agents().Create(context.Background(), agent)
	assert.ErrorIs(t, err, repository.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNegotiationRepository_GetScansJSONColumns(t *testing.T) {
	store, mock := newMockStore(t)

	start := time.Now().UTC().Truncate(time.Second)
	rows := sqlmock.NewRows([]string{
		"id", "initiator_id", "participant_ids", "subject", "resources",
		"status", "start_time", "end_time", "current_round", "max_rounds",
		"timeout_ns", "proposals", "messages", "state", "conflict_resolution_strategy",
	}).AddRow(
		"neg-1", "a1", "{a1,b2}", "cpu split", []byte(`{"cpu":{"total":8}}`),
		"in_progress", start, nil, 2, 10,
		int64(15*time.Second), []byte(`{"a1":{"cpu":4}}`), []byte(`[]`),
		[]byte(`{"acceptances":{},"round_responses":{"a1":true}}`), "priority_based",
	)

	mock.ExpectQuery("SELECT (.+) FROM negotiations").
		WithArgs("neg-1").
		WillReturnRows(rows)

	negotiation, err := store.Negotiations().Get(context.Background(), "neg-1")
	require.NoError(t, err)

	assert.Equal(t, "a1", negotiation.InitiatorID)
	assert.Equal(t, pq.StringArray{"a1", "b2"}, negotiation.ParticipantIDs)
	assert.Equal(t, models.NegotiationStatusInProgress, negotiation.Status)
	assert.Equal(t, 15*time.Second, negotiation.Timeout)
	require.Contains(t, negotiation.Proposals, "a1")
	assert.Equal(t, float64(4), negotiation.Proposals["a1"]["cpu"])
	assert.True(t, negotiation.State.RoundResponses["a1"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
