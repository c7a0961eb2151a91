package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/agent-mesh/agent-mesh/pkg/common/clock"
	"github.com/agent-mesh/agent-mesh/pkg/models"
	"github.com/agent-mesh/agent-mesh/pkg/repository/memory"
)

type negotiationFixture struct {
	store  *memory.Store
	clk    *clock.FakeClock
	engine NegotiationEngine
}

func newNegotiationFixture(t *testing.T, cfg NegotiationEngineConfig) *negotiationFixture {
	t.Helper()
	clk := clock.NewFake(testStart)
	store := memory.NewStore()
	for id, rating := range map[string]float64{
		"agent-i":  8.0,
		"agent-p1": 6.0,
		"agent-p2": 9.0,
		"agent-p3": 5.0,
	} {
		require.NoError(t, store.Agents().Create(context.Background(), &models.Agent{
			ID:                id,
			Name:              id,
			PerformanceRating: rating,
			Available:         true,
		}))
	}
	engine := NewNegotiationEngine(ServiceConfig{Clock: clk}, cfg,
		store.Negotiations(), store.Agents(), nil)
	return &negotiationFixture{store: store, clk: clk, engine: engine}
}

func (f *negotiationFixture) initiate(t *testing.T, params InitiateParams) *models.Negotiation {
	t.Helper()
	if params.InitiatorID == "" {
		params.InitiatorID = "agent-i"
	}
	if params.ParticipantIDs == nil {
		params.ParticipantIDs = []string{"agent-p1", "agent-p2"}
	}
	n, err := f.engine.Initiate(context.Background(), params)
	require.NoError(t, err)
	return n
}

func (f *negotiationFixture) counter(t *testing.T, negotiationID, agentID string, content models.JSONMap) *models.Negotiation {
	t.Helper()
	n, err := f.engine.Respond(context.Background(), negotiationID, agentID, models.MessageTypeCounterProposal, content)
	require.NoError(t, err)
	return n
}

func (f *negotiationFixture) accept(t *testing.T, negotiationID, agentID string) *models.Negotiation {
	t.Helper()
	n, err := f.engine.Respond(context.Background(), negotiationID, agentID, models.MessageTypeAccept, nil)
	require.NoError(t, err)
	return n
}

func lastMessage(n *models.Negotiation) models.NegotiationMessage {
	return n.Messages[len(n.Messages)-1]
}

func TestNegotiation_PriorityResolutionAfterRoundExhaustion(t *testing.T) {
	f := newNegotiationFixture(t, NegotiationEngineConfig{})
	ctx := context.Background()

	n := f.initiate(t, InitiateParams{
		Subject:         "gpu allocation",
		InitialProposal: models.Proposal{"gpu_hours": 40.0},
		MaxRounds:       2,
		Timeout:         time.Hour,
		Strategy:        models.ResolutionPriorityBased,
	})
	assert.Equal(t, models.NegotiationStatusInitiated, n.Status)
	assert.Equal(t, 1, n.CurrentRound)
	require.Len(t, n.Messages, 1)
	assert.Equal(t, models.MessageTypeProposal, n.Messages[0].Type)
	assert.Equal(t, n.Messages[0].ID, n.State.Acceptances["agent-i"],
		"proposing counts as accepting your own proposal")
	assert.True(t, n.State.RoundResponses["agent-i"])

	// Round 1: the two participants respond.
	n = f.counter(t, n.ID, "agent-p1", models.JSONMap{"gpu_hours": 10.0})
	assert.Equal(t, models.NegotiationStatusInProgress, n.Status)
	assert.Equal(t, 1, n.CurrentRound)

	n = f.counter(t, n.ID, "agent-p2", models.JSONMap{"gpu_hours": 25.0})
	assert.Equal(t, 2, n.CurrentRound, "round advances once every party has proposed")
	assert.Empty(t, n.State.RoundResponses)

	// Round 2: everyone counters again, exhausting the round budget.
	n = f.counter(t, n.ID, "agent-i", models.JSONMap{"gpu_hours": 38.0})
	n = f.counter(t, n.ID, "agent-p1", models.JSONMap{"gpu_hours": 12.0})
	n = f.counter(t, n.ID, "agent-p2", models.JSONMap{"gpu_hours": 24.0})

	// agent-p2 carries the highest priority (rating 9.0), beating the
	// initiator's rating bonus.
	assert.Equal(t, models.NegotiationStatusSuccessful, n.Status)
	assert.Equal(t, models.Proposal{"gpu_hours": 24.0}, n.State.FinalAgreement)
	require.NotNil(t, n.EndTime)

	resolution := lastMessage(n)
	assert.Equal(t, models.MessageTypeResolution, resolution.Type)
	assert.Equal(t, models.SystemSender, resolution.Sender)
	assert.Equal(t, models.JSONMap{"gpu_hours": 24.0}, resolution.Content)
	assert.Len(t, n.Messages, 7)

	stored, err := f.engine.GetNegotiation(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NegotiationStatusSuccessful, stored.Status)
}

func TestNegotiation_CompromiseAveragesNumericPositions(t *testing.T) {
	f := newNegotiationFixture(t, NegotiationEngineConfig{})

	n := f.initiate(t, InitiateParams{
		Subject:         "cpu split",
		InitialProposal: models.Proposal{"cpu": 4.0},
		MaxRounds:       1,
		Timeout:         time.Hour,
		Strategy:        models.ResolutionCompromise,
	})
	f.counter(t, n.ID, "agent-p1", models.JSONMap{"cpu": 6.0})
	n = f.counter(t, n.ID, "agent-p2", models.JSONMap{"cpu": 8.0})

	assert.Equal(t, models.NegotiationStatusSuccessful, n.Status)
	require.Contains(t, n.State.FinalAgreement, "cpu")
	assert.InDelta(t, 6.0, n.State.FinalAgreement["cpu"], 1e-9)
}

func TestNegotiation_UnanimousAcceptance(t *testing.T) {
	f := newNegotiationFixture(t, NegotiationEngineConfig{})

	n := f.initiate(t, InitiateParams{
		Subject:         "release plan",
		InitialProposal: models.Proposal{"plan": "ship v2"},
	})
	proposalID := n.State.CurrentProposalID

	n = f.accept(t, n.ID, "agent-p1")
	assert.Equal(t, models.NegotiationStatusInProgress, n.Status)
	accepted := lastMessage(n)
	require.NotNil(t, accepted.InReplyTo)
	assert.Equal(t, proposalID, *accepted.InReplyTo)

	n = f.accept(t, n.ID, "agent-p2")
	assert.Equal(t, models.NegotiationStatusSuccessful, n.Status)
	assert.Equal(t, models.Proposal{"plan": "ship v2"}, n.State.FinalAgreement)
	require.NotNil(t, n.EndTime)

	// Acceptance closes without a resolution round: proposal plus two
	// accepts is the whole transcript.
	assert.Len(t, n.Messages, 3)
	for _, message := range n.Messages {
		assert.NotEqual(t, models.MessageTypeResolution, message.Type)
	}
	assert.Len(t, n.State.Acceptances, 3)
}

func TestNegotiation_CounterInvalidatesEarlierAcceptances(t *testing.T) {
	f := newNegotiationFixture(t, NegotiationEngineConfig{})

	n := f.initiate(t, InitiateParams{
		Subject:         "naming",
		InitialProposal: models.Proposal{"plan": "a"},
	})
	f.accept(t, n.ID, "agent-p1")

	n = f.counter(t, n.ID, "agent-p2", models.JSONMap{"plan": "b"})
	counterID := lastMessage(n).ID
	assert.Equal(t, map[string]string{"agent-p2": counterID}, n.State.Acceptances,
		"a new proposal stands alone; earlier acceptances no longer apply")
	assert.Equal(t, counterID, n.State.CurrentProposalID)

	f.accept(t, n.ID, "agent-i")
	n = f.accept(t, n.ID, "agent-p1")
	assert.Equal(t, models.NegotiationStatusSuccessful, n.Status)
	assert.Equal(t, models.Proposal{"plan": "b"}, n.State.FinalAgreement)
}

func TestNegotiation_Rejection(t *testing.T) {
	f := newNegotiationFixture(t, NegotiationEngineConfig{})
	ctx := context.Background()

	// On the final round a rejection fails the negotiation outright.
	n := f.initiate(t, InitiateParams{
		Subject:         "doomed",
		InitialProposal: models.Proposal{"plan": "a"},
		MaxRounds:       1,
	})
	n, err := f.engine.Respond(ctx, n.ID, "agent-p1", models.MessageTypeReject, nil)
	require.NoError(t, err)
	assert.Equal(t, models.NegotiationStatusFailed, n.Status)
	require.NotNil(t, n.EndTime)
	assert.Nil(t, n.State.FinalAgreement)
	assert.Len(t, n.Messages, 2)

	// With rounds to spare the negotiation stays open.
	n = f.initiate(t, InitiateParams{
		Subject:         "salvageable",
		InitialProposal: models.Proposal{"plan": "a"},
		MaxRounds:       3,
	})
	n, err = f.engine.Respond(ctx, n.ID, "agent-p1", models.MessageTypeReject, nil)
	require.NoError(t, err)
	assert.Equal(t, models.NegotiationStatusInProgress, n.Status)
	assert.Nil(t, n.EndTime)
}

func TestNegotiation_TimeoutResolvesFromProposalsOnTheTable(t *testing.T) {
	f := newNegotiationFixture(t, NegotiationEngineConfig{})

	n := f.initiate(t, InitiateParams{
		Subject:         "slow",
		InitialProposal: models.Proposal{"gpu_hours": 40.0},
		MaxRounds:       5,
		Timeout:         10 * time.Minute,
	})

	f.clk.Advance(11 * time.Minute)
	n = f.accept(t, n.ID, "agent-p1")

	// The late response is still recorded, then the deadline closes the
	// negotiation with the only proposal on the table.
	assert.Equal(t, models.NegotiationStatusTimeout, n.Status)
	assert.Equal(t, models.Proposal{"gpu_hours": 40.0}, n.State.FinalAgreement)
	assert.Equal(t, models.MessageTypeResolution, lastMessage(n).Type)
	require.NotNil(t, n.EndTime)
	assert.Equal(t, 11*time.Minute, n.Duration())
}

func TestNegotiation_SweepTimeouts(t *testing.T) {
	f := newNegotiationFixture(t, NegotiationEngineConfig{})
	ctx := context.Background()

	expired := f.initiate(t, InitiateParams{
		Subject:         "expired",
		InitialProposal: models.Proposal{"plan": "a"},
		Timeout:         5 * time.Minute,
	})
	alive := f.initiate(t, InitiateParams{
		Subject:         "alive",
		InitialProposal: models.Proposal{"plan": "b"},
		Timeout:         time.Hour,
	})

	f.clk.Advance(10 * time.Minute)

	closed, err := f.engine.SweepTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	got, err := f.engine.GetNegotiation(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NegotiationStatusTimeout, got.Status)
	assert.Equal(t, models.Proposal{"plan": "a"}, got.State.FinalAgreement)

	got, err = f.engine.GetNegotiation(ctx, alive.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NegotiationStatusInitiated, got.Status)

	closed, err = f.engine.SweepTimeouts(ctx)
	require.NoError(t, err)
	assert.Zero(t, closed)
}

func TestNegotiationSweeper_ClosesExpiredNegotiations(t *testing.T) {
	f := newNegotiationFixture(t, NegotiationEngineConfig{})
	preexisting := goleak.IgnoreCurrent()

	n := f.initiate(t, InitiateParams{
		Subject:         "abandoned",
		InitialProposal: models.Proposal{"plan": "a"},
		Timeout:         5 * time.Minute,
	})

	sweeper := NewNegotiationSweeper(f.engine, time.Minute, f.clk, nil)
	f.clk.Advance(10 * time.Minute)
	f.clk.Tick()

	require.Eventually(t, func() bool {
		got, err := f.engine.GetNegotiation(context.Background(), n.ID)
		return err == nil && got.Status == models.NegotiationStatusTimeout
	}, 2*time.Second, 5*time.Millisecond)

	sweeper.Stop()
	sweeper.Stop()
	goleak.VerifyNone(t, preexisting)
}

func TestNegotiation_Guards(t *testing.T) {
	f := newNegotiationFixture(t, NegotiationEngineConfig{})
	ctx := context.Background()

	_, err := f.engine.Initiate(ctx, InitiateParams{
		InitiatorID:    "agent-i",
		ParticipantIDs: []string{"agent-p1"},
	})
	assert.ErrorIs(t, err, ErrInvalidArgument, "initial proposal is required")

	_, err = f.engine.Initiate(ctx, InitiateParams{
		InitiatorID:     "agent-i",
		ParticipantIDs:  []string{},
		InitialProposal: models.Proposal{"plan": "a"},
	})
	assert.ErrorIs(t, err, ErrInvalidArgument, "participants are required")

	_, err = f.engine.Initiate(ctx, InitiateParams{
		InitiatorID:     "agent-i",
		ParticipantIDs:  []string{"agent-p1"},
		InitialProposal: models.Proposal{"plan": "a"},
		Strategy:        "galactic",
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.engine.Initiate(ctx, InitiateParams{
		InitiatorID:     "agent-i",
		ParticipantIDs:  []string{"agent-ghost"},
		InitialProposal: models.Proposal{"plan": "a"},
	})
	assert.ErrorIs(t, err, ErrNotFound, "every party must be a registered agent")

	n := f.initiate(t, InitiateParams{
		Subject:         "guarded",
		InitialProposal: models.Proposal{"plan": "a"},
	})

	_, err = f.engine.Respond(ctx, n.ID, "agent-p3", models.MessageTypeAccept, nil)
	assert.ErrorIs(t, err, ErrPermissionDenied, "non-parties cannot respond")

	_, err = f.engine.Respond(ctx, n.ID, "agent-p1", models.MessageTypeResolution, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.engine.Respond(ctx, n.ID, "agent-p1", models.MessageTypeProposal, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.engine.Respond(ctx, n.ID, "agent-p1", models.MessageTypeCounterProposal, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument, "counter proposals need content")

	_, err = f.engine.Respond(ctx, n.ID, "", models.MessageTypeAccept, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.engine.Respond(ctx, "no-such-negotiation", "agent-p1", models.MessageTypeAccept, nil)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.engine.GetNegotiation(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// Once closed, a negotiation accepts no further responses.
	f.accept(t, n.ID, "agent-p1")
	closed := f.accept(t, n.ID, "agent-p2")
	require.Equal(t, models.NegotiationStatusSuccessful, closed.Status)
	_, err = f.engine.Respond(ctx, n.ID, "agent-p1", models.MessageTypeAccept, nil)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestNegotiation_Analyze(t *testing.T) {
	f := newNegotiationFixture(t, NegotiationEngineConfig{})
	ctx := context.Background()

	n := f.initiate(t, InitiateParams{
		Subject:         "gpu allocation",
		InitialProposal: models.Proposal{"gpu_hours": 40.0},
		MaxRounds:       2,
		Timeout:         time.Hour,
		Strategy:        models.ResolutionPriorityBased,
	})

	_, err := f.engine.Analyze(ctx, n.ID)
	assert.ErrorIs(t, err, ErrInvalidState, "open negotiations have no final report")

	f.counter(t, n.ID, "agent-p1", models.JSONMap{"gpu_hours": 10.0})
	f.clk.Advance(2 * time.Second)
	f.counter(t, n.ID, "agent-p2", models.JSONMap{"gpu_hours": 25.0})
	f.counter(t, n.ID, "agent-i", models.JSONMap{"gpu_hours": 38.0})
	f.counter(t, n.ID, "agent-p1", models.JSONMap{"gpu_hours": 12.0})
	f.counter(t, n.ID, "agent-p2", models.JSONMap{"gpu_hours": 24.0})

	report, err := f.engine.Analyze(ctx, n.ID)
	require.NoError(t, err)

	assert.Equal(t, n.ID, report.NegotiationID)
	assert.Equal(t, models.NegotiationStatusSuccessful, report.Status)
	assert.Equal(t, int64(2000), report.DurationMs)
	assert.Equal(t, 2, report.Rounds, "rounds played, not the overflowed counter")
	assert.Equal(t, 3, report.Participants)

	assert.Equal(t, map[string]int{
		"proposal":         1,
		"counter_proposal": 5,
		"resolution":       1,
	}, report.MessagesByType)
	assert.Equal(t, map[string]int{
		"agent-i":  2,
		"agent-p1": 2,
		"agent-p2": 2,
		"system":   1,
	}, report.MessagesBySender)

	require.NotNil(t, report.AgreementDiff)
	require.Contains(t, report.AgreementDiff.Modified, "/gpu_hours")
	assert.Equal(t, 40.0, report.AgreementDiff.Modified["/gpu_hours"].From)
	assert.Equal(t, 24.0, report.AgreementDiff.Modified["/gpu_hours"].To)

	_, err = f.engine.Analyze(ctx, "no-such-negotiation")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNegotiation_VotingTieGoesToEarliestProposal(t *testing.T) {
	f := newNegotiationFixture(t, NegotiationEngineConfig{})

	n := f.initiate(t, InitiateParams{
		ParticipantIDs:  []string{"agent-p1", "agent-p2", "agent-p3"},
		Subject:         "vote",
		InitialProposal: models.Proposal{"plan": "a"},
		MaxRounds:       1,
		Strategy:        models.ResolutionVoting,
	})
	f.counter(t, n.ID, "agent-p1", models.JSONMap{"plan": "b"})
	f.counter(t, n.ID, "agent-p2", models.JSONMap{"plan": "a"})
	n = f.counter(t, n.ID, "agent-p3", models.JSONMap{"plan": "b"})

	// Two votes each; "a" entered the transcript first.
	assert.Equal(t, models.NegotiationStatusSuccessful, n.Status)
	assert.Equal(t, models.Proposal{"plan": "a"}, n.State.FinalAgreement)
}

func TestNegotiation_OptimizationClampsToResourceBounds(t *testing.T) {
	f := newNegotiationFixture(t, NegotiationEngineConfig{})

	n := f.initiate(t, InitiateParams{
		Subject:         "cpu budget",
		Resources:       models.JSONMap{"cpu": map[string]interface{}{"max_quantity": 5.0}},
		InitialProposal: models.Proposal{"cpu": 8.0},
		MaxRounds:       1,
		Strategy:        models.ResolutionOptimization,
	})
	f.counter(t, n.ID, "agent-p1", models.JSONMap{"cpu": 8.0})
	n = f.counter(t, n.ID, "agent-p2", models.JSONMap{"cpu": 2.0})

	// The popular value wins on utility but cannot exceed the declared
	// resource bound.
	assert.Equal(t, models.NegotiationStatusSuccessful, n.Status)
	require.Contains(t, n.State.FinalAgreement, "cpu")
	assert.InDelta(t, 5.0, n.State.FinalAgreement["cpu"], 1e-9)
}

func TestNegotiation_OptimizationDisabledFallsBack(t *testing.T) {
	f := newNegotiationFixture(t, NegotiationEngineConfig{DisableResourceOptimization: true})

	n := f.initiate(t, InitiateParams{
		Subject:         "cpu budget",
		InitialProposal: models.Proposal{"cpu": 8.0},
		MaxRounds:       1,
		Strategy:        models.ResolutionOptimization,
	})
	f.counter(t, n.ID, "agent-p1", models.JSONMap{"cpu": 8.0})
	n = f.counter(t, n.ID, "agent-p2", models.JSONMap{"cpu": 2.0})

	assert.Equal(t, models.NegotiationStatusSuccessful, n.Status)
	assert.InDelta(t, 6.0, n.State.FinalAgreement["cpu"], 1e-9,
		"the compromise fallback averages instead of optimizing")
}

func TestNegotiation_PublishesAgreementIntoBoundContext(t *testing.T) {
	clk := clock.NewFake(testStart)
	store := memory.NewStore()
	ctx := context.Background()

	for _, id := range []string{"agent-i", "agent-p1", "agent-p2"} {
		require.NoError(t, store.Agents().Create(ctx, &models.Agent{ID: id, Name: id, Available: true}))
	}

	contexts := NewContextEngine(ServiceConfig{Clock: clk}, ContextEngineConfig{},
		store.Contexts(), nil, nil, nil, nil)
	sc, err := contexts.CreateContext(ctx, CreateContextParams{Name: "team log", OwnerID: "agent-i"})
	require.NoError(t, err)

	engine := NewNegotiationEngine(ServiceConfig{Clock: clk}, NegotiationEngineConfig{},
		store.Negotiations(), store.Agents(), contexts)

	n, err := engine.Initiate(ctx, InitiateParams{
		InitiatorID:     "agent-i",
		ParticipantIDs:  []string{"agent-p1", "agent-p2"},
		Subject:         "release plan",
		InitialProposal: models.Proposal{"plan": "ship v2"},
		ContextID:       sc.ID,
	})
	require.NoError(t, err)

	_, err = engine.Respond(ctx, n.ID, "agent-p1", models.MessageTypeAccept, nil)
	require.NoError(t, err)
	final, err := engine.Respond(ctx, n.ID, "agent-p2", models.MessageTypeAccept, nil)
	require.NoError(t, err)
	require.Equal(t, models.NegotiationStatusSuccessful, final.Status)

	// The agreement lands in the bound context under the default path.
	updated, err := contexts.GetContext(ctx, sc.ID, "agent-i")
	require.NoError(t, err)
	agreements, ok := updated.Content["agreements"].(map[string]interface{})
	require.True(t, ok)
	entry, ok := agreements[n.ID].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ship v2", entry["plan"])
}
