package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agent-mesh/agent-mesh/pkg/events"
	"github.com/agent-mesh/agent-mesh/pkg/models"
	"github.com/agent-mesh/agent-mesh/pkg/repository"
)

// InitiateParams carries the inputs for starting a negotiation. MaxRounds,
// Timeout, and Strategy fall back to the engine's configured defaults when
// zero. ContextID and ContextPath optionally bind the negotiation to a
// shared context path that receives the final agreement.
type InitiateParams struct {
	InitiatorID     string
	ParticipantIDs  []string
	Subject         string
	Resources       models.JSONMap
	InitialProposal models.Proposal
	MaxRounds       int
	Timeout         time.Duration
	Strategy        models.ResolutionStrategy
	ContextID       string
	ContextPath     string
}

// NegotiationReport is the analysis of a closed negotiation.
type NegotiationReport struct {
	NegotiationID    string                   `json:"negotiation_id"`
	Status           models.NegotiationStatus `json:"status"`
	DurationMs       int64                    `json:"duration_ms"`
	Rounds           int                      `json:"rounds"`
	Participants     int                      `json:"participants"`
	MessagesByType   map[string]int           `json:"messages_by_type"`
	MessagesBySender map[string]int           `json:"messages_by_sender"`
	AgreementDiff    *TreeDiff                `json:"agreement_diff,omitempty"`
}

// ContextWriter is the slice of the context engine the negotiation engine
// needs to publish final agreements.
type ContextWriter interface {
	UpdateContext(ctx context.Context, contextID, agentID string, updates map[string]interface{}, metadata models.JSONMap) (*models.SharedContext, error)
}

// NegotiationEngine runs round-based negotiations between agents and
// resolves conflicts when rounds or time run out.
type NegotiationEngine interface {
	Initiate(ctx context.Context, params InitiateParams) (*models.Negotiation, error)
	Respond(ctx context.Context, negotiationID, agentID string, messageType models.MessageType, content models.JSONMap) (*models.Negotiation, error)
	GetNegotiation(ctx context.Context, negotiationID string) (*models.Negotiation, error)
	Analyze(ctx context.Context, negotiationID string) (*NegotiationReport, error)

	// SweepTimeouts fires the timeout transition on every active
	// negotiation whose deadline has passed and returns how many closed.
	SweepTimeouts(ctx context.Context) (int, error)
}

// NegotiationEngineConfig tunes the negotiation engine. Resource
// optimization is on unless explicitly disabled.
type NegotiationEngineConfig struct {
	MaxRounds                   int
	Timeout                     time.Duration
	DefaultStrategy             models.ResolutionStrategy
	FallbackStrategy            models.ResolutionStrategy
	DisableResourceOptimization bool
	ResourceMaxQuantity         float64
}

func (c NegotiationEngineConfig) withDefaults() NegotiationEngineConfig {
	if c.MaxRounds <= 0 {
		c.MaxRounds = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = models.ResolutionPriorityBased
	}
	if c.FallbackStrategy == "" || c.FallbackStrategy == models.ResolutionOptimization {
		c.FallbackStrategy = models.ResolutionCompromise
	}
	if c.ResourceMaxQuantity <= 0 {
		c.ResourceMaxQuantity = 100.0
	}
	return c
}

// contextBindingKey is the resource entry holding the agreement's target
// context, kept out of the way of user resource keys.
const contextBindingKey = "context_binding"

type negotiationEngine struct {
	BaseService
	engineCfg    NegotiationEngineConfig
	negotiations repository.NegotiationRepository
	agents       repository.AgentRepository
	contexts     ContextWriter

	// locks serializes operations per negotiation ID.
	locks sync.Map
}

// NewNegotiationEngine creates the negotiation engine. The context writer
// may be nil to disable the agreement publication hook.
func NewNegotiationEngine(config ServiceConfig, engineCfg NegotiationEngineConfig, negotiations repository.NegotiationRepository, agents repository.AgentRepository, contexts ContextWriter) NegotiationEngine {
	return &negotiationEngine{
		BaseService:  NewBaseService(config),
		engineCfg:    engineCfg.withDefaults(),
		negotiations: negotiations,
		agents:       agents,
		contexts:     contexts,
	}
}

func (e *negotiationEngine) Initiate(ctx context.Context, params InitiateParams) (*models.Negotiation, error) {
	ctx, span := e.config.Tracer(ctx, "NegotiationEngine.Initiate")
	defer span.End()

	if len(params.InitialProposal) == 0 {
		return nil, invalidArgf("an initial proposal is required")
	}

	now := e.config.Clock.Now().UTC()
	n := &models.Negotiation{
		ID:                         uuid.New().String(),
		InitiatorID:                params.InitiatorID,
		ParticipantIDs:             append([]string(nil), params.ParticipantIDs...),
		Subject:                    params.Subject,
		Resources:                  params.Resources.Clone(),
		StartTime:                  now,
		MaxRounds:                  params.MaxRounds,
		Timeout:                    params.Timeout,
		ConflictResolutionStrategy: params.Strategy,
	}
	if n.MaxRounds == 0 {
		n.MaxRounds = e.engineCfg.MaxRounds
	}
	if n.Timeout == 0 {
		n.Timeout = e.engineCfg.Timeout
	}
	if n.ConflictResolutionStrategy == "" {
		n.ConflictResolutionStrategy = e.engineCfg.DefaultStrategy
	}
	n.SetDefaultValues()
	if err := n.Validate(); err != nil {
		return nil, invalidArgf("invalid negotiation: %v", err)
	}

	for _, agentID := range n.Parties() {
		if _, err := e.agents.Get(ctx, agentID); err != nil {
			return nil, translateError(err, "unknown negotiation party "+agentID)
		}
	}

	if params.ContextID != "" {
		n.Resources[contextBindingKey] = map[string]interface{}{
			"context_id": params.ContextID,
			"path":       params.ContextPath,
		}
	}

	message := newNegotiationMessage(n.InitiatorID, models.MessageTypeProposal, models.JSONMap(params.InitialProposal.Clone()), now)
	n.Messages = append(n.Messages, message)
	n.Proposals[n.InitiatorID] = params.InitialProposal.Clone()
	n.State.CurrentProposalID = message.ID
	// Proposing counts as accepting your own proposal and as this round's
	// response.
	n.State.Acceptances[n.InitiatorID] = message.ID
	n.State.RoundResponses[n.InitiatorID] = true

	if err := e.negotiations.Create(ctx, n); err != nil {
		return nil, translateError(err, "failed to create negotiation")
	}

	e.config.Logger.Info("Negotiation initiated", map[string]interface{}{
		"negotiation_id": n.ID,
		"initiator_id":   n.InitiatorID,
		"participants":   len(n.ParticipantIDs),
		"strategy":       string(n.ConflictResolutionStrategy),
		"max_rounds":     n.MaxRounds,
	})
	e.config.Metrics.IncrementCounter("negotiations.initiated", 1)
	e.publishEvent(ctx, events.EventNegotiationInitiated, "negotiation", n.ID, map[string]interface{}{
		"initiator_id": n.InitiatorID,
		"subject":      n.Subject,
	})

	return n, nil
}

func (e *negotiationEngine) Respond(ctx context.Context, negotiationID, agentID string, messageType models.MessageType, content models.JSONMap) (*models.Negotiation, error) {
	ctx, span := e.config.Tracer(ctx, "NegotiationEngine.Respond")
	defer span.End()

	if agentID == "" {
		return nil, invalidArgf("agent ID is required")
	}
	switch messageType {
	case models.MessageTypeCounterProposal, models.MessageTypeAccept, models.MessageTypeReject:
	default:
		return nil, invalidArgf("unsupported response type: %q", messageType)
	}

	unlock := e.lock(negotiationID)
	defer unlock()

	n, err := e.loadNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	if !n.IsParty(agentID) {
		return nil, deniedf("agent %s is not a party to negotiation %s", agentID, negotiationID)
	}
	if !n.IsActive() {
		return nil, invalidStatef("negotiation %s is closed with status %s", negotiationID, n.Status)
	}

	if n.Status == models.NegotiationStatusInitiated {
		n.Status = models.NegotiationStatusInProgress
	}

	now := e.config.Clock.Now().UTC()
	switch messageType {
	case models.MessageTypeCounterProposal:
		if err := e.applyCounterProposal(ctx, n, agentID, content, now); err != nil {
			return nil, err
		}
	case models.MessageTypeAccept:
		e.applyAccept(n, agentID, content, now)
	case models.MessageTypeReject:
		e.applyReject(n, agentID, content, now)
	}

	e.checkTimeout(ctx, n, now)

	if err := e.negotiations.Update(ctx, n); err != nil {
		return nil, translateError(err, "failed to update negotiation")
	}
	e.afterClose(ctx, n)

	return n, nil
}

func (e *negotiationEngine) GetNegotiation(ctx context.Context, negotiationID string) (*models.Negotiation, error) {
	ctx, span := e.config.Tracer(ctx, "NegotiationEngine.GetNegotiation")
	defer span.End()

	return e.loadNegotiation(ctx, negotiationID)
}

func (e *negotiationEngine) Analyze(ctx context.Context, negotiationID string) (*NegotiationReport, error) {
	ctx, span := e.config.Tracer(ctx, "NegotiationEngine.Analyze")
	defer span.End()

	n, err := e.loadNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	if n.IsActive() {
		return nil, invalidStatef("negotiation %s is still active", negotiationID)
	}

	report := &NegotiationReport{
		NegotiationID:    n.ID,
		Status:           n.Status,
		DurationMs:       n.Duration().Milliseconds(),
		Rounds:           n.CurrentRound,
		Participants:     len(n.Parties()),
		MessagesByType:   make(map[string]int),
		MessagesBySender: make(map[string]int),
	}
	// A resolve triggered by round exhaustion leaves the counter one past
	// the last played round.
	if report.Rounds > n.MaxRounds {
		report.Rounds = n.MaxRounds
	}

	for _, message := range n.Messages {
		report.MessagesByType[string(message.Type)]++
		report.MessagesBySender[message.Sender]++
	}

	if n.State.FinalAgreement != nil {
		initial := e.initialProposal(n)
		if initial != nil {
			report.AgreementDiff = diffTrees(initial, n.State.FinalAgreement)
		}
	}
	return report, nil
}

func (e *negotiationEngine) SweepTimeouts(ctx context.Context) (int, error) {
	ctx, span := e.config.Tracer(ctx, "NegotiationEngine.SweepTimeouts")
	defer span.End()

	active, err := e.negotiations.List(ctx, repository.NegotiationFilter{ActiveOnly: true})
	if err != nil {
		return 0, translateError(err, "failed to list active negotiations")
	}

	closed := 0
	for _, candidate := range active {
		fired, err := e.sweepOne(ctx, candidate.ID)
		if err != nil {
			e.config.Logger.Warn("Timeout sweep failed for negotiation", map[string]interface{}{
				"negotiation_id": candidate.ID,
				"error":          err.Error(),
			})
			continue
		}
		if fired {
			closed++
		}
	}
	return closed, nil
}

func (e *negotiationEngine) sweepOne(ctx context.Context, negotiationID string) (bool, error) {
	unlock := e.lock(negotiationID)
	defer unlock()

	n, err := e.loadNegotiation(ctx, negotiationID)
	if err != nil {
		return false, err
	}

	now := e.config.Clock.Now().UTC()
	e.checkTimeout(ctx, n, now)
	if n.IsActive() {
		return false, nil
	}

	if err := e.negotiations.Update(ctx, n); err != nil {
		return false, translateError(err, "failed to update negotiation")
	}
	e.afterClose(ctx, n)
	return true, nil
}

func (e *negotiationEngine) applyCounterProposal(ctx context.Context, n *models.Negotiation, agentID string, content models.JSONMap, now time.Time) error {
	if len(content) == 0 {
		return invalidArgf("a counter proposal requires content")
	}

	proposal := models.Proposal(content).Clone()
	message := newNegotiationMessage(agentID, models.MessageTypeCounterProposal, models.JSONMap(proposal.Clone()), now)
	n.Messages = append(n.Messages, message)

	n.Proposals[agentID] = proposal
	n.State.CurrentProposalID = message.ID
	// A new proposal invalidates earlier acceptances; its author implicitly
	// accepts it.
	n.State.Acceptances = map[string]string{agentID: message.ID}
	n.State.RoundResponses[agentID] = true

	if e.allPartiesProposed(n) {
		n.CurrentRound++
		n.State.RoundResponses = make(map[string]bool)
		if n.CurrentRound > n.MaxRounds {
			e.resolve(ctx, n, now)
		}
	}
	return nil
}

func (e *negotiationEngine) applyAccept(n *models.Negotiation, agentID string, content models.JSONMap, now time.Time) {
	message := newNegotiationMessage(agentID, models.MessageTypeAccept, content, now)
	currentID := n.State.CurrentProposalID
	message.InReplyTo = &currentID
	n.Messages = append(n.Messages, message)

	n.State.Acceptances[agentID] = currentID

	for _, party := range n.Parties() {
		if n.State.Acceptances[party] != currentID {
			return
		}
	}

	// Unanimous acceptance closes the negotiation without a resolution
	// round.
	n.Status = models.NegotiationStatusSuccessful
	n.State.FinalAgreement = e.currentProposal(n)
	end := now
	n.EndTime = &end
}

func (e *negotiationEngine) applyReject(n *models.Negotiation, agentID string, content models.JSONMap, now time.Time) {
	message := newNegotiationMessage(agentID, models.MessageTypeReject, content, now)
	n.Messages = append(n.Messages, message)

	// Rejecting withdraws any standing acceptance.
	delete(n.State.Acceptances, agentID)

	if n.CurrentRound >= n.MaxRounds {
		n.Status = models.NegotiationStatusFailed
		end := now
		n.EndTime = &end
	}
}

// checkTimeout fires the timeout transition when the negotiation has
// outlived its deadline. The status stays TIMEOUT; the resolution still
// runs so a timed-out negotiation carries an agreement when proposals
// exist.
func (e *negotiationEngine) checkTimeout(ctx context.Context, n *models.Negotiation, now time.Time) {
	if !n.IsActive() {
		return
	}
	if now.Sub(n.StartTime) <= n.Timeout {
		return
	}

	n.Status = models.NegotiationStatusTimeout
	e.resolve(ctx, n, now)
}

// resolve runs the configured conflict resolution strategy over the
// collected proposals and records the outcome. With no proposals at all
// the negotiation fails instead.
func (e *negotiationEngine) resolve(ctx context.Context, n *models.Negotiation, now time.Time) {
	end := now

	if len(n.Proposals) == 0 {
		if n.Status != models.NegotiationStatusTimeout {
			n.Status = models.NegotiationStatusFailed
		}
		n.EndTime = &end
		return
	}

	strategy := n.ConflictResolutionStrategy
	if strategy == models.ResolutionOptimization && e.engineCfg.DisableResourceOptimization {
		strategy = e.engineCfg.FallbackStrategy
	}

	var agreement models.Proposal
	switch strategy {
	case models.ResolutionPriorityBased:
		agreement = resolvePriorityBased(n, e.partyPerformance(ctx, n))
	case models.ResolutionVoting:
		agreement = resolveVoting(n)
	case models.ResolutionOptimization:
		agreement = resolveOptimization(n, e.engineCfg.ResourceMaxQuantity)
	default:
		agreement = resolveCompromise(n)
	}

	n.State.FinalAgreement = agreement
	n.Messages = append(n.Messages, newNegotiationMessage(
		models.SystemSender,
		models.MessageTypeResolution,
		models.JSONMap(agreement.Clone()),
		now,
	))
	if n.Status != models.NegotiationStatusTimeout {
		n.Status = models.NegotiationStatusSuccessful
	}
	n.EndTime = &end

	e.config.Logger.Info("Negotiation resolved", map[string]interface{}{
		"negotiation_id": n.ID,
		"strategy":       string(strategy),
		"status":         string(n.Status),
		"rounds":         n.CurrentRound,
	})
}

// afterClose publishes lifecycle events and the final agreement once a
// negotiation has reached a terminal status.
func (e *negotiationEngine) afterClose(ctx context.Context, n *models.Negotiation) {
	if !n.IsTerminal() {
		return
	}

	eventType := events.EventNegotiationResolved
	switch n.Status {
	case models.NegotiationStatusFailed:
		eventType = events.EventNegotiationFailed
	case models.NegotiationStatusTimeout:
		eventType = events.EventNegotiationTimedOut
	}
	e.config.Metrics.IncrementCounterWithLabels("negotiations.closed", 1, map[string]string{
		"status": string(n.Status),
	})
	e.publishEvent(ctx, eventType, "negotiation", n.ID, map[string]interface{}{
		"status": string(n.Status),
		"rounds": n.CurrentRound,
	})

	if n.State.FinalAgreement != nil {
		e.publishAgreement(ctx, n)
	}
}

// publishAgreement writes the final agreement to the bound context path on
// the initiator's behalf. The hook is best effort: a missing context or
// missing permission skips it and the agreement stays on the negotiation.
func (e *negotiationEngine) publishAgreement(ctx context.Context, n *models.Negotiation) {
	if e.contexts == nil {
		return
	}
	binding := models.AsTree(n.Resources[contextBindingKey])
	if binding == nil {
		return
	}
	contextID, _ := binding["context_id"].(string)
	if contextID == "" {
		return
	}
	path, _ := binding["path"].(string)
	if path == "" {
		path = "/agreements/" + n.ID
	}

	updates := map[string]interface{}{
		path: map[string]interface{}(n.State.FinalAgreement.Clone()),
	}
	_, err := e.contexts.UpdateContext(ctx, contextID, n.InitiatorID, updates, models.JSONMap{
		"negotiation_id": n.ID,
	})
	if err != nil {
		e.config.Logger.Debug("Skipped agreement publication", map[string]interface{}{
			"negotiation_id": n.ID,
			"context_id":     contextID,
			"error":          err.Error(),
		})
	}
}

func (e *negotiationEngine) allPartiesProposed(n *models.Negotiation) bool {
	for _, party := range n.Parties() {
		if !n.State.RoundResponses[party] {
			return false
		}
	}
	return true
}

// currentProposal returns the content of the proposal message every
// acceptance is measured against.
func (e *negotiationEngine) currentProposal(n *models.Negotiation) models.Proposal {
	for i := len(n.Messages) - 1; i >= 0; i-- {
		message := n.Messages[i]
		if message.ID == n.State.CurrentProposalID {
			return models.Proposal(message.Content).Clone()
		}
	}
	return nil
}

// initialProposal returns the first proposal in the transcript.
func (e *negotiationEngine) initialProposal(n *models.Negotiation) models.Proposal {
	for _, message := range n.Messages {
		if message.Type == models.MessageTypeProposal {
			return models.Proposal(message.Content).Clone()
		}
	}
	return nil
}

// partyPerformance loads each party's performance rating for priority
// resolution. A missing agent scores zero rather than failing the
// resolution.
func (e *negotiationEngine) partyPerformance(ctx context.Context, n *models.Negotiation) map[string]float64 {
	performance := make(map[string]float64, len(n.Proposals))
	for agentID := range n.Proposals {
		agent, err := e.agents.Get(ctx, agentID)
		if err != nil {
			e.config.Logger.Warn("Failed to load agent for priority resolution", map[string]interface{}{
				"agent_id": agentID,
				"error":    err.Error(),
			})
			continue
		}
		performance[agentID] = agent.PerformanceRating
	}
	return performance
}

func (e *negotiationEngine) loadNegotiation(ctx context.Context, negotiationID string) (*models.Negotiation, error) {
	if negotiationID == "" {
		return nil, invalidArgf("negotiation ID is required")
	}
	n, err := e.negotiations.Get(ctx, negotiationID)
	if err != nil {
		return nil, translateError(err, "failed to get negotiation")
	}
	return n, nil
}

func (e *negotiationEngine) lock(negotiationID string) func() {
	value, _ := e.locks.LoadOrStore(negotiationID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func newNegotiationMessage(sender string, messageType models.MessageType, content models.JSONMap, now time.Time) models.NegotiationMessage {
	return models.NegotiationMessage{
		ID:        uuid.New().String(),
		Sender:    sender,
		Type:      messageType,
		Content:   content.Clone(),
		Timestamp: now,
	}
}
