package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/agent-mesh/agent-mesh/pkg/events"
	"github.com/agent-mesh/agent-mesh/pkg/models"
	"github.com/agent-mesh/agent-mesh/pkg/repository"
)

// TeamFormationEngine assembles agent teams for tasks under the formation
// strategies and scores the result.
type TeamFormationEngine interface {
	FormTeam(ctx context.Context, taskID string, strategy models.FormationStrategy) (*models.Team, error)
	Recommend(ctx context.Context, taskID string, count int) ([]*models.Team, error)
	GetTeam(ctx context.Context, teamID string) (*models.Team, error)
	DisbandTeam(ctx context.Context, teamID string) error
	FindSuitableTeams(ctx context.Context, requiredCapabilities []string) ([]*models.Team, error)
	UpdateCollaborationScores(ctx context.Context, teamID string, successRating float64) error
}

// FormationConfig tunes team formation.
type FormationConfig struct {
	CapabilityMatchThreshold float64
}

func (c FormationConfig) withDefaults() FormationConfig {
	if c.CapabilityMatchThreshold <= 0 {
		c.CapabilityMatchThreshold = 0.75
	}
	return c
}

type teamFormationEngine struct {
	BaseService
	formationCfg FormationConfig
	tasks        repository.TaskRepository
	teams        repository.TeamRepository
	agents       repository.AgentRepository
}

// NewTeamFormationEngine creates the team formation engine.
func NewTeamFormationEngine(config ServiceConfig, formationCfg FormationConfig, tasks repository.TaskRepository, teams repository.TeamRepository, agents repository.AgentRepository) TeamFormationEngine {
	return &teamFormationEngine{
		BaseService:  NewBaseService(config),
		formationCfg: formationCfg.withDefaults(),
		tasks:        tasks,
		teams:        teams,
		agents:       agents,
	}
}

func (e *teamFormationEngine) FormTeam(ctx context.Context, taskID string, strategy models.FormationStrategy) (*models.Team, error) {
	ctx, span := e.config.Tracer(ctx, "TeamFormationEngine.FormTeam")
	defer span.End()

	if !strategy.IsValid() {
		return nil, invalidArgf("unknown formation strategy: %q", strategy)
	}

	task, err := e.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.CanTransitionTo(models.TaskStatusAssigned) {
		return nil, invalidStatef("task %s cannot be assigned in status %s", taskID, task.Status)
	}

	agents, err := e.availableAgents(ctx)
	if err != nil {
		return nil, err
	}

	team, err := e.buildTeam(task, agents, strategy)
	if err != nil {
		return nil, err
	}

	if err := e.teams.Create(ctx, team); err != nil {
		return nil, translateError(err, "failed to save team")
	}

	task.AssignedTeam = &team.ID
	task.Status = models.TaskStatusAssigned
	task.UpdatedAt = e.config.Clock.Now().UTC()
	if err := e.tasks.Update(ctx, task); err != nil {
		return nil, translateError(err, "failed to assign task to team")
	}

	e.config.Logger.Info("Team formed", map[string]interface{}{
		"team_id":  team.ID,
		"task_id":  taskID,
		"strategy": string(strategy),
		"members":  len(team.Agents),
		"status":   string(team.Status),
	})
	e.config.Metrics.IncrementCounterWithLabels("teams.formed", 1, map[string]string{
		"strategy": string(strategy),
	})
	e.publishEvent(ctx, events.EventTeamFormed, "team", team.ID, map[string]interface{}{
		"task_id":  taskID,
		"strategy": string(strategy),
		"members":  append([]string(nil), team.Agents...),
	})

	return team, nil
}

// recommendStrategies are evaluated by Recommend, in this order. Earlier
// strategies win deduplication when two produce the same membership.
var recommendStrategies = []models.FormationStrategy{
	models.StrategyCapability,
	models.StrategyPerformance,
	models.StrategyCost,
	models.StrategySpecialization,
	models.StrategyBalanced,
}

func (e *teamFormationEngine) Recommend(ctx context.Context, taskID string, count int) ([]*models.Team, error) {
	ctx, span := e.config.Tracer(ctx, "TeamFormationEngine.Recommend")
	defer span.End()

	if count < 1 {
		return nil, invalidArgf("count must be positive: %d", count)
	}

	task, err := e.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	agents, err := e.availableAgents(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]*models.Team, len(recommendStrategies))
	var g errgroup.Group
	for i, strategy := range recommendStrategies {
		i, strategy := i, strategy
		g.Go(func() error {
			team, err := e.buildTeam(task, agents, strategy)
			if err != nil {
				return err
			}
			candidates[i] = team
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Distinct by membership; the first strategy to produce a line-up keeps
	// it.
	seen := make(map[string]bool, len(candidates))
	unique := make([]*models.Team, 0, len(candidates))
	for _, team := range candidates {
		key := membershipKey(team)
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, team)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		return unique[i].CompositeScore() > unique[j].CompositeScore()
	})
	if len(unique) > count {
		unique = unique[:count]
	}

	for _, team := range unique {
		if err := e.teams.Create(ctx, team); err != nil {
			return nil, translateError(err, "failed to save recommended team")
		}
	}

	e.config.Logger.Debug("Teams recommended", map[string]interface{}{
		"task_id": taskID,
		"count":   len(unique),
	})
	return unique, nil
}

func (e *teamFormationEngine) GetTeam(ctx context.Context, teamID string) (*models.Team, error) {
	ctx, span := e.config.Tracer(ctx, "TeamFormationEngine.GetTeam")
	defer span.End()

	if teamID == "" {
		return nil, invalidArgf("team ID is required")
	}
	team, err := e.teams.Get(ctx, teamID)
	if err != nil {
		return nil, translateError(err, "failed to get team")
	}
	return team, nil
}

// DisbandTeam closes a team out. Role assignments are released and the row
// is kept for audit. Agents are not touched; the registry owns them.
func (e *teamFormationEngine) DisbandTeam(ctx context.Context, teamID string) error {
	ctx, span := e.config.Tracer(ctx, "TeamFormationEngine.DisbandTeam")
	defer span.End()

	team, err := e.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}
	if team.IsDisbanded() {
		return nil
	}

	for i := range team.Roles {
		team.Roles[i].Release()
	}
	team.Status = models.TeamStatusDisbanded
	team.UpdatedAt = e.config.Clock.Now().UTC()

	if err := e.teams.Update(ctx, team); err != nil {
		return translateError(err, "failed to disband team")
	}

	e.config.Logger.Info("Team disbanded", map[string]interface{}{
		"team_id": teamID,
		"task_id": team.TaskID,
	})
	e.publishEvent(ctx, events.EventTeamDisbanded, "team", teamID, map[string]interface{}{
		"task_id": team.TaskID,
	})
	return nil
}

func (e *teamFormationEngine) FindSuitableTeams(ctx context.Context, requiredCapabilities []string) ([]*models.Team, error) {
	ctx, span := e.config.Tracer(ctx, "TeamFormationEngine.FindSuitableTeams")
	defer span.End()

	teams, err := e.teams.List(ctx, repository.TeamFilter{})
	if err != nil {
		return nil, translateError(err, "failed to list teams")
	}

	suitable := make([]*models.Team, 0, len(teams))
	for _, team := range teams {
		if team.IsDisbanded() {
			continue
		}
		if !teamCovers(team, requiredCapabilities) {
			continue
		}
		suitable = append(suitable, team)
	}

	sort.SliceStable(suitable, func(i, j int) bool {
		si, sj := suitable[i].CompositeScore(), suitable[j].CompositeScore()
		if si != sj {
			return si > sj
		}
		return suitable[i].ID < suitable[j].ID
	})
	return suitable, nil
}

// UpdateCollaborationScores folds a task outcome into each member's
// collaboration score as an exponential moving average.
func (e *teamFormationEngine) UpdateCollaborationScores(ctx context.Context, teamID string, successRating float64) error {
	ctx, span := e.config.Tracer(ctx, "TeamFormationEngine.UpdateCollaborationScores")
	defer span.End()

	if successRating < 0 || successRating > 1 {
		return invalidArgf("success rating must be in [0, 1]: %f", successRating)
	}

	team, err := e.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}

	now := e.config.Clock.Now().UTC()
	for _, agentID := range team.Agents {
		agent, err := e.agents.Get(ctx, agentID)
		if err != nil {
			return translateError(err, "failed to load team member")
		}
		agent.CollaborationScore = 0.3*successRating + 0.7*agent.CollaborationScore
		agent.UpdatedAt = now
		if err := e.agents.Update(ctx, agent); err != nil {
			return translateError(err, "failed to update collaboration score")
		}
	}

	e.config.Logger.Debug("Collaboration scores updated", map[string]interface{}{
		"team_id":        teamID,
		"success_rating": successRating,
		"members":        len(team.Agents),
	})
	return nil
}

func (e *teamFormationEngine) loadTask(ctx context.Context, taskID string) (*models.Task, error) {
	if taskID == "" {
		return nil, invalidArgf("task ID is required")
	}
	task, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, translateError(err, "failed to get task")
	}
	return task, nil
}

func (e *teamFormationEngine) availableAgents(ctx context.Context) ([]*models.Agent, error) {
	available := true
	agents, err := e.agents.List(ctx, repository.AgentFilter{Available: &available})
	if err != nil {
		return nil, translateError(err, "failed to list available agents")
	}
	if len(agents) == 0 {
		return nil, errors.Wrap(ErrNoAgentsAvailable, "no available agents")
	}
	return agents, nil
}

// buildTeam assembles and scores one team without persisting anything.
func (e *teamFormationEngine) buildTeam(task *models.Task, agents []*models.Agent, strategy models.FormationStrategy) (*models.Team, error) {
	now := e.config.Clock.Now().UTC()
	team := &models.Team{
		ID:                uuid.New().String(),
		Name:              fmt.Sprintf("%s team (%s)", task.Name, strategy),
		TaskID:            task.ID,
		FormationStrategy: strategy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	team.SetDefaultValues()

	if strategy == models.StrategyDiversity {
		e.assembleByDiversity(team, task, agents)
	} else {
		if len(task.RequiredRoles) == 0 {
			return nil, invalidArgf("task %s defines no roles", task.ID)
		}
		e.assembleByScore(team, task, agents, strategy)
	}

	byID := make(map[string]*models.Agent, len(agents))
	for _, agent := range agents {
		byID[agent.ID] = agent
	}
	members := make([]*models.Agent, 0, len(team.Agents))
	for _, agentID := range team.Agents {
		if agent, ok := byID[agentID]; ok {
			members = append(members, agent)
		}
	}
	computeTeamMetrics(team, task, members)

	if team.AllRolesFilled() {
		team.Status = models.TeamStatusComplete
	} else {
		team.Status = models.TeamStatusPartial
	}
	return team, nil
}

// assembleByScore fills roles in priority order, assigning each the
// highest-scoring unassigned agent that clears the capability threshold.
func (e *teamFormationEngine) assembleByScore(team *models.Team, task *models.Task, agents []*models.Agent, strategy models.FormationStrategy) {
	scorer := strategyScorers[strategy]

	roles := make([]models.Role, 0, len(task.RequiredRoles))
	for i := range task.RequiredRoles {
		role := task.RequiredRoles[i].Clone()
		role.ID = uuid.New().String()
		role.TeamID = team.ID
		role.Release()
		roles = append(roles, role)
	}
	sort.SliceStable(roles, func(i, j int) bool { return roles[i].Priority > roles[j].Priority })

	assigned := make(map[string]bool, len(agents))
	for i := range roles {
		role := &roles[i]

		var best *models.Agent
		var bestScore float64
		for _, agent := range agents {
			if assigned[agent.ID] {
				continue
			}
			if capabilityMatch(agent, role.RequiredCapabilities) < e.formationCfg.CapabilityMatchThreshold {
				continue
			}
			score := scorer(agent, role)
			if preferAgent(agent, score, best, bestScore) {
				best, bestScore = agent, score
			}
		}
		if best == nil {
			continue
		}

		assigned[best.ID] = true
		role.Assign(best.ID)
		team.AddAgent(best.ID)
		team.UnionCapabilities(best.Capabilities)
		if team.Leader == nil && role.Priority > 1 {
			leader := best.ID
			team.Leader = &leader
		}
	}
	team.Roles = roles
}

// assembleByDiversity selects the fewest agents covering the task's
// required capabilities, then fits them to the generated domain roles.
func (e *teamFormationEngine) assembleByDiversity(team *models.Team, task *models.Task, agents []*models.Agent) {
	roles := e.diversityRoles(team.ID, task)

	// Greedy set cover over the required capabilities.
	uncovered := make(map[string]bool, len(task.RequiredCapabilities))
	for _, capability := range task.RequiredCapabilities {
		uncovered[capability] = true
	}

	selectedSet := make(map[string]bool)
	var selected []*models.Agent
	for len(uncovered) > 0 {
		var best *models.Agent
		bestCover := 0
		for _, agent := range agents {
			if selectedSet[agent.ID] {
				continue
			}
			cover := 0
			for _, capability := range agent.Capabilities {
				if uncovered[capability] {
					cover++
				}
			}
			if cover == 0 {
				continue
			}
			if best == nil || cover > bestCover ||
				(cover == bestCover && preferAgent(agent, 0, best, 0)) {
				best, bestCover = agent, cover
			}
		}
		if best == nil {
			break
		}

		selectedSet[best.ID] = true
		selected = append(selected, best)
		team.AddAgent(best.ID)
		team.UnionCapabilities(best.Capabilities)
		for _, capability := range best.Capabilities {
			delete(uncovered, capability)
		}
	}

	// Fit the selected agents to roles by specialization plus capability
	// fit, one role each.
	roleAssigned := make(map[string]bool, len(selected))
	for i := range roles {
		role := &roles[i]

		var best *models.Agent
		var bestScore float64
		for _, agent := range selected {
			if roleAssigned[agent.ID] {
				continue
			}
			score := specializationMatch(agent, role) + capabilityMatch(agent, role.RequiredCapabilities)
			if preferAgent(agent, score, best, bestScore) {
				best, bestScore = agent, score
			}
		}
		if best == nil {
			continue
		}
		roleAssigned[best.ID] = true
		role.Assign(best.ID)
	}

	// Roles the cover set could not fill fall back to any remaining agent
	// holding all of the role's capabilities.
	for i := range roles {
		role := &roles[i]
		if role.Filled {
			continue
		}

		var best *models.Agent
		for _, agent := range agents {
			if selectedSet[agent.ID] {
				continue
			}
			if !agent.HasAllCapabilities(role.RequiredCapabilities) {
				continue
			}
			if preferAgent(agent, 0, best, 0) {
				best = agent
			}
		}
		if best == nil {
			continue
		}

		selectedSet[best.ID] = true
		role.Assign(best.ID)
		team.AddAgent(best.ID)
		team.UnionCapabilities(best.Capabilities)
	}

	// Leader is the strongest performer among the cover set, falling back
	// to any member when the cover set came up empty.
	leaderPool := selected
	if len(leaderPool) == 0 {
		for _, agentID := range team.Agents {
			for _, agent := range agents {
				if agent.ID == agentID {
					leaderPool = append(leaderPool, agent)
				}
			}
		}
	}
	var leader *models.Agent
	for _, agent := range leaderPool {
		if leader == nil ||
			agent.PerformanceRating > leader.PerformanceRating ||
			(agent.PerformanceRating == leader.PerformanceRating && agent.ID < leader.ID) {
			leader = agent
		}
	}
	if leader != nil {
		leaderID := leader.ID
		team.Leader = &leaderID
	}

	team.Roles = roles
}

// diversityRoles generates the mandatory coordinator plus one specialist
// role per non-empty capability domain. The domain buckets partition every
// required capability, so no capability is left for a catch-all role.
func (e *teamFormationEngine) diversityRoles(teamID string, task *models.Task) []models.Role {
	roles := []models.Role{{
		ID:                   uuid.New().String(),
		TeamID:               teamID,
		Name:                 "Team Coordinator",
		RequiredCapabilities: pq.StringArray(append([]string(nil), teamCoordinatorCapabilities...)),
		Priority:             3,
	}}

	byDomain := make(map[string][]string)
	for _, capability := range task.RequiredCapabilities {
		domain := domainForCapability(capability)
		byDomain[domain] = append(byDomain[domain], capability)
	}

	domainOrder := make([]string, 0, len(domainBuckets)+1)
	for _, bucket := range domainBuckets {
		domainOrder = append(domainOrder, bucket.name)
	}
	domainOrder = append(domainOrder, domainKnowledge)

	for _, domain := range domainOrder {
		capabilities := byDomain[domain]
		if len(capabilities) == 0 {
			continue
		}
		roles = append(roles, models.Role{
			ID:                   uuid.New().String(),
			TeamID:               teamID,
			Name:                 fmt.Sprintf("%s Specialist", domain),
			RequiredCapabilities: pq.StringArray(capabilities),
			Priority:             2,
			Categories:           pq.StringArray{domain},
		})
	}
	return roles
}

func membershipKey(team *models.Team) string {
	ids := append([]string(nil), team.Agents...)
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

func teamCovers(team *models.Team, requiredCapabilities []string) bool {
	teamCaps := make(map[string]bool, len(team.Capabilities))
	for _, capability := range team.Capabilities {
		teamCaps[capability] = true
	}
	for _, required := range requiredCapabilities {
		if !teamCaps[required] {
			return false
		}
	}
	return true
}
