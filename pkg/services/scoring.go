package services

import (
	"strings"

	"github.com/agent-mesh/agent-mesh/pkg/models"
)

// referenceCostPerToken normalizes cost scores: an agent at or above this
// cost scores zero on the cost dimension.
const referenceCostPerToken = 0.01

// capabilityMatch is the fraction of required capabilities the agent
// holds, or 1 when none are required.
func capabilityMatch(agent *models.Agent, required []string) float64 {
	if len(required) == 0 {
		return 1
	}
	matched := 0
	for _, capability := range required {
		if agent.HasCapability(capability) {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}

// specializationMatch scores how well the agent's specialization fits the
// role: 1.0 for an exact name match, 0.7 when one contains the other, 0.5
// when the specialization is one of the role's categories, 0.1 otherwise.
// Comparisons are case-insensitive.
func specializationMatch(agent *models.Agent, role *models.Role) float64 {
	specialization := strings.ToLower(strings.TrimSpace(agent.Specialization))
	if specialization == "" {
		return 0.1
	}

	roleName := strings.ToLower(role.Name)
	if specialization == roleName {
		return 1.0
	}
	if strings.Contains(roleName, specialization) || strings.Contains(specialization, roleName) {
		return 0.7
	}
	for _, category := range role.Categories {
		if specialization == strings.ToLower(category) {
			return 0.5
		}
	}
	return 0.1
}

// costScore maps cost per token onto [0, 1], higher meaning cheaper.
func costScore(costPerToken float64) float64 {
	normalized := costPerToken / referenceCostPerToken
	if normalized > 1 {
		normalized = 1
	}
	return 1 - normalized
}

func performanceScore(agent *models.Agent) float64 {
	return agent.PerformanceRating / 10
}

// roleScorer rates one agent for one role under a formation strategy.
type roleScorer func(agent *models.Agent, role *models.Role) float64

// strategyScorers binds each per-role strategy to its scoring rule.
// DIVERSITY is not in the table; it selects members by set cover instead
// of per-role argmax.
var strategyScorers = map[models.FormationStrategy]roleScorer{
	models.StrategyCapability: func(agent *models.Agent, role *models.Role) float64 {
		return capabilityMatch(agent, role.RequiredCapabilities)
	},
	models.StrategyPerformance: func(agent *models.Agent, role *models.Role) float64 {
		return 0.3*capabilityMatch(agent, role.RequiredCapabilities) + 0.7*performanceScore(agent)
	},
	models.StrategyCost: func(agent *models.Agent, role *models.Role) float64 {
		return 0.3*capabilityMatch(agent, role.RequiredCapabilities) + 0.7*costScore(agent.CostPerToken)
	},
	models.StrategySpecialization: func(agent *models.Agent, role *models.Role) float64 {
		return 0.3*capabilityMatch(agent, role.RequiredCapabilities) + 0.7*specializationMatch(agent, role)
	},
	models.StrategyBalanced: func(agent *models.Agent, role *models.Role) float64 {
		return 0.4*capabilityMatch(agent, role.RequiredCapabilities) +
			0.25*performanceScore(agent) +
			0.25*specializationMatch(agent, role) +
			0.1*costScore(agent.CostPerToken)
	},
}

// preferAgent breaks score ties: higher performance rating, then lower
// cost, then lower agent ID.
func preferAgent(candidate *models.Agent, candidateScore float64, best *models.Agent, bestScore float64) bool {
	if best == nil {
		return true
	}
	if candidateScore != bestScore {
		return candidateScore > bestScore
	}
	if candidate.PerformanceRating != best.PerformanceRating {
		return candidate.PerformanceRating > best.PerformanceRating
	}
	if candidate.CostPerToken != best.CostPerToken {
		return candidate.CostPerToken < best.CostPerToken
	}
	return candidate.ID < best.ID
}

// Diversity domain buckets in declared order; a capability matching more
// than one bucket lands in the first.
type domainBucket struct {
	name     string
	keywords []string
}

var domainBuckets = []domainBucket{
	{name: "Reasoning", keywords: []string{"reason", "logic", "inference", "deduction"}},
	{name: "Memory", keywords: []string{"memory", "recall", "storage"}},
	{name: "Perception", keywords: []string{"perceive", "detect", "sense", "observe"}},
	{name: "Communication", keywords: []string{"communicate", "language", "express"}},
}

// domainKnowledge is the catch-all bucket for capabilities no keyword
// bucket claims.
const domainKnowledge = "Domain Knowledge"

func domainForCapability(capability string) string {
	lower := strings.ToLower(capability)
	for _, bucket := range domainBuckets {
		for _, keyword := range bucket.keywords {
			if strings.Contains(lower, keyword) {
				return bucket.name
			}
		}
	}
	return domainKnowledge
}

// teamCoordinatorCapabilities are required of the mandatory coordinator
// role in diversity formation.
var teamCoordinatorCapabilities = []string{"coordination", "planning", "communication"}

// computeTeamMetrics fills the team's performance metrics from its final
// membership and role assignments.
func computeTeamMetrics(team *models.Team, task *models.Task, members []*models.Agent) {
	coverage := 1.0
	if len(task.RequiredCapabilities) > 0 {
		covered := 0
		teamCaps := make(map[string]bool, len(team.Capabilities))
		for _, c := range team.Capabilities {
			teamCaps[c] = true
		}
		for _, required := range task.RequiredCapabilities {
			if teamCaps[required] {
				covered++
			}
		}
		coverage = float64(covered) / float64(len(task.RequiredCapabilities))
	}

	performance := 0.0
	cost := 0.0
	if len(members) > 0 {
		var perfSum, costSum float64
		for _, member := range members {
			perfSum += member.PerformanceRating
			costSum += member.CostPerToken
		}
		performance = perfSum / float64(len(members)) / 10
		cost = costScore(costSum / float64(len(members)))
	}

	specialization := 0.0
	if len(team.Roles) > 0 && len(members) > 0 {
		var total float64
		for i := range team.Roles {
			best := 0.0
			for _, member := range members {
				if match := specializationMatch(member, &team.Roles[i]); match > best {
					best = match
				}
			}
			total += best
		}
		specialization = total / float64(len(team.Roles))
	}

	composite := 0.4*coverage + 0.3*performance + 0.2*specialization + 0.1*cost

	if team.PerformanceMetrics == nil {
		team.PerformanceMetrics = make(models.JSONMap)
	}
	team.PerformanceMetrics[models.MetricCapabilityCoverage] = coverage
	team.PerformanceMetrics[models.MetricPerformanceRating] = performance
	team.PerformanceMetrics[models.MetricCostEfficiency] = cost
	team.PerformanceMetrics[models.MetricSpecialization] = specialization
	team.PerformanceMetrics[models.MetricCompositeScore] = composite
}
