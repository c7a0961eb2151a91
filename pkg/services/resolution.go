package services

import (
	"math"
	"sort"

	"github.com/agent-mesh/agent-mesh/pkg/models"
)

// Conflict resolution strategies. Each takes the negotiation's collected
// proposals and returns the agreement deterministically: iteration is
// always over sorted agent IDs and sorted resource keys, so identical
// proposal sets resolve identically across runs.

// resolvePriorityBased returns the proposal of the highest-priority agent.
// Priority is the performance rating scaled to [0, 100] and rounded, plus
// a 5 point initiator bonus. Ties go to the initiator, then the lowest
// agent ID.
func resolvePriorityBased(n *models.Negotiation, performance map[string]float64) models.Proposal {
	var winner string
	bestPriority := math.MinInt
	for _, agentID := range sortedProposerIDs(n) {
		priority := int(math.Round(performance[agentID] * 10))
		if agentID == n.InitiatorID {
			priority += 5
		}

		better := priority > bestPriority
		if priority == bestPriority {
			better = agentID == n.InitiatorID || (winner != n.InitiatorID && agentID < winner)
		}
		if winner == "" || better {
			winner, bestPriority = agentID, priority
		}
	}
	if winner == "" {
		return nil
	}
	return n.Proposals[winner].Clone()
}

// resolveCompromise builds an agreement over the union of proposed keys.
// All-numeric values take their arithmetic mean; all-boolean values take a
// strict majority with ties resolving to false; anything else takes the
// most frequent value, first proposed winning ties.
func resolveCompromise(n *models.Negotiation) models.Proposal {
	agreement := make(models.Proposal)
	proposers := sortedProposerIDs(n)

	for _, key := range unionProposalKeys(n, proposers) {
		values := make([]interface{}, 0, len(proposers))
		for _, agentID := range proposers {
			if value, ok := n.Proposals[agentID][key]; ok {
				values = append(values, value)
			}
		}
		agreement[key] = compromiseValue(values)
	}
	return agreement
}

func compromiseValue(values []interface{}) interface{} {
	if numbers, ok := allNumeric(values); ok {
		sum := 0.0
		for _, number := range numbers {
			sum += number
		}
		return sum / float64(len(numbers))
	}

	if booleans, ok := allBoolean(values); ok {
		trueCount := 0
		for _, b := range booleans {
			if b {
				trueCount++
			}
		}
		return trueCount*2 > len(booleans)
	}

	groups := groupValues(values)
	best := groups[0]
	for _, group := range groups[1:] {
		if group.count > best.count {
			best = group
		}
	}
	return models.DeepCopyValue(best.value)
}

// resolveVoting lets each proposal vote for itself, counting structurally
// equal proposals together. The group with the most votes wins; ties go to
// the group whose proposal entered the transcript first.
func resolveVoting(n *models.Negotiation) models.Proposal {
	entries := proposalEntries(n)
	if len(entries) == 0 {
		return nil
	}

	type voteGroup struct {
		proposal   models.Proposal
		votes      int
		firstIndex int
	}
	var groups []*voteGroup
	for _, entry := range entries {
		matched := false
		for _, group := range groups {
			if group.proposal.Equal(entry.proposal) {
				group.votes++
				matched = true
				break
			}
		}
		if !matched {
			groups = append(groups, &voteGroup{
				proposal:   entry.proposal,
				votes:      1,
				firstIndex: entry.messageIndex,
			})
		}
	}

	best := groups[0]
	for _, group := range groups[1:] {
		if group.votes > best.votes ||
			(group.votes == best.votes && group.firstIndex < best.firstIndex) {
			best = group
		}
	}
	return best.proposal.Clone()
}

// resolveOptimization picks, per key, the value with the highest utility
// 1 + support/total, where support counts proposals assigning that exact
// value. Numeric winners are clamped to the resource's maximum quantity.
func resolveOptimization(n *models.Negotiation, defaultMaxQuantity float64) models.Proposal {
	agreement := make(models.Proposal)
	proposers := sortedProposerIDs(n)
	total := len(proposers)
	if total == 0 {
		return agreement
	}

	for _, key := range unionProposalKeys(n, proposers) {
		values := make([]interface{}, 0, total)
		for _, agentID := range proposers {
			if value, ok := n.Proposals[agentID][key]; ok {
				values = append(values, value)
			}
		}

		groups := groupValues(values)
		best := groups[0]
		bestUtility := 1 + float64(best.count)/float64(total)
		for _, group := range groups[1:] {
			utility := 1 + float64(group.count)/float64(total)
			if utility > bestUtility {
				best, bestUtility = group, utility
			}
		}

		winner := models.DeepCopyValue(best.value)
		if number, ok := models.NumericValue(winner); ok {
			limit := maxQuantityForKey(n, key, defaultMaxQuantity)
			if number > limit {
				winner = limit
			}
		}
		agreement[key] = winner
	}
	return agreement
}

// maxQuantityForKey reads the per-resource quantity cap from the
// negotiation's resource descriptor, falling back to the configured
// default.
func maxQuantityForKey(n *models.Negotiation, key string, defaultMaxQuantity float64) float64 {
	if descriptor := models.AsTree(n.Resources[key]); descriptor != nil {
		if limit, ok := models.NumericValue(descriptor["max_quantity"]); ok {
			return limit
		}
	}
	return defaultMaxQuantity
}

func sortedProposerIDs(n *models.Negotiation) []string {
	ids := make([]string, 0, len(n.Proposals))
	for agentID := range n.Proposals {
		ids = append(ids, agentID)
	}
	sort.Strings(ids)
	return ids
}

func unionProposalKeys(n *models.Negotiation, proposers []string) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, agentID := range proposers {
		for key := range n.Proposals[agentID] {
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func allNumeric(values []interface{}) ([]float64, bool) {
	numbers := make([]float64, 0, len(values))
	for _, value := range values {
		number, ok := models.NumericValue(value)
		if !ok {
			return nil, false
		}
		numbers = append(numbers, number)
	}
	return numbers, len(numbers) > 0
}

func allBoolean(values []interface{}) ([]bool, bool) {
	booleans := make([]bool, 0, len(values))
	for _, value := range values {
		b, ok := value.(bool)
		if !ok {
			return nil, false
		}
		booleans = append(booleans, b)
	}
	return booleans, len(booleans) > 0
}

type valueGroup struct {
	value interface{}
	count int
}

// groupValues buckets values by structural equality, preserving first-seen
// order.
func groupValues(values []interface{}) []*valueGroup {
	var groups []*valueGroup
	for _, value := range values {
		matched := false
		for _, group := range groups {
			if models.ValueEqual(group.value, value) {
				group.count++
				matched = true
				break
			}
		}
		if !matched {
			groups = append(groups, &valueGroup{value: value, count: 1})
		}
	}
	return groups
}

type proposalEntry struct {
	agentID      string
	proposal     models.Proposal
	messageIndex int
}

// proposalEntries pairs each proposer with the transcript position of
// their latest proposal, ordered by that position.
func proposalEntries(n *models.Negotiation) []proposalEntry {
	latest := make(map[string]int)
	for i, message := range n.Messages {
		if message.Type == models.MessageTypeProposal || message.Type == models.MessageTypeCounterProposal {
			latest[message.Sender] = i
		}
	}

	entries := make([]proposalEntry, 0, len(n.Proposals))
	for _, agentID := range sortedProposerIDs(n) {
		index, ok := latest[agentID]
		if !ok {
			continue
		}
		entries = append(entries, proposalEntry{
			agentID:      agentID,
			proposal:     n.Proposals[agentID],
			messageIndex: index,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].messageIndex < entries[j].messageIndex
	})
	return entries
}
