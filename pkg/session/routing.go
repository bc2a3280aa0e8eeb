package session

import (
	"sort"
	"strings"

	"github.com/uniassist/gateway/pkg/config"
	"github.com/uniassist/gateway/pkg/contracts"
)

// Router scores candidate providers against input text and session sticky
// state, applying the frozen constants from config.RoutingConfig.
type Router struct {
	rules  []ProviderRule
	config config.RoutingConfig
}

// NewRouter builds a Router over the given keyword table and scoring
// parameters.
func NewRouter(rules []ProviderRule, cfg config.RoutingConfig) *Router {
	return &Router{rules: rules, config: cfg}
}

// scored is an internal candidate before trimming to the public threshold.
type scored struct {
	providerID string
	score      float64
	hitCount   int
}

// Score computes, for every provider in the rule table, the hit-count
// driven score per spec §4.2: min(0.95, 0.45 + 0.18*hitCount) if hitCount
// > 0, plus the sticky boost if the provider is currently sticky. Only
// positive scores are returned, sorted descending; ties keep the rule
// table's order (stable sort).
func (r *Router) Score(text string, sticky Snapshot) []scored {
	lower := strings.ToLower(text)

	results := make([]scored, 0, len(r.rules))
	for _, rule := range r.rules {
		hits := countHits(lower, rule.Keywords)

		var base float64
		if hits > 0 {
			base = r.config.StickyBase + r.config.StickyPerHit*float64(hits)
			if base > r.config.StickyMax {
				base = r.config.StickyMax
			}
		}

		score := base
		if rule.ProviderID == sticky.StickyProviderID {
			score += sticky.StickyScoreBoost
		}

		if score > 0 {
			results = append(results, scored{providerID: rule.ProviderID, score: score, hitCount: hits})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	return results
}

// countHits counts how many distinct keywords from the set appear as a
// substring of lowered text.
func countHits(lowered string, keywords []string) int {
	count := 0
	for _, kw := range keywords {
		if strings.Contains(lowered, strings.ToLower(kw)) {
			count++
		}
	}
	return count
}

// SelectCandidates applies the §4.1 step-5 rule: keep up to two candidates
// with score >= threshold; flag requiresUserConfirmation if the top two
// differ by less than the tie margin. It returns the full routing decision
// (for the routing_decision TimelineEvent) plus the provider ids actually
// selected for dispatch (empty when falling back).
func (r *Router) SelectCandidates(text string, sticky Snapshot) (contracts.RoutingDecision, []string) {
	all := r.Score(text, sticky)

	decision := contracts.RoutingDecision{
		Candidates: make([]contracts.RoutingCandidate, 0, len(all)),
		Fallback:   contracts.FallbackNone,
	}
	for _, s := range all {
		decision.Candidates = append(decision.Candidates, contracts.RoutingCandidate{
			ProviderID: s.providerID,
			Score:      s.score,
			Reason:     reasonFor(s),
		})
	}

	var selected []scored
	for _, s := range all {
		if s.score >= r.config.CandidateThreshold {
			selected = append(selected, s)
			if len(selected) == 2 {
				break
			}
		}
	}

	if len(selected) == 0 {
		decision.Fallback = BuiltinFallbackProviderID
		return decision, nil
	}

	if len(selected) == 2 && (selected[0].score-selected[1].score) < r.config.TieMargin {
		decision.RequiresUserConfirmation = true
	}

	selectedIDs := make([]string, len(selected))
	for i, s := range selected {
		selectedIDs[i] = s.providerID
	}
	return decision, selectedIDs
}

func reasonFor(s scored) string {
	if s.hitCount == 0 {
		return "sticky boost"
	}
	return "keyword match"
}
