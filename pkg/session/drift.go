package session

import (
	"strings"
	"unicode"
)

// Tokenize lowercases text and splits it into a set of contiguous runs of
// Unicode letters/digits, per spec §4.2's tokenisation rule.
func Tokenize(text string) []string {
	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	return tokens
}

// JaccardSimilarity computes |A ∩ B| / |A ∪ B| over the token sets of a
// and b. Two empty token sets are defined as similarity 1 (no drift).
func JaccardSimilarity(a, b []string) float64 {
	setA := toSet(a)
	setB := toSet(b)

	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 1
	}
	return float64(intersection) / float64(union)
}

func toSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// DriftResult is the outcome of comparing a new utterance against the
// session's remembered topic state.
type DriftResult struct {
	Similarity       float64
	Drifted          bool
	NewTopicState    []string
	TopicDriftStreak int
}

// EvaluateDrift implements spec §4.2's topic-drift detection: tokenise the
// new text, compare to the previous topic state via Jaccard similarity,
// and advance the drift streak. The caller is responsible for persisting
// NewTopicState as the session's new topic state.
func EvaluateDrift(newText string, previousTopicState []string, currentStreak int, threshold float64) DriftResult {
	newTokens := Tokenize(newText)
	similarity := JaccardSimilarity(newTokens, previousTopicState)

	streak := currentStreak
	drifted := similarity < threshold
	if drifted {
		streak++
	} else {
		streak = 0
	}

	return DriftResult{
		Similarity:       similarity,
		Drifted:          drifted,
		NewTopicState:    newTokens,
		TopicDriftStreak: streak,
	}
}

// DriftSuggestionStreakTarget is the streak length that triggers a
// new_session:auto suggestion card (spec §4.2, §4.1 step 8).
const DriftSuggestionStreakTarget = 2
