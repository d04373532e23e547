package engine

import (
	"regexp"
	"strings"

	"github.com/scrypster/engram/pkg/types"
)

// ContradictionChecker decides whether a new value contradicts an old one
// for the same concept. It is a heuristic; the curator only trusts it for
// memories that are already semantically close.
type ContradictionChecker interface {
	Contradicts(newValue, oldValue string) bool
}

// ContradictionFunc adapts a function to ContradictionChecker.
type ContradictionFunc func(newValue, oldValue string) bool

// Contradicts calls f.
func (f ContradictionFunc) Contradicts(newValue, oldValue string) bool {
	return f(newValue, oldValue)
}

var numberPattern = regexp.MustCompile(`\d+`)

// DefaultSynonyms are groups of values that never contradict each other.
var DefaultSynonyms = [][]string{
	{"vegetarian", "vegan", "plant-based"},
}

// HeuristicContradiction is the default ContradictionChecker:
//
//  1. values in the same synonym group never contradict;
//  2. values that both carry numbers contradict when the number sets differ;
//  3. otherwise values contradict when their word overlap
//     (intersection over union) is strictly below MinOverlap.
type HeuristicContradiction struct {
	Synonyms   [][]string
	MinOverlap float64
}

// NewHeuristicContradiction returns the checker with the default synonym
// groups and a 0.2 overlap floor.
func NewHeuristicContradiction() *HeuristicContradiction {
	return &HeuristicContradiction{
		Synonyms:   DefaultSynonyms,
		MinOverlap: 0.2,
	}
}

// Contradicts implements ContradictionChecker.
func (h *HeuristicContradiction) Contradicts(newValue, oldValue string) bool {
	a, b := types.NormalizeValue(newValue), types.NormalizeValue(oldValue)
	if a == b {
		return false
	}
	if h.synonymous(a, b) {
		return false
	}

	numsA, numsB := numberSet(a), numberSet(b)
	if len(numsA) > 0 && len(numsB) > 0 {
		return !sameSet(numsA, numsB)
	}

	return jaccard(wordSet(a), wordSet(b)) < h.MinOverlap
}

func (h *HeuristicContradiction) synonymous(a, b string) bool {
	for _, group := range h.Synonyms {
		var hasA, hasB bool
		for _, term := range group {
			hasA = hasA || term == a
			hasB = hasB || term == b
		}
		if hasA && hasB {
			return true
		}
	}
	return false
}

func numberSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, n := range numberPattern.FindAllString(s, -1) {
		set[n] = struct{}{}
	}
	return set
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// jaccard returns |a∩b| / |a∪b|. Two empty sets are identical.
func jaccard(a, b map[string]struct{}) float64 {
	union := len(a)
	inter := 0
	for k := range b {
		if _, ok := a[k]; ok {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}
