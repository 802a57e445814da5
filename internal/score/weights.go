package score

import (
	"math"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/carelens/carematch/internal/model"
)

// DeriveWeights evaluates every weight rule against the profile and composes
// the deltas of the firing rules onto the base vector. Within a conflict
// group only the highest-priority matching rule fires; across groups deltas
// compose additively. Negative categories are clipped to zero and the vector
// is renormalized to sum to exactly 100.
//
// The returned condition names record which rules fired, for audit only.
func (e *Engine) DeriveWeights(profile *model.RequesterProfile) (model.ScoringWeights, []string) {
	weights := e.cfg.BaseWeights.Clone()

	var fired []WeightRule
	grouped := make(map[string]WeightRule)

	for _, rule := range e.cfg.Rules {
		if !conditionMatches(rule.When, profile) {
			continue
		}
		if rule.Group == "" {
			fired = append(fired, rule)
			continue
		}
		best, seen := grouped[rule.Group]
		if !seen || rule.Priority > best.Priority ||
			(rule.Priority == best.Priority && rule.Name < best.Name) {
			grouped[rule.Group] = rule
		}
	}
	for _, rule := range grouped {
		fired = append(fired, rule)
	}

	applied := make([]string, 0, len(fired))
	for _, rule := range fired {
		applied = append(applied, rule.Name)
		for cat, delta := range rule.Deltas {
			weights[cat] += delta
		}
	}
	sort.Strings(applied)

	for cat, w := range weights {
		if w < 0 {
			weights[cat] = 0
		}
	}
	normalize(weights)

	return weights, applied
}

// normalize rescales the vector to sum to exactly 100.
func normalize(weights model.ScoringWeights) {
	sum := weights.Sum()
	if sum <= 0 {
		// Degenerate delta composition; fall back to an even split.
		even := 100 / float64(len(weights))
		for cat := range weights {
			weights[cat] = even
		}
		return
	}

	scale := 100 / sum
	for cat, w := range weights {
		weights[cat] = w * scale
	}
}

// conditionMatches evaluates one rule predicate against the profile.
func conditionMatches(cond RuleCondition, profile *model.RequesterProfile) bool {
	value, ok := profile.Attribute(cond.Attribute)
	if !ok {
		return false
	}

	if cond.Truthy {
		return cast.ToBool(value)
	}
	if cond.Min != nil {
		f, err := cast.ToFloat64E(value)
		return err == nil && f >= *cond.Min
	}
	if cond.Equals != nil {
		return valuesEqual(value, cond.Equals)
	}

	// A bare attribute condition fires on presence alone.
	return true
}

// valuesEqual compares a candidate/profile value with a required value,
// coercing across the mixed types a field can carry.
func valuesEqual(actual, required any) bool {
	switch req := required.(type) {
	case bool:
		got, err := cast.ToBoolE(actual)
		return err == nil && got == req
	case string:
		return strings.EqualFold(cast.ToString(actual), req)
	default:
		reqF, reqErr := cast.ToFloat64E(required)
		gotF, gotErr := cast.ToFloat64E(actual)
		if reqErr == nil && gotErr == nil {
			return math.Abs(reqF-gotF) < 1e-9
		}
		return cast.ToString(actual) == cast.ToString(required)
	}
}
