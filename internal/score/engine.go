package score

import (
	"fmt"
	"math"
	"sort"

	"github.com/spf13/cast"

	"github.com/carelens/carematch/internal/model"
)

// Engine is the weighted scoring engine. It performs pure computation over
// already-fetched data: no I/O, no shared mutable state, and identical
// inputs always produce identical verdicts.
type Engine struct {
	cfg *Config
}

// NewEngine creates an engine after validating the scoring tables.
func NewEngine(cfg *Config) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scoring config: %w", err)
	}
	return &Engine{cfg: cfg}, nil
}

// capabilityState classifies one required capability for a candidate.
type capabilityState int

const (
	capabilityUnknown capabilityState = iota
	capabilityMatched
	capabilityExplicitFalse
)

// evaluateCapability checks the capability's backing fields. Any field that
// affirms the capability means matched; explicit false on every concrete
// backing field with no affirmation means explicitFalse; no concrete data
// at all means unknown. Nulls never count as false.
func (e *Engine) evaluateCapability(fields map[string]any, capability string) capabilityState {
	backing := e.cfg.Capabilities[capability]
	sawFalse := false

	for _, name := range backing {
		value, ok := concrete(fields, name)
		if !ok {
			continue
		}
		if affirmed, err := cast.ToBoolE(value); err == nil {
			if affirmed {
				return capabilityMatched
			}
			sawFalse = true
			continue
		}
		// A non-boolean concrete value (e.g. a dementia band string)
		// indicates the capability is served.
		if cast.ToString(value) != "" {
			return capabilityMatched
		}
	}

	if sawFalse {
		return capabilityExplicitFalse
	}
	return capabilityUnknown
}

// EvaluateCandidate scores one candidate against the profile using the
// provided weight vector.
//
// The capability pass runs first: a critical capability whose backing
// fields are explicitly false with no match elsewhere disqualifies the
// candidate at score 0 and short-circuits all further scoring. Otherwise
// every criterion is resolved via EvaluateField and accumulated into
// weighted category sub-scores.
func (e *Engine) EvaluateCandidate(cand model.Candidate, fields map[string]any, profile *model.RequesterProfile, weights model.ScoringWeights) model.MatchVerdict {
	verdict := model.MatchVerdict{
		CandidateID:    cand.ID,
		CandidateName:  cand.Name,
		CategoryScores: make(map[string]float64),
	}

	criticalUnknowns := 0
	for _, capability := range profile.RequiredCapabilities {
		switch e.evaluateCapability(fields, capability) {
		case capabilityExplicitFalse:
			if profile.IsCritical(capability) {
				verdict.Status = model.StatusDisqualified
				verdict.Score = 0
				verdict.DataCompleteness = e.completeness(0, 0)
				verdict.Reasons = []string{
					fmt.Sprintf("does not provide required %s care (explicitly not offered)", capability),
				}
				return verdict
			}
			verdict.Reasons = append(verdict.Reasons,
				fmt.Sprintf("%s care not offered", capability))
		case capabilityUnknown:
			if profile.IsCritical(capability) {
				criticalUnknowns++
			}
			verdict.Reasons = append(verdict.Reasons,
				fmt.Sprintf("%s care could not be confirmed", capability))
		}
	}

	type categoryAccum struct {
		sum   float64
		count int
	}
	accum := make(map[string]*categoryAccum)
	proxyCount := 0

	for _, crit := range e.cfg.Criteria {
		required, ok := e.requiredValue(crit, profile)
		if !ok {
			continue
		}

		res := e.EvaluateField(fields, crit.Field, required)

		acc := accum[crit.Category]
		if acc == nil {
			acc = &categoryAccum{}
			accum[crit.Category] = acc
		}
		acc.sum += res.ScoreMultiplier
		acc.count++

		switch res.Result {
		case model.FieldMatch:
			verdict.MatchedFields = append(verdict.MatchedFields, crit.Field)
		case model.FieldProxyMatch:
			proxyCount++
			verdict.ProxyMatched = append(verdict.ProxyMatched, res)
			verdict.Reasons = append(verdict.Reasons,
				fmt.Sprintf("%s inferred from %s (confidence %.2f)", crit.Field, res.ProxyUsed, res.Confidence))
		case model.FieldUnknown:
			verdict.UnknownFields = append(verdict.UnknownFields, crit.Field)
		case model.FieldNoMatch:
			verdict.Reasons = append(verdict.Reasons,
				fmt.Sprintf("%s does not meet requirement (%v)", crit.Field, required))
		}
	}

	var total float64
	for category, weight := range weights {
		multiplier := e.cfg.NullPenalty
		if acc, ok := accum[category]; ok && acc.count > 0 {
			multiplier = acc.sum / float64(acc.count)
		}
		sub := weight * multiplier
		verdict.CategoryScores[category] = round1(sub)
		total += sub
	}
	verdict.Score = round1(math.Min(total, 100))

	resolved := len(verdict.MatchedFields) + len(verdict.ProxyMatched)
	unknown := len(verdict.UnknownFields)
	verdict.DataCompleteness = e.completeness(resolved, unknown)

	sort.Strings(verdict.MatchedFields)
	sort.Strings(verdict.UnknownFields)

	switch {
	case unknown > len(verdict.MatchedFields):
		verdict.Status = model.StatusUncertain
	case verdict.DataCompleteness >= e.cfg.MatchedThreshold && criticalUnknowns == 0 && proxyCount == 0:
		verdict.Status = model.StatusMatched
	default:
		verdict.Status = model.StatusPartial
	}

	return verdict
}

// completeness is the percentage of evaluated fields that resolved.
// No evaluated fields at all counts as fully complete.
func (e *Engine) completeness(resolved, unknown int) float64 {
	total := resolved + unknown
	if total == 0 {
		return 100
	}
	return round1(float64(resolved) / float64(total) * 100)
}

// requiredValue resolves what value a criterion demands for this profile.
// Optional criteria are skipped entirely when the profile attribute is
// absent; the second return reports whether the criterion applies.
func (e *Engine) requiredValue(crit Criterion, profile *model.RequesterProfile) (any, bool) {
	if crit.Attribute != "" {
		if v, ok := profile.Attribute(crit.Attribute); ok {
			return v, true
		}
		if crit.Optional {
			return nil, false
		}
	}
	if crit.Required != nil {
		return crit.Required, true
	}
	return true, true
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
