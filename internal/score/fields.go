package score

import "github.com/carelens/carematch/internal/model"

// concrete returns the field value if it carries a concrete (non-nil) value.
func concrete(fields map[string]any, name string) (any, bool) {
	v, ok := fields[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// EvaluateField resolves one scoring field against its required value with
// proxy fallback.
//
// A concrete primary value yields match or noMatch at full confidence. An
// absent primary walks the configured proxy list in order; the first
// concrete proxy that satisfies the required value yields proxyMatch at the
// proxy's configured confidence, which is never 1.0. If nothing resolves the
// result is unknown with the null-penalty multiplier, deliberately above
// zero so missing data never scores like an explicit disqualification.
func (e *Engine) EvaluateField(fields map[string]any, fieldName string, required any) model.FieldMatchResult {
	result := model.FieldMatchResult{Field: fieldName}

	if value, ok := concrete(fields, fieldName); ok {
		if valuesEqual(value, required) {
			result.Result = model.FieldMatch
			result.ScoreMultiplier = 1.0
			result.Confidence = 1.0
		} else {
			result.Result = model.FieldNoMatch
			result.ScoreMultiplier = 0.0
			result.Confidence = 1.0
		}
		return result
	}

	fallback := e.cfg.Fallbacks[fieldName]
	for _, proxy := range fallback.Proxies {
		value, ok := concrete(fields, proxy.Field)
		if !ok || !valuesEqual(value, required) {
			continue
		}
		result.Result = model.FieldProxyMatch
		result.ScoreMultiplier = proxy.Confidence
		result.Confidence = proxy.Confidence
		result.ProxyUsed = proxy.Field
		return result
	}

	result.Result = model.FieldUnknown
	result.ScoreMultiplier = e.nullPenalty(fieldName)
	result.Confidence = 0.0
	return result
}

func (e *Engine) nullPenalty(fieldName string) float64 {
	if fb, ok := e.cfg.Fallbacks[fieldName]; ok && fb.NullPenalty > 0 {
		return fb.NullPenalty
	}
	return e.cfg.NullPenalty
}
