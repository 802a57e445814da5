package score

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/carelens/carematch/internal/model"
)

const (
	// DefaultNullPenalty is the multiplier applied when a field resolves to
	// unknown. It must stay above zero: absence of data is never scored the
	// same as an explicit disqualification.
	DefaultNullPenalty = 0.7

	// DefaultMatchedThreshold is the completeness percentage at or above
	// which a candidate can be classified as matched.
	DefaultMatchedThreshold = 80.0

	weightEpsilon = 0.1
)

// ProxyField is one entry in a field's ordered proxy list.
type ProxyField struct {
	Field      string  `yaml:"field"`
	Confidence float64 `yaml:"confidence"` // (0,1); proxies are never certain
}

// FieldFallback configures proxy resolution for one scoring field.
type FieldFallback struct {
	Proxies     []ProxyField `yaml:"proxies,omitempty"`
	NullPenalty float64      `yaml:"null_penalty,omitempty"` // 0 means the global default
}

// RuleCondition is a predicate over the requester profile.
type RuleCondition struct {
	Attribute string   `yaml:"attribute"`
	Equals    any      `yaml:"equals,omitempty"` // Compared after coercion
	Truthy    bool     `yaml:"truthy,omitempty"` // Fires when the attribute coerces to true
	Min       *float64 `yaml:"min,omitempty"`    // Fires when the attribute is >= Min
}

// WeightRule shifts category weights when its condition matches the profile.
// Rules sharing a Group are mutually exclusive; only the highest-priority
// matching rule in the group applies.
type WeightRule struct {
	Name     string             `yaml:"name"`
	Group    string             `yaml:"group,omitempty"`
	Priority int                `yaml:"priority,omitempty"`
	When     RuleCondition      `yaml:"when"`
	Deltas   map[string]float64 `yaml:"deltas"`
}

// Criterion is one scoring field within a category. The required value comes
// from the named profile attribute when set, falling back to Required.
type Criterion struct {
	Field     string `yaml:"field"`
	Category  string `yaml:"category"`
	Attribute string `yaml:"attribute,omitempty"`
	Required  any    `yaml:"required,omitempty"`
	Optional  bool   `yaml:"optional,omitempty"` // Skip entirely when the profile attribute is absent
}

// Config holds the scoring tables: base weights, weight rules, field
// fallbacks, criteria and capability backings. Loaded once at startup and
// immutable afterwards; a malformed table aborts initialization.
type Config struct {
	BaseWeights  model.ScoringWeights     `yaml:"base_weights"`
	Rules        []WeightRule             `yaml:"rules,omitempty"`
	Fallbacks    map[string]FieldFallback `yaml:"fallbacks,omitempty"`
	Criteria     []Criterion              `yaml:"criteria"`
	Capabilities map[string][]string      `yaml:"capabilities"`

	NullPenalty      float64 `yaml:"null_penalty,omitempty"`
	MatchedThreshold float64 `yaml:"matched_threshold,omitempty"`
}

// LoadConfig reads and validates a scoring config file. An empty path
// returns the built-in defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return DefaultScoringConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scoring config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse scoring config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scoring config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.NullPenalty == 0 {
		c.NullPenalty = DefaultNullPenalty
	}
	if c.MatchedThreshold == 0 {
		c.MatchedThreshold = DefaultMatchedThreshold
	}
}

// Validate checks the tables for the malformations that must abort startup.
func (c *Config) Validate() error {
	if len(c.BaseWeights) == 0 {
		return fmt.Errorf("base_weights is empty")
	}
	for cat, w := range c.BaseWeights {
		if w < 0 {
			return fmt.Errorf("base weight for %q is negative", cat)
		}
	}
	if sum := c.BaseWeights.Sum(); math.Abs(sum-100) > weightEpsilon {
		return fmt.Errorf("base_weights sum to %.2f, want 100", sum)
	}

	if c.NullPenalty <= 0 || c.NullPenalty > 1 {
		return fmt.Errorf("null_penalty %.2f out of range (0,1]", c.NullPenalty)
	}
	if c.MatchedThreshold <= 0 || c.MatchedThreshold > 100 {
		return fmt.Errorf("matched_threshold %.2f out of range (0,100]", c.MatchedThreshold)
	}

	for _, rule := range c.Rules {
		if rule.Name == "" {
			return fmt.Errorf("weight rule without a name")
		}
		if rule.When.Attribute == "" {
			return fmt.Errorf("rule %q has no condition attribute", rule.Name)
		}
		if len(rule.Deltas) == 0 {
			return fmt.Errorf("rule %q has no deltas", rule.Name)
		}
		for cat := range rule.Deltas {
			if _, ok := c.BaseWeights[cat]; !ok {
				return fmt.Errorf("rule %q targets unknown category %q", rule.Name, cat)
			}
		}
	}

	for field, fb := range c.Fallbacks {
		for _, proxy := range fb.Proxies {
			if proxy.Field == "" {
				return fmt.Errorf("fallback for %q has a proxy without a field", field)
			}
			if proxy.Confidence <= 0 || proxy.Confidence >= 1 {
				return fmt.Errorf("fallback %q proxy %q: confidence %.2f out of range (0,1)", field, proxy.Field, proxy.Confidence)
			}
		}
		if fb.NullPenalty < 0 || fb.NullPenalty > 1 {
			return fmt.Errorf("fallback for %q: null_penalty %.2f out of range [0,1]", field, fb.NullPenalty)
		}
	}

	if len(c.Criteria) == 0 {
		return fmt.Errorf("criteria is empty")
	}
	for _, crit := range c.Criteria {
		if crit.Field == "" {
			return fmt.Errorf("criterion without a field")
		}
		if _, ok := c.BaseWeights[crit.Category]; !ok {
			return fmt.Errorf("criterion %q targets unknown category %q", crit.Field, crit.Category)
		}
	}

	for capability, backing := range c.Capabilities {
		if len(backing) == 0 {
			return fmt.Errorf("capability %q has no backing fields", capability)
		}
	}

	return nil
}

// DefaultScoringConfig returns the built-in care-home scoring tables. The
// confidence and penalty numbers are business tuning, replaceable per
// deployment via a config file.
func DefaultScoringConfig() *Config {
	cfg := &Config{
		BaseWeights: model.ScoringWeights{
			"care_quality":      30,
			"safety":            25,
			"cognitive_support": 15,
			"reputation":        15,
			"affordability":     15,
		},
		Rules: []WeightRule{
			{
				Name:     "dementia",
				Group:    "clinical_emphasis",
				Priority: 20,
				When:     RuleCondition{Attribute: "dementia", Truthy: true},
				Deltas:   map[string]float64{"cognitive_support": 15, "affordability": -10, "reputation": -5},
			},
			{
				Name:     "high_fall_risk",
				Group:    "clinical_emphasis",
				Priority: 10,
				When:     RuleCondition{Attribute: "fall_risk", Equals: "high"},
				Deltas:   map[string]float64{"safety": 15, "affordability": -10},
			},
			{
				Name:   "budget_constrained",
				When:   RuleCondition{Attribute: "funding", Equals: "local_authority"},
				Deltas: map[string]float64{"affordability": 10, "reputation": -5},
			},
		},
		Fallbacks: map[string]FieldFallback{
			"serves_dementia_band": {
				Proxies: []ProxyField{
					{Field: "care_dementia", Confidence: 0.9},
				},
			},
			"rating_safety": {
				Proxies: []ProxyField{
					{Field: "rating_overall", Confidence: 0.8},
				},
			},
			"accepts_local_funding": {
				Proxies: []ProxyField{
					{Field: "accepts_nhs_funding", Confidence: 0.6},
				},
			},
		},
		Criteria: []Criterion{
			{Field: "rating_overall", Category: "care_quality", Attribute: "required_rating", Required: "Good"},
			{Field: "rating_safety", Category: "safety", Required: "Good"},
			{Field: "serves_dementia_band", Category: "cognitive_support", Attribute: "dementia", Optional: true},
			{Field: "review_recent", Category: "reputation", Required: true},
			{Field: "accepts_local_funding", Category: "affordability", Attribute: "needs_local_funding", Optional: true},
			{Field: "accepts_top_up", Category: "affordability", Required: true},
		},
		Capabilities: map[string][]string{
			"dementia":    {"serves_dementia_band", "care_dementia"},
			"residential": {"care_residential"},
			"nursing":     {"care_nursing"},
		},
	}
	cfg.applyDefaults()
	return cfg
}
