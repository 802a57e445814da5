package model

// Candidate represents a care home being evaluated. Fields holds the merged
// view of caller-supplied attributes and enrichment payloads, keyed by
// canonical field name. A missing or nil value means "unknown", which is
// never the same thing as an explicit false.
type Candidate struct {
	ID     string         `json:"id"`               // Stable identifier (e.g., regulator location ID)
	Name   string         `json:"name"`             // Display name
	Fields map[string]any `json:"fields,omitempty"` // Mixed-type attributes, independently nullable
}

// Field returns the named field value and whether a concrete value exists.
// An explicit nil stored under the key counts as absent.
func (c *Candidate) Field(name string) (any, bool) {
	v, ok := c.Fields[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// RequesterProfile describes the person care is being sought for, plus the
// capabilities the matched home must provide. Attributes feed the weight
// rules; capabilities feed the disqualification pass.
type RequesterProfile struct {
	ID         string         `json:"id,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"` // e.g. "dementia": true, "fall_risk": "high"

	RequiredCapabilities []string `json:"required_capabilities,omitempty"` // Capability tags the home must offer
	CriticalCapabilities []string `json:"critical_capabilities,omitempty"` // Subset whose explicit absence disqualifies
}

// Attribute returns the named profile attribute and whether it is set.
func (p *RequesterProfile) Attribute(name string) (any, bool) {
	v, ok := p.Attributes[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// IsCritical reports whether the capability must be explicitly present.
func (p *RequesterProfile) IsCritical(capability string) bool {
	for _, c := range p.CriticalCapabilities {
		if c == capability {
			return true
		}
	}
	return false
}
