package rules

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateRule = errors.New("rule already exists")
	ErrRuleNotFound  = errors.New("rule not found")
)

// ValidationError describes why a rule definition was rejected.
type ValidationError struct {
	RuleID string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.RuleID == "" {
		return "invalid rule: " + e.Reason
	}
	return fmt.Sprintf("invalid rule %q: %s", e.RuleID, e.Reason)
}

func invalid(id, format string, args ...any) error {
	return &ValidationError{RuleID: id, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks a rule definition. Evaluation never depends on it having
// been called; it exists so malformed rules are caught when they are added.
func Validate(r Rule) error {
	if r.ID == "" {
		return invalid("", "missing rule id")
	}
	if !r.Type.Valid() {
		return invalid(r.ID, "unknown rule type %q", r.Type)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return invalid(r.ID, "confidence %v outside [0,1]", r.Confidence)
	}
	if len(r.Conditions) == 0 {
		return invalid(r.ID, "rule has no conditions")
	}
	for i, c := range r.Conditions {
		if err := validateCondition(c); err != nil {
			return invalid(r.ID, "condition %d: %v", i, err)
		}
	}
	return nil
}

func validateCondition(c Condition) error {
	if !KnownField(c.Field) {
		return fmt.Errorf("unknown field %q", c.Field)
	}
	switch c.Operator {
	case OpEq:
		if !isScalar(c.Value) {
			return fmt.Errorf("eq needs a scalar value, got %T", c.Value)
		}
	case OpGt, OpGte, OpLt, OpLte:
		if _, ok := asNumber(c.Value); !ok {
			return fmt.Errorf("%s needs a numeric value, got %T", c.Operator, c.Value)
		}
	case OpBetween:
		lo, hi, ok := asRange(c.Value)
		if !ok {
			return fmt.Errorf("between needs [low, high], got %v", c.Value)
		}
		if lo > hi {
			return fmt.Errorf("between bounds reversed: [%v, %v]", lo, hi)
		}
	case OpIn:
		items, ok := asList(c.Value)
		if !ok {
			return fmt.Errorf("in needs a list, got %T", c.Value)
		}
		for _, item := range items {
			if !isScalar(item) {
				return fmt.Errorf("in list holds non-scalar %T", item)
			}
		}
	default:
		return fmt.Errorf("unknown operator %q", c.Operator)
	}
	return nil
}

func isScalar(v any) bool {
	if _, ok := asNumber(v); ok {
		return true
	}
	switch v.(type) {
	case string, bool:
		return true
	default:
		return false
	}
}

// Catalog is an immutable, ordered snapshot of the rule repository. Every
// mutation returns a new Catalog.
type Catalog struct {
	rules   []Rule
	index   map[string]int
	version uint64
}

// NewCatalog validates rules and returns a snapshot preserving their order.
func NewCatalog(rules []Rule) (*Catalog, error) {
	c := &Catalog{
		rules: make([]Rule, 0, len(rules)),
		index: make(map[string]int, len(rules)),
	}
	for _, r := range rules {
		if err := Validate(r); err != nil {
			return nil, err
		}
		if _, dup := c.index[r.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRule, r.ID)
		}
		c.index[r.ID] = len(c.rules)
		c.rules = append(c.rules, r.clone())
	}
	return c, nil
}

func (c *Catalog) Len() int {
	return len(c.rules)
}

func (c *Catalog) Version() uint64 {
	return c.version
}

func (c *Catalog) Rule(id string) (Rule, bool) {
	i, ok := c.index[id]
	if !ok {
		return Rule{}, false
	}
	return c.rules[i].clone(), true
}

// Rules returns copies of the rules of the given type (all for AnyRuleType)
// in registration order, inactive ones included.
func (c *Catalog) Rules(t RuleType) []Rule {
	out := make([]Rule, 0, len(c.rules))
	for _, r := range c.rules {
		if t == AnyRuleType || r.Type == t {
			out = append(out, r.clone())
		}
	}
	return out
}

func (c *Catalog) withRule(r Rule) (*Catalog, error) {
	if _, dup := c.index[r.ID]; dup {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRule, r.ID)
	}
	if err := Validate(r); err != nil {
		return nil, err
	}
	next := c.successor()
	next.index[r.ID] = len(next.rules)
	next.rules = append(next.rules, r.clone())
	return next, nil
}

func (c *Catalog) withActive(id string, active bool) (*Catalog, bool) {
	i, ok := c.index[id]
	if !ok {
		return nil, false
	}
	next := c.successor()
	next.rules[i].Active = active
	return next, true
}

// successor shares rule conditions and actions with c; they are never mutated
// once inside a catalog.
func (c *Catalog) successor() *Catalog {
	next := &Catalog{
		rules:   make([]Rule, len(c.rules), len(c.rules)+1),
		index:   make(map[string]int, len(c.index)+1),
		version: c.version + 1,
	}
	copy(next.rules, c.rules)
	for id, i := range c.index {
		next.index[id] = i
	}
	return next
}

// Statistics aggregates the catalog in one pass.
func (c *Catalog) Statistics() Statistics {
	stats := Statistics{
		TotalRules:     len(c.rules),
		RulesByType:    make(map[RuleType]int),
		CatalogVersion: c.version,
	}
	for _, r := range c.rules {
		if r.Active {
			stats.ActiveRules++
		}
		if r.ExpertValidated {
			stats.ExpertValidatedRules++
		}
		stats.RulesByType[r.Type]++
	}
	if stats.TotalRules > 0 {
		stats.ValidationPercentage = float64(stats.ExpertValidatedRules*100) / float64(stats.TotalRules)
	}
	return stats
}
