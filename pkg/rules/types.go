package rules

type RuleType string

const (
	// AnyRuleType disables type filtering in EvaluateRules and Explain.
	AnyRuleType RuleType = ""

	CropSuitability    RuleType = "crop_suitability"
	FertilizerRate     RuleType = "fertilizer_rate"
	FertilizerTiming   RuleType = "fertilizer_timing"
	SoilManagement     RuleType = "soil_management"
	NutrientDeficiency RuleType = "nutrient_deficiency"
	CoverCrop          RuleType = "cover_crop"
)

// RuleTypes lists every known rule type in reporting order.
var RuleTypes = []RuleType{
	CropSuitability,
	FertilizerRate,
	FertilizerTiming,
	SoilManagement,
	NutrientDeficiency,
	CoverCrop,
}

func (t RuleType) Valid() bool {
	for _, known := range RuleTypes {
		if t == known {
			return true
		}
	}
	return false
}

type Operator string

const (
	OpEq      Operator = "eq"
	OpGt      Operator = "gt"
	OpGte     Operator = "gte"
	OpLt      Operator = "lt"
	OpLte     Operator = "lte"
	OpBetween Operator = "between"
	OpIn      Operator = "in"
)

func (o Operator) Valid() bool {
	switch o {
	case OpEq, OpGt, OpGte, OpLt, OpLte, OpBetween, OpIn:
		return true
	default:
		return false
	}
}

// Condition is one field test. Value is a scalar for comparisons, a
// two-element numeric list for between and a list for in.
type Condition struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value" yaml:"value"`
	Weight   float64  `json:"weight,omitempty" yaml:"weight,omitempty"`
}

type Rule struct {
	ID              string         `json:"rule_id" yaml:"id"`
	Type            RuleType       `json:"rule_type" yaml:"type"`
	Description     string         `json:"description,omitempty" yaml:"description,omitempty"`
	Conditions      []Condition    `json:"conditions" yaml:"conditions"`
	Action          map[string]any `json:"action" yaml:"action"`
	Confidence      float64        `json:"confidence" yaml:"confidence"`
	Priority        int            `json:"priority" yaml:"priority"`
	Source          string         `json:"agricultural_source,omitempty" yaml:"source,omitempty"`
	ExpertValidated bool           `json:"expert_validated" yaml:"expert_validated"`
	Active          bool           `json:"active" yaml:"active"`
}

// clone returns a copy that shares nothing mutable with r.
func (r Rule) clone() Rule {
	out := r
	out.Conditions = make([]Condition, len(r.Conditions))
	for i, c := range r.Conditions {
		c.Value = normalizeValue(c.Value)
		out.Conditions[i] = c
	}
	out.Action = CloneAction(r.Action)
	return out
}

// CloneAction deep-copies an action payload; a nil action becomes empty.
func CloneAction(action map[string]any) map[string]any {
	if action == nil {
		return map[string]any{}
	}
	return cloneValue(action).(map[string]any)
}

// cloneValue deep-copies the map and slice shapes produced by YAML and JSON
// decoding. Scalars are returned as is.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []float64:
		return append([]float64(nil), t...)
	case []int:
		return append([]int(nil), t...)
	default:
		return v
	}
}

// Result is produced for every rule that matched a request.
type Result struct {
	RuleID     string         `json:"rule_id"`
	RuleType   RuleType       `json:"rule_type"`
	Matched    bool           `json:"matched"`
	Confidence float64        `json:"confidence"`
	Priority   int            `json:"priority"`
	Action     map[string]any `json:"action"`
}

type ConditionOutcome struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Resolved bool     `json:"resolved"`
	Value    any      `json:"value,omitempty"`
	Passed   bool     `json:"passed"`
}

// Trace explains how one rule fared against a request.
type Trace struct {
	RuleID     string             `json:"rule_id"`
	RuleType   RuleType           `json:"rule_type"`
	Matched    bool               `json:"matched"`
	Confidence float64            `json:"confidence"`
	Conditions []ConditionOutcome `json:"conditions"`
}

type Statistics struct {
	TotalRules           int              `json:"total_rules"`
	ActiveRules          int              `json:"active_rules"`
	ExpertValidatedRules int              `json:"expert_validated_rules"`
	RulesByType          map[RuleType]int `json:"rules_by_type"`
	ValidationPercentage float64          `json:"validation_percentage"`
	CatalogVersion       uint64           `json:"catalog_version"`
}
