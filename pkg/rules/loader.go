package rules

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed catalog/default_rules.yaml
var defaultCatalog []byte

type ruleSet struct {
	Rules []ruleDoc `yaml:"rules"`
}

// ruleDoc is the file form of a Rule. Active defaults to true when omitted.
type ruleDoc struct {
	ID          string   `yaml:"id"`
	Type        RuleType `yaml:"type"`
	Description string   `yaml:"description"`
	When        struct {
		All []Condition `yaml:"all"`
	} `yaml:"when"`
	Then            map[string]any `yaml:"then"`
	Confidence      float64        `yaml:"confidence"`
	Priority        int            `yaml:"priority"`
	Source          string         `yaml:"source"`
	ExpertValidated bool           `yaml:"expert_validated"`
	Active          *bool          `yaml:"active"`
}

func (d ruleDoc) rule() Rule {
	active := true
	if d.Active != nil {
		active = *d.Active
	}
	return Rule{
		ID:              d.ID,
		Type:            d.Type,
		Description:     d.Description,
		Conditions:      d.When.All,
		Action:          d.Then,
		Confidence:      d.Confidence,
		Priority:        d.Priority,
		Source:          d.Source,
		ExpertValidated: d.ExpertValidated,
		Active:          active,
	}
}

// LoadRules reads and validates a YAML rule catalog.
func LoadRules(path string) ([]Rule, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(payload)
}

func ParseRules(payload []byte) ([]Rule, error) {
	var set ruleSet
	if err := yaml.Unmarshal(payload, &set); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	rules := make([]Rule, 0, len(set.Rules))
	for _, doc := range set.Rules {
		r := doc.rule()
		if err := Validate(r); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// DefaultRules returns the built-in agronomic catalog.
func DefaultRules() ([]Rule, error) {
	rules, err := ParseRules(defaultCatalog)
	if err != nil {
		return nil, fmt.Errorf("default catalog: %w", err)
	}
	return rules, nil
}
