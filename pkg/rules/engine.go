package rules

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cropguard/recommendation/pkg/agronomy"
	"github.com/cropguard/recommendation/pkg/dtree"
)

// Predictor is the statistical second opinion consulted next to rule matches.
type Predictor interface {
	Predict(name string, features map[string]float64) (dtree.Prediction, error)
	Names() []string
}

// Engine evaluates an owned rule catalog against recommendation requests.
//
// Reads load the current catalog snapshot without locking. Writers serialise
// on mu, derive a new snapshot and swap it in, so a read in flight keeps
// seeing the catalog it started with.
type Engine struct {
	mu        sync.Mutex
	catalog   atomic.Pointer[Catalog]
	predictor Predictor
}

// NewEngine validates rules and builds an engine around them. A nil predictor
// makes every PredictWithDecisionTree call fail with dtree.ErrUnknownTree.
func NewEngine(rules []Rule, predictor Predictor) (*Engine, error) {
	c, err := NewCatalog(rules)
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}
	c.version = 1
	e := &Engine{predictor: predictor}
	e.catalog.Store(c)
	return e, nil
}

// NewDefaultEngine loads the embedded catalog and fits the default models.
func NewDefaultEngine() (*Engine, error) {
	rules, err := DefaultRules()
	if err != nil {
		return nil, err
	}
	models, err := dtree.DefaultRegistry()
	if err != nil {
		return nil, fmt.Errorf("fit models: %w", err)
	}
	return NewEngine(rules, models)
}

func (e *Engine) snapshot() *Catalog {
	return e.catalog.Load()
}

// EvaluateRules returns a result for every active rule of type t (every type
// for AnyRuleType) whose conditions all hold for req, in registration order.
// It never fails: unresolvable fields simply keep a rule from matching.
func (e *Engine) EvaluateRules(req *agronomy.Request, t RuleType) []Result {
	return evaluate(e.snapshot(), req, t)
}

// Evaluation is the outcome of one request against a single catalog snapshot.
type Evaluation struct {
	Results        []Result
	Traces         []Trace
	CatalogVersion uint64
}

// Evaluate runs EvaluateRules, and Explain when explain is set, against one
// snapshot and reports that snapshot's version, so the results and the
// version always agree under concurrent catalog changes.
func (e *Engine) Evaluate(req *agronomy.Request, t RuleType, explain bool) Evaluation {
	c := e.snapshot()
	ev := Evaluation{
		Results:        evaluate(c, req, t),
		CatalogVersion: c.version,
	}
	if explain {
		ev.Traces = traces(c, req, t)
	}
	return ev
}

func evaluate(c *Catalog, req *agronomy.Request, t RuleType) []Result {
	results := make([]Result, 0)
	for i := range c.rules {
		r := &c.rules[i]
		if !eligible(r, t) || !matches(r, req) {
			continue
		}
		results = append(results, Result{
			RuleID:     r.ID,
			RuleType:   r.Type,
			Matched:    true,
			Confidence: r.Confidence,
			Priority:   r.Priority,
			Action:     CloneAction(r.Action),
		})
	}
	return results
}

// Explain evaluates every eligible rule and reports each condition outcome,
// matched or not.
func (e *Engine) Explain(req *agronomy.Request, t RuleType) []Trace {
	return traces(e.snapshot(), req, t)
}

func traces(c *Catalog, req *agronomy.Request, t RuleType) []Trace {
	out := make([]Trace, 0)
	for i := range c.rules {
		r := &c.rules[i]
		if !eligible(r, t) {
			continue
		}
		tr := Trace{
			RuleID:     r.ID,
			RuleType:   r.Type,
			Matched:    true,
			Confidence: r.Confidence,
			Conditions: make([]ConditionOutcome, 0, len(r.Conditions)),
		}
		for _, cond := range r.Conditions {
			v, ok := ExtractField(req, cond.Field)
			passed := ok && cond.Evaluate(v)
			tr.Conditions = append(tr.Conditions, ConditionOutcome{
				Field:    cond.Field,
				Operator: cond.Operator,
				Resolved: ok,
				Value:    v,
				Passed:   passed,
			})
			tr.Matched = tr.Matched && passed
		}
		out = append(out, tr)
	}
	return out
}

func eligible(r *Rule, t RuleType) bool {
	return r.Active && (t == AnyRuleType || r.Type == t)
}

func matches(r *Rule, req *agronomy.Request) bool {
	if len(r.Conditions) == 0 {
		return false
	}
	for _, cond := range r.Conditions {
		v, ok := ExtractField(req, cond.Field)
		if !ok || !cond.Evaluate(v) {
			return false
		}
	}
	return true
}

// PredictWithDecisionTree runs the named model. Unknown names fail with an
// error wrapping dtree.ErrUnknownTree.
func (e *Engine) PredictWithDecisionTree(name string, features map[string]float64) (dtree.Prediction, error) {
	if e.predictor == nil {
		return dtree.Prediction{}, fmt.Errorf("%w: %q", dtree.ErrUnknownTree, name)
	}
	return e.predictor.Predict(name, features)
}

// Trees lists the registered model names.
func (e *Engine) Trees() []string {
	if e.predictor == nil {
		return nil
	}
	return e.predictor.Names()
}

// AddRule registers a new rule. It returns ErrDuplicateRule when the id is
// taken, leaving the existing rule untouched, and a *ValidationError for a
// malformed definition.
func (e *Engine) AddRule(r Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := e.snapshot().withRule(r)
	if err != nil {
		return err
	}
	e.catalog.Store(next)
	return nil
}

// DeactivateRule excludes a rule from evaluation while keeping it in the
// catalog. It returns false for an unknown id.
func (e *Engine) DeactivateRule(id string) bool {
	return e.setActive(id, false)
}

// ActivateRule reverses DeactivateRule.
func (e *Engine) ActivateRule(id string) bool {
	return e.setActive(id, true)
}

func (e *Engine) setActive(id string, active bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, ok := e.snapshot().withActive(id, active)
	if !ok {
		return false
	}
	e.catalog.Store(next)
	return true
}

// ReplaceRules swaps in a whole new catalog. On a validation error the
// current catalog stays in place.
func (e *Engine) ReplaceRules(rules []Rule) error {
	c, err := NewCatalog(rules)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	c.version = e.snapshot().version + 1
	e.catalog.Store(c)
	return nil
}

func (e *Engine) RuleStatistics() Statistics {
	return e.snapshot().Statistics()
}

func (e *Engine) Rule(id string) (Rule, bool) {
	return e.snapshot().Rule(id)
}

func (e *Engine) Rules(t RuleType) []Rule {
	return e.snapshot().Rules(t)
}

// CatalogVersion increases with every successful catalog mutation.
func (e *Engine) CatalogVersion() uint64 {
	return e.snapshot().version
}
