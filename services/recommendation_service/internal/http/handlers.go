package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cropguard/recommendation/pkg/agronomy"
	"github.com/cropguard/recommendation/pkg/dtree"
	"github.com/cropguard/recommendation/pkg/rules"
	"github.com/cropguard/recommendation/pkg/storage"
	"github.com/cropguard/recommendation/services/recommendation_service/internal/metrics"
	"github.com/cropguard/recommendation/services/recommendation_service/internal/processor"
	stor "github.com/cropguard/recommendation/services/recommendation_service/internal/storage"
)

// AuditReader looks up stored advisories.
type AuditReader interface {
	GetAdvisory(ctx context.Context, requestID string) (storage.Advisory, error)
	ListAdvisories(ctx context.Context, limit int) ([]storage.Advisory, error)
	RuleMatchCounts(ctx context.Context) (map[string]int, error)
}

type API struct {
	engine  *rules.Engine
	advisor *processor.Advisor
	audit   AuditReader
}

func New(engine *rules.Engine, advisor *processor.Advisor, audit AuditReader) *API {
	return &API{engine: engine, advisor: advisor, audit: audit}
}

func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/recommendations", a.recommendations)
	mux.HandleFunc("/explain", a.explain)
	mux.HandleFunc("/advisories", a.advisories)
	mux.HandleFunc("/advisories/", a.advisory)
	mux.HandleFunc("/predict/", a.predict)
	mux.HandleFunc("/trees", a.trees)
	mux.HandleFunc("/rules", a.rules)
	mux.HandleFunc("/rules/", a.ruleHandler)
}

func (a *API) recommendations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()

	var env processor.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		processor.Observe("http", start, err)
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	adv, err := a.advisor.Advise(env)
	processor.Observe("http", start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adv)
}

func (a *API) explain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var env processor.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	req := env.Request
	req.Normalize()

	writeJSON(w, http.StatusOK, map[string]any{
		"catalog_version": a.engine.CatalogVersion(),
		"traces":          a.engine.Explain(&req, env.RuleType),
	})
}

func (a *API) advisories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, fmt.Sprintf("invalid limit %q", raw), http.StatusBadRequest)
			return
		}
		limit = n
	}

	list, err := a.audit.ListAdvisories(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(list))
	for _, adv := range list {
		items = append(items, map[string]any{
			"request_id":      adv.RequestID,
			"rule_type":       adv.RuleType,
			"catalog_version": adv.CatalogVersion,
			"request":         json.RawMessage(adv.Request),
			"created_at":      adv.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"advisories": items})
}

func (a *API) advisory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := strings.TrimPrefix(r.URL.Path, "/advisories/")
	if requestID == "" || strings.Contains(requestID, "/") {
		http.Error(w, "request_id required", http.StatusBadRequest)
		return
	}

	adv, err := a.audit.GetAdvisory(r.Context(), requestID)
	if err != nil {
		writeError(w, err)
		return
	}

	matches := make([]map[string]any, 0, len(adv.Matches))
	for _, m := range adv.Matches {
		matches = append(matches, map[string]any{
			"rank":       m.Rank,
			"rule_id":    m.RuleID,
			"rule_type":  m.RuleType,
			"confidence": m.Confidence,
			"priority":   m.Priority,
			"action":     json.RawMessage(m.Action),
		})
	}
	predictions := make([]map[string]any, 0, len(adv.Predictions))
	for _, p := range adv.Predictions {
		item := map[string]any{
			"model":      p.Model,
			"confidence": p.Confidence,
			"imputed":    []string(p.Imputed),
		}
		if p.Class != "" {
			item["class"] = p.Class
		} else {
			item["value"] = p.Value
			item["unit"] = p.Unit
		}
		predictions = append(predictions, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"request_id":      adv.RequestID,
		"rule_type":       adv.RuleType,
		"catalog_version": adv.CatalogVersion,
		"request":         json.RawMessage(adv.Request),
		"created_at":      adv.CreatedAt,
		"recommendations": matches,
		"predictions":     predictions,
	})
}

func (a *API) predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tree := strings.TrimPrefix(r.URL.Path, "/predict/")
	if tree == "" {
		http.Error(w, "tree name required", http.StatusBadRequest)
		return
	}

	var features map[string]float64
	if err := json.NewDecoder(r.Body).Decode(&features); err != nil {
		http.Error(w, fmt.Sprintf("invalid features: %v", err), http.StatusBadRequest)
		return
	}

	p, err := a.engine.PredictWithDecisionTree(tree, features)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.TreePredictions.WithLabelValues(tree).Inc()
	writeJSON(w, http.StatusOK, p)
}

func (a *API) trees(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trees": a.engine.Trees()})
}

func (a *API) rules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		t := rules.RuleType(r.URL.Query().Get("type"))
		if t != rules.AnyRuleType && !t.Valid() {
			http.Error(w, fmt.Sprintf("unknown rule type %q", t), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"catalog_version": a.engine.CatalogVersion(),
			"rules":           a.engine.Rules(t),
		})

	case http.MethodPost:
		// Same default as the catalog loader: a rule is active unless it says otherwise.
		rule := rules.Rule{Active: true}
		if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
			http.Error(w, fmt.Sprintf("invalid rule: %v", err), http.StatusBadRequest)
			return
		}
		if err := a.engine.AddRule(rule); err != nil {
			writeError(w, err)
			return
		}
		metrics.CatalogVersion.Set(float64(a.engine.CatalogVersion()))
		writeJSON(w, http.StatusCreated, map[string]any{
			"rule_id":         rule.ID,
			"catalog_version": a.engine.CatalogVersion(),
		})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) ruleHandler(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/rules/")
	parts := strings.Split(path, "/")

	if parts[0] == "" {
		http.Error(w, "rule_id required", http.StatusBadRequest)
		return
	}

	if len(parts) == 1 {
		if parts[0] == "statistics" {
			a.statistics(w, r)
			return
		}
		a.rule(w, r, parts[0])
		return
	}

	if parts[0] == "statistics" && len(parts) == 2 && parts[1] == "matches" {
		a.matchCounts(w, r)
		return
	}

	switch parts[1] {
	case "deactivate":
		a.setActive(w, r, parts[0], false)
	case "activate":
		a.setActive(w, r, parts[0], true)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (a *API) statistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.engine.RuleStatistics())
}

// matchCounts reports how often each rule matched across audited advisories.
func (a *API) matchCounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	counts, err := a.audit.RuleMatchCounts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": counts})
}

func (a *API) rule(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rule, ok := a.engine.Rule(id)
	if !ok {
		writeError(w, fmt.Errorf("%w: %s", rules.ErrRuleNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (a *API) setActive(w http.ResponseWriter, r *http.Request, id string, active bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var ok bool
	if active {
		ok = a.engine.ActivateRule(id)
	} else {
		ok = a.engine.DeactivateRule(id)
	}
	if !ok {
		writeError(w, fmt.Errorf("%w: %s", rules.ErrRuleNotFound, id))
		return
	}
	metrics.CatalogVersion.Set(float64(a.engine.CatalogVersion()))
	writeJSON(w, http.StatusOK, map[string]any{
		"rule_id":         id,
		"active":          active,
		"catalog_version": a.engine.CatalogVersion(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var invalid *rules.ValidationError
	status := http.StatusInternalServerError
	switch {
	case agronomy.IsValidationError(err), errors.As(err, &invalid), errors.Is(err, processor.ErrInvalidRuleType):
		status = http.StatusBadRequest
	case errors.Is(err, dtree.ErrUnknownTree), errors.Is(err, rules.ErrRuleNotFound), errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, rules.ErrDuplicateRule):
		status = http.StatusConflict
	case errors.Is(err, stor.ErrDisabled):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}
