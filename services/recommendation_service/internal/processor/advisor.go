package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/cropguard/recommendation/pkg/agronomy"
	"github.com/cropguard/recommendation/pkg/dtree"
	"github.com/cropguard/recommendation/pkg/rules"
	"github.com/cropguard/recommendation/pkg/storage"
	"github.com/cropguard/recommendation/services/recommendation_service/internal/metrics"
)

var ErrInvalidRuleType = errors.New("unknown rule type")

// Envelope is a recommendation request as it arrives over HTTP or NATS.
type Envelope struct {
	RequestID string           `json:"request_id,omitempty"`
	Request   agronomy.Request `json:"request"`
	RuleType  rules.RuleType   `json:"rule_type,omitempty"`
	Trees     []string         `json:"trees,omitempty"`
	Explain   bool             `json:"explain,omitempty"`
}

// Recommendation is a matched rule in ranked position.
type Recommendation struct {
	Rank       int            `json:"rank"`
	RuleID     string         `json:"rule_id"`
	RuleType   rules.RuleType `json:"rule_type"`
	Confidence float64        `json:"confidence"`
	Priority   int            `json:"priority"`
	Action     map[string]any `json:"action"`
}

type Advisory struct {
	RequestID       string             `json:"request_id"`
	RuleType        rules.RuleType     `json:"rule_type,omitempty"`
	CatalogVersion  uint64             `json:"catalog_version"`
	Recommendations []Recommendation   `json:"recommendations"`
	Predictions     []dtree.Prediction `json:"predictions"`
	Trace           []rules.Trace      `json:"trace,omitempty"`
	Cached          bool               `json:"cached"`
	GeneratedAt     time.Time          `json:"generated_at"`
}

// AuditStore receives a record of every advisory handed out.
type AuditStore interface {
	StoreAdvisory(ctx context.Context, a storage.Advisory) error
}

// Advisor combines rule matches with decision tree predictions. Identical
// requests against the same catalog version are answered from an LRU cache.
type Advisor struct {
	engine       *rules.Engine
	defaultTrees []string
	cache        *lru.Cache[uint64, Advisory]
	audit        AuditStore
	wg           sync.WaitGroup
	now          func() time.Time
}

// NewAdvisor checks that every default tree is registered. audit may be nil.
func NewAdvisor(engine *rules.Engine, defaultTrees []string, cacheSize int, audit AuditStore) (*Advisor, error) {
	known := make(map[string]bool)
	for _, name := range engine.Trees() {
		known[name] = true
	}
	for _, name := range defaultTrees {
		if !known[name] {
			return nil, fmt.Errorf("default tree: %w: %q", dtree.ErrUnknownTree, name)
		}
	}

	cache, err := lru.New[uint64, Advisory](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	return &Advisor{
		engine:       engine,
		defaultTrees: append([]string(nil), defaultTrees...),
		cache:        cache,
		audit:        audit,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close waits for pending audit writes.
func (a *Advisor) Close() {
	a.wg.Wait()
}

func (a *Advisor) Advise(env Envelope) (Advisory, error) {
	// Normalize works in place; the caller's envelope stays as sent.
	req := env.Request.Clone()
	req.Normalize()
	if err := req.Valid(); err != nil {
		return Advisory{}, err
	}
	if env.RuleType != rules.AnyRuleType && !env.RuleType.Valid() {
		return Advisory{}, fmt.Errorf("%w: %q", ErrInvalidRuleType, env.RuleType)
	}

	trees := env.Trees
	if len(trees) == 0 {
		trees = a.defaultTrees
	}
	requestID := env.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	version := a.engine.CatalogVersion()
	key, err := cacheKey(req, env.RuleType, trees, env.Explain, version)
	if err != nil {
		return Advisory{}, err
	}
	if hit, ok := a.cache.Get(key); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		cached := cloneAdvisory(hit)
		cached.RequestID = requestID
		cached.Cached = true
		cached.GeneratedAt = a.now()
		a.record(req, cached)
		return cached, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	ev := a.engine.Evaluate(req, env.RuleType, env.Explain)
	for _, r := range ev.Results {
		metrics.RuleMatches.WithLabelValues(string(r.RuleType)).Inc()
	}

	features := rules.TreeFeatures(req)
	predictions := make([]dtree.Prediction, 0, len(trees))
	for _, name := range trees {
		p, err := a.engine.PredictWithDecisionTree(name, features)
		if err != nil {
			return Advisory{}, err
		}
		metrics.TreePredictions.WithLabelValues(name).Inc()
		predictions = append(predictions, p)
	}

	adv := Advisory{
		RequestID:       requestID,
		RuleType:        env.RuleType,
		CatalogVersion:  ev.CatalogVersion,
		Recommendations: Rank(ev.Results),
		Predictions:     predictions,
		Trace:           ev.Traces,
		GeneratedAt:     a.now(),
	}

	// The key names the version seen before evaluation; a swap in between
	// would file this result under the wrong version.
	if ev.CatalogVersion == version {
		a.cache.Add(key, cloneAdvisory(adv))
	}
	a.record(req, adv)
	return adv, nil
}

// cloneAdvisory copies everything a caller could mutate, so cache entries
// never alias a returned advisory.
func cloneAdvisory(adv Advisory) Advisory {
	out := adv
	out.Recommendations = make([]Recommendation, len(adv.Recommendations))
	for i, r := range adv.Recommendations {
		r.Action = rules.CloneAction(r.Action)
		out.Recommendations[i] = r
	}
	out.Predictions = make([]dtree.Prediction, len(adv.Predictions))
	for i, p := range adv.Predictions {
		p.Distribution = maps.Clone(p.Distribution)
		p.Imputed = slices.Clone(p.Imputed)
		out.Predictions[i] = p
	}
	if adv.Trace != nil {
		out.Trace = make([]rules.Trace, len(adv.Trace))
		for i, tr := range adv.Trace {
			tr.Conditions = slices.Clone(tr.Conditions)
			out.Trace[i] = tr
		}
	}
	return out
}

func cacheKey(req *agronomy.Request, t rules.RuleType, trees []string, explain bool, version uint64) (uint64, error) {
	keyed := *req
	keyed.RequestID = ""
	payload, err := json.Marshal(struct {
		Request *agronomy.Request `json:"r"`
		Type    rules.RuleType    `json:"t"`
		Trees   []string          `json:"m"`
		Explain bool              `json:"e"`
		Version uint64            `json:"v"`
	}{&keyed, t, trees, explain, version})
	if err != nil {
		return 0, fmt.Errorf("cache key: %w", err)
	}
	return xxhash.Sum64(payload), nil
}

// Rank orders matches by priority, then confidence, keeping catalog order
// among equals, and numbers them from 1.
func Rank(results []rules.Result) []Recommendation {
	sorted := append([]rules.Result(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].Confidence > sorted[j].Confidence
	})

	recs := make([]Recommendation, len(sorted))
	for i, r := range sorted {
		recs[i] = Recommendation{
			Rank:       i + 1,
			RuleID:     r.RuleID,
			RuleType:   r.RuleType,
			Confidence: r.Confidence,
			Priority:   r.Priority,
			Action:     r.Action,
		}
	}
	return recs
}

func (a *Advisor) record(req *agronomy.Request, adv Advisory) {
	if a.audit == nil {
		return
	}
	rec, err := auditRecord(req, adv)
	if err != nil {
		log.Printf("build audit record %s: %v", adv.RequestID, err)
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := a.audit.StoreAdvisory(ctx, rec); err != nil {
			log.Printf("failed to store advisory %s: %v", rec.RequestID, err)
		}
	}()
}

func auditRecord(req *agronomy.Request, adv Advisory) (storage.Advisory, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return storage.Advisory{}, err
	}
	rec := storage.Advisory{
		RequestID:      adv.RequestID,
		RuleType:       string(adv.RuleType),
		CatalogVersion: int64(adv.CatalogVersion),
		Request:        types.JSONText(payload),
		CreatedAt:      adv.GeneratedAt,
	}
	for _, r := range adv.Recommendations {
		action, err := json.Marshal(r.Action)
		if err != nil {
			return storage.Advisory{}, fmt.Errorf("encode action of %s: %w", r.RuleID, err)
		}
		rec.Matches = append(rec.Matches, storage.RuleMatch{
			Rank:       r.Rank,
			RuleID:     r.RuleID,
			RuleType:   string(r.RuleType),
			Confidence: r.Confidence,
			Priority:   r.Priority,
			Action:     types.JSONText(action),
		})
	}
	for _, p := range adv.Predictions {
		rec.Predictions = append(rec.Predictions, storage.TreePrediction{
			Model:      p.Model,
			Class:      p.Class,
			Value:      p.Value,
			Unit:       p.Unit,
			Confidence: p.Confidence,
			Imputed:    pq.StringArray(p.Imputed),
		})
	}
	return rec, nil
}

// Observe records the outcome and latency of one request.
func Observe(transport string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.Requests.WithLabelValues(transport, outcome).Inc()
	metrics.AdviceLatency.WithLabelValues(transport).Observe(time.Since(start).Seconds())
}
