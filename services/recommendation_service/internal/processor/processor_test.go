package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/cropguard/recommendation/pkg/agronomy"
	"github.com/cropguard/recommendation/pkg/dtree"
	"github.com/cropguard/recommendation/pkg/rules"
	"github.com/cropguard/recommendation/pkg/storage"
)

type stubPredictor struct{}

func (stubPredictor) Predict(name string, features map[string]float64) (dtree.Prediction, error) {
	if name != dtree.NitrogenRateTree {
		return dtree.Prediction{}, fmt.Errorf("%w: %q", dtree.ErrUnknownTree, name)
	}
	return dtree.Prediction{Model: name, Kind: dtree.KindRegressor, Value: 150, Unit: "lbs_n_per_acre", Confidence: 0.8}, nil
}

func (stubPredictor) Names() []string { return []string{dtree.NitrogenRateTree} }

type fakeAudit struct {
	mu      sync.Mutex
	records []storage.Advisory
}

func (f *fakeAudit) StoreAdvisory(ctx context.Context, a storage.Advisory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, a)
	return nil
}

func testEngine(t *testing.T) *rules.Engine {
	t.Helper()
	catalog := []rules.Rule{
		{
			ID:         "corn_ph",
			Type:       rules.CropSuitability,
			Conditions: []rules.Condition{{Field: "soil_ph", Operator: rules.OpGt, Value: 6.0}, {Field: "crop_name", Operator: rules.OpEq, Value: "corn"}},
			Action:     map[string]any{"recommendation": "optimal"},
			Confidence: 0.85,
			Priority:   10,
			Active:     true,
		},
		{
			ID:         "lime",
			Type:       rules.SoilManagement,
			Conditions: []rules.Condition{{Field: "soil_ph", Operator: rules.OpLt, Value: 6.5}},
			Action:     map[string]any{"product": "ag_lime"},
			Confidence: 0.9,
			Priority:   30,
			Active:     true,
		},
		{
			ID:         "p_low",
			Type:       rules.NutrientDeficiency,
			Conditions: []rules.Condition{{Field: "phosphorus_ppm", Operator: rules.OpLt, Value: 30}},
			Action:     map[string]any{"nutrient": "P"},
			Confidence: 0.95,
			Priority:   10,
			Active:     true,
		},
	}
	engine, err := rules.NewEngine(catalog, stubPredictor{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func testEnvelope() Envelope {
	return Envelope{
		RequestID: "req-1",
		Request: agronomy.Request{
			SoilData: &agronomy.SoilTest{PH: agronomy.Float(6.2), OrganicMatterPercent: agronomy.Float(3), PhosphorusPPM: agronomy.Float(22), PotassiumPPM: agronomy.Float(150)},
			CropData: &agronomy.CropInfo{CropName: " Corn "},
		},
	}
}

func newTestAdvisor(t *testing.T, engine *rules.Engine, audit AuditStore) *Advisor {
	t.Helper()
	adv, err := NewAdvisor(engine, []string{dtree.NitrogenRateTree}, 16, audit)
	if err != nil {
		t.Fatalf("new advisor: %v", err)
	}
	return adv
}

func TestRank(t *testing.T) {
	results := []rules.Result{
		{RuleID: "a", Priority: 10, Confidence: 0.8},
		{RuleID: "b", Priority: 20, Confidence: 0.5},
		{RuleID: "c", Priority: 10, Confidence: 0.9},
		{RuleID: "d", Priority: 10, Confidence: 0.8},
	}
	recs := Rank(results)

	want := []string{"b", "c", "a", "d"}
	for i, id := range want {
		if recs[i].RuleID != id {
			t.Errorf("rank %d: expected %s, got %s", i+1, id, recs[i].RuleID)
		}
		if recs[i].Rank != i+1 {
			t.Errorf("expected rank %d, got %d", i+1, recs[i].Rank)
		}
	}
	if results[0].RuleID != "a" {
		t.Error("Rank must not reorder its input")
	}
}

func TestAdviseRanksAndPredicts(t *testing.T) {
	advisor := newTestAdvisor(t, testEngine(t), nil)

	adv, err := advisor.Advise(testEnvelope())
	if err != nil {
		t.Fatalf("advise: %v", err)
	}
	if adv.RequestID != "req-1" {
		t.Errorf("expected request id req-1, got %s", adv.RequestID)
	}

	want := []string{"lime", "p_low", "corn_ph"}
	if len(adv.Recommendations) != len(want) {
		t.Fatalf("expected %d recommendations, got %+v", len(want), adv.Recommendations)
	}
	for i, id := range want {
		if adv.Recommendations[i].RuleID != id {
			t.Errorf("rank %d: expected %s, got %s", i+1, id, adv.Recommendations[i].RuleID)
		}
	}

	if len(adv.Predictions) != 1 || adv.Predictions[0].Value != 150 {
		t.Errorf("unexpected predictions: %+v", adv.Predictions)
	}
	if adv.Cached {
		t.Error("first advisory must not be cached")
	}
	if adv.CatalogVersion != 1 {
		t.Errorf("expected catalog version 1, got %d", adv.CatalogVersion)
	}
}

func TestAdviseFiltersByRuleType(t *testing.T) {
	advisor := newTestAdvisor(t, testEngine(t), nil)

	env := testEnvelope()
	env.RuleType = rules.SoilManagement
	env.Explain = true
	adv, err := advisor.Advise(env)
	if err != nil {
		t.Fatalf("advise: %v", err)
	}
	if len(adv.Recommendations) != 1 || adv.Recommendations[0].RuleID != "lime" {
		t.Errorf("expected only lime, got %+v", adv.Recommendations)
	}
	if len(adv.Trace) != 1 {
		t.Errorf("expected one trace, got %d", len(adv.Trace))
	}
}

func TestAdviseCache(t *testing.T) {
	engine := testEngine(t)
	advisor := newTestAdvisor(t, engine, nil)

	first, err := advisor.Advise(testEnvelope())
	if err != nil {
		t.Fatalf("advise: %v", err)
	}

	env := testEnvelope()
	env.RequestID = "req-2"
	second, err := advisor.Advise(env)
	if err != nil {
		t.Fatalf("advise: %v", err)
	}
	if !second.Cached {
		t.Error("expected identical request to be served from cache")
	}
	if second.RequestID != "req-2" {
		t.Errorf("cached advisory must carry the new request id, got %s", second.RequestID)
	}
	if len(second.Recommendations) != len(first.Recommendations) {
		t.Error("cached advisory differs from original")
	}

	if !engine.DeactivateRule("lime") {
		t.Fatal("deactivate lime")
	}
	third, err := advisor.Advise(testEnvelope())
	if err != nil {
		t.Fatalf("advise: %v", err)
	}
	if third.Cached {
		t.Error("catalog change must invalidate cached advisories")
	}
	if third.CatalogVersion != 2 || len(third.Recommendations) != 2 {
		t.Errorf("unexpected advisory after deactivation: %+v", third)
	}
}

func TestAdviseLeavesEnvelopeUntouched(t *testing.T) {
	advisor := newTestAdvisor(t, testEngine(t), nil)

	env := testEnvelope()
	crop := env.Request.CropData
	if _, err := advisor.Advise(env); err != nil {
		t.Fatalf("advise: %v", err)
	}
	if crop.CropName != " Corn " {
		t.Errorf("expected caller's crop name kept as sent, got %q", crop.CropName)
	}
}

func TestCachedAdvisoriesAreIndependent(t *testing.T) {
	advisor := newTestAdvisor(t, testEngine(t), nil)

	first, err := advisor.Advise(testEnvelope())
	if err != nil {
		t.Fatalf("advise: %v", err)
	}
	first.Recommendations[0].Action["product"] = "overwritten"
	first.Recommendations[0].RuleID = "overwritten"

	second, err := advisor.Advise(testEnvelope())
	if err != nil {
		t.Fatalf("advise: %v", err)
	}
	if !second.Cached {
		t.Fatal("expected cache hit")
	}
	if second.Recommendations[0].RuleID != "lime" || second.Recommendations[0].Action["product"] != "ag_lime" {
		t.Errorf("cache entry changed through a returned advisory: %+v", second.Recommendations[0])
	}
	second.Recommendations[0].Action["product"] = "overwritten"

	third, err := advisor.Advise(testEnvelope())
	if err != nil {
		t.Fatalf("advise: %v", err)
	}
	if third.Recommendations[0].Action["product"] != "ag_lime" {
		t.Errorf("cache entry changed through a cached advisory: %+v", third.Recommendations[0])
	}
}

func TestAdviseVersionMatchesEvaluation(t *testing.T) {
	engine := testEngine(t)
	advisor := newTestAdvisor(t, engine, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if i%2 == 0 {
				engine.DeactivateRule("lime")
			} else {
				engine.ActivateRule("lime")
			}
		}
	}()

	for i := 0; i < 200; i++ {
		adv, err := advisor.Advise(testEnvelope())
		if err != nil {
			t.Fatalf("advise: %v", err)
		}
		// Odd versions have lime active, even versions have it deactivated.
		limeActive := adv.CatalogVersion%2 == 1
		hasLime := false
		for _, r := range adv.Recommendations {
			if r.RuleID == "lime" {
				hasLime = true
			}
		}
		if hasLime != limeActive {
			t.Fatalf("advisory v%d does not match its catalog: lime present=%v", adv.CatalogVersion, hasLime)
		}
	}
	wg.Wait()
}

func TestAdviseAssignsRequestID(t *testing.T) {
	advisor := newTestAdvisor(t, testEngine(t), nil)

	env := testEnvelope()
	env.RequestID = ""
	adv, err := advisor.Advise(env)
	if err != nil {
		t.Fatalf("advise: %v", err)
	}
	if _, err := uuid.Parse(adv.RequestID); err != nil {
		t.Errorf("expected generated uuid, got %q", adv.RequestID)
	}
}

func TestAdviseErrors(t *testing.T) {
	advisor := newTestAdvisor(t, testEngine(t), nil)

	bad := testEnvelope()
	bad.Request.SoilData.PH = agronomy.Float(15)
	if _, err := advisor.Advise(bad); !agronomy.IsValidationError(err) {
		t.Errorf("expected validation error, got %v", err)
	}

	if _, err := advisor.Advise(Envelope{}); !errors.Is(err, agronomy.ErrEmptyRequest) {
		t.Errorf("expected ErrEmptyRequest, got %v", err)
	}

	badType := testEnvelope()
	badType.RuleType = "pest_pressure"
	if _, err := advisor.Advise(badType); !errors.Is(err, ErrInvalidRuleType) {
		t.Errorf("expected ErrInvalidRuleType, got %v", err)
	}

	badTree := testEnvelope()
	badTree.Trees = []string{"yield_potential"}
	if _, err := advisor.Advise(badTree); !errors.Is(err, dtree.ErrUnknownTree) {
		t.Errorf("expected ErrUnknownTree, got %v", err)
	}
}

func TestNewAdvisorRejectsUnknownDefaultTree(t *testing.T) {
	_, err := NewAdvisor(testEngine(t), []string{"yield_potential"}, 16, nil)
	if !errors.Is(err, dtree.ErrUnknownTree) {
		t.Errorf("expected ErrUnknownTree, got %v", err)
	}
}

func TestAdviseWritesAudit(t *testing.T) {
	audit := &fakeAudit{}
	advisor := newTestAdvisor(t, testEngine(t), audit)

	if _, err := advisor.Advise(testEnvelope()); err != nil {
		t.Fatalf("advise: %v", err)
	}
	advisor.Close()

	if len(audit.records) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(audit.records))
	}
	rec := audit.records[0]
	if rec.RequestID != "req-1" || len(rec.Matches) != 3 || len(rec.Predictions) != 1 {
		t.Errorf("unexpected audit record: %+v", rec)
	}
	if rec.Matches[0].RuleID != "lime" || rec.Matches[0].Rank != 1 {
		t.Errorf("expected lime ranked first, got %+v", rec.Matches[0])
	}

	var req agronomy.Request
	if err := json.Unmarshal(rec.Request, &req); err != nil {
		t.Fatalf("decode audited request: %v", err)
	}
	if req.CropData.CropName != "corn" {
		t.Errorf("expected normalised crop name, got %q", req.CropData.CropName)
	}
}

func TestProcess(t *testing.T) {
	p := &Processor{advisor: newTestAdvisor(t, testEngine(t), nil)}

	var failed errorReply
	if err := json.Unmarshal(p.process([]byte("{not json")), &failed); err != nil {
		t.Fatalf("decode error reply: %v", err)
	}
	if failed.Error == "" {
		t.Error("expected error for malformed payload")
	}

	payload, _ := json.Marshal(testEnvelope())
	var adv Advisory
	if err := json.Unmarshal(p.process(payload), &adv); err != nil {
		t.Fatalf("decode advisory: %v", err)
	}
	if adv.RequestID != "req-1" || len(adv.Recommendations) != 3 {
		t.Errorf("unexpected advisory: %+v", adv)
	}

	empty, _ := json.Marshal(Envelope{RequestID: "req-empty"})
	var rejected errorReply
	if err := json.Unmarshal(p.process(empty), &rejected); err != nil {
		t.Fatalf("decode error reply: %v", err)
	}
	if rejected.RequestID != "req-empty" || rejected.Error == "" {
		t.Errorf("unexpected reply: %+v", rejected)
	}
}
