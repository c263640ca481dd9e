package rules

import (
	"math"
	"testing"
)

func TestConditionEvaluate(t *testing.T) {
	tests := []struct {
		name  string
		cond  Condition
		value any
		want  bool
	}{
		{"gt above", Condition{Operator: OpGt, Value: 6.0}, 6.2, true},
		{"gt equal", Condition{Operator: OpGt, Value: 6.0}, 6.0, false},
		{"gte equal", Condition{Operator: OpGte, Value: 6.0}, 6.0, true},
		{"lt below", Condition{Operator: OpLt, Value: 15}, 12.0, true},
		{"lte equal int threshold", Condition{Operator: OpLte, Value: 15}, 15.0, true},
		{"lte above", Condition{Operator: OpLte, Value: 15}, 15.5, false},
		{"eq string", Condition{Operator: OpEq, Value: "corn"}, "corn", true},
		{"eq string mismatch", Condition{Operator: OpEq, Value: "corn"}, "soybean", false},
		{"eq int and float", Condition{Operator: OpEq, Value: 6}, 6.0, true},
		{"eq bool", Condition{Operator: OpEq, Value: true}, true, true},
		{"between inside", Condition{Operator: OpBetween, Value: []any{6.0, 7.0}}, 6.5, true},
		{"between low edge", Condition{Operator: OpBetween, Value: []any{6.0, 7.0}}, 6.0, true},
		{"between high edge", Condition{Operator: OpBetween, Value: []float64{6.0, 7.0}}, 7.0, true},
		{"between outside", Condition{Operator: OpBetween, Value: []any{6.0, 7.0}}, 7.01, false},
		{"in member", Condition{Operator: OpIn, Value: []any{"corn", "soybean"}}, "soybean", true},
		{"in string slice", Condition{Operator: OpIn, Value: []string{"corn", "soybean"}}, "corn", true},
		{"in non member", Condition{Operator: OpIn, Value: []any{"corn", "soybean"}}, "wheat", false},
		{"in numeric", Condition{Operator: OpIn, Value: []int{1, 2, 3}}, 2.0, true},
	}

	for _, tt := range tests {
		if got := tt.cond.Evaluate(tt.value); got != tt.want {
			t.Errorf("%s: Evaluate(%v) = %v, want %v", tt.name, tt.value, got, tt.want)
		}
	}
}

func TestConditionEvaluateIsTotal(t *testing.T) {
	tests := []struct {
		name  string
		cond  Condition
		value any
	}{
		{"nil value", Condition{Operator: OpGt, Value: 6.0}, nil},
		{"nil value eq", Condition{Operator: OpEq, Value: "corn"}, nil},
		{"string against numeric threshold", Condition{Operator: OpGt, Value: 6.0}, "6.5"},
		{"numeric string is not a number", Condition{Operator: OpEq, Value: 6}, "6"},
		{"number is not a numeric string", Condition{Operator: OpEq, Value: "6"}, 6.0},
		{"bool against numeric", Condition{Operator: OpLt, Value: 1.0}, false},
		{"empty in list", Condition{Operator: OpIn, Value: []any{}}, "corn"},
		{"in with scalar value", Condition{Operator: OpIn, Value: "corn"}, "corn"},
		{"between with one bound", Condition{Operator: OpBetween, Value: []any{6.0}}, 6.0},
		{"between with string bounds", Condition{Operator: OpBetween, Value: []any{"a", "z"}}, 6.0},
		{"between string value", Condition{Operator: OpBetween, Value: []any{6.0, 7.0}}, "6.5"},
		{"unknown operator", Condition{Operator: "approx", Value: 6.0}, 6.0},
		{"empty operator", Condition{Value: 6.0}, 6.0},
		{"nil threshold", Condition{Operator: OpGt}, 6.0},
		{"NaN value", Condition{Operator: OpLt, Value: 6.0}, math.NaN()},
		{"map value", Condition{Operator: OpEq, Value: "corn"}, map[string]any{"crop": "corn"}},
	}

	for _, tt := range tests {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("%s: Evaluate panicked: %v", tt.name, r)
				}
			}()
			if tt.cond.Evaluate(tt.value) {
				t.Errorf("%s: expected false", tt.name)
			}
		}()
	}
}

func TestNormalizeValue(t *testing.T) {
	got := normalizeValue([]any{1, "corn", []int{2}})
	items, ok := got.([]any)
	if !ok || len(items) != 3 {
		t.Fatalf("expected 3 normalised items, got %#v", got)
	}
	if items[0] != 1.0 {
		t.Errorf("expected int to become float64, got %#v", items[0])
	}
	if items[1] != "corn" {
		t.Errorf("expected string untouched, got %#v", items[1])
	}
	if nested, ok := items[2].([]any); !ok || nested[0] != 2.0 {
		t.Errorf("expected nested list normalised, got %#v", items[2])
	}
}
