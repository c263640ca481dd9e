package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cropguard/recommendation/pkg/dtree"
	"github.com/cropguard/recommendation/pkg/rules"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidate(t *testing.T) {
	good := filepath.Join("..", "..", "..", "..", "configs", "rules", "agronomic_rules.yaml")
	out, err := run(t, "", "validate", good)
	require.NoError(t, err)

	var report []validation
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report, 1)
	assert.Positive(t, report[0].Rules)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	dup := "rules:\n" +
		"  - {id: a, type: cover_crop, confidence: 0.5, when: {all: [{field: crop_name, operator: eq, value: corn}]}}\n" +
		"  - {id: a, type: cover_crop, confidence: 0.5, when: {all: [{field: crop_name, operator: eq, value: corn}]}}\n"
	require.NoError(t, os.WriteFile(bad, []byte(dup), 0o644))

	out, err = run(t, "", "validate", good, bad)
	require.Error(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report, 2)
	assert.Empty(t, report[0].Error)
	assert.Contains(t, report[1].Error, "already exists")
}

func TestStats(t *testing.T) {
	out, err := run(t, "", "stats")
	require.NoError(t, err)

	var stats rules.Statistics
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Positive(t, stats.TotalRules)
	assert.Equal(t, stats.TotalRules, stats.ActiveRules)
}

func TestEvaluate(t *testing.T) {
	request := `{"soil_data": {"ph": 6.2, "organic_matter_percent": 3, "phosphorus_ppm": 25, "potassium_ppm": 150},
		"crop_data": {"crop_name": "Corn"}}`

	out, err := run(t, request, "evaluate", "-", "--type", "crop_suitability", "--explain")
	require.NoError(t, err)

	var result struct {
		Matches []rules.Result `json:"matches"`
		Traces  []rules.Trace  `json:"traces"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.NotEmpty(t, result.Matches)
	assert.Equal(t, "corn_ph_suitable", result.Matches[0].RuleID)
	assert.GreaterOrEqual(t, len(result.Traces), len(result.Matches))

	_, err = run(t, request, "evaluate", "-", "--type", "pest_pressure")
	assert.Error(t, err)

	_, err = run(t, `{"soil_data": {"ph": 42}}`, "evaluate", "-")
	assert.Error(t, err)
}

func TestPredict(t *testing.T) {
	out, err := run(t, "", "predict", "nitrogen_rate", "--feature", "yield_goal=200", "--feature", "previous_crop_legume=1")
	require.NoError(t, err)

	var p dtree.Prediction
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, dtree.NitrogenRateTree, p.Model)
	assert.GreaterOrEqual(t, p.Value, 0.0)
	assert.LessOrEqual(t, p.Value, 220.0)

	_, err = run(t, "", "predict", "yield_potential")
	assert.ErrorIs(t, err, dtree.ErrUnknownTree)

	_, err = run(t, "", "predict", "nitrogen_rate", "--feature", "yield_goal")
	assert.Error(t, err)
}

func TestTrees(t *testing.T) {
	out, err := run(t, "", "trees")
	require.NoError(t, err)
	assert.Contains(t, out, dtree.CropSuitabilityTree)
	assert.Contains(t, out, dtree.NitrogenRateTree)
	assert.Contains(t, out, dtree.SoilManagementTree)
}
