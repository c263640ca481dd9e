package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cropguard/recommendation/pkg/agronomy"
	"github.com/cropguard/recommendation/pkg/dtree"
	"github.com/cropguard/recommendation/pkg/rules"
)

type validation struct {
	File  string `json:"file"`
	Rules int    `json:"rules"`
	Error string `json:"error,omitempty"`
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <catalog.yaml>...",
		Short: "Check rule catalog files for malformed or duplicate rules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report := make([]validation, 0, len(args))
			failed := 0
			for _, path := range args {
				v := validation{File: path}
				catalog, err := rules.LoadRules(path)
				if err == nil {
					_, err = rules.NewCatalog(catalog)
				}
				if err != nil {
					v.Error = err.Error()
					failed++
				} else {
					v.Rules = len(catalog)
				}
				report = append(report, v)
			}
			if err := opts.output(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d catalogs invalid", failed, len(args))
			}
			return nil
		},
	}
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Report rule catalog statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := opts.catalog()
			if err != nil {
				return err
			}
			engine, err := rules.NewEngine(catalog, nil)
			if err != nil {
				return err
			}
			return opts.output(cmd.OutOrStdout(), engine.RuleStatistics())
		},
	}
}

func newEvaluateCmd(opts *options) *cobra.Command {
	var (
		ruleType string
		explain  bool
	)
	cmd := &cobra.Command{
		Use:   "evaluate <request.json|->",
		Short: "Evaluate a recommendation request against the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := rules.RuleType(ruleType)
			if t != rules.AnyRuleType && !t.Valid() {
				return fmt.Errorf("unknown rule type %q", ruleType)
			}

			var req agronomy.Request
			if err := readInputJSON(cmd.InOrStdin(), args[0], &req); err != nil {
				return err
			}
			req.Normalize()
			if err := req.Valid(); err != nil {
				return fmt.Errorf("invalid request: %w", err)
			}

			catalog, err := opts.catalog()
			if err != nil {
				return err
			}
			engine, err := rules.NewEngine(catalog, nil)
			if err != nil {
				return err
			}

			result := map[string]any{
				"matches":  engine.EvaluateRules(&req, t),
				"features": rules.TreeFeatures(&req),
			}
			if explain {
				result["traces"] = engine.Explain(&req, t)
			}
			return opts.output(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&ruleType, "type", "", "Only evaluate rules of this type")
	cmd.Flags().BoolVar(&explain, "explain", false, "Include per-condition traces for every evaluated rule")
	return cmd
}

func newPredictCmd(opts *options) *cobra.Command {
	var (
		features []string
		input    string
	)
	cmd := &cobra.Command{
		Use:   "predict <tree>",
		Short: "Run a decision tree on a feature vector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vector := make(map[string]float64)
			if input != "" {
				if err := readInputJSON(cmd.InOrStdin(), input, &vector); err != nil {
					return err
				}
			}
			for _, f := range features {
				name, raw, ok := strings.Cut(f, "=")
				if !ok {
					return fmt.Errorf("feature %q: want name=value", f)
				}
				v, err := strconv.ParseFloat(raw, 64)
				if err != nil {
					return fmt.Errorf("feature %q: %w", name, err)
				}
				vector[name] = v
			}

			models, err := dtree.DefaultRegistry()
			if err != nil {
				return err
			}
			p, err := models.Predict(args[0], vector)
			if err != nil {
				return err
			}
			return opts.output(cmd.OutOrStdout(), p)
		},
	}
	cmd.Flags().StringArrayVar(&features, "feature", nil, "Feature as name=value (repeatable)")
	cmd.Flags().StringVar(&input, "input", "", "JSON feature map file, or - for stdin")
	return cmd
}

func newTreesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "trees",
		Short: "List the built-in decision trees and their features",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			type treeInfo struct {
				Name     string     `json:"name"`
				Kind     dtree.Kind `json:"kind"`
				Features []string   `json:"features"`
				Depth    int        `json:"depth"`
				Leaves   int        `json:"leaves"`
			}

			infos := make([]treeInfo, 0)
			for _, s := range dtree.DefaultSpecs() {
				m, err := dtree.Train(s.Spec, s.Data())
				if err != nil {
					return err
				}
				tree := m.Tree()
				infos = append(infos, treeInfo{
					Name:     m.Name(),
					Kind:     tree.Kind(),
					Features: tree.Features(),
					Depth:    tree.Depth(),
					Leaves:   tree.Leaves(),
				})
			}
			return opts.output(cmd.OutOrStdout(), infos)
		},
	}
}
