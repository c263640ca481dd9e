// Package cli implements ruleadmin, an offline tool for checking rule
// catalogs and trying requests against them without running the service.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cropguard/recommendation/pkg/rules"
)

type options struct {
	rulesPath  string
	outputText bool
}

// NewRootCmd builds the ruleadmin command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "ruleadmin",
		Short: "Inspect and exercise agronomic rule catalogs",
		Long: `ruleadmin validates rule catalog files, reports catalog statistics and
evaluates recommendation requests against a catalog and the built-in
decision trees.

Examples:
  ruleadmin validate configs/rules/agronomic_rules.yaml
  ruleadmin stats --rules configs/rules/agronomic_rules.yaml
  ruleadmin evaluate request.json --type fertilizer_rate --explain
  ruleadmin predict nitrogen_rate --feature yield_goal=190 --feature previous_crop_legume=1
  ruleadmin trees`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.rulesPath, "rules", "", "Rule catalog file (default: built-in catalog)")
	root.PersistentFlags().BoolVar(&opts.outputText, "text", false, "Human-readable text output (default is JSON)")

	root.AddCommand(
		newValidateCmd(opts),
		newStatsCmd(opts),
		newEvaluateCmd(opts),
		newPredictCmd(opts),
		newTreesCmd(opts),
	)
	return root
}

func (o *options) catalog() ([]rules.Rule, error) {
	if o.rulesPath == "" {
		return rules.DefaultRules()
	}
	return rules.LoadRules(o.rulesPath)
}

func (o *options) output(w io.Writer, result any) error {
	if o.outputText {
		_, err := fmt.Fprintf(w, "%+v\n", result)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// readInputJSON reads JSON from a file, or stdin when input is "-".
func readInputJSON(in io.Reader, input string, v any) error {
	var (
		data []byte
		err  error
	)
	if input == "-" {
		data, err = io.ReadAll(in)
	} else {
		data, err = os.ReadFile(input)
	}
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("no input provided")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}
