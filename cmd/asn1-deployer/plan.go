package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JonahGroendal/asn1-decode/internal/config"
	"github.com/JonahGroendal/asn1-decode/internal/deploy"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the actions a plan would execute",
	Long: `Print the ordered deploy and link actions of a plan without touching
any network.

Examples:
  asn1-deployer plan --plan link-then-deploy
  asn1-deployer plan --plan-file plan.yaml --output yaml`,
	RunE: runPlan,
}

func init() {
	addPlanFlags(planCmd)
	planCmd.Flags().StringP("output", "o", "text", "output format (text, yaml)")

	rootCmd.AddCommand(planCmd)
}

// addPlanFlags registers the flags that select a plan.
func addPlanFlags(cmd *cobra.Command) {
	cmd.Flags().String("plan", "", "plan variant (no-link, link-then-deploy)")
	cmd.Flags().String("plan-file", "", "YAML plan file")
	cmd.Flags().String("unit", "", "unit to deploy (default from config)")
	cmd.Flags().String("dependency", "", "library linked into the unit (default from config)")
}

// buildPlan resolves the plan from flags, then the plan file, then config.
// There is no default variant.
func buildPlan(cmd *cobra.Command, c config.PlanConfig) (deploy.Plan, error) {
	variant, _ := cmd.Flags().GetString("plan")
	file, _ := cmd.Flags().GetString("plan-file")
	unit, _ := cmd.Flags().GetString("unit")
	dependency, _ := cmd.Flags().GetString("dependency")

	if file == "" && variant == "" {
		file = c.File
	}
	if file != "" {
		return deploy.LoadPlanFile(file)
	}

	if variant == "" {
		variant = c.Variant
	}
	if variant == "" {
		return deploy.Plan{}, fmt.Errorf("%w: no plan variant given (use --plan %s or --plan %s)",
			deploy.ErrInvalidPlan, deploy.VariantNoLink, deploy.VariantLinkThenDeploy)
	}
	v, err := deploy.ParseVariant(variant)
	if err != nil {
		return deploy.Plan{}, err
	}

	if unit == "" {
		unit = c.Unit
	}
	if dependency == "" {
		dependency = c.Dependency
	}

	var p deploy.Plan
	switch v {
	case deploy.VariantNoLink:
		p = deploy.NoLink(unit)
	case deploy.VariantLinkThenDeploy:
		p = deploy.LinkThenDeploy(dependency, unit)
	}
	if err := p.Validate(); err != nil {
		return deploy.Plan{}, err
	}
	return p, nil
}

type planOutput struct {
	Plan    deploy.Plan     `yaml:"plan" json:"plan"`
	Actions []deploy.Action `yaml:"actions" json:"actions"`
}

func runPlan(cmd *cobra.Command, args []string) error {
	p, err := buildPlan(cmd, cfg.Plan)
	if err != nil {
		return err
	}
	out := planOutput{Plan: p, Actions: p.Actions()}
	w := cmd.OutOrStdout()

	if jsonOut {
		return printJSON(w, out)
	}

	format, _ := cmd.Flags().GetString("output")
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encode plan: %w", err)
		}
		return enc.Close()
	case "text":
		fmt.Fprintf(w, "%s %s\n", colorBold("plan:"), p.Variant)
		for i, a := range out.Actions {
			fmt.Fprintf(w, "  %d. %s\n", i+1, a)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
