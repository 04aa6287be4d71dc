package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/lunge-fleet/internal/fleet"
	"github.com/wesleyorama2/lunge-fleet/internal/output"
)

func (a *app) planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show how a load would be spread over the fleet",
		Long: `Show the share of the load each node would receive, without contacting any node.

  lunge-fleet plan --config fleet.yaml
  lunge-fleet plan --config fleet.yaml --nodes 8 --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runPlan()
		},
	}

	cmd.Flags().StringP("config", "c", "", "fleet file (YAML or JSON)")
	cmd.Flags().IntP("nodes", "n", 0, "number of nodes to plan for (default: the nodes of the fleet file)")
	cmd.Flags().StringP("output", "o", "text", "output format (text, json, yaml)")
	return cmd
}

func (a *app) runPlan() error {
	cfg, err := a.loadFleetConfig()
	if err != nil {
		return err
	}

	var names []string
	for _, n := range cfg.Nodes {
		names = append(names, n.Name)
	}
	count := len(names)
	if n := a.v.GetInt("nodes"); n > 0 {
		count = n
	}
	if count == 0 {
		return fmt.Errorf("the fleet file has no nodes; use --nodes to plan for a fleet size")
	}

	options := cfg.DispatchOptions()
	plans, err := fleet.Plan(options, count)
	if err != nil {
		return err
	}

	printer, err := a.printer()
	if err != nil {
		return err
	}
	return printer.PrintPlan(output.NewPlanDocument(options.Behavior.Load, names, plans))
}
