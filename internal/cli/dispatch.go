package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/lunge-fleet/internal/agent"
	"github.com/wesleyorama2/lunge-fleet/internal/fleet"
	"github.com/wesleyorama2/lunge-fleet/internal/node"
)

func (a *app) dispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Spread a load over the fleet and run it",
		Long: `Partition the load of a fleet file over its nodes and apply every share
concurrently. The command returns once every node has finished; it fails
if any node failed, naming each one.

  lunge-fleet dispatch --config fleet.yaml
  lunge-fleet dispatch --config fleet.yaml --local 2 --results ./results

Nodes added with --local run in this process after the agents of the fleet file.
With --check every agent must answer its health check, and be idle, before
any load is applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runDispatch(ctx)
		},
	}

	cmd.Flags().StringP("config", "c", "", "fleet file (YAML or JSON)")
	cmd.Flags().Int("local", 0, "number of in-process nodes to add to the fleet")
	cmd.Flags().String("results", "", "directory to gather every node's results into")
	cmd.Flags().Bool("check", false, "check that every agent is reachable and idle before dispatching")
	cmd.Flags().StringP("output", "o", "text", "output format (text, json, yaml)")
	return cmd
}

func (a *app) runDispatch(ctx context.Context) error {
	cfg, err := a.loadFleetConfig()
	if err != nil {
		return err
	}
	printer, err := a.printer()
	if err != nil {
		return err
	}

	entry := a.log.WithField("fleet", cfg.Name)
	nodes := cfg.BuildNodes(nil)
	if a.v.GetBool("check") {
		if err := checkAgents(ctx, nodes, entry); err != nil {
			return err
		}
	}

	var locals []*node.Local
	for i := 0; i < a.v.GetInt("local"); i++ {
		name := fmt.Sprintf("local-%d", i)
		local := node.NewLocal(name, agent.NewRunner(
			agent.WithLogger(a.log.WithField("node", name)),
		))
		locals = append(locals, local)
		nodes = append(nodes, local)
	}

	coordinator := fleet.NewCoordinator(nodes, fleet.WithLogger(entry))

	report, dispatchErr := coordinator.Dispatch(ctx, cfg.DispatchOptions())
	var result *multierror.Error
	if dispatchErr != nil {
		result = multierror.Append(result, dispatchErr)
	}
	if len(report.Nodes) > 0 {
		if err := printer.PrintReport(report); err != nil {
			return err
		}
	}

	for _, local := range locals {
		if summary := local.Last(); summary != nil {
			if err := printer.PrintSummary(local.String(), summary.Metrics); err != nil {
				return err
			}
		}
	}

	if dir := a.v.GetString("results"); dir != "" && len(report.Nodes) > 0 {
		if err := coordinator.GatherResults(ctx, dir); err != nil {
			result = multierror.Append(result, err)
		} else {
			entry.WithField("dir", dir).Info("results gathered")
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		entry.WithFields(log.Fields{"dispatch": report.ID}).Error("dispatch failed")
		if dispatchErr != nil && result.Len() == 1 {
			return dispatchErr
		}
		return err
	}
	return nil
}

// checkAgents asks every remote agent for its health and fails, naming each
// agent, unless all of them are reachable and idle.
func checkAgents(ctx context.Context, nodes []fleet.Node, logger *log.Entry) error {
	var result *multierror.Error
	for _, n := range nodes {
		agentNode, ok := n.(*node.HTTP)
		if !ok {
			continue
		}

		nodeLog := logger.WithFields(log.Fields{"node": agentNode.String(), "url": agentNode.URL()})
		busy, err := agentNode.Healthy(ctx)
		switch {
		case err != nil:
			nodeLog.WithError(err).Warn("agent failed its health check")
			result = multierror.Append(result, fmt.Errorf("%s: %w", agentNode, err))
		case busy:
			nodeLog.Warn("agent is busy")
			result = multierror.Append(result, fmt.Errorf("%s: %w", agentNode, node.ErrBusy))
		default:
			nodeLog.Debug("agent is ready")
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
