package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/lunge-fleet/internal/agent"
)

// shutdownGrace bounds how long a stopping agent waits for the active run.
const shutdownGrace = 30 * time.Second

func (a *app) agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run a load-generating agent that accepts loads over HTTP",
		Long: `Serve the agent API so the machine can be a node of a fleet:

  POST /v1/load      apply one node's share of a load and wait for it to finish
  GET  /v1/results   summary of the last run
  GET  /healthz      liveness and whether a run is active
  GET  /metrics      Prometheus metrics

  lunge-fleet agent --listen :8089`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runAgent(ctx)
		},
	}

	cmd.Flags().StringP("listen", "l", ":8089", "address to listen on")
	return cmd
}

func (a *app) runAgent(ctx context.Context) error {
	listen := a.v.GetString("listen")
	server, err := agent.NewServer(listen,
		agent.WithLogger(a.log.WithField("listen", listen)),
	)
	if err != nil {
		return err
	}

	errs := make(chan error, 1)
	go func() {
		errs <- server.Start()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down agent")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errs
}
