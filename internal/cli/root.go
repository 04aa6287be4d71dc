// Package cli implements the lunge-fleet command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/lunge-fleet/internal/config"
	"github.com/wesleyorama2/lunge-fleet/internal/output"
)

var version = "0.1.0"

// EnvPrefix prefixes the environment variables that override flags,
// e.g. LUNGE_FLEET_LOG_LEVEL for --log-level.
const EnvPrefix = "LUNGE_FLEET"

// app carries the state shared by the commands of one root command.
type app struct {
	v   *viper.Viper
	out io.Writer
	log *log.Logger
}

// NewRootCmd creates the root command with all subcommands.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New(), log: log.StandardLogger()}
	a.v.SetEnvPrefix(EnvPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:          "lunge-fleet",
		Short:        "Spread one load test over a fleet of load-generating agents",
		Version:      version,
		SilenceUsage: true,
		Long: `lunge-fleet splits a global load profile (virtual users, ramp and
request rate) across a fleet of agents so that the fleet as a whole
produces the requested load, then applies the shares concurrently.

Every flag can also be set through the environment, e.g.
LUNGE_FLEET_LOG_LEVEL=debug or LUNGE_FLEET_CONFIG=fleet.yaml.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			a.out = cmd.OutOrStdout()
			return configureLogging(a.log, a.v.GetString("log-level"), a.v.GetString("log-format"), cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().Bool("no-color", false, "disable colored output")

	cmd.AddCommand(
		a.planCmd(),
		a.dispatchCmd(),
		a.agentCmd(),
	)
	return cmd
}

// Execute runs the root command with the process arguments.
// This is called by main.main().
func Execute() error {
	return NewRootCmd().Execute()
}

// configureLogging sets the level and format of logger.
func configureLogging(logger *log.Logger, level, format string, out io.Writer) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(lvl)
	logger.SetOutput(out)

	switch strings.ToLower(format) {
	case "", "text":
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q (valid: text, json)", format)
	}
	return nil
}

// loadFleetConfig loads and validates the fleet file named by --config.
func (a *app) loadFleetConfig() (*config.FleetConfig, error) {
	path := a.v.GetString("config")
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		var verrs *config.ValidationErrors
		if errors.As(err, &verrs) {
			a.log.WithFields(log.Fields{"config": path, "fields": verrs.Fields()}).Debug("fleet file is invalid")
		}
		return nil, err
	}
	return cfg, nil
}

// printer creates a printer for --output and --no-color.
func (a *app) printer() (*output.Printer, error) {
	format, err := output.ParseFormat(a.v.GetString("output"))
	if err != nil {
		return nil, err
	}
	return output.NewPrinter(a.out, format, a.v.GetBool("no-color")), nil
}
