package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

type mcledgerApp struct {
	baseCmd *cobra.Command
	config  *rootConfig
}

// New creates the mcledger CLI application, "logF" builds the logger from the configuration.
func New(logF LoggerFactory) *mcledgerApp {
	config := &rootConfig{logF: logF}
	baseCmd := &cobra.Command{
		Use:           "mcledger",
		Short:         "The mutual credit ledger CLI",
		Long:          `The mutual credit ledger CLI runs the ledger node of an agent and talks to the node's REST API.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		// used by the subcommands which do not define their own
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.init(cmd); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			return nil
		},
	}
	config.addFlags(baseCmd)
	return &mcledgerApp{baseCmd: baseCmd, config: config}
}

// Execute adds the subcommands and runs the application, observability is shut down in the end.
func (a *mcledgerApp) Execute(ctx context.Context) (err error) {
	defer func() {
		if a.config.observe != nil {
			err = errors.Join(err, a.config.observe.Shutdown())
		}
	}()
	return a.addAndExecuteCommand(ctx)
}

func (a *mcledgerApp) addAndExecuteCommand(ctx context.Context) error {
	a.baseCmd.AddCommand(
		newNodeRunCmd(a.config),
		newNodeIdentifierCmd(a.config),
		newClientCmd(),
	)
	return a.baseCmd.ExecuteContext(ctx)
}

// init loads the configuration of "cmd" and sets up logging, metrics and tracing.
func (r *rootConfig) init(cmd *cobra.Command) error {
	if err := r.loadConfig(cmd); err != nil {
		return fmt.Errorf("reading configuration: %w", err)
	}
	log, err := r.newLogger(cmd)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	metrics, errM := cmd.Flags().GetString(keyMetrics)
	traces, errT := cmd.Flags().GetString(keyTracing)
	if err := errors.Join(errM, errT); err != nil {
		return fmt.Errorf("reading observability flags: %w", err)
	}
	obs, err := newObservability(metrics, traces, log)
	if obs != nil {
		// assigned even on error so that the exporters created so far are shut down
		r.observe = obs
	}
	if err != nil {
		return fmt.Errorf("initializing observability: %w", err)
	}
	return nil
}
