// Package cli implements the checkpointer CLI commands.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallnest/checkpointer/backend"
	"github.com/smallnest/checkpointer/config"
	"github.com/smallnest/checkpointer/log"
	"github.com/smallnest/checkpointer/store"
	"github.com/spf13/cobra"
)

// Exit codes returned by ExitCode. ExitFault is the only code worth retrying.
const (
	ExitOK       = 0
	ExitFault    = 1
	ExitNotFound = 2
	ExitUsage    = 3
)

// ErrUsage marks bad flags or input
var ErrUsage = errors.New("invalid usage")

// Opener opens the checkpoint log for a loaded configuration
type Opener func(ctx context.Context, cfg *config.Config) (store.Log, error)

type app struct {
	configPath string
	format     string
	open       Opener
	cfg        *config.Config
}

// NewRootCmd builds the command tree. A nil open uses backend.Open.
func NewRootCmd(open Opener) *cobra.Command {
	if open == nil {
		open = backend.Open
	}
	a := &app{open: open}

	root := &cobra.Command{
		Use:           "checkpointer",
		Short:         "Inspect and manage conversation checkpoints",
		Long:          "Query thread checkpoints, list recently active threads and delete threads from a checkpoint log.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	})

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file (default: ./checkpointer.yaml or ~/.checkpointer/config.yaml)")
	root.PersistentFlags().StringVarP(&a.format, "format", "f", "json", "Output format: json or text")

	root.AddCommand(
		newLatestCmd(a),
		newTupleCmd(a),
		newHistoryCmd(a),
		newMessagesCmd(a),
		newRecentCmd(a),
		newDeleteCmd(a),
		newPutCmd(a),
	)
	return root
}

func (a *app) loadConfig() error {
	if a.format != "json" && a.format != "text" {
		return fmt.Errorf("%w: unknown format %q (want json or text)", ErrUsage, a.format)
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log.SetLogLevel(cfg.LogLevel())
	a.cfg = cfg
	return nil
}

// withLog opens the configured log for the duration of fn
func (a *app) withLog(cmd *cobra.Command, fn func(store.Log) error) error {
	l, err := a.open(cmd.Context(), a.cfg)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint log: %w", err)
	}
	defer l.Close()
	return fn(l)
}

func addThreadFlags(cmd *cobra.Command, userRequired bool) {
	// Missing values surface as store.ErrInvalidScope from the operation
	cmd.Flags().StringP("thread", "t", "", "Thread id (required)")
	if userRequired {
		cmd.Flags().StringP("user", "u", "", "Owner email (required)")
	} else {
		cmd.Flags().StringP("user", "u", "", "Owner email (default: every owner)")
	}
}

func scopeFlags(cmd *cobra.Command) store.Scope {
	thread, _ := cmd.Flags().GetString("thread")
	user, _ := cmd.Flags().GetString("user")
	return store.Scope{ThreadID: thread, UserEmail: user}
}

// ExitCode maps a command error to the process exit code
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, store.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, ErrUsage), errors.Is(err, store.ErrInvalidScope), errors.Is(err, store.ErrParentNotFound):
		return ExitUsage
	default:
		return ExitFault
	}
}
