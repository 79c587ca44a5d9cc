package cli

import (
	"github.com/smallnest/checkpointer/saver"
	"github.com/smallnest/checkpointer/store"
	"github.com/spf13/cobra"
)

func newLatestCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Show the latest checkpoint of a thread",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLog(cmd, func(l store.Log) error {
				cp, err := saver.New(l).GetLatest(cmd.Context(), scopeFlags(cmd))
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), cp)
			})
		},
	}
	addThreadFlags(cmd, true)
	return cmd
}

func newTupleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tuple",
		Short: "Show a checkpoint tuple with its pending writes",
		Long:  "Show the latest checkpoint tuple, or with --checkpoint the tuple of that checkpoint or its nearest ancestor.",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := scopeFlags(cmd)
			scope.CheckpointID, _ = cmd.Flags().GetString("checkpoint")

			return a.withLog(cmd, func(l store.Log) error {
				s := saver.New(l)
				var (
					tuple *store.CheckpointTuple
					err   error
				)
				if scope.CheckpointID == "" {
					tuple, err = s.GetLatestTuple(cmd.Context(), scope)
				} else {
					tuple, err = s.GetTuple(cmd.Context(), scope)
				}
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), tuple)
			})
		},
	}
	addThreadFlags(cmd, true)
	cmd.Flags().String("checkpoint", "", "Checkpoint id")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the checkpoint tuples of a thread, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLog(cmd, func(l store.Log) error {
				tuples, err := saver.New(l).History(cmd.Context(), scopeFlags(cmd))
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), tuples)
			})
		},
	}
	addThreadFlags(cmd, true)
	return cmd
}

func newMessagesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "List the checkpoint payloads of a thread, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLog(cmd, func(l store.Log) error {
				history, err := saver.New(l).FilteredMessages(cmd.Context(), scopeFlags(cmd))
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), history)
			})
		},
	}
	addThreadFlags(cmd, true)
	return cmd
}
