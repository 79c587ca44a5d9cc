package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/smallnest/checkpointer/saver"
	"github.com/smallnest/checkpointer/store"
	"github.com/spf13/cobra"
)

func newPutCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Store a checkpoint read from stdin",
		Long:  "Read a JSON payload from stdin and store it as a new checkpoint of the thread.",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := scopeFlags(cmd)
			parent, _ := cmd.Flags().GetString("parent")

			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read payload: %w", err)
			}
			if !json.Valid(data) {
				return fmt.Errorf("%w: payload is not valid JSON", ErrUsage)
			}

			return a.withLog(cmd, func(l store.Log) error {
				saved, err := saver.New(l).Put(cmd.Context(), &store.Checkpoint{
					ThreadID:  scope.ThreadID,
					UserEmail: scope.UserEmail,
					ParentID:  parent,
					Payload:   json.RawMessage(data),
				})
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), saved)
			})
		},
	}
	addThreadFlags(cmd, true)
	cmd.Flags().String("parent", "", "Parent checkpoint id")
	return cmd
}
