package cli

import (
	"github.com/smallnest/checkpointer/retention"
	"github.com/smallnest/checkpointer/store"
	"github.com/spf13/cobra"
)

func newDeleteCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete every checkpoint and pending write of a thread",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := scopeFlags(cmd)

			return a.withLog(cmd, func(l store.Log) error {
				m := retention.New(l)
				var (
					res retention.Result
					err error
				)
				if scope.UserEmail == "" {
					res, err = m.DeleteByThread(cmd.Context(), scope.ThreadID)
				} else {
					res, err = m.DeleteOwnedThread(cmd.Context(), scope.ThreadID, scope.UserEmail)
				}
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), deleteOutput{
					Result:  res,
					Total:   res.Total(),
					Message: res.Message(scope.ThreadID),
				})
			})
		},
	}
	addThreadFlags(cmd, false)
	return cmd
}
