package cli

import (
	"github.com/smallnest/checkpointer/recency"
	"github.com/smallnest/checkpointer/store"
	"github.com/spf13/cobra"
)

func newRecentCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recently active threads",
		Long:  "Scan the whole log and list every thread with at least two checkpoints, stamped with its second most recent one.",
		RunE: func(cmd *cobra.Command, args []string) error {
			byTS, _ := cmd.Flags().GetBool("by-ts")
			var opts []recency.Option
			if byTS || a.cfg.Recency.OrderByTimestamp {
				opts = append(opts, recency.WithTimestampOrder())
			}

			return a.withLog(cmd, func(l store.Log) error {
				report, err := recency.New(l, opts...).RecentThreads(cmd.Context())
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().Bool("by-ts", false, "Order records by timestamp instead of scan order")
	return cmd
}
