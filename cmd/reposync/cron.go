// SPDX-License-Identifier: MIT
package reposync

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/skaphos/reposync/internal/scheduler"
)

// now is overridable in tests.
var now = time.Now

var cronCmd = &cobra.Command{
	Use:   "cron <expression>",
	Short: "Validate a cron expression and show its next activations",
	Long:  "Accepts five fields, an optional leading seconds field, or a descriptor such as @daily. Quote the expression.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		expr := strings.Join(args, " ")
		out := cmd.OutOrStdout()

		from := now()
		next, err := scheduler.NextRunAfter(expr, from)
		if err != nil {
			raiseExitCode(exitFailed)
			_, werr := fmt.Fprintf(out, "%q is not a valid cron expression\n", expr)
			logOutputWriteFailure(cmd, "cron", werr)
			debugf(cmd, "%v", err)
			return nil
		}
		_, err = fmt.Fprintf(out, "%q is valid; next runs:\n", expr)
		logOutputWriteFailure(cmd, "cron", err)
		for i := 0; i < count && !next.IsZero(); i++ {
			_, err = fmt.Fprintf(out, "  %s\n", next.Format(time.RFC3339))
			logOutputWriteFailure(cmd, "cron", err)
			next, _ = scheduler.NextRunAfter(expr, next)
		}
		return nil
	},
}

func init() {
	cronCmd.Flags().IntP("count", "n", 5, "number of activations to show")
	rootCmd.AddCommand(cronCmd)
}
