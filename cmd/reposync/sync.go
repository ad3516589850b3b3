// SPDX-License-Identifier: MIT
package reposync

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skaphos/reposync/internal/cliio"
	"github.com/skaphos/reposync/internal/engine"
	"github.com/skaphos/reposync/internal/model"
	"github.com/skaphos/reposync/internal/strutil"
	"github.com/skaphos/reposync/internal/termstyle"
)

var syncCmd = &cobra.Command{
	Use:   "sync <repository-id>",
	Short: "Sync one repository pair now",
	Long: "Clones the source remote, compares it with the target and pushes according to the repository's conflict policy. " +
		"prefer-source force-pushes and asks for confirmation unless --yes is given.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		yes, _ := cmd.Flags().GetBool("yes")
		branchesRaw, _ := cmd.Flags().GetString("branches")

		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.engine.Wait()

		req, err := a.engine.LoadRequest(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		branches := strutil.SplitCSV(branchesRaw)
		if len(branches) > 0 {
			if req.Repository.BranchPairs, err = selectBranchPairs(req.Repository.BranchPairs, branches); err != nil {
				return err
			}
		}

		if !yes && req.Repository.ConflictPolicy == model.PolicyPreferSource {
			msg := fmt.Sprintf("Force push %s to %s?", strings.Join(branchNames(req.Repository.BranchPairs), ", "), req.Repository.TargetURL)
			confirmed, err := cliio.Confirm(cmd.ErrOrStderr(), cmd.InOrStdin(), msg)
			if err != nil {
				return err
			}
			if !confirmed {
				infof(cmd, "sync cancelled")
				return nil
			}
		}

		var result model.SyncResult
		if len(branches) == 0 {
			// Sync the request the confirmation was given for.
			result = a.engine.SyncRequest(cmd.Context(), req)
		} else {
			// A partial run is not recorded as the repository's last sync.
			result = a.engine.PerformSync(cmd.Context(), req)
		}
		if !result.Success {
			raiseExitCode(exitFailed)
		}

		if format != "table" {
			return writeStructured(cmd, format, result)
		}
		setColorOutputMode(cmd, format)
		writeSyncTable(cmd, result)
		return nil
	},
}

func selectBranchPairs(pairs []model.BranchPair, names []string) ([]model.BranchPair, error) {
	configured := map[string]model.BranchPair{}
	for _, pair := range pairs {
		configured[pair.Name] = pair
	}
	selected := make([]model.BranchPair, 0, len(names))
	var unknown []string
	for _, name := range names {
		pair, ok := configured[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		selected = append(selected, pair)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("branch pairs not configured: %s", strings.Join(unknown, ", "))
	}
	return selected, nil
}

func branchNames(pairs []model.BranchPair) []string {
	names := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		names = append(names, pair.Name)
	}
	return names
}

func writeSyncTable(cmd *cobra.Command, result model.SyncResult) {
	rows := make([][]string, 0, len(result.Branches))
	for _, branch := range result.Branches {
		status := model.StatusSuccess
		if !branch.Success {
			status = model.StatusFailed
		}
		rows = append(rows, []string{
			branch.Branch,
			termstyle.Status(colorOutputEnabled, status),
			strconv.Itoa(branch.Changes.Added),
			strconv.Itoa(branch.Changes.Modified),
			strconv.Itoa(branch.Changes.Deleted),
			strconv.Itoa(branch.Commits),
			strconv.Itoa(len(branch.Conflicts)),
			orDash(branch.ErrorKind),
			orDash(branch.Error),
		})
	}
	writeTable(cmd, []string{"BRANCH", "STATUS", "ADDED", "MODIFIED", "DELETED", "COMMITS", "CONFLICTS", "ERROR_KIND", "ERROR"}, rows)
	for _, conflict := range result.Conflicts {
		infof(cmd, "unresolved conflict: %s (%s)", conflict.File, conflict.Description)
	}
	if !result.Success && len(result.Branches) == 0 {
		infof(cmd, "sync failed (%s): %s", result.ErrorKind, result.Error)
	}
}

// syncErrorKind extracts the kind of a preview failure for messages.
func syncErrorKind(err error) string {
	var syncErr *engine.SyncError
	if errors.As(err, &syncErr) {
		return string(syncErr.Kind)
	}
	return string(engine.KindUnknown)
}

func init() {
	addFormatFlag(syncCmd)
	addNoHeadersFlag(syncCmd)
	addBranchesFlag(syncCmd)
	syncCmd.Flags().BoolP("yes", "y", false, "do not ask before force-pushing")
	rootCmd.AddCommand(syncCmd)
}
