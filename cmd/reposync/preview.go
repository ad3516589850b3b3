// SPDX-License-Identifier: MIT
package reposync

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/skaphos/reposync/internal/model"
	"github.com/skaphos/reposync/internal/strutil"
	"github.com/skaphos/reposync/internal/termstyle"
)

var previewCmd = &cobra.Command{
	Use:   "preview <repository-id>",
	Short: "Show what a sync would bring into the target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
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
		if branches := strutil.SplitCSV(branchesRaw); len(branches) > 0 {
			if req.Repository.BranchPairs, err = selectBranchPairs(req.Repository.BranchPairs, branches); err != nil {
				return err
			}
		}
		diffs, err := a.engine.PreviewSync(cmd.Context(), req)
		if err != nil {
			raiseExitCode(exitFailed)
			return fmt.Errorf("preview failed (%s): %w", syncErrorKind(err), err)
		}

		if format != "table" {
			return writeStructured(cmd, format, diffs)
		}
		setColorOutputMode(cmd, format)
		writePreviewTable(cmd, diffs)
		return nil
	},
}

func writePreviewTable(cmd *cobra.Command, diffs []model.SyncDiff) {
	rows := [][]string{}
	for _, diff := range diffs {
		if len(diff.Files) == 0 {
			rows = append(rows, []string{diff.Branch, "-", "up to date", "0", "0"})
			continue
		}
		for _, file := range diff.Files {
			adds, dels := strconv.Itoa(file.Additions), strconv.Itoa(file.Deletions)
			if file.Binary {
				adds, dels = "bin", "bin"
			}
			rows = append(rows, []string{diff.Branch, termstyle.FileStatus(colorOutputEnabled, file.Status), file.Path, adds, dels})
		}
	}
	writeTable(cmd, []string{"BRANCH", "STATUS", "PATH", "+", "-"}, rows)

	for _, diff := range diffs {
		summary := diff.Summary()
		infof(cmd, "%s: %d added, %d modified, %d deleted, %d commits", diff.Branch, summary.Added, summary.Modified, summary.Deleted, len(diff.Commits))
		for _, commit := range diff.Commits {
			debugf(cmd, "  %.8s %s (%s)", commit.Hash, commit.Message, commit.Author)
		}
	}
}

func init() {
	addFormatFlag(previewCmd)
	addNoHeadersFlag(previewCmd)
	addBranchesFlag(previewCmd)
	rootCmd.AddCommand(previewCmd)
}
