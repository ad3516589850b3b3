// SPDX-License-Identifier: MIT
package reposync

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/skaphos/reposync/internal/model"
	"github.com/skaphos/reposync/internal/remoteauth"
	"github.com/skaphos/reposync/internal/sortutil"
	"github.com/skaphos/reposync/internal/termstyle"
)

var reposCmd = &cobra.Command{
	Use:     "repos",
	Aliases: []string{"repositories"},
	Short:   "List configured repository pairs",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		repos, err := a.store.Repositories(cmd.Context())
		if err != nil {
			return err
		}
		sortutil.SortRepositories(repos)
		if format != "table" {
			return writeStructured(cmd, format, repos)
		}
		setColorOutputMode(cmd, format)
		writeReposTable(cmd, repos)
		return nil
	},
}

func writeReposTable(cmd *cobra.Command, repos []model.Repository) {
	rows := make([][]string, 0, len(repos))
	for _, repo := range repos {
		branches := make([]string, 0, len(repo.BranchPairs))
		for _, pair := range repo.BranchPairs {
			branches = append(branches, pair.Name)
		}
		rows = append(rows, []string{
			repo.ID,
			orDash(repo.Name),
			remoteauth.Redact(repo.SourceURL),
			remoteauth.Redact(repo.TargetURL),
			string(repo.SyncDirection),
			string(repo.ConflictPolicy),
			strings.Join(branches, ","),
			formatTime(repo.LastSyncAt),
			orDash(termstyle.Status(colorOutputEnabled, repo.LastSyncStatus)),
		})
	}
	writeTable(cmd, []string{"ID", "NAME", "SOURCE", "TARGET", "DIRECTION", "POLICY", "BRANCHES", "LAST_SYNC", "STATUS"}, rows)
}

func init() {
	addFormatFlag(reposCmd)
	addNoHeadersFlag(reposCmd)
	rootCmd.AddCommand(reposCmd)
}
