// SPDX-License-Identifier: MIT
package reposync

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skaphos/reposync/internal/model"
	"github.com/skaphos/reposync/internal/scheduler"
	"github.com/skaphos/reposync/internal/sortutil"
	"github.com/skaphos/reposync/internal/termstyle"
)

var jobsCmd = &cobra.Command{
	Use:     "jobs",
	Aliases: []string{"job"},
	Short:   "List scheduled sync jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		jobs, err := a.store.Jobs(cmd.Context())
		if err != nil {
			return err
		}
		sortutil.SortJobs(jobs)
		if format != "table" {
			return writeStructured(cmd, format, jobs)
		}
		setColorOutputMode(cmd, format)
		writeJobsTable(cmd, jobs)
		return nil
	},
}

func writeJobsTable(cmd *cobra.Command, jobs []model.ScheduledJob) {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		cron := job.CronExpression
		if !scheduler.IsValidCronExpression(cron) {
			cron += " (invalid)"
			raiseExitCode(exitWarning)
		}
		rows = append(rows, []string{
			job.ID,
			orDash(job.Name),
			cron,
			strconv.FormatBool(job.Enabled),
			strings.Join(job.RepositoryIDs, ","),
			formatTime(job.NextRunAt),
			formatTime(job.LastRunAt),
			orDash(termstyle.Status(colorOutputEnabled, job.LastRunStatus)),
			strconv.Itoa(job.RunCount),
		})
	}
	writeTable(cmd, []string{"ID", "NAME", "CRON", "ENABLED", "REPOSITORIES", "NEXT_RUN", "LAST_RUN", "STATUS", "RUNS"}, rows)
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Run a scheduled job now and record the run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.engine.Wait()

		svc := scheduler.New(a.engine, a.store, a.log)
		run, err := svc.RunNow(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if run.Status() != model.StatusSuccess {
			raiseExitCode(exitFailed)
		}
		if format != "table" {
			return writeStructured(cmd, format, run)
		}
		setColorOutputMode(cmd, format)
		rows := make([][]string, 0, len(run.Results))
		for _, res := range run.Results {
			status := model.StatusSuccess
			if !res.Success {
				status = model.StatusFailed
			}
			rows = append(rows, []string{res.RepositoryID, termstyle.Status(colorOutputEnabled, status), orDash(res.Error)})
		}
		writeTable(cmd, []string{"REPOSITORY", "STATUS", "ERROR"}, rows)
		infof(cmd, "job %s: %d of %d repositories failed; next run %s", run.JobID, run.Failed(), len(run.Results), run.NextRunAt.Local().Format("2006-01-02 15:04"))
		return nil
	},
}

func init() {
	addFormatFlag(jobsCmd)
	addNoHeadersFlag(jobsCmd)
	addFormatFlag(jobsRunCmd)
	addNoHeadersFlag(jobsRunCmd)
	jobsCmd.AddCommand(jobsRunCmd)
	rootCmd.AddCommand(jobsCmd)
}
