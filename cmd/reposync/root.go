// SPDX-License-Identifier: MIT
// Package reposync contains the Cobra command tree for the reposync CLI.
package reposync

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/skaphos/reposync/internal/remoteauth"
)

// Process exit codes. A run keeps the highest code any step raised.
const (
	exitOK = iota
	// exitWarning: the command finished but found something to fix, such
	// as a stored job whose cron expression cannot be armed.
	exitWarning
	// exitFailed: a sync, preview, credential check or cron check failed.
	exitFailed
	// exitFatal: the command could not run (bad arguments, config, store).
	exitFatal
)

var (
	flagVerbose int
	flagQuiet   bool
	flagConfig  string
	flagNoColor bool

	// colorOutputEnabled is decided per command from --format, --no-color
	// and whether stdout is a terminal.
	colorOutputEnabled bool
	exitCode           int

	// Overridable in tests.
	isTerminalFD = term.IsTerminal
	exitFunc     = os.Exit
)

var rootCmd = &cobra.Command{
	Use:   "reposync",
	Short: "Keep pairs of git remotes synchronized",
	Long: "reposync mirrors branches between a source and a target git remote, on demand or on a cron schedule, " +
		"applying each repository's conflict policy.\n\n" +
		"Exit codes: 0 ok, 1 warning, 2 a sync or check failed, 3 the command could not run.",
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if strings.TrimSpace(os.Getenv("NO_COLOR")) != "" {
			flagNoColor = true
		}
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.CountVarP(&flagVerbose, "verbose", "v", "log at debug level; repeat for trace")
	flags.BoolVarP(&flagQuiet, "quiet", "q", false, "only log errors and skip progress messages")
	flags.StringVar(&flagConfig, "config", "", "config file or directory (default: $REPOSYNC_CONFIG, nearest .reposync.yaml, user config dir)")
	flags.BoolVar(&flagNoColor, "no-color", false, "disable colored sync status")
}

// Execute runs the command tree and exits the process.
func Execute() {
	exitFunc(ExecuteWithExitCode())
}

// ExecuteWithExitCode runs the command tree and returns the exit code. A
// command error is printed with any URL credentials removed.
func ExecuteWithExitCode() int {
	exitCode = exitOK
	colorOutputEnabled = false
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", remoteauth.Redact(err.Error()))
		return exitFatal
	}
	return exitCode
}

func raiseExitCode(code int) {
	exitCode = max(exitCode, code)
}

func infof(cmd *cobra.Command, format string, args ...any) {
	if !flagQuiet {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
	}
}

func debugf(cmd *cobra.Command, format string, args ...any) {
	if !flagQuiet && flagVerbose > 0 {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
	}
}

func setColorOutputMode(cmd *cobra.Command, format string) {
	colorOutputEnabled = shouldUseColorOutput(cmd, format)
}

// shouldUseColorOutput reports whether status cells may carry ANSI colors:
// only table output written to a terminal, and never with --no-color.
func shouldUseColorOutput(cmd *cobra.Command, format string) bool {
	if flagNoColor || !strings.EqualFold(strings.TrimSpace(format), "table") {
		return false
	}
	file, ok := cmd.OutOrStdout().(*os.File)
	return ok && isTerminalFD(int(file.Fd()))
}
