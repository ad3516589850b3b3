// SPDX-License-Identifier: MIT
// Package termstyle colors status values for terminal output.
package termstyle

import (
	"github.com/fatih/color"

	"github.com/skaphos/reposync/internal/model"
)

// Semantic colors used by table and status output.
const (
	Healthy = color.FgGreen
	Warn    = color.FgYellow
	Error   = color.FgRed
	Info    = color.FgBlue
)

// Colorize wraps value in ANSI escapes when enabled is true, regardless of
// whether stdout is a terminal.
func Colorize(enabled bool, value string, attr color.Attribute) string {
	if !enabled || value == "" {
		return value
	}
	c := color.New(attr)
	c.EnableColor()
	return c.Sprint(value)
}

// Status colors a run status: success green, failed red, in-progress yellow.
func Status(enabled bool, status model.RunStatus) string {
	switch status {
	case model.StatusSuccess:
		return Colorize(enabled, string(status), Healthy)
	case model.StatusFailed:
		return Colorize(enabled, string(status), Error)
	case model.StatusInProgress:
		return Colorize(enabled, string(status), Warn)
	default:
		return string(status)
	}
}

// FileStatus colors a diff entry status the way a unified diff would.
func FileStatus(enabled bool, status model.FileStatus) string {
	switch status {
	case model.FileAdded:
		return Colorize(enabled, "+"+string(status), Healthy)
	case model.FileDeleted:
		return Colorize(enabled, "-"+string(status), Error)
	case model.FileRenamed:
		return Colorize(enabled, ">"+string(status), Info)
	default:
		return Colorize(enabled, "~"+string(status), Warn)
	}
}
