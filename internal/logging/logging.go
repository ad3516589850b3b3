// SPDX-License-Identifier: MIT
// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/skaphos/reposync/internal/config"
)

// New returns a logger writing to stderr with the configured level and
// format. verbosity raises the level: 1 selects debug, 2 or more trace.
func New(cfg config.LoggingConfig, verbosity int) (*logrus.Logger, error) {
	return NewWithWriter(os.Stderr, cfg, verbosity)
}

// NewWithWriter is New with an explicit output.
func NewWithWriter(out io.Writer, cfg config.LoggingConfig, verbosity int) (*logrus.Logger, error) {
	level := logrus.InfoLevel
	if name := strings.TrimSpace(cfg.Level); name != "" {
		parsed, err := logrus.ParseLevel(name)
		if err != nil {
			return nil, fmt.Errorf("logging.level: %w", err)
		}
		level = parsed
	}
	switch {
	case verbosity >= 2:
		level = logrus.TraceLevel
	case verbosity == 1 && level < logrus.DebugLevel:
		level = logrus.DebugLevel
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: !isTerminal(out)})
	default:
		return nil, fmt.Errorf("unsupported logging.format %q", cfg.Format)
	}
	return logger, nil
}
