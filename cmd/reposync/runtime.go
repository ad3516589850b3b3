// SPDX-License-Identifier: MIT
package reposync

import (
	"errors"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/skaphos/reposync/internal/config"
	"github.com/skaphos/reposync/internal/engine"
	"github.com/skaphos/reposync/internal/gitx"
	"github.com/skaphos/reposync/internal/logging"
	"github.com/skaphos/reposync/internal/secrets"
	"github.com/skaphos/reposync/internal/store"
)

// newRunner is overridable in tests.
var newRunner = func(cfg *config.Config) gitx.Runner {
	return &gitx.GitRunner{GitBin: cfg.Git.Binary}
}

// app is everything a command needs once config has been resolved.
type app struct {
	cfgPath string
	cfg     *config.Config
	log     *logrus.Logger
	box     *secrets.Box
	store   *store.Store
	engine  *engine.Engine
}

func configOverride(cmd *cobra.Command) string {
	if cmd != nil {
		if f := cmd.Flags().Lookup("config"); f != nil && f.Changed {
			return f.Value.String()
		}
	}
	return flagConfig
}

// loadApp resolves config, builds the logger, opens the store and creates
// the engine.
func loadApp(cmd *cobra.Command) (*app, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfgPath, err := config.ResolveConfigPath(configOverride(cmd), cwd)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	debugf(cmd, "using config %s", cfgPath)

	verbosity := flagVerbose
	if flagQuiet {
		cfg.Logging.Level = "error"
		verbosity = 0
	}
	logger, err := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging, verbosity)
	if err != nil {
		return nil, err
	}

	box, err := loadBox(cfg)
	if err != nil {
		// Plaintext tokens still work; encrypted ones fail when read.
		logger.WithError(err).Warn("token encryption key unavailable")
	}
	st, err := store.Open(cfg.StorePath, box, logger)
	if err != nil {
		return nil, err
	}
	eng := engine.New(newRunner(cfg), st, engine.OptionsFromConfig(cfg), logger)
	return &app{cfgPath: cfgPath, cfg: cfg, log: logger, box: box, store: st, engine: eng}, nil
}

// loadBox returns a nil Box when no passphrase is configured.
func loadBox(cfg *config.Config) (*secrets.Box, error) {
	passphrase, err := secrets.LoadPassphrase(cfg.Secrets.KeyEnv, cfg.Secrets.KeyringService)
	if errors.Is(err, secrets.ErrNoKey) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return secrets.NewBox(passphrase)
}
