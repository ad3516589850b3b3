// SPDX-License-Identifier: MIT
package reposync

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/skaphos/reposync/internal/config"
	"github.com/skaphos/reposync/internal/store"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap a RepoSync configuration",
	Long:  "Creates a RepoSync config file in the current directory by default, along with an empty store next to it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		storePath, _ := cmd.Flags().GetString("store")

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		cfgPath, err := config.InitConfigPath(configOverride(cmd), cwd)
		if err != nil {
			return err
		}
		if _, err := os.Stat(cfgPath); err == nil {
			if !force {
				return fmt.Errorf("config already exists at %q (use --force to overwrite)", cfgPath)
			}
			if err := os.Remove(cfgPath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove existing config %q: %w", cfgPath, err)
			}
		}

		cfg := config.DefaultConfig()
		if storePath != "" {
			cfg.StorePath = storePath
		}
		if err := config.Save(&cfg, cfgPath); err != nil {
			return err
		}

		// Opening creates the store file when it does not exist yet.
		logger := logrus.New()
		logger.SetOutput(cmd.ErrOrStderr())
		resolved := config.ResolveStorePath(cfgPath, cfg.StorePath)
		if _, err := store.Open(resolved, nil, logger); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Wrote config to %s\nStore: %s\n", cfgPath, resolved); err != nil {
			return err
		}
		return nil
	},
}

func init() {
	initCmd.Flags().Bool("force", false, "overwrite existing config without prompting")
	initCmd.Flags().String("store", "", "store file path, relative to the config file")

	rootCmd.AddCommand(initCmd)
}
