package reposync

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/skaphos/reposync/internal/config"
	"github.com/skaphos/reposync/internal/model"
	"github.com/skaphos/reposync/internal/store"
)

const testPassphrase = "correct horse battery staple"

func testDocument() store.Document {
	last := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	return store.Document{
		Credentials: []model.Credential{
			{ID: "tfs", Name: "TFS bot", Kind: model.KindSystemA, Username: "svc", Token: "tfs-secret-token", URL: "https://tfs.example.com/coll/_git/repo"},
			{ID: "gh", Name: "GitHub bot", Kind: model.KindSystemB, Username: "bot", Token: "ghp-secret-token"},
		},
		Repositories: []model.Repository{
			{
				ID:                 "repo-1",
				Name:               "Payments",
				SourceURL:          "https://tfs.example.com/coll/_git/payments",
				TargetURL:          "https://github.com/org/payments.git",
				SourceCredentialID: "tfs",
				TargetCredentialID: "gh",
				BranchPairs:        []model.BranchPair{{Name: "main"}, {Name: "release"}},
				SyncDirection:      model.DirectionAToB,
				ConflictPolicy:     model.PolicyManual,
				LastSyncAt:         &last,
				LastSyncStatus:     model.StatusSuccess,
			},
		},
		ScheduledJobs: []model.ScheduledJob{
			{ID: "nightly", Name: "Nightly", CronExpression: "0 0 * * *", RepositoryIDs: []string{"repo-1"}, Enabled: true},
			{ID: "broken", Name: "Broken", CronExpression: "0 0 * *", RepositoryIDs: []string{"repo-1"}},
		},
	}
}

// writeTestConfig writes a config and store into a temp dir and returns
// the config path.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("REPOSYNC_ENCRYPTION_KEY", testPassphrase)

	cfg := config.DefaultConfig()
	cfg.TempDir = filepath.Join(tmp, "work")
	cfg.Logging.Level = "error"
	cfgPath := filepath.Join(tmp, config.LocalConfigFilename)
	if err := config.Save(&cfg, cfgPath); err != nil {
		t.Fatalf("save config: %v", err)
	}

	data, err := yaml.Marshal(testDocument())
	if err != nil {
		t.Fatalf("marshal store: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, "store.yaml"), data, 0o600); err != nil {
		t.Fatalf("write store: %v", err)
	}
	return cfgPath
}

func withTestConfig(t *testing.T, cfgPath string) func() {
	t.Helper()
	prevConfig := flagConfig
	prevExit := exitCode
	flagConfig = cfgPath
	exitCode = 0

	origWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(filepath.Dir(cfgPath)); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	return func() {
		flagConfig = prevConfig
		exitCode = prevExit
		_ = os.Chdir(origWD)
	}
}

// captureCommand points cmd at fresh buffers and resets the given flags
// when the test ends.
func captureCommand(t *testing.T, cmd *cobra.Command, flags map[string]string) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetIn(&bytes.Buffer{})
	cmd.SetContext(context.Background())

	defaults := map[string]string{}
	for name, value := range flags {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			t.Fatalf("unknown flag %q", name)
		}
		defaults[name] = f.DefValue
		if err := cmd.Flags().Set(name, value); err != nil {
			t.Fatalf("set flag %s: %v", name, err)
		}
	}
	t.Cleanup(func() {
		cmd.SetOut(os.Stdout)
		cmd.SetErr(os.Stderr)
		cmd.SetIn(os.Stdin)
		for name, value := range defaults {
			_ = cmd.Flags().Set(name, value)
		}
	})
	return out, errOut
}

var yamlMarshal = yaml.Marshal

func readStore(t *testing.T, cfgPath string) store.Document {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(filepath.Dir(cfgPath), "store.yaml"))
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	var doc store.Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parse store: %v", err)
	}
	return doc
}
