package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/skaphos/reposync/internal/config"
)

var _ = Describe("Config", func() {
	It("resolves config path from override directory", func() {
		path, err := config.ConfigPath(filepath.Join("C:", "tmp", "reposync"))
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(HaveSuffix(filepath.Join("reposync", "config.yaml")))
	})

	It("resolves config path from override file", func() {
		path, err := config.ConfigPath(filepath.Join("C:", "tmp", "config.yaml"))
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(HaveSuffix(filepath.Join("tmp", "config.yaml")))
	})

	It("resolves config path from env", func() {
		GinkgoT().Setenv(config.ConfigEnv, filepath.Join("C:", "cfg", "config.yaml"))
		path, err := config.ConfigPath("")
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(HaveSuffix(filepath.Join("cfg", "config.yaml")))
	})

	It("resolves init path to local dotfile by default", func() {
		dir := GinkgoT().TempDir()
		path, err := config.InitConfigPath("", dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal(filepath.Join(dir, ".reposync.yaml")))
	})

	It("resolves runtime config from nearest parent dotfile", func() {
		dir := GinkgoT().TempDir()
		parentPath := filepath.Join(dir, ".reposync.yaml")
		Expect(os.WriteFile(parentPath, []byte("store_path: parent.yaml\n"), 0o644)).To(Succeed())

		nested := filepath.Join(dir, "a", "b", "c")
		Expect(os.MkdirAll(nested, 0o755)).To(Succeed())

		path, err := config.ResolveConfigPath("", nested)
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal(parentPath))
	})

	It("prefers nearer dotfile over farther parent", func() {
		dir := GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, ".reposync.yaml"), []byte("{}\n"), 0o644)).To(Succeed())

		childDir := filepath.Join(dir, "a", "b")
		Expect(os.MkdirAll(childDir, 0o755)).To(Succeed())
		childPath := filepath.Join(childDir, ".reposync.yaml")
		Expect(os.WriteFile(childPath, []byte("{}\n"), 0o644)).To(Succeed())

		path, err := config.ResolveConfigPath("", childDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal(childPath))
	})

	It("falls back to global runtime config when local dotfile is absent", func() {
		dir := GinkgoT().TempDir()
		path, err := config.ResolveConfigPath("", dir)
		Expect(err).NotTo(HaveOccurred())

		globalPath, err := config.ConfigPath("")
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal(globalPath))
	})

	It("saves and loads config with defaults", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "config.yaml")
		cfg := config.DefaultConfig()
		cfg.Server.Port = 9090

		Expect(config.Save(&cfg, path)).To(Succeed())
		loaded, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Server.Port).To(Equal(9090))
		Expect(loaded.StorePath).To(Equal(filepath.Join(dir, "store.yaml")))
		Expect(loaded.Git.CredentialMode).To(Equal("helper"))
		Expect(loaded.Sync.PreviewCleanupDelay).To(Equal(5 * time.Second))
		Expect(loaded.Timeout()).To(Equal(10 * time.Minute))
	})

	It("fills defaults for omitted keys and parses durations", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "config.yaml")
		content := "apiVersion: skaphos.io/reposync/v1beta1\nkind: RepoSyncConfig\n" +
			"store_path: /srv/reposync/store.yaml\nsync:\n  preview_cleanup_delay: 2s\nscheduler:\n  watch_store: false\n"
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())

		loaded, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.StorePath).To(Equal("/srv/reposync/store.yaml"))
		Expect(loaded.Sync.PreviewCleanupDelay).To(Equal(2 * time.Second))
		Expect(loaded.Sync.TimeoutSeconds).To(Equal(600))
		Expect(loaded.Scheduler.Enabled).To(BeTrue())
		Expect(loaded.Scheduler.WatchStore).To(BeFalse())
		Expect(loaded.EffectiveCloneDepth()).To(Equal(1))
	})

	It("expands environment placeholders", func() {
		GinkgoT().Setenv("REPOSYNC_TEST_PORT", "7070")
		path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
		Expect(os.WriteFile(path, []byte("server:\n  port: ${REPOSYNC_TEST_PORT}\n"), 0o644)).To(Succeed())

		loaded, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.ListenAddr()).To(Equal("127.0.0.1:7070"))
	})

	It("treats a negative clone depth as full history", func() {
		cfg := config.DefaultConfig()
		cfg.Git.CloneDepth = -1
		Expect(cfg.EffectiveCloneDepth()).To(Equal(0))
	})

	It("rejects unknown credential modes and log formats", func() {
		path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
		content := "git:\n  credential_mode: ssh-agent\nlogging:\n  format: xml\n"
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())

		_, err := config.Load(path)
		Expect(err).To(MatchError(ContainSubstring(`git.credential_mode "ssh-agent"`)))
		Expect(err).To(MatchError(ContainSubstring(`logging.format "xml"`)))
	})

	It("rejects a foreign apiVersion", func() {
		path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
		Expect(os.WriteFile(path, []byte("apiVersion: skaphos.io/gitsync/v1beta1\n"), 0o644)).To(Succeed())
		_, err := config.Load(path)
		Expect(err).To(MatchError(ContainSubstring("unsupported config apiVersion")))
	})

	It("places the temp root under temp_dir when set", func() {
		cfg := config.DefaultConfig()
		cfg.TempDir = "/var/tmp/reposync/"
		Expect(cfg.TempRoot()).To(Equal("/var/tmp/reposync"))
		cfg.TempDir = ""
		Expect(filepath.Base(cfg.TempRoot())).To(Equal(".git-sync-temp"))
	})
})
