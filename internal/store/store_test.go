package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/skaphos/reposync/internal/model"
	"github.com/skaphos/reposync/internal/secrets"
	"github.com/skaphos/reposync/internal/store"
)

const seed = `credentials:
  - id: tfs
    kind: source-system-a
    username: svc
    token: plain-tfs
  - id: gh
    kind: source-system-b
    username: bot
    token: plain-gh
repositories:
  - id: repo-1
    name: payments
    source_url: https://tfs.example.com/payments.git
    target_url: https://github.com/org/payments.git
    source_credential_id: tfs
    target_credential_id: gh
    branch_pairs:
      - name: main
    sync_direction: a-to-b
    conflict_policy: prefer-source
scheduled_jobs:
  - id: job-legacy
    name: nightly
    repository_id: repo-1
    schedule: "30 2 * * *"
    enabled: true
  - id: job-bare
    name: defaults
    enabled: false
`

var _ = Describe("Store", func() {
	var (
		ctx  context.Context
		path string
		s    *store.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		path = filepath.Join(GinkgoT().TempDir(), "store.yaml")
		Expect(os.WriteFile(path, []byte(seed), 0o600)).To(Succeed())
		logger, _ := logtest.NewNullLogger()
		var err error
		s, err = store.Open(path, nil, logger)
		Expect(err).NotTo(HaveOccurred())
	})

	It("creates an empty store when the file is missing", func() {
		empty := filepath.Join(GinkgoT().TempDir(), "nested", "store.yaml")
		created, err := store.Open(empty, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(empty).To(BeAnExistingFile())
		jobs, err := created.Jobs(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(jobs).To(BeEmpty())
	})

	It("migrates legacy job fields and persists them", func() {
		job, err := s.Job(ctx, "job-legacy")
		Expect(err).NotTo(HaveOccurred())
		Expect(job.RepositoryIDs).To(Equal([]string{"repo-1"}))
		Expect(job.CronExpression).To(Equal("30 2 * * *"))

		bare, err := s.Job(ctx, "job-bare")
		Expect(err).NotTo(HaveOccurred())
		Expect(bare.CronExpression).To(Equal(store.DefaultCronExpression))
		Expect(bare.RepositoryIDs).To(BeEmpty())

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).NotTo(ContainSubstring("repository_id:"))
		Expect(string(data)).NotTo(ContainSubstring("schedule:"))
		Expect(string(data)).To(ContainSubstring("repository_ids:"))
	})

	It("looks up repositories and credentials", func() {
		repo, err := s.Repository(ctx, "repo-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.BranchPairs).To(Equal([]model.BranchPair{{Name: "main"}}))
		Expect(repo.Validate()).To(Succeed())

		cred, err := s.Credential(ctx, "gh")
		Expect(err).NotTo(HaveOccurred())
		Expect(cred.Token).To(Equal("plain-gh"))
		Expect(cred.Kind).To(Equal(model.KindSystemB))

		_, err = s.Repository(ctx, "nope")
		Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
		_, err = s.Credential(ctx, "nope")
		Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
	})

	It("records sync outcomes on one repository", func() {
		at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		Expect(s.RecordSync(ctx, "repo-1", at, model.StatusSuccess)).To(Succeed())

		repo, err := s.Repository(ctx, "repo-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.LastSyncAt).NotTo(BeNil())
		Expect(repo.LastSyncAt.Equal(at)).To(BeTrue())
		Expect(repo.LastSyncStatus).To(Equal(model.StatusSuccess))

		Expect(s.RecordSync(ctx, "missing", at, model.StatusFailed)).To(MatchError(store.ErrNotFound))
	})

	It("records job runs and next run times", func() {
		last := time.Date(2024, 5, 1, 2, 30, 0, 0, time.UTC)
		next := last.Add(24 * time.Hour)
		Expect(s.RecordJobRun(ctx, "job-legacy", store.JobRunUpdate{LastRunAt: last, NextRunAt: next, Status: model.StatusFailed})).To(Succeed())
		Expect(s.RecordJobRun(ctx, "job-legacy", store.JobRunUpdate{LastRunAt: next, Status: model.StatusSuccess})).To(Succeed())

		job, err := s.Job(ctx, "job-legacy")
		Expect(err).NotTo(HaveOccurred())
		Expect(job.RunCount).To(Equal(2))
		Expect(job.LastRunStatus).To(Equal(model.StatusSuccess))
		Expect(job.LastRunAt.Equal(next)).To(BeTrue())
		Expect(job.NextRunAt.Equal(next)).To(BeTrue())

		later := next.Add(time.Hour)
		Expect(s.SetJobNextRun(ctx, "job-legacy", later)).To(Succeed())
		Expect(s.SetJobStatus(ctx, "job-legacy", model.StatusInProgress)).To(Succeed())
		job, _ = s.Job(ctx, "job-legacy")
		Expect(job.NextRunAt.Equal(later)).To(BeTrue())
		Expect(job.LastRunStatus).To(Equal(model.StatusInProgress))
		Expect(job.RunCount).To(Equal(2))
	})

	It("keeps concurrent targeted writes to different records", func() {
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				Expect(s.RecordJobRun(ctx, "job-legacy", store.JobRunUpdate{LastRunAt: time.Now(), Status: model.StatusSuccess})).To(Succeed())
			}()
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				Expect(s.RecordSync(ctx, "repo-1", time.Now(), model.StatusSuccess)).To(Succeed())
			}()
		}
		wg.Wait()
		job, err := s.Job(ctx, "job-legacy")
		Expect(err).NotTo(HaveOccurred())
		Expect(job.RunCount).To(Equal(10))
	})

	It("encrypts plaintext tokens and decrypts them on read", func() {
		box, err := secrets.NewBox("passphrase")
		Expect(err).NotTo(HaveOccurred())
		n, err := s.EncryptTokens(ctx, box)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))

		data, _ := os.ReadFile(path)
		Expect(string(data)).NotTo(ContainSubstring("plain-gh"))
		Expect(string(data)).To(ContainSubstring(secrets.Prefix))

		_, err = s.Credential(ctx, "gh")
		Expect(errors.Is(err, secrets.ErrNoKey)).To(BeTrue())

		keyed, err := store.Open(path, box, nil)
		Expect(err).NotTo(HaveOccurred())
		cred, err := keyed.Credential(ctx, "gh")
		Expect(err).NotTo(HaveOccurred())
		Expect(cred.Token).To(Equal("plain-gh"))

		n, err = keyed.EncryptTokens(ctx, box)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
	})

	It("rejects unparseable files", func() {
		Expect(os.WriteFile(path, []byte("credentials: [unterminated"), 0o600)).To(Succeed())
		_, err := s.Jobs(ctx)
		Expect(err).To(MatchError(ContainSubstring("parse store")))
	})

	It("notifies watchers of external writes", func() {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		var changes atomic.Int32
		done := make(chan error, 1)
		go func() { done <- s.Watch(watchCtx, 20*time.Millisecond, func() { changes.Add(1) }) }()

		Eventually(func() int32 {
			_ = s.SetJobStatus(ctx, "job-bare", model.StatusSuccess)
			return changes.Load()
		}, 3*time.Second, 100*time.Millisecond).Should(BeNumerically(">", 0))

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})
})
