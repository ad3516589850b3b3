// SPDX-License-Identifier: MIT
package gitx_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/skaphos/reposync/internal/gitx"
)

var _ = Describe("ParseNumstat", func() {
	It("returns nothing for empty output", func() {
		Expect(gitx.ParseNumstat("")).To(BeEmpty())
	})

	It("parses counts and binary markers", func() {
		out := "3\t1\tsrc/main.go\n-\t-\tlogo.png\n0\t12\tdocs/old.md\n"
		Expect(gitx.ParseNumstat(out)).To(Equal([]gitx.NumstatEntry{
			{Path: "src/main.go", Additions: 3, Deletions: 1},
			{Path: "logo.png", Binary: true},
			{Path: "docs/old.md", Deletions: 12},
		}))
	})

	It("keeps tabs inside paths", func() {
		entries := gitx.ParseNumstat("1\t0\tweird\tname.txt")
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Path).To(Equal("weird\tname.txt"))
	})

	It("skips malformed lines", func() {
		Expect(gitx.ParseNumstat("garbage\n1\t2\tok.txt")).To(HaveLen(1))
	})
})

var _ = Describe("ParseNameStatus", func() {
	It("maps paths to their status letter", func() {
		out := "A\tadded.bin\nD\tgone.bin\nM\tchanged.bin\nR100\told\tnew"
		Expect(gitx.ParseNameStatus(out)).To(Equal(map[string]string{
			"added.bin":   "A",
			"gone.bin":    "D",
			"changed.bin": "M",
			"new":         "R",
		}))
	})
})

var _ = Describe("ParseLog", func() {
	It("skips lines without every field", func() {
		Expect(gitx.ParseLog("abc\x1fonly two")).To(BeEmpty())
	})

	It("tolerates unparseable dates", func() {
		commits := gitx.ParseLog("abc\x1fmsg\x1fme\x1fnot-a-date")
		Expect(commits).To(HaveLen(1))
		Expect(commits[0].Date.IsZero()).To(BeTrue())
	})
})

var _ = Describe("ParseConflictedPaths", func() {
	DescribeTable("recognizes unmerged status codes",
		func(line string, conflicted bool) {
			paths := gitx.ParseConflictedPaths(line)
			if conflicted {
				Expect(paths).To(Equal([]string{"file.txt"}))
			} else {
				Expect(paths).To(BeEmpty())
			}
		},
		Entry("both modified", "UU file.txt", true),
		Entry("both added", "AA file.txt", true),
		Entry("both deleted", "DD file.txt", true),
		Entry("added by us", "AU file.txt", true),
		Entry("added by them", "UA file.txt", true),
		Entry("deleted by us", "DU file.txt", true),
		Entry("deleted by them", "UD file.txt", true),
		Entry("staged modification", "M  file.txt", false),
		Entry("untracked", "?? file.txt", false),
	)

	It("unquotes paths with spaces", func() {
		Expect(gitx.ParseConflictedPaths(`UU "my file.txt"`)).To(Equal([]string{"my file.txt"}))
	})
})

var _ = Describe("ParseRefList", func() {
	It("drops blank lines", func() {
		Expect(gitx.ParseRefList("main\n\norigin/main\n")).To(Equal([]string{"main", "origin/main"}))
	})
})
