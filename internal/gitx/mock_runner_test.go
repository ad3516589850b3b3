package gitx_test

import "github.com/skaphos/reposync/internal/gitx/gitxtest"

type (
	MockRunner   = gitxtest.MockRunner
	MockResponse = gitxtest.Response
)
