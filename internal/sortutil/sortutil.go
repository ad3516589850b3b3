// SPDX-License-Identifier: MIT
package sortutil

import (
	"sort"

	"github.com/skaphos/reposync/internal/model"
)

// LessNameID provides deterministic ordering by display name first, then by
// id for records that share a name.
func LessNameID(nameI, idI, nameJ, idJ string) bool {
	if nameI == nameJ {
		return idI < idJ
	}
	return nameI < nameJ
}

// SortJobs orders scheduled jobs by Name, then ID.
func SortJobs(jobs []model.ScheduledJob) {
	sort.SliceStable(jobs, func(i, j int) bool {
		return LessNameID(jobs[i].Name, jobs[i].ID, jobs[j].Name, jobs[j].ID)
	})
}

// SortRepositories orders repositories by Name, then ID.
func SortRepositories(repos []model.Repository) {
	sort.SliceStable(repos, func(i, j int) bool {
		return LessNameID(repos[i].Name, repos[i].ID, repos[j].Name, repos[j].ID)
	})
}
