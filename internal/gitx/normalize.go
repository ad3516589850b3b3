// SPDX-License-Identifier: MIT
package gitx

import (
	"net/url"
	"strings"
)

// RemoteKey reduces a remote URL to host/path so that the scp-like, ssh and
// http forms of one repository compare equal. Userinfo, ports, a trailing
// ".git" and trailing slashes are dropped; only the host is lowercased.
//
//	git@github.com:Org/Repo.git      -> github.com/Org/Repo
//	https://bot:x@github.com/Org/Repo -> github.com/Org/Repo
//	/srv/git/repo.git                 -> srv/git/repo
func RemoteKey(remote string) string {
	if remote == "" {
		return ""
	}
	var host, path string
	if at := strings.Index(remote, "@"); at >= 0 && !strings.Contains(remote[:at], "://") {
		rest := remote[at+1:]
		if colon := strings.Index(rest, ":"); colon >= 0 {
			host, path = rest[:colon], rest[colon+1:]
		}
	} else {
		u, err := url.Parse(remote)
		if err != nil {
			return remote
		}
		host, path = u.Hostname(), strings.TrimPrefix(u.Path, "/")
	}
	path = strings.TrimRight(strings.TrimSuffix(strings.TrimRight(path, "/"), ".git"), "/")
	if host == "" {
		return path
	}
	return strings.ToLower(host) + "/" + path
}

// SameRemote reports whether a and b name the same repository.
func SameRemote(a, b string) bool {
	return a != "" && RemoteKey(a) == RemoteKey(b)
}
