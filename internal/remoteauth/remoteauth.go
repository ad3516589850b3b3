// SPDX-License-Identifier: MIT
// Package remoteauth builds authenticated remote URLs and keeps credentials
// out of log output and process argument lists.
package remoteauth

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	// UsernameEnv and TokenEnv carry credentials to the inline git credential helper.
	UsernameEnv = "REPOSYNC_GIT_USERNAME"
	TokenEnv    = "REPOSYNC_GIT_TOKEN"

	redacted = "***"
)

// helperScript answers git's "get" requests from the environment. The
// credential values never appear in argv or in the clone's git config.
const helperScript = `!f() { test "$1" = get || exit 0; echo "username=${` + UsernameEnv + `}"; echo "password=${` + TokenEnv + `}"; }; f`

// BuildAuthenticatedURL injects percent-encoded username and token into the
// userinfo of baseURL. When baseURL cannot be parsed as an absolute URL it
// falls back to substituting the "https://" prefix.
func BuildAuthenticatedURL(baseURL, username, token string) string {
	if username == "" && token == "" {
		return baseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		userinfo := url.UserPassword(username, token).String() + "@"
		return strings.Replace(baseURL, "https://", "https://"+userinfo, 1)
	}
	parsed.User = url.UserPassword(username, token)
	return parsed.String()
}

// HelperArgs returns git global options that reset any configured credential
// helpers and install the environment-backed helper.
func HelperArgs() []string {
	return []string{
		"-c", "credential.helper=",
		"-c", "credential.helper=" + helperScript,
	}
}

// HelperEnv returns the environment entries consumed by HelperArgs.
func HelperEnv(username, token string) []string {
	return []string{
		UsernameEnv + "=" + username,
		TokenEnv + "=" + token,
		"GIT_TERMINAL_PROMPT=0",
	}
}

var userinfoPattern = regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)[^/\s@]+@`)

// Redact strips userinfo from every URL found in s.
func Redact(s string) string {
	if !strings.Contains(s, "@") {
		return s
	}
	return userinfoPattern.ReplaceAllString(s, "${1}"+redacted+"@")
}

// RedactArgs applies Redact to each argument, returning a new slice.
func RedactArgs(args []string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = Redact(arg)
	}
	return out
}
