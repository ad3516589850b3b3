// SPDX-License-Identifier: MIT
package gitx

import (
	"context"
	"errors"
	"strings"
)

// Class is a coarse category for a failed git command, derived from its
// exit error and output.
type Class string

const (
	ClassNone          Class = ""
	ClassAuth          Class = "auth"
	ClassNetwork       Class = "network"
	ClassTimeout       Class = "timeout"
	ClassMissingRemote Class = "missing_remote"
	ClassCorrupt       Class = "corrupt"
	ClassUnknown       Class = "unknown"
)

var (
	networkNeedles = []string{
		"could not resolve host", "network is unreachable", "connection timed out",
		"connection refused", "failed to connect", "temporary failure in name resolution",
		"tls handshake timeout",
	}
	authNeedles = []string{
		"authentication failed", "permission denied", "access denied", "publickey",
		"could not read username", "could not read password", "invalid credentials",
		"401", "403", "unauthorized", "forbidden", "terminal prompts disabled",
	}
	missingNeedles = []string{
		"repository not found", "couldn't find remote ref", "remote ref does not exist",
		"no such remote", "remote branch", "not found in upstream",
	}
)

// ClassifyError maps err to a Class. Context expiry is a timeout whatever
// git printed; otherwise the message is matched, auth first, because hosts
// report bad tokens in many shapes.
func ClassifyError(err error) Class {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case IsAuthMessage(msg):
		return ClassAuth
	case containsAny(msg, networkNeedles...):
		return ClassNetwork
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return ClassTimeout
	case containsAny(msg, "not a git repository", "bad object", "corrupt", "object file"):
		return ClassCorrupt
	case containsAny(msg, missingNeedles...):
		return ClassMissingRemote
	default:
		return ClassUnknown
	}
}

// IsAuthMessage reports whether msg looks like an authentication failure.
func IsAuthMessage(msg string) bool {
	return containsAny(strings.ToLower(msg), authNeedles...)
}

// IsMergeConflict reports whether pull/rebase output announced a conflict.
func IsMergeConflict(output string) bool {
	return strings.Contains(output, "CONFLICT")
}

// IsNoMatchingRefs reports push failures that a retry without -u can fix.
func IsNoMatchingRefs(err error) bool {
	return err != nil && containsAny(strings.ToLower(err.Error()), "no matching refs", "does not match any", "no changes")
}

// IsShallowUpdateRejected reports a push refused because the clone is shallow.
func IsShallowUpdateRejected(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "shallow update not allowed")
}

func containsAny(msg string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
