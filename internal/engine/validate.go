// SPDX-License-Identifier: MIT
package engine

import (
	"context"
	"errors"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/sirupsen/logrus"

	"github.com/skaphos/reposync/internal/model"
	"github.com/skaphos/reposync/internal/remoteauth"
)

// Validation is the outcome of a credential check.
type Validation struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// ValidateCredentials lists the remote's refs without cloning. The token is
// only sent as HTTP basic auth and never reaches a process argument list.
// An empty remote repository counts as valid.
func (e *Engine) ValidateCredentials(ctx context.Context, url, username, token string, kind model.CredentialKind) Validation {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	log := e.log.WithFields(logrus.Fields{"url": remoteauth.Redact(url), "kind": kind})
	endpoint, err := transport.NewEndpoint(url)
	if err != nil {
		return Validation{Message: remoteauth.Redact(err.Error())}
	}

	remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: "validate",
		URLs: []string{url},
	})
	opts := &git.ListOptions{}
	if (endpoint.Protocol == "http" || endpoint.Protocol == "https") && (username != "" || token != "") {
		if username == "" {
			// Token-only hosts accept any non-empty user name.
			username = "git"
		}
		opts.Auth = &http.BasicAuth{Username: username, Password: token}
	}

	refs, err := remote.ListContext(ctx, opts)
	if err != nil && !errors.Is(err, transport.ErrEmptyRemoteRepository) {
		log.WithError(errors.New(remoteauth.Redact(err.Error()))).Info("credential validation failed")
		return Validation{Message: remoteauth.Redact(err.Error())}
	}
	log.WithField("refs", len(refs)).Debug("credential validation succeeded")
	return Validation{Valid: true, Message: "Credentials are valid"}
}
