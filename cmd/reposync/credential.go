// SPDX-License-Identifier: MIT
package reposync

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/skaphos/reposync/internal/config"
	"github.com/skaphos/reposync/internal/model"
	"github.com/skaphos/reposync/internal/remoteauth"
	"github.com/skaphos/reposync/internal/secrets"
)

// readPassword is overridable in tests.
var readPassword = term.ReadPassword

var credentialCmd = &cobra.Command{
	Use:     "credential",
	Aliases: []string{"credentials", "cred"},
	Short:   "Inspect, validate and encrypt stored credentials",
}

var credentialListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credentials without their tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		doc, err := a.store.Load(cmd.Context())
		if err != nil {
			return err
		}
		if format != "table" {
			views := make([]credentialView, 0, len(doc.Credentials))
			for _, cred := range doc.Credentials {
				views = append(views, newCredentialView(cred))
			}
			return writeStructured(cmd, format, views)
		}
		rows := make([][]string, 0, len(doc.Credentials))
		for _, cred := range doc.Credentials {
			v := newCredentialView(cred)
			rows = append(rows, []string{v.ID, orDash(v.Name), string(v.Kind), orDash(v.Username), orDash(v.URL), fmt.Sprint(v.Encrypted)})
		}
		writeTable(cmd, []string{"ID", "NAME", "KIND", "USERNAME", "URL", "ENCRYPTED"}, rows)
		return nil
	},
}

type credentialView struct {
	ID        string               `json:"id" yaml:"id"`
	Name      string               `json:"name,omitempty" yaml:"name,omitempty"`
	Kind      model.CredentialKind `json:"kind" yaml:"kind"`
	Username  string               `json:"username" yaml:"username"`
	URL       string               `json:"url,omitempty" yaml:"url,omitempty"`
	Encrypted bool                 `json:"encrypted" yaml:"encrypted"`
}

func newCredentialView(cred model.Credential) credentialView {
	return credentialView{
		ID:        cred.ID,
		Name:      cred.Name,
		Kind:      cred.Kind,
		Username:  cred.Username,
		URL:       remoteauth.Redact(cred.URL),
		Encrypted: secrets.IsEncrypted(cred.Token),
	}
}

var credentialValidateCmd = &cobra.Command{
	Use:   "validate <credential-id>",
	Short: "Check a credential by listing a remote's refs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		cred, err := a.store.Credential(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if url == "" {
			url = cred.URL
		}
		if url == "" {
			return fmt.Errorf("credential %q has no url; pass --url", cred.ID)
		}
		result := a.engine.ValidateCredentials(cmd.Context(), url, cred.Username, cred.Token, cred.Kind)
		state := "valid"
		if !result.Valid {
			state = "invalid"
			raiseExitCode(exitFailed)
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", cred.ID, state, result.Message)
		logOutputWriteFailure(cmd, "credential validate", err)
		return nil
	},
}

var credentialEncryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt every plaintext token in the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		if a.box == nil {
			return fmt.Errorf("%w: set $%s or run \"reposync credential set-key\"", secrets.ErrNoKey, a.cfg.Secrets.KeyEnv)
		}
		n, err := a.store.EncryptTokens(cmd.Context(), a.box)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Encrypted %d token(s) in %s\n", n, a.store.Path())
		logOutputWriteFailure(cmd, "credential encrypt", err)
		return nil
	},
}

var credentialSetKeyCmd = &cobra.Command{
	Use:   "set-key",
	Short: "Store the token encryption passphrase in the OS keyring",
	Long:  "Reads a passphrase from the terminal (or one line of stdin) and saves it in the OS keyring used to decrypt stored tokens.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		cfgPath, err := config.ResolveConfigPath(configOverride(cmd), cwd)
		if err != nil {
			return err
		}
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		passphrase, err := readPassphrase(cmd)
		if err != nil {
			return err
		}
		if err := secrets.SavePassphrase(cfg.Secrets.KeyringService, passphrase); err != nil {
			return err
		}
		infof(cmd, "saved encryption key to keyring service %q", cfg.Secrets.KeyringService)
		return nil
	},
}

func readPassphrase(cmd *cobra.Command) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && isTerminalFD(int(f.Fd())) {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), "Passphrase: ")
		raw, err := readPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", err
		}
		return validPassphrase(string(raw))
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return validPassphrase(line)
}

func validPassphrase(raw string) (string, error) {
	passphrase := strings.TrimRight(raw, "\r\n")
	if strings.TrimSpace(passphrase) == "" {
		return "", errors.New("passphrase must not be empty")
	}
	return passphrase, nil
}

func init() {
	addFormatFlag(credentialListCmd)
	addNoHeadersFlag(credentialListCmd)
	credentialValidateCmd.Flags().String("url", "", "remote URL to list (default: the credential's url)")

	credentialCmd.AddCommand(credentialListCmd, credentialValidateCmd, credentialEncryptCmd, credentialSetKeyCmd)
	rootCmd.AddCommand(credentialCmd)
}
