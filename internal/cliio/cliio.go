// SPDX-License-Identifier: MIT
// Package cliio holds prompt and table helpers shared by CLI commands.
package cliio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"golang.org/x/term"

	"github.com/skaphos/reposync/internal/tableutil"
)

var (
	// isTerminalFD is overridable in tests.
	isTerminalFD = term.IsTerminal
	// askOne is overridable in tests.
	askOne = survey.AskOne
)

// PromptYesNo writes prompt and reads a yes/no response from input.
func PromptYesNo(out io.Writer, in io.Reader, prompt string) (bool, error) {
	if _, err := fmt.Fprint(out, prompt); err != nil {
		return false, err
	}
	reader := bufio.NewReader(in)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	choice := strings.ToLower(strings.TrimSpace(line))
	return choice == "y" || choice == "yes", nil
}

// Confirm asks a yes/no question defaulting to no. A terminal gets an
// interactive prompt; any other input is read as one line.
func Confirm(out io.Writer, in io.Reader, message string) (bool, error) {
	inFile, inOK := in.(*os.File)
	outFile, outOK := out.(*os.File)
	if !inOK || !outOK || !isTerminalFD(int(inFile.Fd())) {
		return PromptYesNo(out, in, message+" [y/N]: ")
	}
	confirmed := false
	prompt := &survey.Confirm{Message: message, Default: false}
	if err := askOne(prompt, &confirmed, survey.WithStdio(inFile, outFile, outFile)); err != nil {
		return false, err
	}
	return confirmed, nil
}

// WriteTable renders a table with optional headers.
func WriteTable(out io.Writer, noHeaders bool, headers []string, rows [][]string) error {
	return tableutil.Render(out, noHeaders, headers, rows)
}
