// SPDX-License-Identifier: MIT
package logging

import (
	"io"
	"os"

	"golang.org/x/term"
)

// isTerminalFD is overridable in tests.
var isTerminalFD = term.IsTerminal

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && isTerminalFD(int(f.Fd()))
}
