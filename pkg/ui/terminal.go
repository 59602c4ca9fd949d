package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Banner is printed at the top of interactive runs
const Banner = `
 ┌─────────────────────────────────────────────┐
 │  boardscraper · resumable paged API crawler │
 └─────────────────────────────────────────────┘
`

var (
	outMu sync.Mutex
	out   io.Writer = os.Stdout
	quiet bool
)

// Color functions for terminal output. lipgloss drops the styling when
// the output is not a terminal.
var (
	Cyan    = colorize("6")
	Yellow  = colorize("3")
	Red     = colorize("1")
	Green   = colorize("2")
	Magenta = colorize("5")
	Dim     = func(s string) string { return lipgloss.NewStyle().Faint(true).Render(s) }
)

func colorize(color string) func(string) string {
	style := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
	return func(text string) string {
		return style.Render(text)
	}
}

// SetOutput redirects terminal output, mainly for tests
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	out = w
}

// Output returns the current terminal writer
func Output() io.Writer {
	outMu.Lock()
	defer outMu.Unlock()
	return out
}

// SetQuietMode suppresses everything except errors
func SetQuietMode(q bool) {
	outMu.Lock()
	defer outMu.Unlock()
	quiet = q
}

// IsQuietMode reports whether non-error output is suppressed
func IsQuietMode() bool {
	outMu.Lock()
	defer outMu.Unlock()
	return quiet
}

// DisableColor renders every style as plain text
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// IsTerminal reports whether stdout is attached to a terminal
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func printf(force bool, format string, args ...interface{}) {
	outMu.Lock()
	defer outMu.Unlock()
	if quiet && !force {
		return
	}
	fmt.Fprintf(out, format, args...)
}

// PrintBanner prints the banner
func PrintBanner() {
	printf(false, "%s", Cyan(Banner))
}

// PrintError prints an error message in red, even in quiet mode
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		printf(true, "%s\n", Red(msg+": "+fmt.Sprintf("%v", args[0])))
		return
	}
	printf(true, "%s\n", Red(msg))
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	printf(false, "%s\n", Green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(label string, value string) {
	printf(false, "%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 {
		printf(false, "%s\n", Yellow(msg+": "+fmt.Sprintf("%v", args[0])))
		return
	}
	printf(false, "%s\n", Yellow(msg))
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	printf(false, "%s\n", Magenta(msg))
}
