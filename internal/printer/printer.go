// Package printer writes the CLI's human-facing output: coloured status
// lines on stdout and structured error reports on stderr.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/dyluth/daub/internal/errkind"
	"github.com/fatih/color"
)

func init() {
	// Colour even without a TTY; NO_COLOR turns it off.
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// Output destinations. Tests swap these for buffers.
var (
	Out io.Writer = os.Stdout
	Err io.Writer = os.Stderr
)

// Success prints a green line prefixed with a checkmark.
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(Out, msg)
}

// Info prints an uncoloured message.
func Info(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}

// Warning prints a yellow line prefixed with a warning sign.
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(Out, msg)
}

// Step prints a cyan progress line for multi-step operations.
func Step(format string, a ...any) {
	cyan.Fprintf(Out, "→ %s", fmt.Sprintf(format, a...))
}

// Error prints a title, an explanation and suggestions to Err, and returns
// an error carrying only the title. Commands return it to cobra, which has
// SilenceErrors set, so the report is printed once.
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with a block of key/value details, printed in
// key order.
func ErrorWithContext(title string, explanation string, details map[string]string, suggestions []string) error {
	red.Fprintf(Err, "%s\n\n", title)
	if explanation != "" {
		fmt.Fprintf(Err, "%s\n", explanation)
	}

	if len(details) > 0 {
		keys := make([]string, 0, len(details))
		for k := range details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(Err)
		for _, k := range keys {
			fmt.Fprintf(Err, "  %s: %s\n", k, details[k])
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(Err, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(Err, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(Err, "  %d. %s\n", i+1, s)
		}
	}

	return fmt.Errorf("%s", title)
}

// StartupError reports a failure to start the daemon, with suggestions
// chosen by the error's kind.
func StartupError(err error) error {
	kind := errkind.KindOf(err)
	details := map[string]string{"Kind": kind.String()}

	switch kind {
	case errkind.FileAccess:
		return ErrorWithContext("cannot read input file", err.Error(), details, []string{
			"Check the path in the configuration file exists and is readable",
		})
	case errkind.ConfigParse:
		return ErrorWithContext("invalid configuration", err.Error(), details, []string{
			"Fix the value named above, then validate with:\n  daub check --config <file>",
		})
	case errkind.UrlScheme:
		return ErrorWithContext("invalid board address", err.Error(), details, []string{
			"board_addr must start with http:// or https://",
			"websocket_addr must start with ws:// or wss://",
		})
	default:
		return ErrorWithContext("daub failed", err.Error(), details, nil)
	}
}
