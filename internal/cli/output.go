package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the command ran and found a problem, e.g. a broken ledger
	ExitCommandError = 2 // the command could not run
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not an
// ExitError map to ExitCommandError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// Terminal colour codes.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

// printer writes command results as JSON or as short status lines.
type printer struct {
	format   string
	w        io.Writer
	colorize bool
}

func newPrinter(format string, w io.Writer) *printer {
	return &printer{format: format, w: w, colorize: isTerminal(w)}
}

func (p *printer) json() bool { return p.format == "json" }

func (p *printer) encode(v interface{}) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) success(message string) { p.status("✓", colorGreen, message) }
func (p *printer) warning(message string) { p.status("⚠", colorYellow, message) }
func (p *printer) failure(message string) { p.status("✗", colorRed, message) }

func (p *printer) status(mark, color, message string) {
	if p.colorize {
		fmt.Fprintf(p.w, "%s%s%s %s\n", color, mark, colorReset, message)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", mark, message)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
