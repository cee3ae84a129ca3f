package errors

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// CLIErrorAdapter turns errors into exit codes and terminal messages.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
}

func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{verbose: verbose, logger: logger}
}

// ExitCodeFor returns 0 for nil, 1 for unclassified errors and the
// category's exit code otherwise.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	ce, ok := AsClassified(err)
	if !ok {
		return 1
	}
	code := traitsOf(ce.category).exitCode
	a.logger.Debug("Command failed", slog.String("category", string(ce.category)), slog.Int("exit_code", code))
	return code
}

// FormatError renders err for stderr. Context keys are listed sorted, one
// per line, unless verbose output asks for the raw chain.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}
	ce, ok := AsClassified(err)
	if !ok || a.verbose {
		return fmt.Sprintf("Error: %v", err)
	}

	var b strings.Builder
	b.WriteString("Error: " + ce.message)
	if ce.cause != nil {
		b.WriteString(": " + ce.cause.Error())
	}
	keys := make([]string, 0, len(ce.context))
	for k := range ce.context {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n  %s: %v", k, ce.context[k])
	}
	return b.String()
}

func levelFor(s ErrorSeverity) slog.Level {
	switch s {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
