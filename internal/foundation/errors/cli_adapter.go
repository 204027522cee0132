package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"os"
)

// Exit codes for classified failures. Tool failures mirror the tool's own status.
const (
	ExitGeneral      = 1
	ExitPrecondition = 3
	ExitConsistency  = 4
	ExitAdvisory     = 5
	ExitConfig       = 7
	ExitInternal     = 10
	ExitFileSystem   = 11
)

// ExitCoder is implemented by errors that carry a process exit status,
// such as a failed external tool or child orchestrator.
type ExitCoder interface {
	ExitCode() int
}

// CLIErrorAdapter handles error presentation and exit code determination for CLI applications.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
}

// NewCLIErrorAdapter creates a new CLI error adapter.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{
		verbose: verbose,
		logger:  logger,
	}
}

// ExitCodeFor determines the appropriate exit code for an error. The most
// specific code wins: an embedded tool exit status beats the category mapping.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}

	var ec ExitCoder
	if stdErrors.As(err, &ec) && ec.ExitCode() > 0 {
		return ec.ExitCode()
	}

	if classified, ok := AsClassified(err); ok {
		return exitCodeFromCategory(classified.Category())
	}

	return ExitGeneral
}

func exitCodeFromCategory(c ErrorCategory) int {
	switch c {
	case CategoryConfig:
		return ExitConfig
	case CategoryPrecondition:
		return ExitPrecondition
	case CategoryConsistency:
		return ExitConsistency
	case CategoryAdvisory:
		return ExitAdvisory
	case CategoryFileSystem:
		return ExitFileSystem
	case CategoryInternal:
		return ExitInternal
	default:
		return ExitGeneral
	}
}

// FormatError formats an error for display on stderr. Verbose mode includes
// the wrapped cause chain.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}
	classified, ok := AsClassified(err)
	if !ok {
		return fmt.Sprintf("ERROR: %v", err)
	}
	shown := classified
	if !a.verbose {
		cp := *classified
		cp.cause = nil
		shown = &cp
	}
	msg := fmt.Sprintf("ERROR: %v", shown)
	if h := classified.Hint(); h != "" {
		msg += "\nHINT: " + h
	}
	return msg
}

// HandleError logs err, prints it and exits with the mapped code.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}
	code := a.ExitCodeFor(err)
	a.logError(err)
	fmt.Fprintln(os.Stderr, a.FormatError(err))
	os.Exit(code)
}

// logError logs an error with appropriate level and context.
func (a *CLIErrorAdapter) logError(err error) {
	if classified, ok := AsClassified(err); ok {
		attrs := []slog.Attr{
			slog.String("category", string(classified.Category())),
			slog.String("severity", string(classified.Severity())),
		}
		if classified.Cause() != nil {
			attrs = append(attrs, slog.String("cause", classified.Cause().Error()))
		}
		a.logger.LogAttrs(context.Background(), slogLevelFromSeverity(classified.Severity()), classified.Message(), attrs...)
		return
	}
	a.logger.Error("Unclassified error", "error", err)
}

func slogLevelFromSeverity(severity ErrorSeverity) slog.Level {
	if severity == SeverityWarning {
		return slog.LevelWarn
	}
	return slog.LevelError
}
