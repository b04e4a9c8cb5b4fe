package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/attest/internal/compiler"
	"github.com/roach88/attest/internal/ledger"
)

// ValidationIssue is one problem found in a schemas directory.
type ValidationIssue struct {
	Code    string `json:"code"`
	Ledger  string `json:"ledger,omitempty"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool              `json:"valid"`
	Files   int               `json:"files"`
	Ledgers []string          `json:"ledgers,omitempty"`
	Errors  []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schemas-dir>",
		Short: "Validate CUE ledger schemas",
		Long: `Load, compile and validate every ledger declared in the CUE files of a
directory. All problems are reported, not just the first. Declared names
must not clash with the built-in ledgers.

Example:
  attest validate ./schemas
  attest validate ./schemas --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loadResult, loadErrors := compiler.LoadSchemas(dir, compiler.LoadModeCollectAll)

	// Directory-level failures (not found, no files, CUE syntax) stop here.
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *compiler.LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message)
		}
		return outputValidateError(formatter, ErrCodeGeneric, loadErrors[0].Error())
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, dir)

	result := ValidationResult{Files: loadResult.FileCount}
	for _, err := range loadErrors {
		result.Errors = append(result.Errors, toIssue(err))
	}
	if len(result.Errors) == 0 {
		if _, err := compiler.Merge(ledger.Builtins(), loadResult.Schemas); err != nil {
			result.Errors = append(result.Errors, ValidationIssue{Code: compiler.ErrDuplicateName, Message: err.Error()})
		}
	}

	if len(result.Errors) > 0 {
		return outputValidationErrors(formatter, result)
	}

	result.Valid = true
	for _, s := range loadResult.Schemas {
		formatter.VerboseLog("Validated ledger: %s", s.Name)
		result.Ledgers = append(result.Ledgers, s.Name)
	}
	return outputValidateSuccess(formatter, result)
}

func toIssue(err error) ValidationIssue {
	var loadErr *compiler.LoadError
	if !errors.As(err, &loadErr) {
		return ValidationIssue{Code: ErrCodeGeneric, Message: err.Error()}
	}
	issue := ValidationIssue{Code: loadErr.Code, Ledger: loadErr.Ledger, Message: loadErr.Message}
	if loadErr.Pos.IsValid() {
		issue.File = loadErr.Pos.Filename()
		issue.Line = loadErr.Pos.Line()
	}
	return issue
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ All schemas valid (%d ledger(s))\n", len(result.Ledgers))
	return nil
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	// Load errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs every validation error.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	failed := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    result.Errors[0].Code,
				Message: result.Errors[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return failed
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, issue := range result.Errors {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s:%d\n", issue.File, issue.Line)
		}
		if issue.Ledger != "" {
			fmt.Fprintf(formatter.Writer, "  %s: ledger.%s: %s\n\n", issue.Code, issue.Ledger, issue.Message)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
		}
	}
	return failed
}
