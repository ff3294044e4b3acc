package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tbcv/engine/pkg/boundary"
	"github.com/tbcv/engine/pkg/console"
	"github.com/tbcv/engine/pkg/store"
)

func newValidateCommand() *cobra.Command {
	var family string
	var verbose bool
	var showSource bool
	cmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Validate one Markdown file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := current.boundary.ValidateFile(cmd.Context(), boundary.ValidateFileRequest{
				Caller: caller,
				Path:   args[0],
				Family: family,
			})
			if err != nil {
				return err
			}
			if showSource {
				content, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				for _, diag := range diagnosticsForIssues(record, content) {
					fmt.Print(console.FormatError(diag))
				}
				return nil
			}
			if verbose {
				fmt.Print(console.FormatValidationSummary(toValidationResults(record), true))
				return nil
			}
			printValidationRecord(record)
			return nil
		},
	}
	cmd.Flags().StringVar(&family, "family", "", "truth-index family to validate against")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "show a detailed, per-issue breakdown")
	cmd.Flags().BoolVar(&showSource, "show-source", false, "render each issue with surrounding source lines, like a compiler diagnostic")
	return cmd
}

// diagnosticsForIssues turns a ValidationRecord's issues into
// console.DiagnosticErrors carrying a few lines of surrounding source, for
// --show-source's compiler-style rendering.
func diagnosticsForIssues(rec *store.ValidationRecord, content []byte) []console.DiagnosticError {
	lines := strings.Split(string(content), "\n")
	diags := make([]console.DiagnosticError, 0, len(rec.Issues))
	for _, issue := range rec.Issues {
		diagType := "error"
		switch issue.Severity {
		case "low", "warning":
			diagType = "warning"
		case "info":
			diagType = "info"
		}

		var ctxLines []string
		if issue.Location.Line > 0 {
			start := issue.Location.Line - 3
			if start < 0 {
				start = 0
			}
			end := issue.Location.Line + 2
			if end > len(lines) {
				end = len(lines)
			}
			if start < end {
				ctxLines = lines[start:end]
			}
		}

		diags = append(diags, console.DiagnosticError{
			Position: console.ErrorPosition{
				File:   rec.FilePath,
				Line:   issue.Location.Line,
				Column: issue.Location.Column,
			},
			Type:    diagType,
			Message: issue.Message,
			Context: ctxLines,
			Hint:    issue.Suggestion,
		})
	}
	return diags
}

// toValidationResults reshapes a ValidationRecord's issues for
// console.FormatValidationSummary, splitting on the medium/low boundary
// between blocking errors and advisory warnings.
func toValidationResults(rec *store.ValidationRecord) *console.ValidationResults {
	results := &console.ValidationResults{}
	for _, issue := range rec.Issues {
		category := issue.Type
		if i := strings.IndexByte(category, '.'); i >= 0 {
			category = category[:i]
		}
		ve := console.ValidationError{
			Category: category,
			Severity: issue.Severity,
			Message:  issue.Message,
			File:     rec.FilePath,
			Line:     issue.Location.Line,
			Hint:     issue.Suggestion,
		}
		switch issue.Severity {
		case "critical", "high", "medium":
			results.Errors = append(results.Errors, ve)
		default:
			results.Warnings = append(results.Warnings, ve)
		}
	}
	return results
}

func newValidateFolderCommand() *cobra.Command {
	var family, pattern string
	var workers int
	var recursive bool
	cmd := &cobra.Command{
		Use:   "validate-folder <dir>",
		Short: "Validate every matching file under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, errs := current.boundary.ValidateFolder(cmd.Context(), boundary.ValidateFolderRequest{
				Caller:    caller,
				Dir:       args[0],
				Pattern:   pattern,
				Workers:   workers,
				Family:    family,
				Recursive: recursive,
			})
			for path, err := range errs {
				fmt.Println(console.FormatErrorMessage(fmt.Sprintf("%s: %v", path, err)))
			}
			rows := make([][]string, 0, len(records))
			for _, rec := range records {
				rows = append(rows, []string{rec.ID, rec.FilePath, rec.Severity, strconv.Itoa(len(rec.Issues))})
			}
			fmt.Println(console.RenderTable(console.TableConfig{
				Title:   fmt.Sprintf("Validated %d file(s)", len(records)),
				Headers: []string{"ID", "Path", "Severity", "Issues"},
				Rows:    rows,
			}))
			return nil
		},
	}
	cmd.Flags().StringVar(&family, "family", "", "truth-index family to validate against")
	cmd.Flags().StringVar(&pattern, "pattern", "**/*.md", "doublestar glob pattern matched against each file's relative path")
	cmd.Flags().IntVar(&workers, "workers", 4, "number of files validated concurrently")
	cmd.Flags().BoolVar(&recursive, "recursive", true, "descend into subdirectories")
	return cmd
}

func printValidationRecord(rec *store.ValidationRecord) {
	fmt.Println(console.FormatSuccessMessage(fmt.Sprintf("validation %s: %s (%s, %d issue(s))", rec.ID, rec.FilePath, rec.Severity, len(rec.Issues))))
	rows := make([][]string, 0, len(rec.Issues))
	for _, issue := range rec.Issues {
		rows = append(rows, []string{issue.Type, issue.Severity, fmt.Sprintf("%d", issue.Location.Line), issue.Message})
	}
	if len(rows) == 0 {
		return
	}
	fmt.Println(console.RenderTable(console.TableConfig{
		Headers: []string{"Type", "Severity", "Line", "Message"},
		Rows:    rows,
	}))
}
