package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/asheshgoplani/pr-viewer/internal/apperr"
)

// normalizeArgs reorders args so flags come before positional arguments.
// Go's flag package stops parsing at the first non-flag argument, which means
// "search fix --json" silently ignores --json. This function moves all flags
// to the front so they get parsed correctly.
func normalizeArgs(fs *flag.FlagSet, args []string) []string {
	// Build set of known boolean flags (don't need a value argument)
	boolFlags := make(map[string]bool)
	fs.VisitAll(func(f *flag.Flag) {
		if bf, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && bf.IsBoolFlag() {
			boolFlags[f.Name] = true
		}
	})

	var flags, positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]

		// "--" terminates flag processing
		if arg == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}

		if strings.HasPrefix(arg, "-") && arg != "-" {
			flags = append(flags, arg)

			name := strings.TrimLeft(arg, "-")
			if strings.Contains(name, "=") {
				continue
			}

			// If it's not a bool flag, the next arg is its value
			if !boolFlags[name] && i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, arg)
		}
	}
	return append(flags, positional...)
}

// splitCommandLine splits a shell input line into words. Single and double
// quotes group words; a backslash escapes the next rune outside single quotes.
func splitCommandLine(line string) ([]string, error) {
	var (
		words   []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inWord = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inWord = true
		case r == ' ' || r == '\t':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if escaped {
		return nil, errors.New("trailing backslash")
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words, nil
}

// CLIOutput handles consistent output formatting across all CLI commands
type CLIOutput struct {
	w        io.Writer
	errW     io.Writer
	jsonMode bool
}

// NewCLIOutput creates a new CLI output handler
func NewCLIOutput(w, errW io.Writer, jsonMode bool) *CLIOutput {
	return &CLIOutput{w: w, errW: errW, jsonMode: jsonMode}
}

// JSON reports whether output is machine-readable.
func (c *CLIOutput) JSON() bool { return c.jsonMode }

// Print prints data (human-readable or JSON)
func (c *CLIOutput) Print(humanOutput string, jsonData any) error {
	if c.jsonMode {
		return c.printJSON(jsonData)
	}
	_, err := io.WriteString(c.w, humanOutput)
	return err
}

// Error prints an error message or JSON error response
func (c *CLIOutput) Error(err error) {
	if c.jsonMode {
		_ = c.printJSON(map[string]any{
			"success": false,
			"error":   err.Error(),
			"code":    errorCode(err),
		})
		return
	}
	fmt.Fprintf(c.errW, "%s %s\n", errorStyle.Render("Error:"), err)
}

func (c *CLIOutput) printJSON(data any) error {
	output, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format JSON: %w", err)
	}
	_, err = fmt.Fprintln(c.w, string(output))
	return err
}

// Error codes
const (
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeCorrupt      = "CORRUPT"
	ErrCodeNotReady     = "NOT_CONFIGURED"
	ErrCodeInternal     = "INTERNAL"
	ErrCodeUsage        = "USAGE"
)

// usageError marks bad command-line usage.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// errorCode maps err onto a stable code for --json output.
func errorCode(err error) string {
	var ue *usageError
	if errors.As(err, &ue) {
		return ErrCodeUsage
	}
	switch apperr.KindOf(err) {
	case apperr.ErrNotFound:
		return ErrCodeNotFound
	case apperr.ErrInvalidInput:
		return ErrCodeInvalidInput
	case apperr.ErrCorrupt:
		return ErrCodeCorrupt
	case apperr.ErrState:
		return ErrCodeNotReady
	default:
		return ErrCodeInternal
	}
}

// exitCode maps err onto the process exit status.
func exitCode(err error) int {
	switch errorCode(err) {
	case ErrCodeUsage:
		return 2
	case ErrCodeNotFound:
		return 3
	case ErrCodeInvalidInput:
		return 4
	case ErrCodeCorrupt:
		return 5
	case ErrCodeNotReady:
		return 6
	default:
		return 1
	}
}

// Styles for human-readable output
var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	addedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
	deletedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
	statusStyles = map[string]lipgloss.Style{
		"active":    lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		"completed": lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		"abandoned": lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
)

// truncate shortens s to max display columns with an ellipsis
func truncate(s string, max int) string {
	if runewidth.StringWidth(s) <= max {
		return s
	}
	if max <= 3 {
		return runewidth.Truncate(s, max, "")
	}
	return runewidth.Truncate(s, max, "...")
}

// padRight pads s with spaces to width display columns.
func padRight(s string, width int) string {
	return runewidth.FillRight(truncate(s, width), width)
}

// formatSize formats bytes into human-readable size
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
