package script

import (
	"fmt"
	"strings"
)

// Error describes a failed build script run. Parse errors, builtin errors,
// non-zero exit statuses and panics all end up here.
type Error struct {
	Path    string
	Command string
	Cause   error
	Stderr  string
}

func (e *Error) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("build script %s: %s: %v", e.Path, e.Command, e.Cause)
	}
	return fmt.Sprintf("build script %s: %v", e.Path, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Traceback renders the failure for logs and error pages: the script, the
// command that failed, the cause and whatever the script wrote to stderr.
func (e *Error) Traceback() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Build script failed: %s\n", e.Path)
	if e.Command != "" {
		fmt.Fprintf(&b, "  in: %s\n", e.Command)
	}
	fmt.Fprintf(&b, "  error: %v\n", e.Cause)

	if stderr := strings.TrimRight(e.Stderr, "\n"); stderr != "" {
		b.WriteString("\nstderr:\n")
		for _, line := range strings.Split(stderr, "\n") {
			b.WriteString("  ")
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}

	return b.String()
}
