package sim

import "fmt"

// CommandResult is what every simulated tool hands back to the caller.
// Output may contain ANSI escapes; the terminal layer decides rendering.
type CommandResult struct {
	Output   string
	ExitCode int
}

// Ok builds a zero-exit result from a format string.
func Ok(format string, args ...any) CommandResult {
	return CommandResult{Output: fmt.Sprintf(format, args...), ExitCode: 0}
}

// Fail builds a non-zero result from a format string.
func Fail(code int, format string, args ...any) CommandResult {
	return CommandResult{Output: fmt.Sprintf(format, args...), ExitCode: code}
}
