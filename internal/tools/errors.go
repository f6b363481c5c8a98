package tools

import (
	"fmt"
	"strings"
)

// ErrToolUnavailable is returned when a call targets a tool that is not
// registered. It is a reasoning mistake, not an execution failure: the
// model gets the list of real tools and may try again within the
// iteration cap.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}

// ArgumentError reports arguments that failed schema validation:
// missing, extra or mistyped fields.
type ArgumentError struct {
	Tool       string
	Violations []string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Violations, "; "))
}

// Text renders the error for the model.
func (e *ArgumentError) Text() string {
	return fmt.Sprintf("Error: argumen untuk %s tidak valid: %s. Perbaiki argumen lalu coba lagi.",
		e.Tool, strings.Join(e.Violations, "; "))
}

// ExecutionFault wraps an error from the collaborator behind a tool
// (store unreachable, malformed query).
type ExecutionFault struct {
	Tool string
	Err  error
}

func (e *ExecutionFault) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionFault) Unwrap() error { return e.Err }

// Text renders the fault for the model. Internal error detail is not
// included; it is logged instead.
func (e *ExecutionFault) Text() string {
	return fmt.Sprintf("Error: %s sedang tidak bisa digunakan. Minta maaf ke pelanggan dan tawarkan untuk mencoba lagi atau hubungi admin.", e.Tool)
}
