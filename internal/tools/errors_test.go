package tools

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrToolUnavailable_WrappedErrorsAs(t *testing.T) {
	orig := &ErrToolUnavailable{ToolName: "delete_all_orders"}
	wrapped := fmt.Errorf("dispatch: %w", orig)

	var target *ErrToolUnavailable
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As failed to match wrapped *ErrToolUnavailable")
	}
	if target.ToolName != "delete_all_orders" {
		t.Errorf("ToolName = %q, want %q", target.ToolName, "delete_all_orders")
	}
}

func TestExecutionFault_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	fault := &ExecutionFault{Tool: "create_order", Err: cause}

	if !errors.Is(fault, cause) {
		t.Error("errors.Is should reach the wrapped cause")
	}
	if strings.Contains(fault.Text(), "connection refused") {
		t.Errorf("Text() leaks internal error detail: %q", fault.Text())
	}
	if !strings.Contains(fault.Text(), "create_order") {
		t.Errorf("Text() = %q, want tool name", fault.Text())
	}
}

func TestArgumentError_Text(t *testing.T) {
	err := &ArgumentError{Tool: "create_order", Violations: []string{"customer_name is required", "Additional property foo is not allowed"}}
	text := err.Text()
	for _, want := range []string{"create_order", "customer_name is required", "foo"} {
		if !strings.Contains(text, want) {
			t.Errorf("Text() = %q, missing %q", text, want)
		}
	}
}
