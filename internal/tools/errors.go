// Package tools provides the tool registry and execution framework.
//
// This file defines sentinel error types for tool execution and the
// mapping from Go errors to structured tool-result payloads.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nugget/cradle-ai-agent/internal/huckleberry"
)

// ErrToolUnavailable is returned when a tool call targets a tool that
// is not present in the registry. This indicates a capability mismatch,
// not a transient execution failure.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}

// InvalidArgumentsError means the model's arguments failed schema
// validation before reaching any handler.
type InvalidArgumentsError struct {
	ToolName string
	Reason   string
}

// Error implements the error interface.
func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.ToolName, e.Reason)
}

// FailureContent renders a tool failure as a structured payload the
// model can react to. Machine-readable codes let the prompt steer the
// model's recovery (ask for clarification, report state, apologize).
func FailureContent(err error) string {
	code := "error"

	var (
		invalidArgs *InvalidArgumentsError
		unavailable *ErrToolUnavailable
		already     *huckleberry.AlreadyInStateError
		notIn       *huckleberry.NotInStateError
		transient   *huckleberry.TransientError
		remote      *huckleberry.RemoteError
	)
	switch {
	case errors.As(err, &invalidArgs):
		code = "invalid_arguments"
	case errors.As(err, &unavailable):
		code = "unknown_tool"
	case errors.As(err, &already):
		code = "already_in_state"
	case errors.As(err, &notIn):
		code = "not_in_state"
	case errors.Is(err, huckleberry.ErrNotReady):
		code = "not_ready"
	case errors.As(err, &transient):
		code = "transient_failure"
	case errors.As(err, &remote):
		code = "remote_rejected"
	}

	payload, _ := json.Marshal(map[string]string{
		"error": err.Error(),
		"code":  code,
	})
	return string(payload)
}
