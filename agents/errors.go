package agents

import (
	"github.com/cockroachdb/errors"
)

// Sentinel errors returned by the agent run loop.
// Use errors.Is to classify a run failure.
var (
	// ErrCompletionFailure indicates the completion endpoint failed
	// or kept returning empty responses.
	ErrCompletionFailure = errors.New("completion failure")

	// ErrUnknownTool indicates the model kept requesting tools that
	// are not registered with the agent.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrToolInvocation indicates a tool call failed and the agent is
	// configured to abort instead of reporting the failure to the model.
	ErrToolInvocation = errors.New("tool invocation failed")

	// ErrLoopBoundExceeded indicates the model kept requesting tools
	// past the configured iteration limit.
	ErrLoopBoundExceeded = errors.New("tool call loop bound exceeded")

	// ErrCancelled indicates the run was cancelled via its context.
	ErrCancelled = errors.New("run cancelled")
)
