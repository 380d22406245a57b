package toolagent

import "fmt"

// Error codes for specific failure types
const (
	ErrCodeNotFound       = "CAPABILITY_NOT_FOUND"
	ErrCodeAmbiguous      = "AMBIGUOUS_PRODUCER"
	ErrCodeCyclic         = "CYCLIC_DEPENDENCY"
	ErrCodeUnresolvable   = "UNRESOLVABLE_DEPENDENCY"
	ErrCodeInternalPlan   = "INTERNAL_PLAN_ERROR"
	ErrCodeAdapterFailure = "ADAPTER_EXECUTION_ERROR"
	ErrCodeTimeout        = "EXECUTION_TIMEOUT"
	ErrCodeCancelled      = "EXECUTION_CANCELLED"
	ErrCodeConfiguration  = "CONFIGURATION_ERROR"
	ErrCodeGoalResolution = "GOAL_RESOLUTION_ERROR"
)

// Stages a request can fail in, reported back to the caller so resolution
// failures are distinguishable from execution failures.
const (
	StageResolution = "resolution"
	StageExecution  = "execution"
	StagePlanning   = "planning"
	StageInit       = "initialization"
)

// AgentError is the structured error type for all resolver and coordinator
// failures. Code is machine-readable, Stage names the phase that failed, and
// Cause carries the underlying error if any.
type AgentError struct {
	Code    string
	Stage   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause, allowing errors.Is / errors.As
// chaining.
func (e *AgentError) Unwrap() error {
	return e.Cause
}

// NewError creates a new AgentError.
func NewError(code, stage, message string, cause error) *AgentError {
	return &AgentError{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// IsAgentError reports whether err is an *AgentError.
func IsAgentError(err error) bool {
	_, ok := err.(*AgentError)
	return ok
}

// Specific error constructors

// NewNotFoundError reports a capability unknown to the registry.
func NewNotFoundError(capabilityID string) *AgentError {
	return NewError(ErrCodeNotFound, StageResolution, fmt.Sprintf("capability '%s' not found in registry", capabilityID), nil)
}

// NewAmbiguousProducerError reports multiple candidate producers for a kind
// with no declared default. Fixing it requires a registry configuration
// change, not a retry.
func NewAmbiguousProducerError(kind Kind, candidates []string) *AgentError {
	return NewError(ErrCodeAmbiguous, StageResolution,
		fmt.Sprintf("kind '%s' has multiple producers %v and no declared default", kind, candidates), nil)
}

// NewCyclicDependencyError reports a cycle in the capability graph reachable
// from the resolution target.
func NewCyclicDependencyError(capabilityID string) *AgentError {
	return NewError(ErrCodeCyclic, StageResolution,
		fmt.Sprintf("capability graph contains a cycle through '%s'", capabilityID), nil)
}

// NewUnresolvableDependencyError names a required kind that no registered
// capability produces.
func NewUnresolvableDependencyError(capabilityID string, kind Kind) *AgentError {
	return NewError(ErrCodeUnresolvable, StageResolution,
		fmt.Sprintf("capability '%s' requires kind '%s' which is neither supplied nor producible", capabilityID, kind), nil)
}

// NewInternalPlanError reports an invariant violation between resolver and
// coordinator. Fatal for the current request; logged for investigation.
func NewInternalPlanError(message string, cause error) *AgentError {
	return NewError(ErrCodeInternalPlan, StageExecution, message, cause)
}

// NewAdapterFailureError wraps an adapter error with the identity of the
// failing capability.
func NewAdapterFailureError(capabilityID string, cause error) *AgentError {
	return NewError(ErrCodeAdapterFailure, StageExecution,
		fmt.Sprintf("adapter invocation failed for capability '%s'", capabilityID), cause)
}

// NewTimeoutError reports a timed-out adapter call, treated as a step failure.
func NewTimeoutError(capabilityID string, cause error) *AgentError {
	return NewError(ErrCodeTimeout, StageExecution,
		fmt.Sprintf("adapter invocation timed out for capability '%s'", capabilityID), cause)
}

// NewCancelledError reports a request cancelled between steps.
func NewCancelledError(stage string, cause error) *AgentError {
	return NewError(ErrCodeCancelled, stage, "request cancelled", cause)
}

// NewConfigurationError reports an invalid registry or adapter configuration.
func NewConfigurationError(message string, cause error) *AgentError {
	return NewError(ErrCodeConfiguration, StageInit, message, cause)
}

// NewGoalResolutionError reports a free-text goal the planner could not map
// to a capability.
func NewGoalResolutionError(goal string, cause error) *AgentError {
	return NewError(ErrCodeGoalResolution, StagePlanning,
		fmt.Sprintf("unable to map goal %q to a capability", goal), cause)
}
