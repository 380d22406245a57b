// Package adapters contains the boundary objects that translate structured
// capability calls into invocations of wrapped external projects.
package adapters

import (
	"context"
	"time"

	"github.com/openkg/toolagent"
)

// GoFunc is the signature of an in-process capability implementation.
type GoFunc func(ctx context.Context, inputs map[toolagent.Kind]interface{}) (interface{}, error)

// GoAdapter adapts a plain Go function to the toolagent.Adapter interface.
type GoAdapter struct {
	name        string
	description string
	produces    toolagent.Kind
	fn          GoFunc
	validator   func(map[toolagent.Kind]interface{}) error
	timeout     time.Duration
	exclusive   bool
}

// GoOption configures a GoAdapter.
type GoOption func(*GoAdapter)

// WithDescription sets a human-readable description.
func WithDescription(description string) GoOption {
	return func(a *GoAdapter) {
		a.description = description
	}
}

// WithValidator sets a custom input validator run before each invocation.
func WithValidator(validator func(map[toolagent.Kind]interface{}) error) GoOption {
	return func(a *GoAdapter) {
		a.validator = validator
	}
}

// WithGoTimeout sets the per-invocation timeout.
func WithGoTimeout(timeout time.Duration) GoOption {
	return func(a *GoAdapter) {
		a.timeout = timeout
	}
}

// WithGoExclusive marks the adapter as requiring exclusive access.
func WithGoExclusive() GoOption {
	return func(a *GoAdapter) {
		a.exclusive = true
	}
}

// NewGoAdapter creates an adapter around a Go function that produces the
// given kind.
func NewGoAdapter(name string, produces toolagent.Kind, fn GoFunc, options ...GoOption) *GoAdapter {
	adapter := &GoAdapter{
		name:     name,
		produces: produces,
		fn:       fn,
	}
	for _, option := range options {
		option(adapter)
	}
	return adapter
}

// Name implements toolagent.Adapter.
func (a *GoAdapter) Name() string { return a.name }

// Exclusive implements toolagent.Adapter.
func (a *GoAdapter) Exclusive() bool { return a.exclusive }

// Timeout implements toolagent.Adapter. Zero means the coordinator default.
func (a *GoAdapter) Timeout() time.Duration { return a.timeout }

// Invoke implements toolagent.Adapter.
func (a *GoAdapter) Invoke(ctx context.Context, inputs map[toolagent.Kind]interface{}) (toolagent.ToolCallResult, error) {
	if a.fn == nil {
		err := toolagent.NewAdapterFailureError(a.name, nil)
		return failure(a.name, a.produces, err), err
	}
	if a.validator != nil {
		if err := a.validator(inputs); err != nil {
			wrapped := toolagent.NewAdapterFailureError(a.name, err)
			return failure(a.name, a.produces, wrapped), wrapped
		}
	}

	payload, err := a.fn(ctx, inputs)
	if err != nil {
		return failure(a.name, a.produces, err), err
	}

	return toolagent.ToolCallResult{
		Capability: a.name,
		Kind:       a.produces,
		Payload:    payload,
		Status:     toolagent.CallStatusSucceeded,
	}, nil
}

func failure(name string, kind toolagent.Kind, err error) toolagent.ToolCallResult {
	return toolagent.ToolCallResult{
		Capability: name,
		Kind:       kind,
		Status:     toolagent.CallStatusFailed,
		Err:        err,
	}
}
