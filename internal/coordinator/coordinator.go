// Package coordinator executes resolved plans step by step, feeding each
// adapter the payloads earlier steps produced.
package coordinator

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/openkg/toolagent"
	"github.com/openkg/toolagent/internal/eventbus"
)

// Coordinator runs execution plans sequentially. Steps within a plan never
// overlap; concurrent plans only contend on adapters that declare themselves
// exclusive.
type Coordinator struct {
	registry *toolagent.Registry
	adapters map[string]toolagent.Adapter

	defaultTimeout time.Duration
	eventBus       eventbus.EventBus

	// adapterLocks serializes invocations of exclusive adapters across
	// concurrently executing plans.
	adapterLocks map[string]*sync.Mutex

	metrics Metrics
}

// Option configures the coordinator.
type Option func(*Coordinator)

// WithDefaultStepTimeout sets the timeout applied to steps whose adapter
// does not declare one.
func WithDefaultStepTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.defaultTimeout = timeout
		}
	}
}

// WithEventBus attaches an event bus for step lifecycle events.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(c *Coordinator) {
		c.eventBus = bus
	}
}

// New creates a coordinator over the given registry and adapter set. Every
// registered capability must have a matching adapter.
func New(registry *toolagent.Registry, adapters map[string]toolagent.Adapter, options ...Option) (*Coordinator, error) {
	if registry == nil {
		return nil, toolagent.NewConfigurationError("coordinator requires a registry", nil)
	}

	c := &Coordinator{
		registry:       registry,
		adapters:       make(map[string]toolagent.Adapter, len(adapters)),
		defaultTimeout: 5 * time.Minute,
		adapterLocks:   make(map[string]*sync.Mutex),
	}
	for _, option := range options {
		option(c)
	}

	for _, capability := range registry.List() {
		adapter, ok := adapters[capability.ID]
		if !ok {
			return nil, toolagent.NewConfigurationError(
				"capability '"+capability.ID+"' has no adapter", nil)
		}
		c.adapters[capability.ID] = adapter
		if adapter.Exclusive() {
			c.adapterLocks[capability.ID] = &sync.Mutex{}
		}
	}

	return c, nil
}

// Execute runs the plan in order and returns the result of its final step.
// The first failing step aborts the plan, and the returned result carries
// the capability ID of the step that failed.
func (c *Coordinator) Execute(ctx context.Context, plan *toolagent.ExecutionPlan, initial map[toolagent.Kind]interface{}) (toolagent.ToolCallResult, error) {
	if plan == nil || plan.Len() == 0 {
		err := toolagent.NewInternalPlanError("execution requested for an empty plan", nil)
		return toolagent.ToolCallResult{Status: toolagent.CallStatusFailed, Err: err}, err
	}

	startTime := time.Now()
	log.Printf("Starting plan execution (target: %s, steps: %d)", plan.Target(), plan.Len())

	execCtx := toolagent.NewExecutionContext(initial)

	var last toolagent.ToolCallResult
	for _, step := range plan.Steps() {
		// Cancellation is honored between steps. A step already running
		// is bounded by its own timeout context instead.
		if err := ctx.Err(); err != nil {
			cancelErr := toolagent.NewCancelledError(toolagent.StageExecution, err)
			c.publish(ctx, eventbus.EventStepCanceled, step, nil)
			return failedResult(step, cancelErr), cancelErr
		}

		result, err := c.executeStep(ctx, step, execCtx)
		last = result
		if err != nil {
			c.metrics.recordStep(result.Duration, false)
			c.logSummary(plan, startTime)
			return result, err
		}
		c.metrics.recordStep(result.Duration, true)

		execCtx.Set(result.Kind, result.Payload)
	}

	c.logSummary(plan, startTime)
	return last, nil
}

// executeStep invokes one capability's adapter with a snapshot of its
// declared inputs.
func (c *Coordinator) executeStep(ctx context.Context, step string, execCtx *toolagent.ExecutionContext) (toolagent.ToolCallResult, error) {
	capability, err := c.registry.Lookup(step)
	if err != nil {
		planErr := toolagent.NewInternalPlanError("plan step '"+step+"' is not registered", err)
		log.Printf("Internal plan error (step: %s): %v", step, planErr)
		return failedResult(step, planErr), planErr
	}

	adapter, ok := c.adapters[step]
	if !ok {
		planErr := toolagent.NewInternalPlanError("plan step '"+step+"' has no adapter", nil)
		log.Printf("Internal plan error (step: %s): %v", step, planErr)
		return failedResult(step, planErr), planErr
	}

	inputs, err := execCtx.Snapshot(capability.Requires)
	if err != nil {
		// A resolved plan guarantees every required kind is produced by
		// an earlier step, so a gap here is a planning bug, not user error.
		planErr := toolagent.NewInternalPlanError("input missing for step '"+step+"'", err)
		log.Printf("Internal plan error (step: %s): %v", step, planErr)
		return failedResult(step, planErr), planErr
	}

	if lock, exclusive := c.adapterLocks[step]; exclusive {
		lock.Lock()
		defer lock.Unlock()
	}

	timeout := adapter.Timeout()
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.publish(ctx, eventbus.EventStepStarted, step, nil)
	log.Printf("Executing step (capability: %s, timeout: %v)", step, timeout)

	stepStart := time.Now()
	result, invokeErr := adapter.Invoke(stepCtx, inputs)
	duration := time.Since(stepStart)

	result.Capability = step
	result.Duration = duration
	if result.Kind == "" {
		result.Kind = capability.Produces
	}

	if invokeErr == nil && result.Failed() {
		invokeErr = result.Err
		if invokeErr == nil {
			invokeErr = toolagent.NewAdapterFailureError(step, nil)
		}
	}

	if invokeErr != nil {
		stepErr := c.classifyStepError(step, stepCtx, invokeErr)
		log.Printf("Step failed (capability: %s, duration: %v): %v", step, duration, stepErr)
		c.publish(ctx, eventbus.EventStepFailure, step, map[string]interface{}{"error": stepErr.Error()})
		result.Status = toolagent.CallStatusFailed
		result.Err = stepErr
		return result, stepErr
	}

	log.Printf("Step succeeded (capability: %s, kind: %s, duration: %v)", step, result.Kind, duration)
	c.publish(ctx, eventbus.EventStepSuccess, step, map[string]interface{}{"duration": duration.String()})
	result.Status = toolagent.CallStatusSucceeded
	return result, nil
}

// classifyStepError maps an adapter failure onto the error taxonomy:
// deadline hits become timeouts, parent cancellation becomes a cancel, and
// everything else is an adapter failure tagged with the step.
func (c *Coordinator) classifyStepError(step string, stepCtx context.Context, err error) *toolagent.AgentError {
	var agentErr *toolagent.AgentError
	if errors.As(err, &agentErr) {
		return agentErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		return toolagent.NewTimeoutError(step, err)
	}
	if errors.Is(err, context.Canceled) {
		return toolagent.NewCancelledError(toolagent.StageExecution, err)
	}
	return toolagent.NewAdapterFailureError(step, err)
}

func (c *Coordinator) publish(ctx context.Context, eventType eventbus.EventType, step string, metadata map[string]interface{}) {
	if c.eventBus == nil {
		return
	}
	c.eventBus.Publish(ctx, eventbus.NewEvent(eventType, step, "Coordinator", metadata))
}

func (c *Coordinator) logSummary(plan *toolagent.ExecutionPlan, startTime time.Time) {
	snapshot := c.metrics.Copy()
	log.Printf("Plan execution metrics (target: %s, steps_executed: %d, steps_failed: %d, duration: %v)",
		plan.Target(), snapshot.StepsExecuted, snapshot.StepsFailed, time.Since(startTime))
}

// Metrics returns a copy of the accumulated execution counters.
func (c *Coordinator) Metrics() Metrics {
	return c.metrics.Copy()
}

func failedResult(step string, err error) toolagent.ToolCallResult {
	return toolagent.ToolCallResult{
		Capability: step,
		Status:     toolagent.CallStatusFailed,
		Err:        err,
	}
}
