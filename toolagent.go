// Package toolagent exposes pre-trained knowledge-graph extraction and
// embedding models as callable tool capabilities. Given a requested
// capability and the inputs already at hand, it resolves the chain of
// prerequisite capabilities, executes the chain in order through per-project
// adapters, and returns the final structured result.
package toolagent

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openkg/toolagent/internal/eventbus"
)

// ToolAgent is the main entry point into the runtime. It binds the
// capability registry, the dependency resolver, and the execution
// coordinator together behind the single Request operation.
type ToolAgent struct {
	registry    *Registry
	resolver    Resolver
	coordinator Coordinator
	planner     GoalPlanner
	planCache   Cache
	eventBus    eventbus.EventBus

	config Config

	asyncRequests map[string]*asyncRequest
	asyncMutex    sync.RWMutex
}

// Config holds the configuration options for the ToolAgent runtime.
type Config struct {
	// Default per-step timeout applied when an adapter declares none.
	DefaultStepTimeout time.Duration

	// Event bus configuration
	EnableEventBus      bool
	EventBusBufferSize  int
	EventBusWorkerCount int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultStepTimeout:  time.Minute * 5,
		EnableEventBus:      true,
		EventBusBufferSize:  100,
		EventBusWorkerCount: 5,
	}
}

// Option is a function that configures a ToolAgent instance.
type Option func(*ToolAgent)

// WithConfig sets the runtime configuration.
func WithConfig(config Config) Option {
	return func(a *ToolAgent) {
		a.config = config
	}
}

// WithRegistry sets the capability registry.
func WithRegistry(registry *Registry) Option {
	return func(a *ToolAgent) {
		a.registry = registry
	}
}

// WithResolver sets the dependency resolver component.
func WithResolver(resolver Resolver) Option {
	return func(a *ToolAgent) {
		a.resolver = resolver
	}
}

// WithCoordinator sets the execution coordinator component.
func WithCoordinator(coordinator Coordinator) Option {
	return func(a *ToolAgent) {
		a.coordinator = coordinator
	}
}

// WithGoalPlanner sets the optional free-text goal planner.
func WithGoalPlanner(planner GoalPlanner) Option {
	return func(a *ToolAgent) {
		a.planner = planner
	}
}

// WithPlanCache sets the optional resolved-plan cache.
func WithPlanCache(cache Cache) Option {
	return func(a *ToolAgent) {
		a.planCache = cache
	}
}

// WithEventBus sets the event bus used for lifecycle notifications.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(a *ToolAgent) {
		a.eventBus = bus
	}
}

// New creates a new ToolAgent instance with the provided options. Registry,
// resolver, and coordinator are required.
func New(options ...Option) (*ToolAgent, error) {
	a := &ToolAgent{
		config:        DefaultConfig(),
		asyncRequests: make(map[string]*asyncRequest),
	}

	for _, option := range options {
		option(a)
	}

	if a.registry == nil || a.registry.Len() == 0 {
		return nil, NewConfigurationError("a registry with at least one capability is required", nil)
	}
	if a.resolver == nil {
		return nil, NewConfigurationError("resolver is required", nil)
	}
	if a.coordinator == nil {
		return nil, NewConfigurationError("coordinator is required", nil)
	}

	if a.config.EnableEventBus && a.eventBus == nil {
		a.eventBus = eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(a.config.EventBusBufferSize),
			eventbus.WithWorkerCount(a.config.EventBusWorkerCount),
		)
		log.Printf("Initialized default channel-based event bus")
	}

	return a, nil
}

// Registry returns the read-only capability catalog.
func (a *ToolAgent) Registry() *Registry { return a.registry }

// Request resolves and executes the plan for one capability. inputs maps
// the kinds the caller already has to their payloads. Any resolution or
// execution failure returns a single structured error naming the failing
// stage and the offending capability or kind.
func (a *ToolAgent) Request(ctx context.Context, capabilityID string, inputs map[Kind]interface{}) (ToolCallResult, error) {
	if _, err := a.registry.Lookup(capabilityID); err != nil {
		return ToolCallResult{Capability: capabilityID, Status: CallStatusFailed, Err: err}, err
	}

	available := make(map[Kind]struct{}, len(inputs))
	kinds := make([]string, 0, len(inputs))
	for k := range inputs {
		available[k] = struct{}{}
		kinds = append(kinds, string(k))
	}
	a.publish(ctx, eventbus.EventRequestStarted, capabilityID, map[string]interface{}{"inputs": kinds})

	a.publish(ctx, eventbus.EventResolutionStarted, capabilityID, nil)
	plan, err := a.resolvePlan(ctx, capabilityID, available)
	if err != nil {
		a.publish(ctx, eventbus.EventResolutionFailure, capabilityID, map[string]interface{}{"error": err.Error()})
		return ToolCallResult{Capability: capabilityID, Status: CallStatusFailed, Err: err}, err
	}
	a.publish(ctx, eventbus.EventResolutionSuccess, capabilityID, map[string]interface{}{"plan": plan.String()})
	log.Printf("Resolved plan (target: %s, steps: %d, plan: %s)", capabilityID, plan.Len(), plan)

	result, err := a.coordinator.Execute(ctx, plan, inputs)
	if err != nil {
		a.publish(ctx, eventbus.EventRequestFailure, capabilityID, map[string]interface{}{"error": err.Error()})
		return result, err
	}
	a.publish(ctx, eventbus.EventRequestSuccess, capabilityID, map[string]interface{}{"kind": string(result.Kind)})
	return result, nil
}

// RequestGoal maps a free-text goal to a capability via the configured goal
// planner, then behaves like Request.
func (a *ToolAgent) RequestGoal(ctx context.Context, goal string) (ToolCallResult, error) {
	if a.planner == nil {
		err := NewConfigurationError("no goal planner configured", nil)
		return ToolCallResult{Status: CallStatusFailed, Err: err}, err
	}
	capabilityID, inputs, err := a.planner.PlanGoal(ctx, goal)
	if err != nil {
		return ToolCallResult{Status: CallStatusFailed, Err: err}, err
	}
	log.Printf("Goal mapped to capability (goal: %q, capability: %s)", goal, capabilityID)
	return a.Request(ctx, capabilityID, inputs)
}

// resolvePlan consults the plan cache before falling back to the resolver.
// Plans are deterministic per (target, available kinds), so caching is
// sound.
func (a *ToolAgent) resolvePlan(ctx context.Context, target string, available map[Kind]struct{}) (*ExecutionPlan, error) {
	var cacheKey string
	if a.planCache != nil {
		cacheKey = PlanCacheKey(target, available)
		if cached, err := a.planCache.Get(ctx, cacheKey); err == nil {
			if plan, ok := cached.(*ExecutionPlan); ok {
				return plan, nil
			}
		}
	}

	plan, err := a.resolver.Resolve(target, available)
	if err != nil {
		return nil, err
	}

	if a.planCache != nil {
		if err := a.planCache.Set(ctx, cacheKey, plan); err != nil {
			log.Printf("Failed to cache resolved plan (target: %s): %v", target, err)
		}
	}
	return plan, nil
}

func (a *ToolAgent) publish(ctx context.Context, eventType eventbus.EventType, capabilityID string, metadata map[string]interface{}) {
	if a.eventBus == nil {
		return
	}
	a.eventBus.Publish(ctx, eventbus.NewEvent(eventType, capabilityID, "ToolAgent", metadata))
}

// asyncRequest tracks one in-flight asynchronous request.
type asyncRequest struct {
	id         string
	capability string
	state      RequestState
	startTime  time.Time
	endTime    time.Time
	result     ToolCallResult
	err        error
	cancel     context.CancelFunc
	mutex      sync.Mutex
}

// AsyncRequestStatus is the caller-visible status of an asynchronous
// request.
type AsyncRequestStatus struct {
	RequestID  string        `json:"request_id"`
	Capability string        `json:"capability"`
	State      RequestState  `json:"state"`
	StartTime  time.Time     `json:"start_time"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// RequestAsync starts a request in the background and returns a unique
// request ID for later status and result queries.
func (a *ToolAgent) RequestAsync(ctx context.Context, capabilityID string, inputs map[Kind]interface{}) (string, error) {
	if _, err := a.registry.Lookup(capabilityID); err != nil {
		return "", err
	}

	requestID := uuid.New().String()
	asyncCtx, cancel := context.WithCancel(context.Background())

	req := &asyncRequest{
		id:         requestID,
		capability: capabilityID,
		state:      RequestStateResolving,
		startTime:  time.Now(),
		cancel:     cancel,
	}

	a.asyncMutex.Lock()
	a.asyncRequests[requestID] = req
	a.asyncMutex.Unlock()
	a.publish(ctx, eventbus.EventTaskSpawned, capabilityID, map[string]interface{}{"request_id": requestID})

	go func() {
		defer cancel()

		req.mutex.Lock()
		req.state = RequestStateExecuting
		req.mutex.Unlock()

		result, err := a.Request(asyncCtx, capabilityID, inputs)

		req.mutex.Lock()
		req.result = result
		req.err = err
		req.endTime = time.Now()
		if err != nil {
			req.state = RequestStateFailed
		} else {
			req.state = RequestStateComplete
		}
		state := req.state
		req.mutex.Unlock()

		// The request context may already be canceled; the finished
		// notification still has to go out.
		a.publish(context.Background(), eventbus.EventTaskFinished, capabilityID, map[string]interface{}{
			"request_id": requestID,
			"state":      string(state),
		})
	}()

	return requestID, nil
}

// AsyncStatus returns the current status of an asynchronous request.
func (a *ToolAgent) AsyncStatus(requestID string) (*AsyncRequestStatus, error) {
	a.asyncMutex.RLock()
	req, exists := a.asyncRequests[requestID]
	a.asyncMutex.RUnlock()
	if !exists {
		return nil, NewError(ErrCodeNotFound, StageExecution, "async request '"+requestID+"' not found", nil)
	}

	req.mutex.Lock()
	defer req.mutex.Unlock()

	status := &AsyncRequestStatus{
		RequestID:  requestID,
		Capability: req.capability,
		State:      req.state,
		StartTime:  req.startTime,
	}
	if req.endTime.IsZero() {
		status.Duration = time.Since(req.startTime)
	} else {
		status.Duration = req.endTime.Sub(req.startTime)
	}
	if req.err != nil {
		status.Error = req.err.Error()
	}
	return status, nil
}

// AsyncResult returns the result of a completed asynchronous request. It
// fails if the request is still running.
func (a *ToolAgent) AsyncResult(requestID string) (ToolCallResult, error) {
	a.asyncMutex.RLock()
	req, exists := a.asyncRequests[requestID]
	a.asyncMutex.RUnlock()
	if !exists {
		return ToolCallResult{}, NewError(ErrCodeNotFound, StageExecution, "async request '"+requestID+"' not found", nil)
	}

	req.mutex.Lock()
	defer req.mutex.Unlock()

	switch req.state {
	case RequestStateComplete, RequestStateFailed:
		return req.result, req.err
	default:
		return ToolCallResult{}, NewError(ErrCodeInternalPlan, StageExecution, "async request '"+requestID+"' has not completed", nil)
	}
}

// CancelAsync signals cancellation to a running asynchronous request. The
// coordinator stops advancing the plan at the next step boundary.
func (a *ToolAgent) CancelAsync(requestID string) error {
	a.asyncMutex.RLock()
	req, exists := a.asyncRequests[requestID]
	a.asyncMutex.RUnlock()
	if !exists {
		return NewError(ErrCodeNotFound, StageExecution, "async request '"+requestID+"' not found", nil)
	}
	req.cancel()
	return nil
}
