package toolagent

import (
	"fmt"
	"sort"
	"time"
)

// Kind tags a data shape flowing between capabilities, e.g. "raw_text" or
// "entity_span_list". A capability consumes a set of kinds and produces
// exactly one.
type Kind string

// Well-known kinds produced and consumed by the bundled adapters. Custom
// registries are free to introduce their own.
const (
	KindRawText          Kind = "raw_text"
	KindEntitySpans      Kind = "entity_span_list"
	KindRelationTriples  Kind = "relation_triple_list"
	KindAttributeTriples Kind = "attribute_triple_list"
	KindEventRecords     Kind = "event_record_list"
	KindModelSpec        Kind = "kg_model_spec"
	KindTaskReceipt      Kind = "task_receipt"
	KindGuidelineFlag    Kind = "guideline_flag"
	KindGuidelineRecords Kind = "guideline_record_list"
)

// Capability describes one extraction or inference task exposed as a
// callable tool. Capabilities are immutable once registered.
type Capability struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Requires    []Kind `json:"requires" yaml:"requires"`
	Produces    Kind   `json:"produces" yaml:"produces"`
}

// CallStatus is the terminal status of a single adapter invocation.
type CallStatus string

const (
	// CallStatusSucceeded indicates the adapter produced a payload.
	CallStatusSucceeded CallStatus = "succeeded"
	// CallStatusFailed indicates the adapter reported an error (including
	// timeouts).
	CallStatusFailed CallStatus = "failed"
)

// ToolCallResult is the output of invoking one capability: the kind tag of
// the produced payload, the payload itself, and the terminal status.
type ToolCallResult struct {
	Capability string        `json:"capability"`
	Kind       Kind          `json:"kind,omitempty"`
	Payload    interface{}   `json:"payload,omitempty"`
	Status     CallStatus    `json:"status"`
	Err        error         `json:"-"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// Failed reports whether the call ended in failure.
func (r ToolCallResult) Failed() bool { return r.Status == CallStatusFailed }

// ExecutionPlan is an ordered sequence of capability identifiers, computed
// once per request by the resolver and immutable afterwards. Every
// capability's required kinds are satisfied by the initial inputs or by
// an earlier step.
type ExecutionPlan struct {
	steps  []string
	target string
}

// NewExecutionPlan builds a plan ending in target. The resolver guarantees
// topological validity; callers constructing plans by hand get no such check.
func NewExecutionPlan(target string, steps []string) *ExecutionPlan {
	cp := make([]string, len(steps))
	copy(cp, steps)
	return &ExecutionPlan{steps: cp, target: target}
}

// Steps returns a copy of the ordered capability identifiers.
func (p *ExecutionPlan) Steps() []string {
	cp := make([]string, len(p.steps))
	copy(cp, p.steps)
	return cp
}

// Target returns the capability the plan was resolved for (its last step).
func (p *ExecutionPlan) Target() string { return p.target }

// Len returns the number of steps in the plan.
func (p *ExecutionPlan) Len() int { return len(p.steps) }

// String renders the plan as "NER -> RE" for logging.
func (p *ExecutionPlan) String() string {
	out := ""
	for i, s := range p.steps {
		if i > 0 {
			out += " -> "
		}
		out += s
	}
	return out
}

// PlanCacheKey returns a stable key for a resolved plan. Plans are
// deterministic for a given (target, available kinds) pair, so the key is
// derived from exactly those.
func PlanCacheKey(target string, available map[Kind]struct{}) string {
	kinds := make([]string, 0, len(available))
	for k := range available {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	key := "plan:" + target
	for _, k := range kinds {
		key += ":" + k
	}
	return key
}

// ExecutionContext accumulates payloads by kind over the course of one
// request. Later writes of the same kind overwrite earlier ones (last write
// wins). A context belongs to exactly one request and is discarded when the
// request completes; it is never shared across concurrent requests.
type ExecutionContext struct {
	payloads map[Kind]interface{}
}

// NewExecutionContext seeds a context with the request's initial inputs.
func NewExecutionContext(initial map[Kind]interface{}) *ExecutionContext {
	payloads := make(map[Kind]interface{}, len(initial))
	for k, v := range initial {
		payloads[k] = v
	}
	return &ExecutionContext{payloads: payloads}
}

// Get returns the most recently produced payload of the given kind.
func (c *ExecutionContext) Get(kind Kind) (interface{}, bool) {
	v, ok := c.payloads[kind]
	return v, ok
}

// Set stores a payload under its kind, overwriting any prior value.
func (c *ExecutionContext) Set(kind Kind, payload interface{}) {
	c.payloads[kind] = payload
}

// Kinds returns the set of kinds currently available in the context.
func (c *ExecutionContext) Kinds() map[Kind]struct{} {
	kinds := make(map[Kind]struct{}, len(c.payloads))
	for k := range c.payloads {
		kinds[k] = struct{}{}
	}
	return kinds
}

// Snapshot returns the subset of the context needed by one capability.
// A missing kind is an invariant violation between resolver and coordinator.
func (c *ExecutionContext) Snapshot(requires []Kind) (map[Kind]interface{}, error) {
	out := make(map[Kind]interface{}, len(requires))
	for _, k := range requires {
		v, ok := c.payloads[k]
		if !ok {
			return nil, fmt.Errorf("required kind %q not present in execution context", k)
		}
		out[k] = v
	}
	return out, nil
}

// RequestState tracks the lifecycle of an asynchronous request.
type RequestState string

const (
	RequestStateResolving RequestState = "resolving"
	RequestStateExecuting RequestState = "executing"
	RequestStateComplete  RequestState = "complete"
	RequestStateFailed    RequestState = "failed"
)
