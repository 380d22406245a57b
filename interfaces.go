package toolagent

import (
	"context"
	"time"
)

// Adapter is the boundary between the coordinator and a wrapped external
// project. An adapter translates tagged payloads into whatever call
// convention the project requires (subprocess argv, stdin feed, HTTP
// request) and lifts the raw output back into a payload tagged with the
// adapter's declared output kind. The coordinator knows nothing about these
// mechanics.
type Adapter interface {
	// Name returns the capability identifier this adapter serves.
	Name() string

	// Invoke performs the external call. inputs holds one payload per kind
	// the capability requires; the returned result carries the produced
	// kind and payload, or a failed status with Err set.
	Invoke(ctx context.Context, inputs map[Kind]interface{}) (ToolCallResult, error)

	// Exclusive reports whether the external resource behind this adapter
	// refuses concurrent invocation. The coordinator serializes calls to
	// exclusive adapters across requests.
	Exclusive() bool

	// Timeout returns the per-call deadline for this adapter. Zero means
	// the coordinator's default applies.
	Timeout() time.Duration
}

// Resolver computes an execution plan for a target capability given the
// kinds the caller already supplied.
type Resolver interface {
	Resolve(target string, available map[Kind]struct{}) (*ExecutionPlan, error)
}

// Coordinator drives a resolved plan step by step, feeding each step's
// output into the next step's input.
type Coordinator interface {
	Execute(ctx context.Context, plan *ExecutionPlan, initial map[Kind]interface{}) (ToolCallResult, error)
}

// GoalPlanner maps a free-text user goal onto a target capability and the
// inputs extractable from the goal itself.
type GoalPlanner interface {
	PlanGoal(ctx context.Context, goal string) (string, map[Kind]interface{}, error)
}

// Cache provides storage for frequently recomputed values, like resolved
// plans.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}) error
}
