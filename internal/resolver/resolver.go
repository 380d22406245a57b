// Package resolver turns a requested capability into an ordered execution
// plan by walking the declared requires/produces graph backwards.
package resolver

import (
	"log"

	"github.com/openkg/toolagent"
)

// Resolver computes execution plans against a capability registry.
type Resolver struct {
	registry *toolagent.Registry
}

// New creates a resolver backed by the given registry.
func New(registry *toolagent.Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve computes the ordered plan that satisfies the target capability
// given the kinds already available as inputs. Steps appear in dependency
// order with the target last, and each capability appears at most once.
func (r *Resolver) Resolve(target string, available map[toolagent.Kind]struct{}) (*toolagent.ExecutionPlan, error) {
	if _, err := r.registry.Lookup(target); err != nil {
		return nil, err
	}

	walk := &planWalk{
		registry:  r.registry,
		available: available,
		visited:   make(map[string]bool),
		onPath:    make(map[string]bool),
	}

	if err := walk.visit(target); err != nil {
		log.Printf("Plan resolution failed (target: %s): %v", target, err)
		return nil, err
	}

	plan := toolagent.NewExecutionPlan(target, walk.steps)
	log.Printf("Plan resolved (target: %s, steps: %s)", target, plan.String())
	return plan, nil
}

// planWalk carries the state of one backward traversal.
type planWalk struct {
	registry  *toolagent.Registry
	available map[toolagent.Kind]struct{}

	// visited marks capabilities whose whole subtree is already planned.
	visited map[string]bool

	// onPath marks capabilities on the current recursion stack, used to
	// detect cycles in the declared graph.
	onPath map[string]bool

	steps []string
}

// visit resolves the dependencies of one capability and then appends it,
// producing a post-order that puts every producer before its consumers.
func (w *planWalk) visit(capabilityID string) error {
	if w.visited[capabilityID] {
		return nil
	}
	if w.onPath[capabilityID] {
		return toolagent.NewCyclicDependencyError(capabilityID)
	}
	w.onPath[capabilityID] = true
	defer delete(w.onPath, capabilityID)

	capability, err := w.registry.Lookup(capabilityID)
	if err != nil {
		return err
	}

	for _, kind := range capability.Requires {
		if _, ok := w.available[kind]; ok {
			continue
		}

		producer, err := w.chooseProducer(capabilityID, kind)
		if err != nil {
			return err
		}
		if err := w.visit(producer); err != nil {
			return err
		}
	}

	w.visited[capabilityID] = true
	w.steps = append(w.steps, capabilityID)
	return nil
}

// chooseProducer picks the capability that will supply a missing kind. A
// single registered producer wins outright; multiple producers require a
// declared default.
func (w *planWalk) chooseProducer(consumerID string, kind toolagent.Kind) (string, error) {
	candidates := w.registry.Producers(kind)

	switch len(candidates) {
	case 0:
		return "", toolagent.NewUnresolvableDependencyError(consumerID, kind)
	case 1:
		return candidates[0], nil
	default:
		if producer, ok := w.registry.DefaultProducer(kind); ok {
			return producer, nil
		}
		return "", toolagent.NewAmbiguousProducerError(kind, candidates)
	}
}
