package resolver

import (
	"errors"
	"strings"
	"testing"

	"github.com/openkg/toolagent"
)

// extractionRegistry builds the canonical NER/RE registry used across the
// resolver tests: RE consumes entity spans, NER produces them from raw text
// and is the declared default producer.
func extractionRegistry(t *testing.T, extra ...toolagent.RegistryEntry) *toolagent.Registry {
	t.Helper()
	entries := []toolagent.RegistryEntry{
		{
			Capability: toolagent.Capability{
				ID:       "NER",
				Requires: []toolagent.Kind{toolagent.KindRawText},
				Produces: toolagent.KindEntitySpans,
			},
			DefaultFor: []toolagent.Kind{toolagent.KindEntitySpans},
		},
		{
			Capability: toolagent.Capability{
				ID:       "RE",
				Requires: []toolagent.Kind{toolagent.KindEntitySpans},
				Produces: toolagent.KindRelationTriples,
			},
		},
	}
	entries = append(entries, extra...)
	registry, err := toolagent.NewRegistry(entries)
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}
	return registry
}

func available(kinds ...toolagent.Kind) map[toolagent.Kind]struct{} {
	out := make(map[toolagent.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		out[k] = struct{}{}
	}
	return out
}

func assertCode(t *testing.T, err error, code string) *toolagent.AgentError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", code)
	}
	var agentErr *toolagent.AgentError
	if !errors.As(err, &agentErr) {
		t.Fatalf("expected *AgentError, got %T: %v", err, err)
	}
	if agentErr.Code != code {
		t.Fatalf("expected code %s, got %s: %v", code, agentErr.Code, err)
	}
	return agentErr
}

func TestResolveTransitiveDependency(t *testing.T) {
	r := New(extractionRegistry(t))

	plan, err := r.Resolve("RE", available(toolagent.KindRawText))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	want := []string{"NER", "RE"}
	got := plan.Steps()
	if len(got) != len(want) {
		t.Fatalf("expected plan %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected plan %v, got %v", want, got)
		}
	}
	if plan.Target() != "RE" {
		t.Errorf("plan target = %s, want RE", plan.Target())
	}
}

func TestResolveWithSatisfiedDependency(t *testing.T) {
	r := New(extractionRegistry(t))

	plan, err := r.Resolve("RE", available(toolagent.KindEntitySpans))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if plan.Len() != 1 || plan.Steps()[0] != "RE" {
		t.Fatalf("expected plan [RE], got %v", plan.Steps())
	}
}

func TestResolveUnresolvableDependency(t *testing.T) {
	r := New(extractionRegistry(t))

	_, err := r.Resolve("RE", available())
	agentErr := assertCode(t, err, toolagent.ErrCodeUnresolvable)
	if !strings.Contains(agentErr.Message, string(toolagent.KindRawText)) {
		t.Errorf("error should name the missing kind %q: %v", toolagent.KindRawText, err)
	}
}

func TestResolveUnknownCapability(t *testing.T) {
	r := New(extractionRegistry(t))

	_, err := r.Resolve("LP", available(toolagent.KindRawText))
	assertCode(t, err, toolagent.ErrCodeNotFound)
}

func TestResolveAmbiguousProducer(t *testing.T) {
	// Two producers of entity spans with no declared default.
	entries := []toolagent.RegistryEntry{
		{Capability: toolagent.Capability{
			ID:       "NER_STANDARD",
			Requires: []toolagent.Kind{toolagent.KindRawText},
			Produces: toolagent.KindEntitySpans,
		}},
		{Capability: toolagent.Capability{
			ID:       "NER_FEWSHOT",
			Requires: []toolagent.Kind{toolagent.KindRawText},
			Produces: toolagent.KindEntitySpans,
		}},
		{Capability: toolagent.Capability{
			ID:       "RE",
			Requires: []toolagent.Kind{toolagent.KindEntitySpans},
			Produces: toolagent.KindRelationTriples,
		}},
	}
	registry, err := toolagent.NewRegistry(entries)
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}
	r := New(registry)

	_, err = r.Resolve("RE", available(toolagent.KindRawText))
	agentErr := assertCode(t, err, toolagent.ErrCodeAmbiguous)
	if !strings.Contains(agentErr.Message, string(toolagent.KindEntitySpans)) {
		t.Errorf("error should name the contested kind: %v", err)
	}
}

func TestResolveDefaultProducerBreaksTie(t *testing.T) {
	extra := toolagent.RegistryEntry{
		Capability: toolagent.Capability{
			ID:       "NER_FEWSHOT",
			Requires: []toolagent.Kind{toolagent.KindRawText},
			Produces: toolagent.KindEntitySpans,
		},
	}
	r := New(extractionRegistry(t, extra))

	plan, err := r.Resolve("RE", available(toolagent.KindRawText))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if plan.Steps()[0] != "NER" {
		t.Errorf("expected default producer NER first, got %v", plan.Steps())
	}
}

func TestResolveCyclicDependency(t *testing.T) {
	entries := []toolagent.RegistryEntry{
		{Capability: toolagent.Capability{
			ID:       "A",
			Requires: []toolagent.Kind{toolagent.KindRelationTriples},
			Produces: toolagent.KindEntitySpans,
		}},
		{Capability: toolagent.Capability{
			ID:       "B",
			Requires: []toolagent.Kind{toolagent.KindEntitySpans},
			Produces: toolagent.KindRelationTriples,
		}},
	}
	registry, err := toolagent.NewRegistry(entries)
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}
	r := New(registry)

	_, err = r.Resolve("A", available())
	assertCode(t, err, toolagent.ErrCodeCyclic)
}

func TestResolveSharedDependencyAppearsOnce(t *testing.T) {
	// AE and RE both consume entity spans; a capability consuming both of
	// their outputs must still plan NER only once.
	extra := []toolagent.RegistryEntry{
		{Capability: toolagent.Capability{
			ID:       "AE",
			Requires: []toolagent.Kind{toolagent.KindEntitySpans},
			Produces: toolagent.KindAttributeTriples,
		}},
		{Capability: toolagent.Capability{
			ID:       "FUSE",
			Requires: []toolagent.Kind{toolagent.KindRelationTriples, toolagent.KindAttributeTriples},
			Produces: toolagent.KindEventRecords,
		}},
	}
	r := New(extractionRegistry(t, extra...))

	plan, err := r.Resolve("FUSE", available(toolagent.KindRawText))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	seen := make(map[string]int)
	for _, step := range plan.Steps() {
		seen[step]++
	}
	if seen["NER"] != 1 {
		t.Errorf("NER should appear exactly once, plan: %v", plan.Steps())
	}
	if plan.Steps()[plan.Len()-1] != "FUSE" {
		t.Errorf("target must be last, plan: %v", plan.Steps())
	}

	// Producers must precede their consumers.
	index := make(map[string]int)
	for i, step := range plan.Steps() {
		index[step] = i
	}
	if index["NER"] > index["RE"] || index["RE"] > index["FUSE"] || index["AE"] > index["FUSE"] {
		t.Errorf("plan out of dependency order: %v", plan.Steps())
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	r := New(extractionRegistry(t))

	first, err := r.Resolve("RE", available(toolagent.KindRawText))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for i := 0; i < 10; i++ {
		plan, err := r.Resolve("RE", available(toolagent.KindRawText))
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if plan.String() != first.String() {
			t.Fatalf("plans differ across runs: %s vs %s", first.String(), plan.String())
		}
	}
}
