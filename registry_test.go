package toolagent

import (
	"errors"
	"testing"
)

func capabilityNER() Capability {
	return Capability{
		ID:       "NER",
		Requires: []Kind{KindRawText},
		Produces: KindEntitySpans,
	}
}

func capabilityRE() Capability {
	return Capability{
		ID:       "RE",
		Requires: []Kind{KindRawText, KindEntitySpans},
		Produces: KindRelationTriples,
	}
}

func TestNewRegistryRejectsDuplicateIDs(t *testing.T) {
	_, err := NewRegistry([]RegistryEntry{
		{Capability: capabilityNER()},
		{Capability: capabilityNER()},
	})
	assertAgentErrorCode(t, err, ErrCodeConfiguration)
}

func TestNewRegistryRejectsEmptyProduces(t *testing.T) {
	c := capabilityNER()
	c.Produces = ""
	_, err := NewRegistry([]RegistryEntry{{Capability: c}})
	assertAgentErrorCode(t, err, ErrCodeConfiguration)
}

func TestNewRegistryRejectsForeignDefault(t *testing.T) {
	_, err := NewRegistry([]RegistryEntry{
		{Capability: capabilityNER(), DefaultFor: []Kind{KindRelationTriples}},
	})
	assertAgentErrorCode(t, err, ErrCodeConfiguration)
}

func TestNewRegistryRejectsConflictingDefaults(t *testing.T) {
	other := capabilityNER()
	other.ID = "NER2"
	_, err := NewRegistry([]RegistryEntry{
		{Capability: capabilityNER(), DefaultFor: []Kind{KindEntitySpans}},
		{Capability: other, DefaultFor: []Kind{KindEntitySpans}},
	})
	assertAgentErrorCode(t, err, ErrCodeConfiguration)
}

func TestRegistryLookup(t *testing.T) {
	registry, err := NewRegistry([]RegistryEntry{
		{Capability: capabilityNER()},
		{Capability: capabilityRE()},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	c, err := registry.Lookup("RE")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if c.Produces != KindRelationTriples {
		t.Errorf("produces = %s", c.Produces)
	}

	_, err = registry.Lookup("LP")
	assertAgentErrorCode(t, err, ErrCodeNotFound)
}

func TestRegistryProducersSorted(t *testing.T) {
	zeta := capabilityNER()
	zeta.ID = "ZETA_NER"
	registry, err := NewRegistry([]RegistryEntry{
		{Capability: zeta},
		{Capability: capabilityNER()},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	producers := registry.Producers(KindEntitySpans)
	if len(producers) != 2 || producers[0] != "NER" || producers[1] != "ZETA_NER" {
		t.Errorf("producers = %v", producers)
	}
}

func TestRegistryDefaultProducer(t *testing.T) {
	registry, err := NewRegistry([]RegistryEntry{
		{Capability: capabilityNER(), DefaultFor: []Kind{KindEntitySpans}},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	id, ok := registry.DefaultProducer(KindEntitySpans)
	if !ok || id != "NER" {
		t.Errorf("default producer = %q, %v", id, ok)
	}
	if _, ok := registry.DefaultProducer(KindRelationTriples); ok {
		t.Error("unexpected default for relation triples")
	}
}

func TestRegistryListSorted(t *testing.T) {
	registry, err := NewRegistry([]RegistryEntry{
		{Capability: capabilityRE()},
		{Capability: capabilityNER()},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	list := registry.List()
	if len(list) != 2 || list[0].ID != "NER" || list[1].ID != "RE" {
		t.Errorf("list order = %v", list)
	}
	if registry.Len() != 2 {
		t.Errorf("len = %d", registry.Len())
	}
}

func assertAgentErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	var agentErr *AgentError
	if !errors.As(err, &agentErr) {
		t.Fatalf("expected AgentError, got %T: %v", err, err)
	}
	if agentErr.Code != code {
		t.Fatalf("code = %s, want %s (%v)", agentErr.Code, code, err)
	}
}
