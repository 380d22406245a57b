package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/MegaGrindStone/go-mcp"

	"github.com/openkg/toolagent"
	"github.com/openkg/toolagent/internal/adapters"
)

type stubAgent struct {
	registry *toolagent.Registry

	lastCapability string
	lastInputs     map[toolagent.Kind]interface{}
	lastGoal       string

	result toolagent.ToolCallResult
	err    error
}

func (s *stubAgent) Registry() *toolagent.Registry { return s.registry }

func (s *stubAgent) Request(_ context.Context, capabilityID string, inputs map[toolagent.Kind]interface{}) (toolagent.ToolCallResult, error) {
	s.lastCapability = capabilityID
	s.lastInputs = inputs
	return s.result, s.err
}

func (s *stubAgent) RequestGoal(_ context.Context, goal string) (toolagent.ToolCallResult, error) {
	s.lastGoal = goal
	return s.result, s.err
}

func testAgent(t *testing.T) *stubAgent {
	t.Helper()
	registry, err := toolagent.NewRegistry([]toolagent.RegistryEntry{
		{
			Capability: toolagent.Capability{
				ID:          "NER",
				Description: "Recognize named entities.",
				Requires:    []toolagent.Kind{toolagent.KindRawText},
				Produces:    toolagent.KindEntitySpans,
			},
			DefaultFor: []toolagent.Kind{toolagent.KindEntitySpans},
		},
		{
			Capability: toolagent.Capability{
				ID:       "RE",
				Requires: []toolagent.Kind{toolagent.KindRawText, toolagent.KindEntitySpans},
				Produces: toolagent.KindRelationTriples,
			},
		},
	})
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}
	return &stubAgent{
		registry: registry,
		result: toolagent.ToolCallResult{
			Capability: "NER",
			Kind:       toolagent.KindEntitySpans,
			Payload:    map[string]interface{}{"head": "孔子"},
			Status:     toolagent.CallStatusSucceeded,
		},
	}
}

func TestListTools(t *testing.T) {
	agent := testAgent(t)
	srv := New(agent, nil)

	list, err := srv.ListTools(context.Background(), mcp.ListToolsParams{}, nil, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}

	if len(list.Tools) != 3 {
		t.Fatalf("tools = %d, want 3", len(list.Tools))
	}

	byName := make(map[string]mcp.Tool, len(list.Tools))
	for _, tool := range list.Tools {
		byName[tool.Name] = tool
	}
	for _, name := range []string{"NER", "RE", GoalToolName} {
		if _, ok := byName[name]; !ok {
			t.Errorf("missing tool %s", name)
		}
	}
	if byName["NER"].Description != "Recognize named entities." {
		t.Errorf("NER description = %q", byName["NER"].Description)
	}

	var schema struct {
		Type       string                            `json:"type"`
		Properties map[string]map[string]interface{} `json:"properties"`
	}
	if err := json.Unmarshal(byName["RE"].InputSchema, &schema); err != nil {
		t.Fatalf("decoding RE schema: %v", err)
	}
	if schema.Type != "object" {
		t.Errorf("schema type = %q", schema.Type)
	}
	for _, kind := range []string{"raw_text", "entity_span_list"} {
		if _, ok := schema.Properties[kind]; !ok {
			t.Errorf("RE schema missing %s property", kind)
		}
	}
}

func TestCallTool(t *testing.T) {
	agent := testAgent(t)
	srv := New(agent, nil)

	result, err := srv.CallTool(context.Background(), mcp.CallToolParams{
		Name:      "NER",
		Arguments: json.RawMessage(`{"raw_text": "孔子出生于鲁国"}`),
	}, nil, nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %v", result.Content)
	}

	if agent.lastCapability != "NER" {
		t.Errorf("capability = %s", agent.lastCapability)
	}
	if agent.lastInputs[toolagent.KindRawText] != "孔子出生于鲁国" {
		t.Errorf("raw_text input = %v", agent.lastInputs[toolagent.KindRawText])
	}

	if len(result.Content) != 1 || result.Content[0].Type != mcp.ContentTypeText {
		t.Fatalf("content = %+v", result.Content)
	}
	var decoded toolagent.ToolCallResult
	if err := json.Unmarshal([]byte(result.Content[0].Text), &decoded); err != nil {
		t.Fatalf("decoding result text: %v", err)
	}
	if decoded.Kind != toolagent.KindEntitySpans || decoded.Status != toolagent.CallStatusSucceeded {
		t.Errorf("decoded result = %+v", decoded)
	}
}

func TestCallToolUnknownName(t *testing.T) {
	srv := New(testAgent(t), nil)

	_, err := srv.CallTool(context.Background(), mcp.CallToolParams{Name: "LP"}, nil, nil)
	if err == nil {
		t.Fatal("expected protocol error for unknown tool")
	}
	if !strings.Contains(err.Error(), "LP") {
		t.Errorf("error %q does not name the tool", err)
	}
}

func TestCallToolExecutionFailure(t *testing.T) {
	agent := testAgent(t)
	agent.err = errors.New("adapter exploded")
	srv := New(agent, nil)

	result, err := srv.CallTool(context.Background(), mcp.CallToolParams{
		Name:      "NER",
		Arguments: json.RawMessage(`{"raw_text": "text"}`),
	}, nil, nil)
	if err != nil {
		t.Fatalf("execution failures must not be protocol errors: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected IsError result")
	}
	if !strings.Contains(result.Content[0].Text, "adapter exploded") {
		t.Errorf("content = %q", result.Content[0].Text)
	}
}

func TestCallToolBadArguments(t *testing.T) {
	srv := New(testAgent(t), nil)

	_, err := srv.CallTool(context.Background(), mcp.CallToolParams{
		Name:      "NER",
		Arguments: json.RawMessage(`[1, 2]`),
	}, nil, nil)
	if err == nil {
		t.Fatal("expected error for non-object arguments")
	}
}

func TestCallGoalTool(t *testing.T) {
	agent := testAgent(t)
	srv := New(agent, nil)

	result, err := srv.CallTool(context.Background(), mcp.CallToolParams{
		Name:      GoalToolName,
		Arguments: json.RawMessage(`{"goal": "extract relations from this text"}`),
	}, nil, nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %v", result.Content)
	}
	if agent.lastGoal != "extract relations from this text" {
		t.Errorf("goal = %q", agent.lastGoal)
	}
}

type stubTaskStore struct {
	records map[string]adapters.TaskRecord
}

func (s *stubTaskStore) Save(record adapters.TaskRecord) error {
	s.records[record.ID] = record
	return nil
}

func (s *stubTaskStore) Load(id string) (adapters.TaskRecord, bool, error) {
	record, ok := s.records[id]
	return record, ok, nil
}

func (s *stubTaskStore) List() ([]adapters.TaskRecord, error) {
	out := make([]adapters.TaskRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	return out, nil
}

func TestListToolsIncludesTaskStatus(t *testing.T) {
	store := &stubTaskStore{records: map[string]adapters.TaskRecord{}}
	srv := New(testAgent(t), store)

	list, err := srv.ListTools(context.Background(), mcp.ListToolsParams{}, nil, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	found := false
	for _, tool := range list.Tools {
		if tool.Name == TaskToolName {
			found = true
		}
	}
	if !found {
		t.Errorf("missing %s tool, got %d tools", TaskToolName, len(list.Tools))
	}
}

func TestCallTaskStatusTool(t *testing.T) {
	store := &stubTaskStore{records: map[string]adapters.TaskRecord{
		"task-1": {
			ID:       "task-1",
			Model:    "MTransE",
			TaskType: "ea",
			State:    adapters.TaskStateFinished,
		},
	}}
	srv := New(testAgent(t), store)

	result, err := srv.CallTool(context.Background(), mcp.CallToolParams{
		Name:      TaskToolName,
		Arguments: json.RawMessage(`{"task_id": "task-1"}`),
	}, nil, nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %v", result.Content)
	}

	var status adapters.TaskStatus
	if err := json.Unmarshal([]byte(result.Content[0].Text), &status); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if status.Record.Model != "MTransE" || status.Running {
		t.Errorf("status = %+v", status)
	}
}

func TestCallTaskStatusToolUnknownID(t *testing.T) {
	store := &stubTaskStore{records: map[string]adapters.TaskRecord{}}
	srv := New(testAgent(t), store)

	result, err := srv.CallTool(context.Background(), mcp.CallToolParams{
		Name:      TaskToolName,
		Arguments: json.RawMessage(`{"task_id": "absent"}`),
	}, nil, nil)
	if err != nil {
		t.Fatalf("unknown tasks must not be protocol errors: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content[0].Text, "absent") {
		t.Errorf("result = %+v", result)
	}
}

func TestCallTaskStatusToolEmptyID(t *testing.T) {
	store := &stubTaskStore{records: map[string]adapters.TaskRecord{}}
	srv := New(testAgent(t), store)

	_, err := srv.CallTool(context.Background(), mcp.CallToolParams{
		Name:      TaskToolName,
		Arguments: json.RawMessage(`{"task_id": " "}`),
	}, nil, nil)
	if err == nil {
		t.Fatal("expected error for empty task_id")
	}
}

func TestCallGoalToolEmptyGoal(t *testing.T) {
	srv := New(testAgent(t), nil)

	_, err := srv.CallTool(context.Background(), mcp.CallToolParams{
		Name:      GoalToolName,
		Arguments: json.RawMessage(`{"goal": "  "}`),
	}, nil, nil)
	if err == nil {
		t.Fatal("expected error for empty goal")
	}
}
