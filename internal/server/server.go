// Package server exposes a tool agent's capability catalog over the Model
// Context Protocol. Each registered capability becomes one MCP tool; a
// synthetic interpret_goal tool forwards free-text goals to the goal planner.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/MegaGrindStone/go-mcp"

	"github.com/openkg/toolagent"
	"github.com/openkg/toolagent/internal/adapters"
)

// GoalToolName is the synthetic tool that maps a free-text goal to a
// capability before executing it.
const GoalToolName = "interpret_goal"

// TaskToolName is the synthetic tool answering status queries for background
// model runs by the task ID from their receipts.
const TaskToolName = "task_status"

// Agent is the slice of the tool agent the server needs. *toolagent.ToolAgent
// satisfies it.
type Agent interface {
	Registry() *toolagent.Registry
	Request(ctx context.Context, capabilityID string, inputs map[toolagent.Kind]interface{}) (toolagent.ToolCallResult, error)
	RequestGoal(ctx context.Context, goal string) (toolagent.ToolCallResult, error)
}

// Server implements mcp.ToolServer on top of a tool agent. Tool names are
// capability identifiers; arguments are payloads keyed by kind. Missing
// arguments are not an error as long as the resolver can plan producers for
// them.
type Server struct {
	agent Agent
	tasks adapters.TaskStore
}

// New creates an MCP tool server for the given agent. tasks backs the
// task_status tool; pass nil when no capability spawns background runs and
// the tool is omitted.
func New(agent Agent, tasks adapters.TaskStore) *Server {
	return &Server{agent: agent, tasks: tasks}
}

// ListTools implements mcp.ToolServer. It returns one tool per registered
// capability plus the interpret_goal tool.
func (s *Server) ListTools(
	context.Context,
	mcp.ListToolsParams,
	mcp.ProgressReporter,
	mcp.RequestClientFunc,
) (mcp.ListToolsResult, error) {
	capabilities := s.agent.Registry().List()
	tools := make([]mcp.Tool, 0, len(capabilities)+1)
	for _, capability := range capabilities {
		tools = append(tools, mcp.Tool{
			Name:        capability.ID,
			Description: toolDescription(capability),
			InputSchema: inputSchema(capability.Requires),
		})
	}
	tools = append(tools, mcp.Tool{
		Name:        GoalToolName,
		Description: "Map a free-text extraction goal to a capability and execute it.",
		InputSchema: goalSchema,
	})
	if s.tasks != nil {
		tools = append(tools, mcp.Tool{
			Name:        TaskToolName,
			Description: "Query the state and log window of a background model run by task ID.",
			InputSchema: taskSchema,
		})
	}
	return mcp.ListToolsResult{Tools: tools}, nil
}

// CallTool implements mcp.ToolServer. Execution failures are reported inside
// the result with IsError set, so the MCP session stays alive; only protocol
// level problems (unknown tool, malformed arguments) return an error.
func (s *Server) CallTool(
	ctx context.Context,
	params mcp.CallToolParams,
	_ mcp.ProgressReporter,
	_ mcp.RequestClientFunc,
) (mcp.CallToolResult, error) {
	if params.Name == GoalToolName {
		return s.callGoal(ctx, params)
	}
	if params.Name == TaskToolName && s.tasks != nil {
		return s.callTaskStatus(params)
	}

	if _, err := s.agent.Registry().Lookup(params.Name); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("tool not found: %s", params.Name)
	}

	inputs, err := decodeInputs(params.Arguments)
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	result, err := s.agent.Request(ctx, params.Name, inputs)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

func (s *Server) callGoal(ctx context.Context, params mcp.CallToolParams) (mcp.CallToolResult, error) {
	var args struct {
		Goal string `json:"goal"`
	}
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("decoding %s arguments: %w", GoalToolName, err)
	}
	if strings.TrimSpace(args.Goal) == "" {
		return mcp.CallToolResult{}, fmt.Errorf("%s requires a non-empty goal", GoalToolName)
	}

	result, err := s.agent.RequestGoal(ctx, args.Goal)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

func (s *Server) callTaskStatus(params mcp.CallToolParams) (mcp.CallToolResult, error) {
	var args struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("decoding %s arguments: %w", TaskToolName, err)
	}
	if strings.TrimSpace(args.TaskID) == "" {
		return mcp.CallToolResult{}, fmt.Errorf("%s requires a non-empty task_id", TaskToolName)
	}

	status, err := adapters.CheckTask(s.tasks, args.TaskID)
	if err != nil {
		return errorResult(err), nil
	}
	body, err := json.Marshal(status)
	if err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("encoding status for task %s: %w", args.TaskID, err)
	}
	return mcp.CallToolResult{
		Content: []mcp.Content{
			{
				Type: mcp.ContentTypeText,
				Text: string(body),
			},
		},
	}, nil
}

// decodeInputs converts the tool arguments object into kind-keyed payloads.
func decodeInputs(raw json.RawMessage) (map[toolagent.Kind]interface{}, error) {
	if len(raw) == 0 {
		return map[toolagent.Kind]interface{}{}, nil
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decoding tool arguments: %w", err)
	}
	inputs := make(map[toolagent.Kind]interface{}, len(fields))
	for name, payload := range fields {
		inputs[toolagent.Kind(name)] = payload
	}
	return inputs, nil
}

func successResult(result toolagent.ToolCallResult) (mcp.CallToolResult, error) {
	body, err := json.Marshal(result)
	if err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("encoding result for %s: %w", result.Capability, err)
	}
	return mcp.CallToolResult{
		Content: []mcp.Content{
			{
				Type: mcp.ContentTypeText,
				Text: string(body),
			},
		},
		IsError: false,
	}, nil
}

func errorResult(err error) mcp.CallToolResult {
	return mcp.CallToolResult{
		Content: []mcp.Content{
			{
				Type: mcp.ContentTypeText,
				Text: err.Error(),
			},
		},
		IsError: true,
	}
}

func toolDescription(capability toolagent.Capability) string {
	if capability.Description != "" {
		return capability.Description
	}
	return fmt.Sprintf("Produce a %s payload.", capability.Produces)
}

// inputSchema builds the arguments schema from a capability's required kinds.
// No kind is marked required: the resolver plans producers for anything the
// caller leaves out.
func inputSchema(requires []toolagent.Kind) json.RawMessage {
	properties := make(map[string]interface{}, len(requires))
	names := make([]string, 0, len(requires))
	for _, kind := range requires {
		names = append(names, string(kind))
	}
	sort.Strings(names)
	for _, name := range names {
		properties[name] = map[string]interface{}{
			"description": fmt.Sprintf("Payload tagged %s. Omit it to have a producer planned.", name),
		}
	}
	schema, err := json.Marshal(map[string]interface{}{
		"type":       "object",
		"properties": properties,
	})
	if err != nil {
		// Marshaling string-keyed maps of plain values cannot fail.
		return json.RawMessage(`{"type":"object"}`)
	}
	return schema
}

var goalSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "goal": {
      "type": "string",
      "description": "Free-text description of the extraction to perform."
    }
  },
  "required": ["goal"]
}`)

var taskSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "task_id": {
      "type": "string",
      "description": "Task ID from a task_receipt payload."
    }
  },
  "required": ["task_id"]
}`)
