package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openkg/toolagent"
)

var (
	requestInputs string
	requestGoal   string
)

var requestCmd = &cobra.Command{
	Use:   "request [capability]",
	Short: "Resolve and execute one capability request",
	Long: "Resolve the execution plan for a capability and run it. Inputs the\n" +
		"caller already has are passed as a JSON object keyed by kind, e.g.\n" +
		"  toolagent request RE --inputs '{\"raw_text\": \"...\"}'\n" +
		"With --goal, the goal planner picks the capability instead.",
	Args: cobra.MaximumNArgs(1),
	RunE: runRequest,
}

func init() {
	requestCmd.Flags().StringVarP(&requestInputs, "inputs", "i", "{}", "Initial inputs as JSON keyed by kind")
	requestCmd.Flags().StringVarP(&requestGoal, "goal", "g", "", "Free-text goal instead of a capability ID")
}

func runRequest(_ *cobra.Command, args []string) error {
	if requestGoal == "" && len(args) == 0 {
		return fmt.Errorf("a capability ID or --goal is required")
	}

	ctx := context.Background()
	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	var result toolagent.ToolCallResult
	if requestGoal != "" {
		result, err = rt.agent.RequestGoal(ctx, requestGoal)
	} else {
		var inputs map[toolagent.Kind]interface{}
		inputs, err = decodeInputsFlag(requestInputs)
		if err != nil {
			return err
		}
		result, err = rt.agent.Request(ctx, args[0], inputs)
	}
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func decodeInputsFlag(raw string) (map[toolagent.Kind]interface{}, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("parsing --inputs: %w", err)
	}
	inputs := make(map[toolagent.Kind]interface{}, len(fields))
	for name, payload := range fields {
		inputs[toolagent.Kind(name)] = payload
	}
	return inputs, nil
}
