// The toolagent command serves knowledge-graph extraction capabilities over
// MCP and runs one-shot, batch, and background-task operations from the
// terminal.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/firebase/genkit/go/genkit"
	"github.com/spf13/cobra"

	"github.com/openkg/toolagent"
	"github.com/openkg/toolagent/internal/adapters"
	"github.com/openkg/toolagent/internal/cache"
	"github.com/openkg/toolagent/internal/config"
	"github.com/openkg/toolagent/internal/coordinator"
	"github.com/openkg/toolagent/internal/eventbus"
	"github.com/openkg/toolagent/internal/resolver"
)

const version = "0.1.0"

var (
	configPath string
	envPath    string
)

var rootCmd = &cobra.Command{
	Use:   "toolagent",
	Short: "toolagent - knowledge-graph extraction tool agent",
	Long: "toolagent resolves dependencies between knowledge-graph extraction\n" +
		"capabilities (NER, RE, AE, EE, muKG, guideline extraction) and executes\n" +
		"them in order, serving the catalog over MCP.",
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "toolagent.yaml", "Capability catalog path")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", ".env", "Environment file path")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(capabilitiesCmd)
}

// runtime bundles everything a subcommand needs after wiring.
type runtime struct {
	cfg   *config.File
	agent *toolagent.ToolAgent
	store *cache.FileTaskStore
	bus   eventbus.EventBus
}

// buildRuntime loads the environment and catalog, then wires the registry,
// resolver, coordinator, caches, and goal planner into a tool agent.
func buildRuntime(ctx context.Context) (*runtime, error) {
	if err := config.LoadEnv(envPath); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	stepTimeout, err := cfg.StepTimeout()
	if err != nil {
		return nil, err
	}
	cacheTTL, err := cfg.CacheTTL()
	if err != nil {
		return nil, err
	}

	registry, err := toolagent.NewRegistry(cfg.ToRegistryEntries())
	if err != nil {
		return nil, err
	}

	taskStorePath := cfg.TaskStorePath
	if taskStorePath == "" {
		taskStorePath = "tasks.json"
	}
	store, err := cache.NewFileTaskStore(taskStorePath)
	if err != nil {
		return nil, err
	}
	adapterMap, err := cfg.BuildAdapters(store)
	if err != nil {
		return nil, err
	}

	bus := eventbus.NewChannelEventBus()
	coord, err := coordinator.New(registry, adapterMap,
		coordinator.WithDefaultStepTimeout(stepTimeout),
		coordinator.WithEventBus(bus),
	)
	if err != nil {
		return nil, err
	}

	g, err := genkit.Init(ctx)
	if err != nil {
		return nil, fmt.Errorf("genkit init: %w", err)
	}
	goalFlow := genkit.DefineFlow(g, "interpretGoal", adapters.MatchGoal)
	planner := adapters.NewGenkitGoalPlanner(goalFlow, cache.NewInMemoryCache(cacheTTL))

	agent, err := toolagent.New(
		toolagent.WithRegistry(registry),
		toolagent.WithResolver(resolver.New(registry)),
		toolagent.WithCoordinator(coord),
		toolagent.WithGoalPlanner(planner),
		toolagent.WithPlanCache(cache.NewInMemoryCache(cacheTTL)),
		toolagent.WithEventBus(bus),
	)
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:   cfg,
		agent: agent,
		store: store,
		bus:   bus,
	}, nil
}

// close drains the event bus.
func (rt *runtime) close(ctx context.Context) {
	if err := rt.bus.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "event bus shutdown: %v\n", err)
	}
}
