// Package config loads the capability table and adapter definitions from
// YAML and the external project locations from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/openkg/toolagent"
	"github.com/openkg/toolagent/internal/adapters"
	"gopkg.in/yaml.v3"
)

// File is the top-level configuration document.
type File struct {
	OutputDir          string             `yaml:"output_dir"`
	TaskStorePath      string             `yaml:"task_store_path"`
	DefaultStepTimeout string             `yaml:"default_step_timeout"`
	PlanCacheTTL       string             `yaml:"plan_cache_ttl"`
	Capabilities       []CapabilityConfig `yaml:"capabilities"`
}

// CapabilityConfig declares one capability and the adapter that serves it.
type CapabilityConfig struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	Requires    []string `yaml:"requires"`
	Produces    string   `yaml:"produces"`
	DefaultFor  []string `yaml:"default_for"`

	Adapter AdapterConfig `yaml:"adapter"`
}

// AdapterConfig selects and parameterizes the adapter implementation.
type AdapterConfig struct {
	// Type is one of: deepke_ner, deepke_re, deepke_ae, deepke_ee, mukg,
	// mg_judge, mg_extract, subprocess, http.
	Type string `yaml:"type"`

	Timeout   string `yaml:"timeout"`
	Exclusive bool   `yaml:"exclusive"`

	// subprocess adapters
	RootEnv        string                  `yaml:"root_env"`
	Dir            string                  `yaml:"dir"`
	InterpreterEnv string                  `yaml:"interpreter_env"`
	Interpreter    string                  `yaml:"interpreter"`
	Script         string                  `yaml:"script"`
	Args           []string                `yaml:"args"`
	Stdin          string                  `yaml:"stdin"`
	ConfigRewrite  *adapters.ConfigRewrite `yaml:"config_rewrite"`

	// mukg adapters
	TaskType string `yaml:"task_type"`

	// http adapters
	Endpoint string `yaml:"endpoint"`
}

// LoadEnv loads a .env file when one exists. Missing files are fine; the
// process environment may already carry everything.
func LoadEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// Load parses and validates a configuration file.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, toolagent.NewConfigurationError("failed to open config file", err)
	}
	defer f.Close()

	var file File
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&file); err != nil {
		return nil, toolagent.NewConfigurationError("failed to parse config YAML", err)
	}

	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

// Validate checks the capability table for duplicate IDs, malformed adapter
// definitions, bad durations, and cycles in the declared graph, so broken
// configurations fail at startup instead of mid-request.
func (f *File) Validate() error {
	if len(f.Capabilities) == 0 {
		return toolagent.NewConfigurationError("config declares no capabilities", nil)
	}

	if _, err := f.StepTimeout(); err != nil {
		return err
	}
	if _, err := f.CacheTTL(); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(f.Capabilities))
	producers := make(map[string][]string)
	defaults := make(map[string]struct{})
	for _, c := range f.Capabilities {
		if c.ID == "" {
			return toolagent.NewConfigurationError("capability with empty id", nil)
		}
		if _, dup := seen[c.ID]; dup {
			return toolagent.NewConfigurationError("duplicate capability id '"+c.ID+"'", nil)
		}
		seen[c.ID] = struct{}{}

		if c.Produces == "" {
			return toolagent.NewConfigurationError("capability '"+c.ID+"' produces nothing", nil)
		}
		producers[c.Produces] = append(producers[c.Produces], c.ID)

		for _, kind := range append(append([]string{c.Produces}, c.Requires...), c.DefaultFor...) {
			if _, known := knownKinds[kind]; !known {
				return toolagent.NewConfigurationError(
					"capability '"+c.ID+"' references unknown kind '"+kind+"'", nil)
			}
		}
		for _, kind := range c.DefaultFor {
			defaults[kind] = struct{}{}
		}

		if c.Adapter.Type == "" {
			return toolagent.NewConfigurationError("capability '"+c.ID+"' has no adapter type", nil)
		}
		if c.Adapter.Timeout != "" {
			if _, err := time.ParseDuration(c.Adapter.Timeout); err != nil {
				return toolagent.NewConfigurationError(
					"capability '"+c.ID+"' has an invalid timeout", err)
			}
		}
	}

	// Two producers of one kind with no declared default would surface as an
	// ambiguity error on the first request that plans through that kind.
	for kind, ids := range producers {
		if len(ids) > 1 {
			if _, ok := defaults[kind]; !ok {
				return toolagent.NewConfigurationError(
					fmt.Sprintf("kind '%s' has multiple producers (%s) and no default_for declaration",
						kind, strings.Join(ids, ", ")), nil)
			}
		}
	}

	return f.detectCycles(producers)
}

// knownKinds is the set of kind tags the bundled adapters exchange.
var knownKinds = map[string]struct{}{
	string(toolagent.KindRawText):          {},
	string(toolagent.KindEntitySpans):      {},
	string(toolagent.KindRelationTriples):  {},
	string(toolagent.KindAttributeTriples): {},
	string(toolagent.KindEventRecords):     {},
	string(toolagent.KindModelSpec):        {},
	string(toolagent.KindTaskReceipt):      {},
	string(toolagent.KindGuidelineFlag):    {},
	string(toolagent.KindGuidelineRecords): {},
}

// detectCycles walks the declared requires/produces edges with DFS. The
// resolver would catch a cycle at request time; failing at load time is
// strictly better.
func (f *File) detectCycles(producers map[string][]string) error {
	byID := make(map[string]CapabilityConfig, len(f.Capabilities))
	for _, c := range f.Capabilities {
		byID[c.ID] = c
	}

	visited := make(map[string]bool, len(f.Capabilities))
	stack := make(map[string]bool, len(f.Capabilities))
	var hasCycle func(id string) bool
	hasCycle = func(id string) bool {
		if stack[id] {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		stack[id] = true
		for _, kind := range byID[id].Requires {
			for _, producer := range producers[kind] {
				if hasCycle(producer) {
					return true
				}
			}
		}
		stack[id] = false
		return false
	}
	for _, c := range f.Capabilities {
		if hasCycle(c.ID) {
			return toolagent.NewConfigurationError(
				"cycle detected in capability graph at '"+c.ID+"'", nil)
		}
	}
	return nil
}

// StepTimeout parses the default step timeout, 5 minutes when unset.
func (f *File) StepTimeout() (time.Duration, error) {
	if f.DefaultStepTimeout == "" {
		return 5 * time.Minute, nil
	}
	d, err := time.ParseDuration(f.DefaultStepTimeout)
	if err != nil {
		return 0, toolagent.NewConfigurationError("invalid default_step_timeout", err)
	}
	return d, nil
}

// CacheTTL parses the plan cache TTL, 30 minutes when unset.
func (f *File) CacheTTL() (time.Duration, error) {
	if f.PlanCacheTTL == "" {
		return 30 * time.Minute, nil
	}
	d, err := time.ParseDuration(f.PlanCacheTTL)
	if err != nil {
		return 0, toolagent.NewConfigurationError("invalid plan_cache_ttl", err)
	}
	return d, nil
}

// ToRegistryEntries converts the capability table to registry entries.
func (f *File) ToRegistryEntries() []toolagent.RegistryEntry {
	entries := make([]toolagent.RegistryEntry, 0, len(f.Capabilities))
	for _, c := range f.Capabilities {
		requires := make([]toolagent.Kind, 0, len(c.Requires))
		for _, kind := range c.Requires {
			requires = append(requires, toolagent.Kind(kind))
		}
		defaults := make([]toolagent.Kind, 0, len(c.DefaultFor))
		for _, kind := range c.DefaultFor {
			defaults = append(defaults, toolagent.Kind(kind))
		}
		entries = append(entries, toolagent.RegistryEntry{
			Capability: toolagent.Capability{
				ID:          c.ID,
				Description: c.Description,
				Requires:    requires,
				Produces:    toolagent.Kind(c.Produces),
			},
			DefaultFor: defaults,
		})
	}
	return entries
}

// BuildAdapters instantiates one adapter per capability.
func (f *File) BuildAdapters(store adapters.TaskStore) (map[string]toolagent.Adapter, error) {
	out := make(map[string]toolagent.Adapter, len(f.Capabilities))
	for _, c := range f.Capabilities {
		adapter, err := buildAdapter(c, store)
		if err != nil {
			return nil, err
		}
		out[c.ID] = adapter
	}
	return out, nil
}

func buildAdapter(c CapabilityConfig, store adapters.TaskStore) (toolagent.Adapter, error) {
	timeout := time.Duration(0)
	if c.Adapter.Timeout != "" {
		timeout, _ = time.ParseDuration(c.Adapter.Timeout)
	}

	switch c.Adapter.Type {
	case "deepke_ner":
		return adapters.NewDeepKENERAdapter(timeout)
	case "deepke_re":
		return adapters.NewDeepKEREAdapter(timeout)
	case "deepke_ae":
		return adapters.NewDeepKEAEAdapter(timeout)
	case "deepke_ee":
		return adapters.NewEventExtractionAdapter(timeout), nil
	case "mukg":
		if c.Adapter.TaskType == "" {
			return nil, toolagent.NewConfigurationError(
				"capability '"+c.ID+"' needs task_type for the mukg adapter", nil)
		}
		return adapters.NewMuKGAdapter(c.ID, c.Adapter.TaskType, store), nil
	case "mg_judge":
		return adapters.NewGuidelineJudgeAdapter(timeout)
	case "mg_extract":
		return adapters.NewGuidelineExtractAdapter(timeout)
	case "subprocess":
		return adapters.NewSubprocessAdapter(adapters.SubprocessConfig{
			Name:           c.ID,
			Produces:       toolagent.Kind(c.Produces),
			RootEnv:        c.Adapter.RootEnv,
			Dir:            c.Adapter.Dir,
			InterpreterEnv: c.Adapter.InterpreterEnv,
			Interpreter:    c.Adapter.Interpreter,
			Script:         c.Adapter.Script,
			Args:           c.Adapter.Args,
			StdinTemplate:  c.Adapter.Stdin,
			ConfigRewrite:  c.Adapter.ConfigRewrite,
			Timeout:        timeout,
			Exclusive:      c.Adapter.Exclusive,
		})
	case "http":
		if c.Adapter.Endpoint == "" {
			return nil, toolagent.NewConfigurationError(
				"capability '"+c.ID+"' needs an endpoint for the http adapter", nil)
		}
		options := []adapters.HTTPOption{adapters.WithHTTPTimeout(timeout)}
		if c.Adapter.Exclusive {
			options = append(options, adapters.WithHTTPExclusive())
		}
		return adapters.NewHTTPAdapter(c.ID, toolagent.Kind(c.Produces), c.Adapter.Endpoint, options...), nil
	default:
		return nil, toolagent.NewConfigurationError(
			fmt.Sprintf("capability '%s' has unknown adapter type '%s'", c.ID, c.Adapter.Type), nil)
	}
}
