package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/openkg/toolagent"
	"gopkg.in/yaml.v3"
)

// OutputParser turns a subprocess's stdout into a structured payload.
type OutputParser func(stdout string) (interface{}, error)

// ConfigRewrite patches one field of a YAML file in the wrapped project
// before the process runs. Several wrapped projects read their input from a
// config file rather than argv or stdin.
type ConfigRewrite struct {
	// File is the YAML file path relative to the working directory.
	File string `yaml:"file"`

	// Field is the top-level key to set.
	Field string `yaml:"field"`

	// Template renders the value written into the field.
	Template string `yaml:"template"`
}

// SubprocessConfig describes how to invoke one wrapped external project.
type SubprocessConfig struct {
	// Name is the capability ID the adapter serves.
	Name string

	// Produces is the output kind of a successful run.
	Produces toolagent.Kind

	// RootEnv names the environment variable holding the wrapped
	// project's checkout root, e.g. DEEPKE_PATH.
	RootEnv string

	// Dir is the working directory relative to the root.
	Dir string

	// InterpreterEnv names the environment variable selecting the
	// interpreter for the wrapped project's own environment, e.g.
	// CONDA_DEEPKE_PY. Interpreter is the fallback when it is unset.
	InterpreterEnv string
	Interpreter    string

	// Script and Args form the command line. Args entries are templates
	// rendered against the step inputs.
	Script string
	Args   []string

	// StdinTemplate, when non-empty, is rendered and fed to stdin.
	StdinTemplate string

	// ConfigRewrite, when set, is applied before the process starts.
	ConfigRewrite *ConfigRewrite

	Timeout   time.Duration
	Exclusive bool

	// Parser converts stdout into the result payload. The default trims
	// whitespace and returns the raw text.
	Parser OutputParser
}

// SubprocessAdapter invokes a wrapped external project as a child process.
// Paths and interpreter selection come from the environment so the same
// binary can drive differently located checkouts.
type SubprocessAdapter struct {
	config SubprocessConfig
}

// NewSubprocessAdapter creates an adapter from its config.
func NewSubprocessAdapter(config SubprocessConfig) (*SubprocessAdapter, error) {
	if config.Name == "" {
		return nil, toolagent.NewConfigurationError("subprocess adapter requires a name", nil)
	}
	if config.Script == "" {
		return nil, toolagent.NewConfigurationError(
			"subprocess adapter '"+config.Name+"' requires a script", nil)
	}
	for _, arg := range config.Args {
		if err := ValidateTemplate(arg); err != nil {
			return nil, toolagent.NewConfigurationError(
				"subprocess adapter '"+config.Name+"' has an invalid argument template", err)
		}
	}
	if err := ValidateTemplate(config.StdinTemplate); err != nil {
		return nil, toolagent.NewConfigurationError(
			"subprocess adapter '"+config.Name+"' has an invalid stdin template", err)
	}
	if config.Parser == nil {
		config.Parser = func(stdout string) (interface{}, error) {
			return strings.TrimSpace(stdout), nil
		}
	}
	return &SubprocessAdapter{config: config}, nil
}

// Name implements toolagent.Adapter.
func (a *SubprocessAdapter) Name() string { return a.config.Name }

// Exclusive implements toolagent.Adapter. Adapters that rewrite shared
// config files or hold a GPU declare themselves exclusive.
func (a *SubprocessAdapter) Exclusive() bool { return a.config.Exclusive }

// Timeout implements toolagent.Adapter.
func (a *SubprocessAdapter) Timeout() time.Duration { return a.config.Timeout }

// Invoke implements toolagent.Adapter.
func (a *SubprocessAdapter) Invoke(ctx context.Context, inputs map[toolagent.Kind]interface{}) (toolagent.ToolCallResult, error) {
	workDir, interpreter, err := a.resolveEnvironment()
	if err != nil {
		return failure(a.config.Name, a.config.Produces, err), err
	}

	args := make([]string, 0, len(a.config.Args)+1)
	args = append(args, a.config.Script)
	for _, tmpl := range a.config.Args {
		rendered, err := RenderTemplate(tmpl, inputs)
		if err != nil {
			wrapped := toolagent.NewAdapterFailureError(a.config.Name, err)
			return failure(a.config.Name, a.config.Produces, wrapped), wrapped
		}
		args = append(args, rendered)
	}

	if a.config.ConfigRewrite != nil {
		if err := a.applyConfigRewrite(workDir, inputs); err != nil {
			wrapped := toolagent.NewAdapterFailureError(a.config.Name, err)
			return failure(a.config.Name, a.config.Produces, wrapped), wrapped
		}
	}

	cmd := exec.CommandContext(ctx, interpreter, args...)
	cmd.Dir = workDir
	terminateProcessTree(cmd)

	if a.config.StdinTemplate != "" {
		stdin, err := RenderTemplate(a.config.StdinTemplate, inputs)
		if err != nil {
			wrapped := toolagent.NewAdapterFailureError(a.config.Name, err)
			return failure(a.config.Name, a.config.Produces, wrapped), wrapped
		}
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Printf("Invoking subprocess (capability: %s, dir: %s, interpreter: %s, script: %s)",
		a.config.Name, workDir, interpreter, a.config.Script)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			// Let the coordinator classify timeout vs cancel.
			return failure(a.config.Name, a.config.Produces, ctx.Err()), ctx.Err()
		}
		runErr := fmt.Errorf("%s exited: %w (stderr: %s)", a.config.Script, err, tail(stderr.String(), 512))
		wrapped := toolagent.NewAdapterFailureError(a.config.Name, runErr)
		return failure(a.config.Name, a.config.Produces, wrapped), wrapped
	}

	payload, err := a.config.Parser(stdout.String())
	if err != nil {
		wrapped := toolagent.NewAdapterFailureError(a.config.Name,
			fmt.Errorf("parsing %s output: %w", a.config.Script, err))
		return failure(a.config.Name, a.config.Produces, wrapped), wrapped
	}

	return toolagent.ToolCallResult{
		Capability: a.config.Name,
		Kind:       a.config.Produces,
		Payload:    payload,
		Status:     toolagent.CallStatusSucceeded,
	}, nil
}

// resolveEnvironment locates the wrapped project and its interpreter from
// the process environment.
func (a *SubprocessAdapter) resolveEnvironment() (workDir, interpreter string, err error) {
	workDir = a.config.Dir
	if a.config.RootEnv != "" {
		root := os.Getenv(a.config.RootEnv)
		if root == "" {
			return "", "", toolagent.NewConfigurationError(
				"environment variable "+a.config.RootEnv+" is not set for capability '"+a.config.Name+"'", nil)
		}
		workDir = filepath.Join(root, a.config.Dir)
	}

	interpreter = a.config.Interpreter
	if a.config.InterpreterEnv != "" {
		if fromEnv := os.Getenv(a.config.InterpreterEnv); fromEnv != "" {
			interpreter = fromEnv
		}
	}
	if interpreter == "" {
		return "", "", toolagent.NewConfigurationError(
			"no interpreter configured for capability '"+a.config.Name+"'", nil)
	}
	return workDir, interpreter, nil
}

// applyConfigRewrite loads the wrapped project's YAML config, replaces one
// field with the rendered value, and writes it back in place.
func (a *SubprocessAdapter) applyConfigRewrite(workDir string, inputs map[toolagent.Kind]interface{}) error {
	rewrite := a.config.ConfigRewrite
	value, err := RenderTemplate(rewrite.Template, inputs)
	if err != nil {
		return err
	}

	path := filepath.Join(workDir, rewrite.File)
	if err := rewriteYAMLField(path, rewrite.Field, value); err != nil {
		return err
	}

	log.Printf("Rewrote wrapped project config (capability: %s, file: %s, field: %s)",
		a.config.Name, rewrite.File, rewrite.Field)
	return nil
}

// rewriteYAMLField sets one top-level key of a YAML file in place.
func rewriteYAMLField(path, field string, value interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}

	doc := make(map[string]interface{})
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	doc[field] = value

	updated, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding config %s: %w", path, err)
	}
	if err := os.WriteFile(path, updated, 0o644); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

// terminateProcessTree makes context cancellation reach the whole process
// group, not just the interpreter: the wrapped scripts fork workers that
// inherit the stdio pipes, and Run blocks until every holder of those pipes
// exits. WaitDelay bounds that wait for anything the kill signal misses.
func terminateProcessTree(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 3 * time.Second
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

var errNoOutput = errors.New("subprocess produced no parseable output")
