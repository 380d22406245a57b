package adapters

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openkg/toolagent"
)

func rawText(text string) map[toolagent.Kind]interface{} {
	return map[toolagent.Kind]interface{}{toolagent.KindRawText: text}
}

func TestSubprocessArgvTemplate(t *testing.T) {
	adapter, err := NewSubprocessAdapter(SubprocessConfig{
		Name:        "ECHO",
		Produces:    toolagent.KindEntitySpans,
		Interpreter: "/bin/sh",
		Script:      "-c",
		Args:        []string{"echo ${raw_text}"},
	})
	if err != nil {
		t.Fatalf("building adapter: %v", err)
	}

	result, err := adapter.Invoke(context.Background(), rawText("hello"))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result.Payload != "hello" {
		t.Errorf("payload = %q, want %q", result.Payload, "hello")
	}
	if result.Failed() {
		t.Error("result should be success")
	}
}

func TestSubprocessStdinTemplate(t *testing.T) {
	adapter, err := NewSubprocessAdapter(SubprocessConfig{
		Name:          "CAT",
		Produces:      toolagent.KindEntitySpans,
		Interpreter:   "/bin/sh",
		Script:        "-c",
		Args:          []string{"cat"},
		StdinTemplate: "n\n${raw_text}\n",
	})
	if err != nil {
		t.Fatalf("building adapter: %v", err)
	}

	result, err := adapter.Invoke(context.Background(), rawText("sentence"))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result.Payload != "n\nsentence" {
		t.Errorf("payload = %q", result.Payload)
	}
}

func TestSubprocessConfigRewrite(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "predict.yaml")
	if err := os.WriteFile(configPath, []byte("text: old\nmodel: bert\n"), 0o644); err != nil {
		t.Fatalf("writing seed config: %v", err)
	}

	adapter, err := NewSubprocessAdapter(SubprocessConfig{
		Name:        "REWRITE",
		Produces:    toolagent.KindEntitySpans,
		Dir:         dir,
		Interpreter: "/bin/cat",
		Script:      "predict.yaml",
		ConfigRewrite: &ConfigRewrite{
			File:     "predict.yaml",
			Field:    "text",
			Template: "${raw_text}",
		},
	})
	if err != nil {
		t.Fatalf("building adapter: %v", err)
	}

	result, err := adapter.Invoke(context.Background(), rawText("new input"))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	output, _ := result.Payload.(string)
	if !strings.Contains(output, "new input") {
		t.Errorf("rewritten config should carry the new text, got %q", output)
	}
	if !strings.Contains(output, "model: bert") {
		t.Errorf("untouched fields must survive the rewrite, got %q", output)
	}
}

func TestSubprocessFailureCarriesStderr(t *testing.T) {
	adapter, err := NewSubprocessAdapter(SubprocessConfig{
		Name:        "FAIL",
		Produces:    toolagent.KindEntitySpans,
		Interpreter: "/bin/sh",
		Script:      "-c",
		Args:        []string{"echo boom >&2; exit 3"},
	})
	if err != nil {
		t.Fatalf("building adapter: %v", err)
	}

	result, err := adapter.Invoke(context.Background(), rawText("x"))
	if err == nil {
		t.Fatal("expected failure")
	}
	var agentErr *toolagent.AgentError
	if !errors.As(err, &agentErr) || agentErr.Code != toolagent.ErrCodeAdapterFailure {
		t.Fatalf("expected adapter failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error should carry stderr, got %v", err)
	}
	if !result.Failed() {
		t.Error("result should report failure")
	}
}

func TestSubprocessMissingRootEnv(t *testing.T) {
	adapter, err := NewSubprocessAdapter(SubprocessConfig{
		Name:        "NOROOT",
		Produces:    toolagent.KindEntitySpans,
		RootEnv:     "TOOLAGENT_TEST_UNSET_ROOT",
		Interpreter: "/bin/sh",
		Script:      "-c",
	})
	if err != nil {
		t.Fatalf("building adapter: %v", err)
	}
	os.Unsetenv("TOOLAGENT_TEST_UNSET_ROOT")

	_, err = adapter.Invoke(context.Background(), rawText("x"))
	var agentErr *toolagent.AgentError
	if !errors.As(err, &agentErr) || agentErr.Code != toolagent.ErrCodeConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestSubprocessHonorsContext(t *testing.T) {
	adapter, err := NewSubprocessAdapter(SubprocessConfig{
		Name:        "SLEEP",
		Produces:    toolagent.KindEntitySpans,
		Interpreter: "/bin/sh",
		Script:      "-c",
		Args:        []string{"sleep 5"},
	})
	if err != nil {
		t.Fatalf("building adapter: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = adapter.Invoke(ctx, rawText("x"))
	if err == nil {
		t.Fatal("expected error after context deadline")
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("invoke did not stop with the context, took %v", time.Since(start))
	}
}

func TestSubprocessKillsDetachedChildren(t *testing.T) {
	// The background sleep inherits the stdio pipes; Invoke must still
	// return once the deadline kills the process group.
	adapter, err := NewSubprocessAdapter(SubprocessConfig{
		Name:        "FORK",
		Produces:    toolagent.KindEntitySpans,
		Interpreter: "/bin/sh",
		Script:      "-c",
		Args:        []string{"sleep 5 & sleep 5"},
	})
	if err != nil {
		t.Fatalf("building adapter: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = adapter.Invoke(ctx, rawText("x"))
	if err == nil {
		t.Fatal("expected error after context deadline")
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("child process kept invoke alive for %v", time.Since(start))
	}
}

func TestSubprocessRejectsBadTemplates(t *testing.T) {
	_, err := NewSubprocessAdapter(SubprocessConfig{
		Name:        "BAD",
		Produces:    toolagent.KindEntitySpans,
		Interpreter: "/bin/sh",
		Script:      "-c",
		Args:        []string{"expr:raw_text +"},
	})
	var agentErr *toolagent.AgentError
	if !errors.As(err, &agentErr) || agentErr.Code != toolagent.ErrCodeConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
