package adapters

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/openkg/toolagent"
)

// Environment variables locating the DeepKE checkout and its interpreters.
const (
	DeepKEPathEnv          = "DEEPKE_PATH"
	DeepKEInterpreterEnv   = "CONDA_DEEPKE_PY"
	DeepKEEEInterpreterEnv = "CONDA_DEEPKE_EE_PY"
)

// spanTupleRe matches the ('text', 'LABEL') tuples DeepKE's standard NER
// predict script prints.
var spanTupleRe = regexp.MustCompile(`\('([^']*)'\s*,\s*'([^']*)'\)`)

// NewDeepKENERAdapter wraps DeepKE's standard named entity recognition.
// The wrapped script reads its input from conf/predict.yaml, so the adapter
// rewrites the text field before each run and must be exclusive.
func NewDeepKENERAdapter(timeout time.Duration) (*SubprocessAdapter, error) {
	return NewSubprocessAdapter(SubprocessConfig{
		Name:           "NER",
		Produces:       toolagent.KindEntitySpans,
		RootEnv:        DeepKEPathEnv,
		Dir:            "example/ner/standard",
		InterpreterEnv: DeepKEInterpreterEnv,
		Script:         "predict.py",
		ConfigRewrite: &ConfigRewrite{
			File:     "conf/predict.yaml",
			Field:    "text",
			Template: "${raw_text}",
		},
		Timeout:   timeout,
		Exclusive: true,
		Parser:    ParseEntitySpans,
	})
}

// NewDeepKEREAdapter wraps DeepKE's standard relation extraction. The
// wrapped script prompts interactively, so the adapter feeds its answers
// over stdin: no further input, then sentence, head, head type, tail, tail
// type.
func NewDeepKEREAdapter(timeout time.Duration) (*SubprocessAdapter, error) {
	return NewSubprocessAdapter(SubprocessConfig{
		Name:           "RE",
		Produces:       toolagent.KindRelationTriples,
		RootEnv:        DeepKEPathEnv,
		Dir:            "example/re/standard",
		InterpreterEnv: DeepKEInterpreterEnv,
		Script:         "predict.py",
		StdinTemplate: "n\n${raw_text}\n${entity_span_list.head}\n${entity_span_list.head_type}\n" +
			"${entity_span_list.tail}\n${entity_span_list.tail_type}\n",
		Timeout: timeout,
		Parser:  ParseRelationOutput,
	})
}

// NewDeepKEAEAdapter wraps DeepKE's standard attribute extraction. The
// head span serves as the entity and the tail span as the candidate
// attribute value.
func NewDeepKEAEAdapter(timeout time.Duration) (*SubprocessAdapter, error) {
	return NewSubprocessAdapter(SubprocessConfig{
		Name:           "AE",
		Produces:       toolagent.KindAttributeTriples,
		RootEnv:        DeepKEPathEnv,
		Dir:            "example/ae/standard",
		InterpreterEnv: DeepKEInterpreterEnv,
		Script:         "predict.py",
		StdinTemplate:  "n\n${raw_text}\n${entity_span_list.head}\n${entity_span_list.tail}\n",
		Timeout:        timeout,
		Parser:         ParseRelationOutput,
	})
}

// ParseEntitySpans extracts recognized spans from NER stdout. The head and
// tail convenience fields feed downstream extraction steps.
func ParseEntitySpans(stdout string) (interface{}, error) {
	matches := spanTupleRe.FindAllStringSubmatch(stdout, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no entity spans in NER output", errNoOutput)
	}

	spans := make([]interface{}, 0, len(matches))
	for _, m := range matches {
		spans = append(spans, map[string]interface{}{
			"text":  m[1],
			"label": m[2],
		})
	}

	head := matches[0]
	tail := matches[len(matches)-1]
	return map[string]interface{}{
		"spans":     spans,
		"head":      head[1],
		"head_type": head[2],
		"tail":      tail[1],
		"tail_type": tail[2],
	}, nil
}

// ParseRelationOutput keeps the model's prediction lines, dropping the
// interactive prompt echo the wrapped scripts print before them.
func ParseRelationOutput(stdout string) (interface{}, error) {
	lines := strings.Split(stdout, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasSuffix(line, ":") || strings.HasSuffix(line, "：") {
			continue
		}
		kept = append(kept, line)
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: no predictions in output", errNoOutput)
	}
	return map[string]interface{}{"predictions": kept}, nil
}

// EventExtractionAdapter wraps DeepKE's event extraction pipeline. One
// invocation stages the input files, runs the trigger and role passes, then
// the prediction pass, and aggregates the result files the passes leave
// behind. The passes share conf/train.yaml and the exp/ output tree, so the
// adapter is always exclusive.
type EventExtractionAdapter struct {
	timeout time.Duration
}

// NewEventExtractionAdapter creates the DeepKE EE adapter.
func NewEventExtractionAdapter(timeout time.Duration) *EventExtractionAdapter {
	return &EventExtractionAdapter{timeout: timeout}
}

// Name implements toolagent.Adapter.
func (a *EventExtractionAdapter) Name() string { return "EE" }

// Exclusive implements toolagent.Adapter.
func (a *EventExtractionAdapter) Exclusive() bool { return true }

// Timeout implements toolagent.Adapter.
func (a *EventExtractionAdapter) Timeout() time.Duration { return a.timeout }

// Invoke implements toolagent.Adapter.
func (a *EventExtractionAdapter) Invoke(ctx context.Context, inputs map[toolagent.Kind]interface{}) (toolagent.ToolCallResult, error) {
	root := os.Getenv(DeepKEPathEnv)
	if root == "" {
		err := toolagent.NewConfigurationError("environment variable "+DeepKEPathEnv+" is not set", nil)
		return failure(a.Name(), toolagent.KindEventRecords, err), err
	}
	interpreter := os.Getenv(DeepKEEEInterpreterEnv)
	if interpreter == "" {
		err := toolagent.NewConfigurationError("environment variable "+DeepKEEEInterpreterEnv+" is not set", nil)
		return failure(a.Name(), toolagent.KindEventRecords, err), err
	}

	text, err := RenderTemplate("${raw_text}", inputs)
	if err != nil {
		wrapped := toolagent.NewAdapterFailureError(a.Name(), err)
		return failure(a.Name(), toolagent.KindEventRecords, wrapped), wrapped
	}

	baseDir := filepath.Join(root, "example/ee/standard")
	if err := stageEventInputs(baseDir, text); err != nil {
		wrapped := toolagent.NewAdapterFailureError(a.Name(), err)
		return failure(a.Name(), toolagent.KindEventRecords, wrapped), wrapped
	}

	trainConfig := filepath.Join(baseDir, "conf/train.yaml")
	stages := []struct {
		taskName string
		script   string
	}{
		{taskName: "trigger", script: "run.py"},
		{taskName: "role", script: "run.py"},
		{taskName: "", script: "predict.py"},
	}
	for _, stage := range stages {
		if stage.taskName != "" {
			if err := rewriteYAMLField(trainConfig, "task_name", stage.taskName); err != nil {
				wrapped := toolagent.NewAdapterFailureError(a.Name(), err)
				return failure(a.Name(), toolagent.KindEventRecords, wrapped), wrapped
			}
		}
		log.Printf("Running event extraction stage (task_name: %s, script: %s)", stage.taskName, stage.script)
		if err := runStage(ctx, baseDir, interpreter, stage.script); err != nil {
			if ctx.Err() != nil {
				return failure(a.Name(), toolagent.KindEventRecords, ctx.Err()), ctx.Err()
			}
			wrapped := toolagent.NewAdapterFailureError(a.Name(), err)
			return failure(a.Name(), toolagent.KindEventRecords, wrapped), wrapped
		}
	}

	payload, err := collectEventResults(baseDir)
	if err != nil {
		wrapped := toolagent.NewAdapterFailureError(a.Name(), err)
		return failure(a.Name(), toolagent.KindEventRecords, wrapped), wrapped
	}

	return toolagent.ToolCallResult{
		Capability: a.Name(),
		Kind:       toolagent.KindEventRecords,
		Payload:    payload,
		Status:     toolagent.CallStatusSucceeded,
	}, nil
}

// stageEventInputs writes the raw JSON record and the trigger/role TSV
// files the event extraction passes read. Tokens and aligned label columns
// are joined with the 0x02 separator the wrapped dataset format uses.
func stageEventInputs(baseDir, text string) error {
	sum := md5.Sum([]byte(text))
	record := map[string]string{"text": text, "id": hex.EncodeToString(sum[:])}
	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(baseDir, "data/DuEE/raw/duee_dev.json"),
		append(encoded, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing raw input: %w", err)
	}

	runes := []rune(text)
	tokens := make([]string, len(runes))
	labels := make([]string, len(runes))
	for i, r := range runes {
		tokens[i] = string(r)
		labels[i] = "O"
	}
	tokenCol := strings.Join(tokens, "\x02")
	labelCol := strings.Join(labels, "\x02")

	trigger := "text_a\tlabel\tindex\n" + tokenCol + "\t" + labelCol + "\t0\n"
	if err := os.WriteFile(filepath.Join(baseDir, "data/DuEE/trigger/dev.tsv"),
		[]byte(trigger), 0o644); err != nil {
		return fmt.Errorf("writing trigger input: %w", err)
	}

	role := "text_a\tlabel\ttrigger_tag\tindex\n" + tokenCol + "\t" + labelCol + "\t" + labelCol + "\t0\n"
	if err := os.WriteFile(filepath.Join(baseDir, "data/DuEE/role/dev.tsv"),
		[]byte(role), 0o644); err != nil {
		return fmt.Errorf("writing role input: %w", err)
	}
	return nil
}

func runStage(ctx context.Context, dir, interpreter, script string) error {
	cmd := exec.CommandContext(ctx, interpreter, script)
	cmd.Dir = dir
	terminateProcessTree(cmd)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w (stderr: %s)", script, err, tail(stderr.String(), 512))
	}
	return nil
}

// collectEventResults reads the files the trigger and role passes leave
// under exp/ and bundles them into one payload.
func collectEventResults(baseDir string) (interface{}, error) {
	read := func(rel string) (string, error) {
		raw, err := os.ReadFile(filepath.Join(baseDir, rel))
		if err != nil {
			return "", fmt.Errorf("reading result %s: %w", rel, err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	triggerPred, err := read("exp/DuEE/trigger/bert-base-chinese/eval_pred.json")
	if err != nil {
		return nil, err
	}
	triggerResult, err := read("exp/DuEE/trigger/bert-base-chinese/eval_results.txt")
	if err != nil {
		return nil, err
	}
	rolePred, err := read("exp/DuEE/role/bert-base-chinese/eval_pred.json")
	if err != nil {
		return nil, err
	}
	roleResult, err := read("exp/DuEE/role/bert-base-chinese/eval_results.txt")
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"trigger_results":     triggerResult,
		"trigger_predictions": triggerPred,
		"role_results":        roleResult,
		"role_predictions":    rolePred,
	}, nil
}
