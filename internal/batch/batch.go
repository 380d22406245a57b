// Package batch runs a capability over every record of an input file with
// bounded fan-out.
package batch

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/openkg/toolagent"
	"github.com/sourcegraph/conc/pool"
)

// Requester is the slice of the agent the processor needs. *toolagent.ToolAgent
// satisfies it.
type Requester interface {
	Request(ctx context.Context, capabilityID string, inputs map[toolagent.Kind]interface{}) (toolagent.ToolCallResult, error)
}

// Processor fans one capability out over file records.
type Processor struct {
	agent      Requester
	outputDir  string
	maxWorkers int
}

// Option configures the processor.
type Option func(*Processor)

// WithMaxWorkers bounds the fan-out. Exclusive adapters still serialize at
// the coordinator regardless of this limit.
func WithMaxWorkers(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxWorkers = n
		}
	}
}

// New creates a batch processor writing results under outputDir.
func New(agent Requester, outputDir string, options ...Option) (*Processor, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, toolagent.NewConfigurationError("creating batch output dir", err)
	}
	p := &Processor{
		agent:      agent,
		outputDir:  outputDir,
		maxWorkers: 4,
	}
	for _, option := range options {
		option(p)
	}
	return p, nil
}

// ProcessTextFile runs NER over every non-empty line of a text file and
// writes token/label alignment output: one "token label" pair per line, a
// blank line between sentences. It returns the output file path.
func (p *Processor) ProcessTextFile(ctx context.Context, inputPath string) (string, error) {
	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}

	lines := strings.Split(string(raw), "\n")
	sentences := make([]string, 0, len(lines))
	for _, line := range lines {
		if text := strings.TrimSpace(line); text != "" {
			sentences = append(sentences, text)
		}
	}

	results := make([]string, len(sentences))
	var (
		mu       sync.Mutex
		firstErr error
	)

	workers := pool.New().WithMaxGoroutines(p.maxWorkers)
	for i, sentence := range sentences {
		i, sentence := i, sentence
		workers.Go(func() {
			block, err := p.alignSentence(ctx, sentence)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("line %d: %w", i+1, err)
				}
				return
			}
			results[i] = block
		})
	}
	workers.Wait()

	if firstErr != nil {
		return "", firstErr
	}

	outputPath := p.outputPath(inputPath, ".ner.txt")
	var out strings.Builder
	for _, block := range results {
		out.WriteString(block)
		out.WriteString("\n")
	}
	if err := os.WriteFile(outputPath, []byte(out.String()), 0o644); err != nil {
		return "", fmt.Errorf("writing output: %w", err)
	}

	log.Printf("Batch NER finished (input: %s, sentences: %d, output: %s)",
		inputPath, len(sentences), outputPath)
	return outputPath, nil
}

// alignSentence requests NER for one sentence and renders the token/label
// alignment block.
func (p *Processor) alignSentence(ctx context.Context, sentence string) (string, error) {
	result, err := p.agent.Request(ctx, "NER", map[toolagent.Kind]interface{}{
		toolagent.KindRawText: sentence,
	})
	if err != nil {
		return "", err
	}

	labels := spanLabels(result.Payload)

	var block strings.Builder
	for _, token := range sentence {
		label := labels[string(token)]
		if label == "" {
			label = "O"
		}
		block.WriteString(string(token))
		block.WriteString(" ")
		block.WriteString(label)
		block.WriteString("\n")
	}
	return block.String(), nil
}

// spanLabels indexes recognized span text by its first rune so tokens can be
// tagged during alignment.
func spanLabels(payload interface{}) map[string]string {
	labels := make(map[string]string)
	fields, ok := payload.(map[string]interface{})
	if !ok {
		return labels
	}
	spans, ok := fields["spans"].([]interface{})
	if !ok {
		return labels
	}
	for _, raw := range spans {
		span, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		text, _ := span["text"].(string)
		label, _ := span["label"].(string)
		if text == "" || label == "" {
			continue
		}
		for _, token := range text {
			labels[string(token)] = label
		}
	}
	return labels
}

// ProcessCSVFile runs AE over every row of a CSV with txt, entity, and
// attribute_value columns, appending an attribute column with the extraction
// result. It returns the output file path.
func (p *Processor) ProcessCSVFile(ctx context.Context, inputPath string) (string, error) {
	in, err := os.Open(inputPath)
	if err != nil {
		return "", fmt.Errorf("opening input: %w", err)
	}
	defer in.Close()

	reader := csv.NewReader(in)
	rows, err := reader.ReadAll()
	if err != nil {
		return "", fmt.Errorf("reading csv: %w", err)
	}
	if len(rows) < 1 {
		return "", fmt.Errorf("csv %s has no header", inputPath)
	}

	header := rows[0]
	column := func(name string) int {
		for i, h := range header {
			if h == name {
				return i
			}
		}
		return -1
	}
	txtCol, entityCol, valueCol := column("txt"), column("entity"), column("attribute_value")
	if txtCol < 0 || entityCol < 0 || valueCol < 0 {
		return "", fmt.Errorf("csv %s must have txt, entity, and attribute_value columns", inputPath)
	}

	attributes := make([]string, len(rows)-1)
	var (
		mu       sync.Mutex
		firstErr error
	)

	workers := pool.New().WithMaxGoroutines(p.maxWorkers)
	for i, row := range rows[1:] {
		i, row := i, row
		workers.Go(func() {
			attribute, err := p.extractAttribute(ctx, row[txtCol], row[entityCol], row[valueCol])
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("row %d: %w", i+2, err)
				}
				return
			}
			attributes[i] = attribute
		})
	}
	workers.Wait()

	if firstErr != nil {
		return "", firstErr
	}

	outputPath := p.outputPath(inputPath, ".ae.csv")
	out, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("creating output: %w", err)
	}
	defer out.Close()

	writer := csv.NewWriter(out)
	if err := writer.Write(append(append([]string{}, header...), "attribute")); err != nil {
		return "", err
	}
	for i, row := range rows[1:] {
		if err := writer.Write(append(append([]string{}, row...), attributes[i])); err != nil {
			return "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", err
	}

	log.Printf("Batch AE finished (input: %s, rows: %d, output: %s)",
		inputPath, len(rows)-1, outputPath)
	return outputPath, nil
}

// extractAttribute requests AE for one row. The entity and candidate value
// travel as an entity span payload, the same shape NER produces.
func (p *Processor) extractAttribute(ctx context.Context, text, entity, value string) (string, error) {
	result, err := p.agent.Request(ctx, "AE", map[toolagent.Kind]interface{}{
		toolagent.KindRawText: text,
		toolagent.KindEntitySpans: map[string]interface{}{
			"head": entity,
			"tail": value,
		},
	})
	if err != nil {
		return "", err
	}

	if fields, ok := result.Payload.(map[string]interface{}); ok {
		if predictions, ok := fields["predictions"].([]string); ok && len(predictions) > 0 {
			return predictions[len(predictions)-1], nil
		}
	}
	if text, ok := result.Payload.(string); ok {
		return text, nil
	}
	return "Unknown", nil
}

// outputPath builds the output filename from the input stem plus suffix.
func (p *Processor) outputPath(inputPath, suffix string) string {
	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	return filepath.Join(p.outputDir, stem+suffix)
}
