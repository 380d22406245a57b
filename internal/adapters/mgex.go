package adapters

import (
	"fmt"
	"strings"
	"time"

	"github.com/openkg/toolagent"
)

// Environment variables locating the medical guideline extraction project.
const (
	MGEXPathEnv        = "MGEX_PATH"
	MGEXInterpreterEnv = "CONDA_MG_EXTRACT_PY"
)

// NewGuidelineJudgeAdapter wraps the medical guideline classifier. It
// decides whether a text is guideline content; structured extraction depends
// on its flag.
func NewGuidelineJudgeAdapter(timeout time.Duration) (*SubprocessAdapter, error) {
	return NewSubprocessAdapter(SubprocessConfig{
		Name:           "MG_JUDGE",
		Produces:       toolagent.KindGuidelineFlag,
		RootEnv:        MGEXPathEnv,
		Dir:            "backend/mcp_support",
		InterpreterEnv: MGEXInterpreterEnv,
		Script:         "judge.py",
		Args:           []string{"${raw_text}"},
		Timeout:        timeout,
		Parser:         ParseGuidelineFlag,
	})
}

// NewGuidelineExtractAdapter wraps the structured medical guideline
// extractor. Requiring the judge flag keeps extraction from running on text
// that was never classified as a guideline.
func NewGuidelineExtractAdapter(timeout time.Duration) (*SubprocessAdapter, error) {
	return NewSubprocessAdapter(SubprocessConfig{
		Name:           "MG_EXTRACT",
		Produces:       toolagent.KindGuidelineRecords,
		RootEnv:        MGEXPathEnv,
		Dir:            "backend/mcp_support",
		InterpreterEnv: MGEXInterpreterEnv,
		Script:         "extract.py",
		Args:           []string{"${raw_text}"},
		Timeout:        timeout,
		Parser: func(stdout string) (interface{}, error) {
			trimmed := strings.TrimSpace(stdout)
			if trimmed == "" {
				return nil, fmt.Errorf("%w: empty extraction output", errNoOutput)
			}
			return map[string]interface{}{"records": trimmed}, nil
		},
	})
}

// ParseGuidelineFlag reads the classifier's verdict from stdout. The wrapped
// script prints a truthy marker when the text is guideline content.
func ParseGuidelineFlag(stdout string) (interface{}, error) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty judge output", errNoOutput)
	}
	lower := strings.ToLower(trimmed)
	isGuideline := strings.Contains(lower, "true") ||
		strings.Contains(lower, "yes") ||
		strings.Contains(trimmed, "是")
	return map[string]interface{}{
		"is_guideline": isGuideline,
		"verdict":      trimmed,
	}, nil
}
