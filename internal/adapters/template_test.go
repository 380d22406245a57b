package adapters

import (
	"strings"
	"testing"

	"github.com/openkg/toolagent"
)

func TestRenderTemplatePlaceholders(t *testing.T) {
	inputs := map[toolagent.Kind]interface{}{
		toolagent.KindRawText: "孔子出生于鲁国",
		toolagent.KindEntitySpans: map[string]interface{}{
			"head":      "孔子",
			"head_type": "PER",
		},
	}

	cases := []struct {
		template string
		want     string
	}{
		{"${raw_text}", "孔子出生于鲁国"},
		{"n\n${raw_text}\n${entity_span_list.head}\n", "n\n孔子出生于鲁国\n孔子\n"},
		{"--type=${entity_span_list.head_type}", "--type=PER"},
		{"no placeholders", "no placeholders"},
	}
	for _, tc := range cases {
		got, err := RenderTemplate(tc.template, inputs)
		if err != nil {
			t.Errorf("RenderTemplate(%q): %v", tc.template, err)
			continue
		}
		if got != tc.want {
			t.Errorf("RenderTemplate(%q) = %q, want %q", tc.template, got, tc.want)
		}
	}
}

func TestRenderTemplateMissingKind(t *testing.T) {
	_, err := RenderTemplate("${event_record_list}", map[toolagent.Kind]interface{}{})
	if err == nil || !strings.Contains(err.Error(), "event_record_list") {
		t.Errorf("expected missing-kind error naming the kind, got %v", err)
	}
}

func TestRenderTemplateMissingField(t *testing.T) {
	inputs := map[toolagent.Kind]interface{}{
		toolagent.KindEntitySpans: map[string]interface{}{"head": "孔子"},
	}
	_, err := RenderTemplate("${entity_span_list.tail}", inputs)
	if err == nil {
		t.Error("expected error for missing field")
	}
}

func TestRenderTemplateExpression(t *testing.T) {
	inputs := map[toolagent.Kind]interface{}{
		toolagent.KindRawText: "abc",
	}
	got, err := RenderTemplate("expr:raw_text + '!'", inputs)
	if err != nil {
		t.Fatalf("RenderTemplate: %v", err)
	}
	if got != "abc!" {
		t.Errorf("got %q, want %q", got, "abc!")
	}
}

func TestRenderTemplateStructuredPayloadAsJSON(t *testing.T) {
	inputs := map[toolagent.Kind]interface{}{
		toolagent.KindEntitySpans: map[string]interface{}{
			"spans": []interface{}{"a", "b"},
		},
	}
	got, err := RenderTemplate("${entity_span_list.spans}", inputs)
	if err != nil {
		t.Fatalf("RenderTemplate: %v", err)
	}
	if got != `["a","b"]` {
		t.Errorf("got %q", got)
	}
}

func TestValidateTemplate(t *testing.T) {
	if err := ValidateTemplate("${raw_text}"); err != nil {
		t.Errorf("plain template should validate: %v", err)
	}
	if err := ValidateTemplate("expr:raw_text +"); err == nil {
		t.Error("malformed expression should fail validation")
	}
}
