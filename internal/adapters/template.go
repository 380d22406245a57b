package adapters

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/openkg/toolagent"
)

// exprPrefix marks a template whose body is evaluated as an expression over
// the step inputs instead of plain placeholder substitution.
const exprPrefix = "expr:"

var placeholderRe = regexp.MustCompile(`\$\{([a-zA-Z0-9_]+)((?:\.[a-zA-Z0-9_]+)*)\}`)

// RenderTemplate expands one argument or stdin template against the step
// inputs. Plain templates substitute ${kind} and ${kind.field} placeholders;
// templates starting with "expr:" are evaluated with govaluate, with each
// input kind bound as a parameter.
func RenderTemplate(template string, inputs map[toolagent.Kind]interface{}) (string, error) {
	if strings.HasPrefix(template, exprPrefix) {
		return renderExpression(strings.TrimPrefix(template, exprPrefix), inputs)
	}

	var renderErr error
	out := placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		groups := placeholderRe.FindStringSubmatch(match)
		kind := toolagent.Kind(groups[1])
		payload, ok := inputs[kind]
		if !ok {
			renderErr = fmt.Errorf("template references kind '%s' not present in inputs", kind)
			return match
		}

		value, err := accessFields(payload, groups[2])
		if err != nil {
			renderErr = fmt.Errorf("template placeholder '%s': %w", match, err)
			return match
		}
		return stringify(value)
	})
	if renderErr != nil {
		return "", renderErr
	}
	return out, nil
}

// ValidateTemplate checks a template at configuration load time so malformed
// expressions fail before any plan runs.
func ValidateTemplate(template string) error {
	if !strings.HasPrefix(template, exprPrefix) {
		return nil
	}
	_, err := govaluate.NewEvaluableExpression(strings.TrimPrefix(template, exprPrefix))
	return err
}

func renderExpression(expr string, inputs map[toolagent.Kind]interface{}) (string, error) {
	evaluable, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return "", fmt.Errorf("parsing expression template: %w", err)
	}

	parameters := make(map[string]interface{}, len(inputs))
	for kind, payload := range inputs {
		parameters[string(kind)] = payload
	}

	result, err := evaluable.Evaluate(parameters)
	if err != nil {
		return "", fmt.Errorf("evaluating expression template: %w", err)
	}
	return stringify(result), nil
}

// accessFields walks a ".a.b" accessor chain through nested map payloads.
func accessFields(payload interface{}, accessor string) (interface{}, error) {
	if accessor == "" {
		return payload, nil
	}
	current := payload
	for _, field := range strings.Split(strings.TrimPrefix(accessor, "."), ".") {
		asMap, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("field '%s' accessed on non-map value %T", field, current)
		}
		value, exists := asMap[field]
		if !exists {
			return nil, fmt.Errorf("field '%s' not found", field)
		}
		current = value
	}
	return current, nil
}

// stringify renders a payload for a command line or stdin stream. Strings
// pass through untouched, numbers drop the float formatting noise, and
// structured values are emitted as JSON.
func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	case nil:
		return ""
	case bool, int, int64:
		return fmt.Sprintf("%v", v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
