package adapters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openkg/toolagent"
)

func TestGoAdapterInvoke(t *testing.T) {
	adapter := NewGoAdapter("UPPER", toolagent.KindEntitySpans,
		func(_ context.Context, inputs map[toolagent.Kind]interface{}) (interface{}, error) {
			return inputs[toolagent.KindRawText], nil
		},
		WithDescription("test capability"),
		WithGoTimeout(time.Second),
	)

	if adapter.Name() != "UPPER" || adapter.Timeout() != time.Second || adapter.Exclusive() {
		t.Errorf("adapter options not applied: %+v", adapter)
	}

	result, err := adapter.Invoke(context.Background(), rawText("payload"))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result.Payload != "payload" || result.Kind != toolagent.KindEntitySpans {
		t.Errorf("result = %+v", result)
	}
}

func TestGoAdapterValidator(t *testing.T) {
	adapter := NewGoAdapter("STRICT", toolagent.KindEntitySpans,
		func(context.Context, map[toolagent.Kind]interface{}) (interface{}, error) {
			return "ok", nil
		},
		WithValidator(func(inputs map[toolagent.Kind]interface{}) error {
			if _, ok := inputs[toolagent.KindRawText]; !ok {
				return errors.New("raw text required")
			}
			return nil
		}),
	)

	if _, err := adapter.Invoke(context.Background(), map[toolagent.Kind]interface{}{}); err == nil {
		t.Error("validator rejection should fail the invocation")
	}
	if _, err := adapter.Invoke(context.Background(), rawText("x")); err != nil {
		t.Errorf("valid input should pass: %v", err)
	}
}

func TestGoAdapterPropagatesError(t *testing.T) {
	adapter := NewGoAdapter("BROKEN", toolagent.KindEntitySpans,
		func(context.Context, map[toolagent.Kind]interface{}) (interface{}, error) {
			return nil, errors.New("broken")
		},
	)

	result, err := adapter.Invoke(context.Background(), rawText("x"))
	if err == nil || !result.Failed() {
		t.Errorf("expected failure, got result %+v err %v", result, err)
	}
}
