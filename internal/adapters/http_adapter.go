package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openkg/toolagent"
)

// HTTPAdapter invokes a wrapped project exposed over HTTP. Inputs are posted
// as one JSON object keyed by kind; the response body is decoded as JSON and
// becomes the payload.
type HTTPAdapter struct {
	name      string
	produces  toolagent.Kind
	endpoint  string
	client    *http.Client
	timeout   time.Duration
	exclusive bool
}

// HTTPOption configures an HTTPAdapter.
type HTTPOption func(*HTTPAdapter)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(a *HTTPAdapter) {
		a.client = client
	}
}

// WithHTTPTimeout sets the per-invocation timeout.
func WithHTTPTimeout(timeout time.Duration) HTTPOption {
	return func(a *HTTPAdapter) {
		a.timeout = timeout
	}
}

// WithHTTPExclusive marks the adapter as requiring exclusive access.
func WithHTTPExclusive() HTTPOption {
	return func(a *HTTPAdapter) {
		a.exclusive = true
	}
}

// NewHTTPAdapter creates an adapter posting to the given endpoint.
func NewHTTPAdapter(name string, produces toolagent.Kind, endpoint string, options ...HTTPOption) *HTTPAdapter {
	adapter := &HTTPAdapter{
		name:     name,
		produces: produces,
		endpoint: endpoint,
		client:   http.DefaultClient,
	}
	for _, option := range options {
		option(adapter)
	}
	return adapter
}

// Name implements toolagent.Adapter.
func (a *HTTPAdapter) Name() string { return a.name }

// Exclusive implements toolagent.Adapter.
func (a *HTTPAdapter) Exclusive() bool { return a.exclusive }

// Timeout implements toolagent.Adapter.
func (a *HTTPAdapter) Timeout() time.Duration { return a.timeout }

// Invoke implements toolagent.Adapter.
func (a *HTTPAdapter) Invoke(ctx context.Context, inputs map[toolagent.Kind]interface{}) (toolagent.ToolCallResult, error) {
	body := make(map[string]interface{}, len(inputs))
	for kind, payload := range inputs {
		body[string(kind)] = payload
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		wrapped := toolagent.NewAdapterFailureError(a.name, fmt.Errorf("encoding request: %w", err))
		return failure(a.name, a.produces, wrapped), wrapped
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(encoded))
	if err != nil {
		wrapped := toolagent.NewAdapterFailureError(a.name, err)
		return failure(a.name, a.produces, wrapped), wrapped
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return failure(a.name, a.produces, ctx.Err()), ctx.Err()
		}
		wrapped := toolagent.NewAdapterFailureError(a.name, err)
		return failure(a.name, a.produces, wrapped), wrapped
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		wrapped := toolagent.NewAdapterFailureError(a.name, fmt.Errorf("reading response: %w", err))
		return failure(a.name, a.produces, wrapped), wrapped
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		wrapped := toolagent.NewAdapterFailureError(a.name,
			fmt.Errorf("endpoint returned %s: %s", resp.Status, tail(string(raw), 256)))
		return failure(a.name, a.produces, wrapped), wrapped
	}

	var payload interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		// Non-JSON bodies pass through as plain text.
		payload = string(raw)
	}

	return toolagent.ToolCallResult{
		Capability: a.name,
		Kind:       a.produces,
		Payload:    payload,
		Status:     toolagent.CallStatusSucceeded,
	}, nil
}
