// Package gateway provides a uniform capability for submitting prompts to
// external text-generation services. Callers depend only on the Client
// interface; provider wire formats stay behind it.
package gateway

import (
	"context"
	"encoding/json"
	"time"
)

// Request is one prompt submission against a named model.
type Request struct {
	Model       string
	System      string
	User        string
	Temperature *float64
	MaxTokens   int
}

// Schema describes the required structured output of a submission, in the
// shape of an OpenAI function definition. Parameters is a JSON-schema object.
type Schema struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Client is the gateway capability: submit a prompt, get back text or a typed
// object, possibly failing transiently. Implementations own transport-level
// concerns only; retry policy is layered on via WithRetry.
type Client interface {
	// Complete submits the request and returns the response text.
	Complete(ctx context.Context, req Request) (string, error)

	// CompleteStructured submits the request with a required output schema and
	// returns the raw arguments object produced by the model.
	CompleteStructured(ctx context.Context, req Request, schema Schema) (json.RawMessage, error)
}

// NewForTarget builds a client for a target model submitted for testing.
// apiURL is the full completion endpoint for OpenAI-compatible providers
// (openai, mistral, and anything else speaking that wire format) and is
// ignored for anthropic, which the SDK addresses itself.
func NewForTarget(apiType, apiURL, apiKey string, timeout time.Duration) Client {
	switch apiType {
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{APIKey: apiKey, Timeout: timeout})
	default:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:   apiKey,
			Endpoint: apiURL,
			Timeout:  timeout,
		})
	}
}

// Float returns a pointer to v, for Request.Temperature.
func Float(v float64) *float64 {
	return &v
}
