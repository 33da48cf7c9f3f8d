package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig holds settings for the Anthropic Messages API.
type AnthropicConfig struct {
	APIKey  string
	Timeout time.Duration
}

// AnthropicClient talks to the Anthropic Messages API. Structured output uses
// a forced tool call.
type AnthropicClient struct {
	client anthropic.Client
}

// NewAnthropicClient creates a new Anthropic gateway client.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := anthropic.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(timeout),
	)
	return &AnthropicClient{client: client}
}

func (c *AnthropicClient) buildParams(req Request) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode, fmt.Errorf("anthropic API error: %w", err))
	}
	return classifyTransport(err)
}

// Complete submits the request and returns the concatenated text blocks of
// the response.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	msg, err := c.client.Messages.New(ctx, c.buildParams(req))
	if err != nil {
		return "", classifyAnthropicError(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// CompleteStructured submits the request forcing a call to a tool built from
// the given schema and returns the tool input object.
func (c *AnthropicClient) CompleteStructured(ctx context.Context, req Request, schema Schema) (json.RawMessage, error) {
	params := c.buildParams(req)

	properties, _ := schema.Parameters["properties"].(map[string]interface{})
	var required []string
	switch v := schema.Parameters["required"].(type) {
	case []string:
		required = v
	case []interface{}:
		for _, r := range v {
			if s, ok := r.(string); ok {
				required = append(required, s)
			}
		}
	}

	params.Tools = []anthropic.ToolUnionParam{{
		OfTool: &anthropic.ToolParam{
			Name:        schema.Name,
			Description: anthropic.String(schema.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
				Required:   required,
			},
		},
	}}
	params.ToolChoice = anthropic.ToolChoiceUnionParam{
		OfTool: &anthropic.ToolChoiceToolParam{Name: schema.Name},
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	for _, block := range msg.Content {
		if block.Type == "tool_use" && block.Name == schema.Name {
			return json.RawMessage(block.Input), nil
		}
	}
	return nil, Permanent(fmt.Errorf("model did not produce a %s call", schema.Name))
}
