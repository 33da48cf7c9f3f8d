package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// OpenAIConfig holds settings for an OpenAI-compatible chat completions
// endpoint. Either Endpoint (full URL) or BaseURL must be set.
type OpenAIConfig struct {
	APIKey   string
	BaseURL  string
	Endpoint string
	Timeout  time.Duration
}

// OpenAIClient talks to any OpenAI-compatible chat completions API, including
// Mistral and self-hosted gateways. Structured output uses function calling.
type OpenAIClient struct {
	client   *resty.Client
	endpoint string
}

// NewOpenAIClient creates a new OpenAI-compatible gateway client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	} else {
		client.SetTimeout(60 * time.Second)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		endpoint = strings.TrimSuffix(baseURL, "/") + "/chat/completions"
	}

	return &OpenAIClient{
		client:   client,
		endpoint: endpoint,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type functionDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type chatRequest struct {
	Model           string         `json:"model"`
	Messages        []chatMessage  `json:"messages"`
	Temperature     *float64       `json:"temperature,omitempty"`
	MaxTokens       int            `json:"max_tokens,omitempty"`
	ReasoningEffort string         `json:"reasoning_effort,omitempty"`
	Functions       []functionDef  `json:"functions,omitempty"`
	FunctionCall    map[string]any `json:"function_call,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content      string `json:"content"`
			FunctionCall *struct {
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
			} `json:"function_call,omitempty"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (c *OpenAIClient) buildRequest(req Request) chatRequest {
	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.User})

	out := chatRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}

	// Reasoning models reject the temperature parameter; they take a
	// reasoning effort hint instead.
	if strings.HasPrefix(req.Model, "o3") || strings.HasPrefix(req.Model, "o1") {
		out.ReasoningEffort = "high"
	} else {
		out.Temperature = req.Temperature
	}

	return out
}

func (c *OpenAIClient) post(ctx context.Context, body chatRequest) (*chatResponse, error) {
	var resp chatResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&resp).
		Post(c.endpoint)

	if err != nil {
		return nil, classifyTransport(err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		errMsg := fmt.Sprintf("HTTP %d", httpResp.StatusCode())
		if resp.Error != nil {
			errMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		} else if len(httpResp.Body()) > 0 {
			errMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
		}
		return nil, classifyStatus(httpResp.StatusCode(), fmt.Errorf("chat completions API error: %s", errMsg))
	}

	if resp.Error != nil {
		return nil, Permanent(fmt.Errorf("chat completions API error: %s", resp.Error.Message))
	}

	if len(resp.Choices) == 0 {
		return nil, Permanent(fmt.Errorf("no choices in response (status %d)", httpResp.StatusCode()))
	}

	return &resp, nil
}

// Complete submits the request and returns the response text.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := c.post(ctx, c.buildRequest(req))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// CompleteStructured submits the request forcing a call to the given function
// and returns its arguments object.
func (c *OpenAIClient) CompleteStructured(ctx context.Context, req Request, schema Schema) (json.RawMessage, error) {
	body := c.buildRequest(req)
	body.Functions = []functionDef{{
		Name:        schema.Name,
		Description: schema.Description,
		Parameters:  schema.Parameters,
	}}
	body.FunctionCall = map[string]any{"name": schema.Name}

	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}

	call := resp.Choices[0].Message.FunctionCall
	if call == nil || call.Arguments == "" {
		return nil, Permanent(fmt.Errorf("model did not produce a %s call", schema.Name))
	}

	if !json.Valid([]byte(call.Arguments)) {
		return nil, Permanent(fmt.Errorf("malformed %s arguments: %q", schema.Name, call.Arguments))
	}

	return json.RawMessage(call.Arguments), nil
}
