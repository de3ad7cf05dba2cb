package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/weftlabs/weft/pkg/schema"
)

// HTTPClientConfig configures the OpenAI-compatible completion client.
type HTTPClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPModelClient completes prompts against an OpenAI-compatible chat
// completions endpoint. Transient provider failures surface as
// retryable WeftErrors so the executor can escalate tiers.
type HTTPModelClient struct {
	cfg    HTTPClientConfig
	client *http.Client
}

// NewHTTPModelClient creates a client for the given endpoint.
func NewHTTPModelClient(cfg HTTPClientConfig) *HTTPModelClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &HTTPModelClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends one chat completion and parses the structured output.
func (c *HTTPModelClient) Complete(ctx context.Context, req ModelRequest) (*ModelResponse, error) {
	userContent := req.Prompt
	if req.Input != nil {
		inputJSON, err := json.Marshal(req.Input)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeProvider, "encode model input: %v", err)
		}
		userContent = req.Prompt + "\n\nInput data:\n" + string(inputJSON)
	}

	body := chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: userContent},
		},
		MaxTokens: req.MaxTokens,
		ResponseFormat: &struct {
			Type string `json:"type"`
		}{Type: "json_object"},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeProvider, "encode completion request: %v", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeProvider, "build completion request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, schema.NewError(schema.ErrCodeTimeout, "model request timed out").WithCause(err)
		}
		return nil, schema.NewError(schema.ErrCodeProvider, "model request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, resp.Body)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, schema.NewError(schema.ErrCodeProvider, "decode completion response").WithCause(err)
	}
	if len(parsed.Choices) == 0 {
		return nil, schema.NewError(schema.ErrCodeProvider, "completion response had no choices")
	}

	return &ModelResponse{
		Output:       parseOutput(parsed.Choices[0].Message.Content),
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}

// parseOutput decodes the model's content as a JSON object. Content
// that is not valid JSON is wrapped under a "result" key so schema
// validation downstream sees a consistent shape.
func parseOutput(content string) any {
	var out any
	if err := json.Unmarshal([]byte(content), &out); err == nil {
		return out
	}
	return map[string]any{"result": content}
}

// mapHTTPError converts an HTTP error status to a WeftError whose code
// decides retryability.
func mapHTTPError(status int, body io.Reader) error {
	msg := readErrorMessage(body)
	switch {
	case status == http.StatusTooManyRequests:
		return schema.NewErrorf(schema.ErrCodeRateLimited, "model provider rate limited: %s", msg)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return schema.NewErrorf(schema.ErrCodeTimeout, "model provider timeout: %s", msg)
	case status >= 500:
		return schema.NewErrorf(schema.ErrCodeProvider, "model provider error (status %d): %s", status, msg)
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "model request rejected (status %d): %s", status, msg)
	}
}

// readErrorMessage extracts a short error description from a provider
// error body, falling back to the raw text.
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return "no error detail"
	}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &envelope) == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return fmt.Sprintf("%.200s", string(data))
}
