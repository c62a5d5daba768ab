// Package article plans and writes articles through an OpenAI-compatible
// chat completions API.
package article

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"article-pipeline/internal/models"
	"article-pipeline/internal/runlog"
)

const chatAPIName = "chat"

// Client calls a chat completions endpoint. Credentials come from the run's
// configuration on every call, never from client state.
type Client struct {
	http *resty.Client
}

// NewClient creates a chat client against the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetRetryCount(2).
			SetRetryWaitTime(1 * time.Second).
			SetRetryMaxWaitTime(5 * time.Second),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one system+user exchange and returns the assistant reply.
// The call is recorded on the run's logger with its computed cost; the
// logger redacts credential fields before storing the record.
func (c *Client) Complete(ctx context.Context, cfg models.Configuration, operation, system, user string, maxTokens int) (string, error) {
	model := cfg.ChatModel()
	body := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens: maxTokens,
	}

	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(cfg.Credential("llm_api_key")).
		SetBody(body).
		SetResult(&out).
		Post("/v1/chat/completions")
	if err != nil {
		return "", fmt.Errorf("chat completion %s: %w", operation, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("chat completion %s: status %s", operation, resp.Status())
	}
	if out.Error != nil {
		return "", fmt.Errorf("chat completion %s: %s", operation, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat completion %s: no choices in response", operation)
	}

	content := out.Choices[0].Message.Content
	cost := runlog.ChatCost(model, out.Usage.PromptTokens, out.Usage.CompletionTokens)
	runlog.FromContext(ctx).LogAPICall(chatAPIName, operation,
		map[string]any{
			"model":      model,
			"max_tokens": maxTokens,
			"prompt":     user,
			"api_key":    cfg.Credential("llm_api_key"),
		},
		map[string]any{
			"prompt_tokens":     out.Usage.PromptTokens,
			"completion_tokens": out.Usage.CompletionTokens,
			"content":           content,
		},
		cost)

	return content, nil
}
