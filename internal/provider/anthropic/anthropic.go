// Package anthropic adapts the Anthropic Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/replydesk/aigateway/internal/domain"
	"github.com/replydesk/aigateway/internal/provider"
)

const apiVersion = "2023-06-01"

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func New(baseURL, apiKey string, httpClient *http.Client) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  httpClient,
	}
}

func (c *Client) Name() string {
	return "anthropic"
}

type messagesRequest struct {
	Model       string           `json:"model"`
	Messages    []domain.Message `json:"messages"`
	MaxTokens   int              `json:"max_tokens"`
	System      string           `json:"system,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	TopP        *float64         `json:"top_p,omitempty"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *Client) Complete(ctx context.Context, call provider.CompletionCall) (*domain.Completion, error) {
	maxTokens := 4096
	if call.Params.MaxTokens != nil {
		maxTokens = *call.Params.MaxTokens
	}

	system := call.SystemPrompt
	messages := make([]domain.Message, 0, len(call.Messages))
	for _, m := range call.Messages {
		// the Messages API takes the system prompt as a top-level field
		if m.Role == "system" {
			system = m.Content
			continue
		}
		messages = append(messages, m)
	}

	body, err := json.Marshal(messagesRequest{
		Model:       call.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		System:      system,
		Temperature: call.Params.Temperature,
		TopP:        call.Params.TopP,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &domain.ProviderError{
			Provider: c.Name(),
			Model:    call.Model,
			Class:    provider.ClassifyDialError(err),
			Err:      err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &domain.ProviderError{
			Provider: c.Name(),
			Model:    call.Model,
			Class:    provider.ClassifyStatus(resp.StatusCode),
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("status=%d body=%s", resp.StatusCode, string(bodyBytes)),
		}
	}

	var msgResp messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&msgResp); err != nil {
		return nil, &domain.ProviderError{
			Provider: c.Name(),
			Model:    call.Model,
			Class:    domain.ClassTransport,
			Err:      fmt.Errorf("decode response: %w", err),
		}
	}

	var text string
	for _, block := range msgResp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &domain.Completion{
		Text:         text,
		Model:        msgResp.Model,
		FinishReason: mapStopReason(msgResp.StopReason),
		Usage: domain.TokenUsage{
			InputTokens:  msgResp.Usage.InputTokens,
			OutputTokens: msgResp.Usage.OutputTokens,
		},
	}, nil
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}
