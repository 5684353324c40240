// Package openaicompat adapts any OpenAI-compatible chat-completions API.
// OpenAI and Groq both serve this wire shape; the adapter is registered once
// per provider name with the matching base URL.
package openaicompat

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

type Client struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

func New(name, baseURL, apiKey string, httpClient *http.Client) *Client {
	return &Client{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  httpClient,
	}
}

func (c *Client) Name() string {
	return c.name
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []domain.Message `json:"messages"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
	TopP        *float64         `json:"top_p,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (c *Client) Complete(ctx context.Context, call provider.CompletionCall) (*domain.Completion, error) {
	messages := call.Messages
	if call.SystemPrompt != "" {
		messages = append([]domain.Message{{Role: "system", Content: call.SystemPrompt}}, messages...)
	}

	body, err := json.Marshal(chatRequest{
		Model:       call.Model,
		Messages:    messages,
		Temperature: call.Params.Temperature,
		MaxTokens:   call.Params.MaxTokens,
		TopP:        call.Params.TopP,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &domain.ProviderError{
			Provider: c.name,
			Model:    call.Model,
			Class:    provider.ClassifyDialError(err),
			Err:      err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.classifyError(resp, call.Model)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, &domain.ProviderError{
			Provider: c.name,
			Model:    call.Model,
			Class:    domain.ClassTransport,
			Err:      fmt.Errorf("decode response: %w", err),
		}
	}

	if len(chatResp.Choices) == 0 {
		return nil, &domain.ProviderError{
			Provider: c.name,
			Model:    call.Model,
			Class:    domain.ClassTransport,
			Err:      fmt.Errorf("response has no choices"),
		}
	}

	return &domain.Completion{
		Text:         chatResp.Choices[0].Message.Content,
		Model:        chatResp.Model,
		FinishReason: chatResp.Choices[0].FinishReason,
		Usage: domain.TokenUsage{
			InputTokens:  chatResp.Usage.PromptTokens,
			OutputTokens: chatResp.Usage.CompletionTokens,
		},
	}, nil
}

func (c *Client) classifyError(resp *http.Response, model string) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	class := provider.ClassifyStatus(resp.StatusCode)

	// OpenAI-compatible APIs report an unknown model as a 404 or as a 400
	// with code "model_not_found"; both classify the same way.
	var errResp errorResponse
	if json.Unmarshal(bodyBytes, &errResp) == nil && errResp.Error.Code == "model_not_found" {
		class = domain.ClassModelNotFound
	}

	return &domain.ProviderError{
		Provider: c.name,
		Model:    model,
		Class:    class,
		Status:   resp.StatusCode,
		Err:      fmt.Errorf("status=%d body=%s", resp.StatusCode, string(bodyBytes)),
	}
}
