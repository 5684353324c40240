// Package bedrock adapts Amazon Bedrock's InvokeModel API using the Anthropic
// messages body shape. Credentials come from the ambient AWS config rather
// than a tenant secret.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/replydesk/aigateway/internal/domain"
	"github.com/replydesk/aigateway/internal/provider"
)

type Client struct {
	client *bedrockruntime.Client
}

func New(ctx context.Context, region string) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithConfig(cfg), nil
}

func NewWithConfig(cfg aws.Config) *Client {
	return &Client{client: bedrockruntime.NewFromConfig(cfg)}
}

func (c *Client) Name() string {
	return "bedrock"
}

type invokeRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Messages         []domain.Message `json:"messages"`
	System           string           `json:"system,omitempty"`
	Temperature      *float64         `json:"temperature,omitempty"`
	TopP             *float64         `json:"top_p,omitempty"`
}

type invokeResponse struct {
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
		if m.Role == "system" {
			system = m.Content
			continue
		}
		messages = append(messages, m)
	}

	body, err := json.Marshal(invokeRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Messages:         messages,
		System:           system,
		Temperature:      call.Params.Temperature,
		TopP:             call.Params.TopP,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	output, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(call.Model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, &domain.ProviderError{
			Provider: c.Name(),
			Model:    call.Model,
			Class:    classifyInvokeError(err),
			Err:      err,
		}
	}

	var resp invokeResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, &domain.ProviderError{
			Provider: c.Name(),
			Model:    call.Model,
			Class:    domain.ClassTransport,
			Err:      fmt.Errorf("unmarshal response: %w", err),
		}
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &domain.Completion{
		Text:         text,
		Model:        call.Model,
		FinishReason: mapStopReason(resp.StopReason),
		Usage: domain.TokenUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}

func classifyInvokeError(err error) domain.ErrorClass {
	var (
		throttled    *types.ThrottlingException
		denied       *types.AccessDeniedException
		notFound     *types.ResourceNotFoundException
		validation   *types.ValidationException
		modelTimeout *types.ModelTimeoutException
	)

	switch {
	case errors.As(err, &throttled):
		return domain.ClassRateLimited
	case errors.As(err, &denied):
		return domain.ClassAuth
	case errors.As(err, &notFound):
		return domain.ClassModelNotFound
	case errors.As(err, &validation):
		return domain.ClassInvalidRequest
	case errors.As(err, &modelTimeout):
		return domain.ClassTimeout
	default:
		return provider.ClassifyDialError(err)
	}
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
