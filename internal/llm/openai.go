package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// AggregatorProvider streams from an OpenAI-compatible aggregator such as
// OpenRouter. The API key is supplied per request so one client serves
// every credential in a failover set.
type AggregatorProvider struct {
	client *openai.Client
}

// NewAggregatorProvider creates a client for baseURL. SDK retries are
// disabled; rate limits are handled by credential failover instead.
func NewAggregatorProvider(baseURL, appName string) *AggregatorProvider {
	opts := []option.RequestOption{
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if appName != "" {
		opts = append(opts, option.WithHeader("X-Title", appName))
	}
	client := openai.NewClient(opts...)
	return &AggregatorProvider{client: &client}
}

// Name returns the provider name.
func (p *AggregatorProvider) Name() string {
	return "aggregator"
}

// Stream sends a streaming chat completion and forwards content deltas.
func (p *AggregatorProvider) Stream(ctx context.Context, req Request, cb StreamCallback) error {
	if req.APIKey == "" {
		return fmt.Errorf("aggregator API key is required")
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	callOpts := []option.RequestOption{option.WithAPIKey(req.APIKey)}
	if req.BaseURL != "" {
		callOpts = append(callOpts, option.WithBaseURL(req.BaseURL))
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params, callOpts...)
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			if err := cb(delta); err != nil {
				return fmt.Errorf("stream callback error: %w", err)
			}
		}
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("stream error: %w", err)
	}
	return nil
}
