package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GoogleProvider streams from Gemini models. Clients are created lazily,
// one per API key, and reused across requests.
type GoogleProvider struct {
	mu      sync.Mutex
	clients map[string]*genai.Client
}

func NewGoogleProvider() *GoogleProvider {
	return &GoogleProvider{clients: make(map[string]*genai.Client)}
}

// Name returns the provider name.
func (p *GoogleProvider) Name() string {
	return "google"
}

func (p *GoogleProvider) client(apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Google AI API key is required") // nolint: staticcheck
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[apiKey]; ok {
		return c, nil
	}
	c, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google AI client: %w", err)
	}
	p.clients[apiKey] = c
	return c, nil
}

// Stream calls GenerateContentStream and forwards every text part.
func (p *GoogleProvider) Stream(ctx context.Context, req Request, cb StreamCallback) error {
	client, err := p.client(req.APIKey)
	if err != nil {
		return err
	}

	model := client.GenerativeModel(req.Model)
	if req.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.SystemPrompt)},
		}
	}
	if req.Temperature > 0 {
		model.SetTemperature(float32(req.Temperature))
	}

	iter := model.GenerateContentStream(ctx, genai.Text(req.Prompt))
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream error: %w", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			txt, ok := part.(genai.Text)
			if !ok || txt == "" {
				continue
			}
			if err := cb(string(txt)); err != nil {
				return fmt.Errorf("stream callback error: %w", err)
			}
		}
	}
}

// Close releases every cached client.
func (p *GoogleProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for key, c := range p.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(p.clients, key)
	}
	return errors.Join(errs...)
}
