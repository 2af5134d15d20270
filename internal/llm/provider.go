// Package llm routes prompts to upstream model providers and streams their
// output back to the caller.
package llm

import (
	"context"
	"strings"
)

// Request is a single upstream call.
type Request struct {
	Model        string  // provider-side model identifier
	BaseURL      string  // optional endpoint override
	APIKey       string  // credential for this attempt
	SystemPrompt string  // optional system instruction
	Prompt       string  // user prompt
	Temperature  float64 // zero leaves the provider default
}

// StreamCallback is called for each text fragment in arrival order.
type StreamCallback func(chunk string) error

// Provider defines the interface that LLM providers must implement.
type Provider interface {
	// Name returns the provider name (e.g., "google", "aggregator").
	Name() string

	// Stream sends req and calls cb for every fragment. It returns once the
	// upstream stream ends or fails.
	Stream(ctx context.Context, req Request, cb StreamCallback) error
}

// Tee returns a callback that appends every fragment to acc and then
// forwards it. A nil forward only accumulates.
func Tee(acc *strings.Builder, forward StreamCallback) StreamCallback {
	return func(chunk string) error {
		acc.WriteString(chunk)
		if forward == nil {
			return nil
		}
		return forward(chunk)
	}
}
