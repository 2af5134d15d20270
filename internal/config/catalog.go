package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Model tiers. Premium models are reserved for the pro plan; aggregator
// models are routed through a third-party aggregator and need an upstream
// key supplied by free-plan callers.
const (
	TierPremium    = "premium"
	TierAggregator = "aggregator"
)

// Provider identifiers understood by the dispatcher.
const (
	ProviderGoogle     = "google"
	ProviderAggregator = "aggregator"
)

// ModelBinding maps a logical model name to exactly one upstream provider.
type ModelBinding struct {
	Name          string `yaml:"name"`
	DisplayName   string `yaml:"display_name"`
	Tier          string `yaml:"tier"`
	Provider      string `yaml:"provider"`
	UpstreamModel string `yaml:"upstream_model"`
	BaseURL       string `yaml:"base_url,omitempty"`
	Failover      bool   `yaml:"failover"`
}

// Catalog is the static model table.
type Catalog struct {
	Models []ModelBinding `yaml:"models"`
}

// DefaultCatalog is used when no catalog file is configured.
func DefaultCatalog() Catalog {
	return Catalog{Models: []ModelBinding{
		{Name: "gemini-2.5-pro", DisplayName: "Gemini 2.5 Pro", Tier: TierPremium, Provider: ProviderGoogle, UpstreamModel: "gemini-2.5-pro"},
		{Name: "deepseek-r1", DisplayName: "DeepSeek R1", Tier: TierAggregator, Provider: ProviderAggregator, UpstreamModel: "deepseek/deepseek-r1:free", Failover: true},
		{Name: "qwen-coder", DisplayName: "Qwen 2.5 Coder 32B", Tier: TierAggregator, Provider: ProviderAggregator, UpstreamModel: "qwen/qwen-2.5-coder-32b-instruct:free", Failover: true},
		{Name: "llama-3.3-70b", DisplayName: "Llama 3.3 70B", Tier: TierAggregator, Provider: ProviderAggregator, UpstreamModel: "meta-llama/llama-3.3-70b-instruct:free", Failover: true},
	}}
}

// LoadCatalog reads a YAML catalog from path, or returns DefaultCatalog
// when path is empty.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read model catalog: %w", err)
	}
	return ParseCatalog(raw)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(raw []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse model catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// Validate checks that names are unique and every binding names a known
// tier and provider.
func (c Catalog) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("model catalog is empty")
	}
	seen := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if m.Name == "" || m.UpstreamModel == "" {
			return fmt.Errorf("model catalog entry needs name and upstream_model: %+v", m)
		}
		if seen[m.Name] {
			return fmt.Errorf("duplicate model %q in catalog", m.Name)
		}
		seen[m.Name] = true
		if m.Tier != TierPremium && m.Tier != TierAggregator {
			return fmt.Errorf("model %q has unknown tier %q", m.Name, m.Tier)
		}
		if m.Provider != ProviderGoogle && m.Provider != ProviderAggregator {
			return fmt.Errorf("model %q has unknown provider %q", m.Name, m.Provider)
		}
	}
	return nil
}

// Lookup returns the binding for a logical model name.
func (c Catalog) Lookup(name string) (ModelBinding, bool) {
	for _, m := range c.Models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelBinding{}, false
}

// Names lists logical model names, optionally filtered by tier.
func (c Catalog) Names(tier string) []string {
	var out []string
	for _, m := range c.Models {
		if tier == "" || m.Tier == tier {
			out = append(out, m.Name)
		}
	}
	return out
}
