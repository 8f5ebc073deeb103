package intent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type (
	// Config is the YAML form of a classifier setup.
	Config struct {
		Threshold   *float64         `yaml:"threshold"`
		LLMFallback *bool            `yaml:"llm_fallback"`
		Intents     []CategoryConfig `yaml:"intents"`
	}

	// CategoryConfig declares one intent category.
	CategoryConfig struct {
		Category string          `yaml:"category"`
		Keywords []string        `yaml:"keywords"`
		Metadata *MetadataConfig `yaml:"metadata"`
	}

	// MetadataConfig is the YAML form of Metadata.
	MetadataConfig struct {
		Tone         string `yaml:"tone"`
		DeepLink     string `yaml:"deep_link"`
		RequiresAuth bool   `yaml:"requires_auth"`
	}
)

// LoadConfig reads a classifier configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intent config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates a YAML classifier configuration.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse intent config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	for i, cat := range c.Intents {
		if cat.Category == "" {
			return fmt.Errorf("intent %d: category is required", i)
		}
		if len(cat.Keywords) == 0 {
			return fmt.Errorf("intent %q: keywords are required", cat.Category)
		}
	}
	if c.Threshold != nil && (*c.Threshold < 0 || *c.Threshold > 1) {
		return fmt.Errorf("threshold %v out of range [0, 1]", *c.Threshold)
	}
	return nil
}

// Classifier builds the keyword classifier the config declares.
func (c *Config) Classifier() *Classifier {
	patterns := make([]Pattern, 0, len(c.Intents))
	metadata := make(map[string]Metadata)
	for _, cat := range c.Intents {
		patterns = append(patterns, Pattern{Category: cat.Category, Keywords: cat.Keywords})
		if cat.Metadata != nil {
			metadata[cat.Category] = Metadata{
				Tone:         cat.Metadata.Tone,
				DeepLink:     cat.Metadata.DeepLink,
				RequiresAuth: cat.Metadata.RequiresAuth,
			}
		}
	}
	return NewClassifier(patterns, WithMetadata(metadata))
}

// ResolverOptions translates the config's resolver knobs into options
// for NewResolver.
func (c *Config) ResolverOptions() []ResolverOption {
	var opts []ResolverOption
	if c.Threshold != nil {
		opts = append(opts, WithThreshold(*c.Threshold))
	}
	if c.LLMFallback != nil {
		opts = append(opts, WithLLMFallback(*c.LLMFallback))
	}
	return opts
}
