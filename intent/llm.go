package intent

import (
	"context"

	"goa.design/flow/model"
)

type (
	// LLMClassifier classifies a message with a language model. It is
	// the escalation tier behind Resolver. Implementations must return
	// an intent drawn from the configured categories or General, with
	// confidence in [0, 1].
	LLMClassifier interface {
		Classify(ctx context.Context, message string) (LLMResult, error)
	}

	// LLMResult is the raw outcome of a model-backed classification.
	LLMResult struct {
		Intent     string
		Confidence float64
		Reasoning  string
		Usage      *model.TokenUsage
	}

	// ModelOption configures a model-backed classifier.
	ModelOption func(*modelSettings)

	modelSettings struct {
		modelID     string
		maxTokens   int
		temperature float32
	}
)

func defaultModelSettings() modelSettings {
	return modelSettings{maxTokens: 256}
}

// WithModel sets the model identifier passed to the invoker. When
// empty, the invoker's provider default applies.
func WithModel(id string) ModelOption {
	return func(s *modelSettings) { s.modelID = id }
}

// WithMaxTokens caps the completion size requested for classification.
func WithMaxTokens(n int) ModelOption {
	return func(s *modelSettings) { s.maxTokens = n }
}

// WithTemperature sets the sampling temperature. Classification wants
// determinism, so the default is zero.
func WithTemperature(t float32) ModelOption {
	return func(s *modelSettings) { s.temperature = t }
}
