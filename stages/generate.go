package stages

import (
	"context"

	"goa.design/flow/model"
	"goa.design/flow/pipeline"
	"goa.design/flow/prompt"
	"goa.design/flow/telemetry"
)

// Generation defaults applied when no option overrides them.
const (
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.7
)

type (
	// GenerationOption configures the AI generation stage.
	GenerationOption func(*generationStage)

	generationStage struct {
		invoker     model.Invoker
		modelID     string
		maxTokens   int
		temperature float32
		logger      telemetry.Logger
	}
)

// WithGenerationModel sets the provider model identifier.
func WithGenerationModel(id string) GenerationOption {
	return func(st *generationStage) { st.modelID = id }
}

// WithGenerationMaxTokens caps the completion length.
func WithGenerationMaxTokens(n int) GenerationOption {
	return func(st *generationStage) {
		if n > 0 {
			st.maxTokens = n
		}
	}
}

// WithGenerationTemperature sets the sampling temperature.
func WithGenerationTemperature(t float32) GenerationOption {
	return func(st *generationStage) { st.temperature = t }
}

// WithGenerationLogger sets the logger for generation failures.
func WithGenerationLogger(l telemetry.Logger) GenerationOption {
	return func(st *generationStage) {
		if l != nil {
			st.logger = l
		}
	}
}

// AIGeneration creates the stage that invokes the model with the
// conversation history and the system prompt assembled by the dynamic
// context stage, if one ran. The completion is recorded as a state
// extension. Provider failures end the run with status 500; the
// classified provider error is logged, not exposed.
func AIGeneration(invoker model.Invoker, opts ...GenerationOption) pipeline.Stage {
	st := &generationStage{
		invoker:     invoker,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		logger:      telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(st)
	}
	return pipeline.Stage{Name: StageGeneration, Handler: st}
}

func (st *generationStage) Handle(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
	req := &model.Request{
		Model:       st.modelID,
		Messages:    conversation(s),
		MaxTokens:   st.maxTokens,
		Temperature: st.temperature,
	}
	if sel, ok := prompt.SelectionFromState(s); ok {
		req.System = sel.SystemPrompt
	}

	resp, err := st.invoker.Generate(ctx, req)
	if err != nil {
		fields := []any{"error", err, "model", st.modelID}
		if pe, ok := model.AsProviderError(err); ok {
			fields = append(fields, "provider", pe.Provider(), "kind", string(pe.Kind()), "retryable", pe.Retryable())
		}
		st.logger.Error(ctx, "model generation failed", fields...)
		return s.WithFailure(&pipeline.Failure{
			Message:    processingFailedMessage,
			StatusCode: 500,
			Step:       StageGeneration,
		}), nil
	}

	return s.WithExt(pipeline.ExtResponse, Response{
		Text:         resp.Text,
		FinishReason: resp.FinishReason,
		Usage:        resp.Usage,
	}), nil
}

func conversation(s *pipeline.State) []*model.Message {
	msgs := make([]*model.Message, 0, len(s.Request.Messages))
	for _, m := range s.Request.Messages {
		msgs = append(msgs, &model.Message{Role: string(m.Role), Content: m.Content})
	}
	return msgs
}
