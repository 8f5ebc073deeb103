package stages

import (
	"context"

	"goa.design/flow/pipeline"
	"goa.design/flow/prompt"
	"goa.design/flow/telemetry"
)

type (
	// ContextOption configures the dynamic context stage.
	ContextOption func(*contextStage)

	contextStage struct {
		engine *prompt.Engine
		logger telemetry.Logger
	}
)

// WithContextLogger sets the logger for context assembly failures.
func WithContextLogger(l telemetry.Logger) ContextOption {
	return func(st *contextStage) {
		if l != nil {
			st.logger = l
		}
	}
}

// DynamicContext creates the stage that assembles the system prompt
// for the current request and records the selection as a state
// extension. Assembly failures end the run with status 500; the
// underlying error is logged, not exposed.
func DynamicContext(engine *prompt.Engine, opts ...ContextOption) pipeline.Stage {
	st := &contextStage{engine: engine, logger: telemetry.NewNoopLogger()}
	for _, opt := range opts {
		opt(st)
	}
	return pipeline.Stage{Name: StageDynamicContext, Handler: st}
}

func (st *contextStage) Handle(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
	sel, err := st.engine.Build(ctx, s)
	if err != nil {
		st.logger.Error(ctx, "dynamic context assembly failed", "error", err)
		return s.WithFailure(&pipeline.Failure{
			Message:    processingFailedMessage,
			StatusCode: 500,
			Step:       StageDynamicContext,
		}), nil
	}
	return s.WithExt(pipeline.ExtPromptContext, sel), nil
}
