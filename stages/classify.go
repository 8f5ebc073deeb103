package stages

import (
	"context"

	"goa.design/flow/intent"
	"goa.design/flow/pipeline"
)

// IntentResolver classifies a message into an intent result.
type IntentResolver interface {
	Classify(ctx context.Context, message string) intent.Result
}

// IntentClassification creates the stage that classifies the latest
// message and records the result as a state extension. Classification
// never fails the request; an empty conversation classifies the empty
// string.
func IntentClassification(resolver IntentResolver) pipeline.Stage {
	return pipeline.Stage{
		Name: StageIntent,
		Handler: pipeline.HandlerFunc(func(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
			var content string
			if msg, ok := s.LastMessage(); ok {
				content = msg.Content
			}
			return s.WithExt(pipeline.ExtIntent, resolver.Classify(ctx, content)), nil
		}),
	}
}
