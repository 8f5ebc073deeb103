// Package stages bundles ready-made pipeline stages for AI-assisted
// request processing: rate limiting, content moderation, intent
// classification, dynamic context assembly and model generation.
//
// Stages communicate through well-known state extensions, so later
// stages and callers read earlier verdicts without coupling to the
// stage that produced them.
package stages

import (
	"time"

	"goa.design/flow/model"
	"goa.design/flow/pipeline"
)

const (
	// StageRateLimit names the rate limiting stage and its failure
	// step.
	StageRateLimit = "rateLimit"
	// StageModeration names the moderation stage and its failure step.
	StageModeration = "contentModeration"
	// StageIntent names the intent classification stage.
	StageIntent = "intentClassification"
	// StageDynamicContext names the context assembly stage and its
	// failure step.
	StageDynamicContext = "dynamicContext"
	// StageGeneration names the model generation stage and its failure
	// step.
	StageGeneration = "aiGeneration"
)

const (
	rateLimitedMessage      = "Too many requests. Please try again later."
	flaggedMessage          = "Your message was flagged as inappropriate."
	profanityMessage        = "Your message contains inappropriate language."
	processingFailedMessage = "An unexpected error occurred while processing your request."
)

type (
	// ModerationVerdict records a moderation decision. Error carries
	// the detail of a moderation breakdown that let the message
	// through.
	ModerationVerdict struct {
		Passed bool
		Reason string
		Error  string
	}

	// RateLimitVerdict records a rate limit decision.
	RateLimitVerdict struct {
		Allowed    bool
		RetryAfter time.Duration
	}

	// Response is the outcome of the generation stage.
	Response struct {
		Text         string
		FinishReason string
		Usage        model.TokenUsage
	}
)

// ModerationFromState returns the verdict recorded by a moderation
// stage.
func ModerationFromState(s *pipeline.State) (ModerationVerdict, bool) {
	v, ok := s.Value(pipeline.ExtModeration)
	if !ok {
		return ModerationVerdict{}, false
	}
	verdict, ok := v.(ModerationVerdict)
	return verdict, ok
}

// RateLimitFromState returns the verdict recorded by a rate limit
// stage.
func RateLimitFromState(s *pipeline.State) (RateLimitVerdict, bool) {
	v, ok := s.Value(pipeline.ExtRateLimit)
	if !ok {
		return RateLimitVerdict{}, false
	}
	verdict, ok := v.(RateLimitVerdict)
	return verdict, ok
}

// ResponseFromState returns the generation outcome recorded by a
// generation stage.
func ResponseFromState(s *pipeline.State) (Response, bool) {
	v, ok := s.Value(pipeline.ExtResponse)
	if !ok {
		return Response{}, false
	}
	resp, ok := v.(Response)
	return resp, ok
}
