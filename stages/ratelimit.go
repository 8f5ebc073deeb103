package stages

import (
	"context"
	"time"

	"goa.design/flow/pipeline"
	"goa.design/flow/telemetry"
)

type (
	// RateLimiter decides whether an identifier may proceed.
	RateLimiter interface {
		Check(ctx context.Context, identifier string) (Decision, error)
	}

	// Decision is a rate limiter verdict. RetryAfter hints how long a
	// denied caller should wait.
	Decision struct {
		Allowed    bool
		RetryAfter time.Duration
	}

	// RateLimitOption configures the rate limiting stage.
	RateLimitOption func(*rateLimitStage)

	rateLimitStage struct {
		limiter    RateLimiter
		identifier func(*pipeline.State) string
		logger     telemetry.Logger
	}
)

// WithIdentifierFunc overrides how the limited identifier derives from
// state. The default prefers the userId metadata entry, then
// sessionId, then "anonymous".
func WithIdentifierFunc(fn func(*pipeline.State) string) RateLimitOption {
	return func(st *rateLimitStage) {
		if fn != nil {
			st.identifier = fn
		}
	}
}

// WithRateLimitLogger sets the logger for limiter breakdowns.
func WithRateLimitLogger(l telemetry.Logger) RateLimitOption {
	return func(st *rateLimitStage) {
		if l != nil {
			st.logger = l
		}
	}
}

// RateLimit creates the rate limiting stage. A denied request fails
// with status 429 and a retry hint. The stage fails open: limiter
// breakdowns log and let the request through.
func RateLimit(limiter RateLimiter, opts ...RateLimitOption) pipeline.Stage {
	st := &rateLimitStage{
		limiter:    limiter,
		identifier: defaultIdentifier,
		logger:     telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(st)
	}
	return pipeline.Stage{Name: StageRateLimit, Handler: st}
}

func (st *rateLimitStage) Handle(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
	if st.limiter == nil {
		st.logger.Warn(ctx, "no rate limiter configured, allowing request")
		return s.WithExt(pipeline.ExtRateLimit, RateLimitVerdict{Allowed: true}), nil
	}

	id := st.identifier(s)
	decision, err := st.limiter.Check(ctx, id)
	if err != nil {
		// Fail open: a broken limiter must not reject traffic.
		st.logger.Error(ctx, "rate limiter check failed", "identifier", id, "error", err)
		return s.WithExt(pipeline.ExtRateLimit, RateLimitVerdict{Allowed: true}), nil
	}

	verdict := RateLimitVerdict{Allowed: decision.Allowed, RetryAfter: decision.RetryAfter}
	out := s.WithExt(pipeline.ExtRateLimit, verdict)
	if decision.Allowed {
		return out, nil
	}
	return out.WithFailure(&pipeline.Failure{
		Message:    rateLimitedMessage,
		StatusCode: 429,
		RetryAfter: retryAfterSeconds(decision.RetryAfter),
		Step:       StageRateLimit,
	}), nil
}

func defaultIdentifier(s *pipeline.State) string {
	if id, ok := s.MetadataString("userId"); ok {
		return id
	}
	if id, ok := s.MetadataString("sessionId"); ok {
		return id
	}
	return "anonymous"
}

// retryAfterSeconds rounds up so clients never retry early.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
