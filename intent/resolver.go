package intent

import (
	"context"

	"goa.design/flow/telemetry"
)

type (
	// Resolver combines the keyword tier with an optional model-backed
	// tier. Keyword results confident enough to stand on their own are
	// returned directly; everything else escalates to the model tier
	// when one is configured.
	Resolver struct {
		classifier *Classifier
		llm        LLMClassifier
		threshold  float64
		fallback   bool
		logger     telemetry.Logger
		onFallback func(FallbackEvent)
	}

	// FallbackEvent describes one escalation to the model tier. LLM
	// fields are zero when the escalation itself failed.
	FallbackEvent struct {
		Message           string
		KeywordIntent     string
		KeywordConfidence float64
		LLMIntent         string
		LLMConfidence     float64
		LLMReasoning      string
	}

	// ResolverOption configures a Resolver.
	ResolverOption func(*Resolver)
)

// DefaultThreshold is the keyword confidence below which a Resolver
// escalates to its model tier. Results at or above it never escalate.
const DefaultThreshold = 0.5

// NewResolver creates a Resolver around the given keyword classifier.
// Without WithLLM the resolver never escalates and behaves exactly like
// the classifier itself.
func NewResolver(classifier *Classifier, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		classifier: classifier,
		threshold:  DefaultThreshold,
		fallback:   true,
		logger:     telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithLLM sets the model-backed classifier consulted when keyword
// confidence falls below the threshold.
func WithLLM(llm LLMClassifier) ResolverOption {
	return func(r *Resolver) { r.llm = llm }
}

// WithLLMFallback toggles escalation. Disabled, the resolver always
// answers from the keyword tier.
func WithLLMFallback(enabled bool) ResolverOption {
	return func(r *Resolver) { r.fallback = enabled }
}

// WithThreshold overrides the escalation threshold.
func WithThreshold(t float64) ResolverOption {
	return func(r *Resolver) { r.threshold = t }
}

// WithLogger sets the logger used to report escalation failures.
func WithLogger(l telemetry.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithFallbackCallback registers fn to observe every escalation,
// successful or not. The callback runs supervised: a panic inside it
// is logged and swallowed.
func WithFallbackCallback(fn func(FallbackEvent)) ResolverOption {
	return func(r *Resolver) { r.onFallback = fn }
}

// Classify runs the keyword tier and escalates to the model tier when
// confidence falls below the threshold. It never returns an error: a
// failed escalation degrades to General with zero confidence so
// callers always receive a usable classification.
func (r *Resolver) Classify(ctx context.Context, message string) Result {
	kw := r.classifier.Classify(message)
	if kw.Confidence >= r.threshold || !r.fallback || r.llm == nil {
		return kw
	}

	llm, err := r.llm.Classify(ctx, message)
	if err != nil {
		r.logger.Error(ctx, "llm intent classification failed",
			"error", err,
			"keyword_intent", kw.Intent,
			"keyword_confidence", kw.Confidence,
		)
		res := Result{Intent: General, MatchedKeywords: []string{}, Method: MethodKeyword}
		r.fireFallback(ctx, FallbackEvent{
			Message:           message,
			KeywordIntent:     kw.Intent,
			KeywordConfidence: kw.Confidence,
			LLMIntent:         res.Intent,
		})
		return res
	}

	// The model tier knows the category but not the configured
	// guidance for it, so metadata merges from the classifier config.
	md := Metadata{
		ClassificationMethod: string(MethodLLM),
		Reasoning:            llm.Reasoning,
	}
	if base, ok := r.classifier.MetadataFor(llm.Intent); ok {
		md.Tone = base.Tone
		md.DeepLink = base.DeepLink
		md.RequiresAuth = base.RequiresAuth
	}
	res := Result{
		Intent:          llm.Intent,
		Confidence:      llm.Confidence,
		MatchedKeywords: []string{},
		Method:          MethodLLM,
		Metadata:        &md,
	}
	r.fireFallback(ctx, FallbackEvent{
		Message:           message,
		KeywordIntent:     kw.Intent,
		KeywordConfidence: kw.Confidence,
		LLMIntent:         llm.Intent,
		LLMConfidence:     llm.Confidence,
		LLMReasoning:      llm.Reasoning,
	})
	return res
}

func (r *Resolver) fireFallback(ctx context.Context, ev FallbackEvent) {
	if r.onFallback == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error(ctx, "intent fallback callback panic", "panic", rec)
		}
	}()
	r.onFallback(ev)
}
