package intent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/flow/telemetry"
)

type stubLLM struct {
	res   LLMResult
	err   error
	calls int
}

func (s *stubLLM) Classify(context.Context, string) (LLMResult, error) {
	s.calls++
	if s.err != nil {
		return LLMResult{}, s.err
	}
	return s.res, nil
}

type captureLogger struct {
	telemetry.NoopLogger
	mu     sync.Mutex
	errors []string
}

func (l *captureLogger) Error(_ context.Context, msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *captureLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

func TestResolverConfidentKeywordBypassesLLM(t *testing.T) {
	llm := &stubLLM{res: LLMResult{Intent: "help", Confidence: 0.99}}
	r := NewResolver(NewClassifier(supportPatterns()), WithLLM(llm))

	res := r.Classify(context.Background(), "hello there")

	assert.Equal(t, "greeting", res.Intent)
	assert.Equal(t, MethodKeyword, res.Method)
	assert.Zero(t, llm.calls)
}

func TestResolverEscalatesOnLowConfidence(t *testing.T) {
	patterns := append(supportPatterns(), Pattern{Category: "question", Keywords: []string{"what is"}})
	c := NewClassifier(patterns, WithMetadata(map[string]Metadata{
		"question": {Tone: "Be informative and thorough", DeepLink: "/faq"},
	}))
	llm := &stubLLM{res: LLMResult{Intent: "question", Confidence: 0.85, Reasoning: "asks about opening hours"}}
	r := NewResolver(c, WithLLM(llm))

	res := r.Classify(context.Background(), "are you open on weekends")

	assert.Equal(t, 1, llm.calls)
	assert.Equal(t, "question", res.Intent)
	assert.Equal(t, 0.85, res.Confidence)
	assert.Equal(t, MethodLLM, res.Method)
	require.NotNil(t, res.Metadata)
	assert.Equal(t, "Be informative and thorough", res.Metadata.Tone)
	assert.Equal(t, "/faq", res.Metadata.DeepLink)
	assert.Equal(t, "llm", res.Metadata.ClassificationMethod)
	assert.Equal(t, "asks about opening hours", res.Metadata.Reasoning)
}

func TestResolverLLMIntentWithoutConfiguredMetadata(t *testing.T) {
	llm := &stubLLM{res: LLMResult{Intent: General, Confidence: 0.6, Reasoning: "nothing fits"}}
	r := NewResolver(NewClassifier(supportPatterns()), WithLLM(llm))

	res := r.Classify(context.Background(), "random chatter")

	require.NotNil(t, res.Metadata)
	assert.Empty(t, res.Metadata.Tone)
	assert.Empty(t, res.Metadata.DeepLink)
	assert.Equal(t, "llm", res.Metadata.ClassificationMethod)
	assert.Equal(t, "nothing fits", res.Metadata.Reasoning)
}

func TestResolverLLMFailureDegrades(t *testing.T) {
	llm := &stubLLM{err: errors.New("model unavailable")}
	logger := &captureLogger{}
	var events []FallbackEvent
	r := NewResolver(NewClassifier(supportPatterns()),
		WithLLM(llm),
		WithLogger(logger),
		WithFallbackCallback(func(ev FallbackEvent) { events = append(events, ev) }),
	)

	res := r.Classify(context.Background(), "are you open on weekends")

	assert.Equal(t, General, res.Intent)
	assert.Zero(t, res.Confidence)
	assert.Equal(t, MethodKeyword, res.Method)
	assert.Nil(t, res.Metadata)
	assert.Equal(t, 1, logger.errorCount())
	require.Len(t, events, 1)
	assert.Equal(t, General, events[0].LLMIntent)
	assert.Zero(t, events[0].LLMConfidence)
}

func TestResolverFallbackDisabled(t *testing.T) {
	llm := &stubLLM{res: LLMResult{Intent: "help", Confidence: 0.9}}
	r := NewResolver(NewClassifier(supportPatterns()), WithLLM(llm), WithLLMFallback(false))

	res := r.Classify(context.Background(), "do you operate on weekends")

	assert.Equal(t, General, res.Intent)
	assert.Equal(t, MethodKeyword, res.Method)
	assert.Zero(t, llm.calls)
}

func TestResolverWithoutLLM(t *testing.T) {
	r := NewResolver(NewClassifier(supportPatterns()))

	res := r.Classify(context.Background(), "do you operate on weekends")

	assert.Equal(t, General, res.Intent)
	assert.Equal(t, MethodKeyword, res.Method)
}

func TestResolverFallbackCallbackSeesBothTiers(t *testing.T) {
	llm := &stubLLM{res: LLMResult{Intent: "billing", Confidence: 0.7, Reasoning: "mentions an invoice"}}
	var events []FallbackEvent
	r := NewResolver(NewClassifier(supportPatterns()),
		WithLLM(llm),
		WithFallbackCallback(func(ev FallbackEvent) { events = append(events, ev) }),
	)

	r.Classify(context.Background(), "hello, I have a payment question")

	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "hello, I have a payment question", ev.Message)
	assert.Equal(t, "greeting", ev.KeywordIntent)
	assert.Zero(t, ev.KeywordConfidence)
	assert.Equal(t, "billing", ev.LLMIntent)
	assert.Equal(t, 0.7, ev.LLMConfidence)
	assert.Equal(t, "mentions an invoice", ev.LLMReasoning)
}

func TestResolverCallbackPanicIsSwallowed(t *testing.T) {
	llm := &stubLLM{res: LLMResult{Intent: "help", Confidence: 0.8}}
	logger := &captureLogger{}
	r := NewResolver(NewClassifier(supportPatterns()),
		WithLLM(llm),
		WithLogger(logger),
		WithFallbackCallback(func(FallbackEvent) { panic("boom") }),
	)

	res := r.Classify(context.Background(), "are you open late")

	assert.Equal(t, "help", res.Intent)
	assert.Equal(t, 1, logger.errorCount())
}

func TestResolverThresholdBoundary(t *testing.T) {
	// "x y" against "z" scores 2 to 1, confidence exactly 0.5.
	c := NewClassifier([]Pattern{
		{Category: "a", Keywords: []string{"x y"}},
		{Category: "b", Keywords: []string{"z"}},
	})
	llm := &stubLLM{res: LLMResult{Intent: "b", Confidence: 1}}

	r := NewResolver(c, WithLLM(llm))
	res := r.Classify(context.Background(), "x y z")
	assert.Equal(t, "a", res.Intent)
	assert.Zero(t, llm.calls)

	r = NewResolver(c, WithLLM(llm), WithThreshold(0.6))
	res = r.Classify(context.Background(), "x y z")
	assert.Equal(t, "b", res.Intent)
	assert.Equal(t, 1, llm.calls)
}
