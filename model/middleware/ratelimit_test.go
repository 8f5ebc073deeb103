package middleware

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/time/rate"

	"goa.design/flow/model"
)

type fakeInvoker struct {
	generateErr error
	streamErr   error

	generateCalls int
	streamCalls   int
}

func (f *fakeInvoker) Generate(_ context.Context, _ *model.Request) (*model.Response, error) {
	f.generateCalls++
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	return &model.Response{Text: "ok"}, nil
}

func (f *fakeInvoker) Stream(_ context.Context, _ *model.Request) (model.Streamer, error) {
	f.streamCalls++
	return nil, f.streamErr
}

func TestAdaptiveRateLimiter_BackoffOnRateLimited(t *testing.T) {
	limiter := newAdaptiveRateLimiter(60000, 60000)

	initialTPM := limiter.currentTPM

	inv := &fakeInvoker{
		generateErr: model.ErrRateLimited,
	}
	wrapped := limiter.Middleware()(inv)

	req := model.Request{
		Messages:  []*model.Message{{Role: "user", Content: "hello"}},
		MaxTokens: 10,
	}

	_, err := wrapped.Generate(context.Background(), &req)
	if err == nil || !errors.Is(err, model.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	if limiter.currentTPM >= initialTPM {
		t.Fatalf("expected TPM to decrease, got %f (initial %f)",
			limiter.currentTPM, initialTPM)
	}
}

func TestAdaptiveRateLimiter_ProbeOnSuccess(t *testing.T) {
	limiter := newAdaptiveRateLimiter(60000, 120000)

	limiter.mu.Lock()
	initialTPM := limiter.currentTPM
	limiter.recoveryRate = 1000
	limiter.mu.Unlock()

	inv := &fakeInvoker{}
	wrapped := limiter.Middleware()(inv)

	req := model.Request{
		Messages:  []*model.Message{{Role: "user", Content: "hello"}},
		MaxTokens: 10,
	}

	_, err := wrapped.Generate(context.Background(), &req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	if limiter.currentTPM <= initialTPM {
		t.Fatalf("expected TPM to increase, got %f (initial %f)",
			limiter.currentTPM, initialTPM)
	}
}

func TestAdaptiveRateLimiter_RespectsContextWhenQueued(t *testing.T) {
	limiter := newAdaptiveRateLimiter(60, 60)

	limiter.mu.Lock()
	limiter.currentTPM = 60
	// Configure an impossible limiter so any non-zero token request fails
	// immediately. This exercises the error path without relying on timing.
	limiter.limiter = rate.NewLimiter(0, 0)
	limiter.mu.Unlock()

	inv := &fakeInvoker{}
	wrapped := limiter.Middleware()(inv)

	longText := make([]byte, 600)
	for i := range longText {
		longText[i] = 'a'
	}

	req := model.Request{
		Messages:  []*model.Message{{Role: "user", Content: string(longText)}},
		MaxTokens: 10,
	}

	_, err := wrapped.Generate(context.Background(), &req)
	if err == nil {
		t.Fatal("expected limiter error")
	}
	if inv.generateCalls != 0 {
		t.Fatalf("expected underlying invoker not to be called, got %d calls",
			inv.generateCalls)
	}
}

func TestEstimateTokensMonotonic(t *testing.T) {
	smallReq := &model.Request{
		Messages: []*model.Message{{Role: "user", Content: "short"}},
	}
	bigReq := &model.Request{
		System:   "You are a verbose assistant with a long standing charter.",
		Messages: []*model.Message{{Role: "user", Content: "this is a much longer message"}},
	}

	small := estimateTokens(smallReq)
	big := estimateTokens(bigReq)

	if small <= 0 {
		t.Fatalf("expected positive token estimate for small request, got %d",
			small)
	}
	if big <= small {
		t.Fatalf("expected larger estimate for larger request, small=%d big=%d",
			small, big)
	}
}
