// Package middleware provides reusable model.Invoker middlewares.
package middleware

import (
	"context"
	"time"

	"goa.design/flow/model"
	"goa.design/flow/telemetry"
)

// Middleware wraps a model.Invoker with additional behavior.
type Middleware func(model.Invoker) model.Invoker

type observedInvoker struct {
	next    model.Invoker
	logger  telemetry.Logger
	metrics telemetry.Metrics
}

// WithObservability returns a middleware that records invocation latency and
// outcome counters and logs failures with their provider classification.
// Nil telemetry arguments fall back to noop implementations.
func WithObservability(logger telemetry.Logger, metrics telemetry.Metrics) Middleware {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return func(next model.Invoker) model.Invoker {
		if next == nil {
			return nil
		}
		return &observedInvoker{next: next, logger: logger, metrics: metrics}
	}
}

// Apply wraps inv with the given middlewares. The first middleware becomes
// the outermost wrapper.
func Apply(inv model.Invoker, mws ...Middleware) model.Invoker {
	for i := len(mws) - 1; i >= 0; i-- {
		inv = mws[i](inv)
	}
	return inv
}

// Generate delegates to the underlying invoker, recording duration, outcome,
// and token usage.
func (o *observedInvoker) Generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	start := time.Now()
	resp, err := o.next.Generate(ctx, req)
	o.observe(ctx, "generate", req.Model, time.Since(start), err)
	if err == nil && resp.Usage.TotalTokens > 0 {
		o.metrics.RecordGauge("model.tokens.total", float64(resp.Usage.TotalTokens), "model", req.Model)
	}
	return resp, err
}

// Stream delegates to the underlying invoker, recording duration and outcome
// of stream establishment.
func (o *observedInvoker) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	start := time.Now()
	stream, err := o.next.Stream(ctx, req)
	o.observe(ctx, "stream", req.Model, time.Since(start), err)
	return stream, err
}

func (o *observedInvoker) observe(ctx context.Context, operation, modelID string, duration time.Duration, err error) {
	tags := []string{"operation", operation, "model", modelID}
	o.metrics.RecordTimer("model.invoke.duration", duration, tags...)
	if err == nil {
		o.metrics.IncCounter("model.invoke.success", 1, tags...)
		return
	}
	kind := string(model.ProviderErrorKindUnknown)
	if pe, ok := model.AsProviderError(err); ok {
		kind = string(pe.Kind())
	}
	o.metrics.IncCounter("model.invoke.error", 1, append(tags, "kind", kind)...)
	o.logger.Error(ctx, "model invocation failed",
		"operation", operation, "model", modelID, "kind", kind, "error", err)
}
