package prompt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"goa.design/flow/cache"
	"goa.design/flow/intent"
	"goa.design/flow/pipeline"
	"goa.design/flow/telemetry"
)

type (
	// Query is the request an Engine sends its loader.
	Query struct {
		Topics         []string
		Variant        string
		IsFirstMessage bool
		UserID         string
		SessionID      string
		Metadata       map[string]any
	}

	// ContextLoader fetches the section catalog for a query.
	ContextLoader interface {
		Load(ctx context.Context, q Query) ([]Section, error)
	}

	// Engine builds selections from externally loaded catalogs. The
	// catalog for a variant is loaded once and cached, so topics and
	// conversation position never fragment the cache; they filter the
	// catalog per call instead.
	Engine struct {
		loader   ContextLoader
		policy   Policy
		tones    map[string]string
		fallback []Section
		ttl      time.Duration
		cache    *cache.TTL[[]Section]
		logger   telemetry.Logger
		metrics  telemetry.Metrics

		topics    func(*pipeline.State) []string
		isFirst   func(*pipeline.State) bool
		tone      func(*pipeline.State) string
		variant   func(*pipeline.State) string
		onVariant func(variant string)
	}

	// EngineOption configures an Engine.
	EngineOption func(*Engine)
)

// DefaultCacheTTL is how long a loaded catalog stays fresh.
const DefaultCacheTTL = 5 * time.Minute

// defaultVariantKey keys the cache when no variant is derived.
const defaultVariantKey = "default"

// NewEngine creates an Engine around the given loader.
func NewEngine(loader ContextLoader, opts ...EngineOption) (*Engine, error) {
	if loader == nil {
		return nil, errors.New("context loader is required")
	}
	e := &Engine{
		loader:  loader,
		ttl:     DefaultCacheTTL,
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
		topics:  defaultTopics,
		isFirst: defaultIsFirstMessage,
		tone:    defaultTone,
		variant: defaultVariant,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cache = cache.New[[]Section](e.ttl,
		cache.WithName("prompt"),
		cache.WithLogger(e.logger),
		cache.WithMetrics(e.metrics),
	)
	return e, nil
}

// WithSelectionPolicy sets the policy applied to loaded catalogs.
func WithSelectionPolicy(p Policy) EngineOption {
	return func(e *Engine) { e.policy = p }
}

// WithToneMap sets the tone map applied to loaded catalogs and to the
// fallback catalog alike.
func WithToneMap(tones map[string]string) EngineOption {
	return func(e *Engine) { e.tones = tones }
}

// WithFallback sets the catalog used when the loader fails. Without a
// fallback, loader failures surface as errors from Build.
func WithFallback(sections []Section) EngineOption {
	return func(e *Engine) { e.fallback = sections }
}

// WithCacheTTL overrides how long loaded catalogs stay fresh.
func WithCacheTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) { e.ttl = ttl }
}

// WithLogger sets the logger for loader failures and callback panics.
func WithLogger(l telemetry.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder for cache and selection
// figures.
func WithMetrics(m telemetry.Metrics) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithTopicsExtractor overrides how topics derive from state. The
// default uses the classified intent as the only topic.
func WithTopicsExtractor(fn func(*pipeline.State) []string) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.topics = fn
		}
	}
}

// WithFirstMessageExtractor overrides how conversation position
// derives from state. The default counts user messages.
func WithFirstMessageExtractor(fn func(*pipeline.State) bool) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.isFirst = fn
		}
	}
}

// WithToneExtractor overrides how the tone key derives from state. The
// default reads the classified intent's metadata.
func WithToneExtractor(fn func(*pipeline.State) string) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.tone = fn
		}
	}
}

// WithVariantExtractor overrides how the variant derives from state.
// The default reads the "variant" request metadata entry.
func WithVariantExtractor(fn func(*pipeline.State) string) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.variant = fn
		}
	}
}

// WithVariantCallback registers fn to observe every non-empty derived
// variant. The callback runs supervised: a panic inside it is logged
// and swallowed.
func WithVariantCallback(fn func(variant string)) EngineOption {
	return func(e *Engine) { e.onVariant = fn }
}

// Build derives a selection request from state, loads the catalog for
// its variant and runs the selection round. Loader failures fall back
// to the configured fallback catalog, or surface as an error when none
// is configured.
func (e *Engine) Build(ctx context.Context, s *pipeline.State) (Selection, error) {
	if s == nil {
		s = pipeline.NewState(pipeline.Request{})
	}
	req := Request{
		Topics:         e.topics(s),
		IsFirstMessage: e.isFirst(s),
		Tone:           e.tone(s),
	}
	variant := e.variant(s)
	if variant != "" {
		e.fireVariant(ctx, variant)
	}
	key := variant
	if key == "" {
		key = defaultVariantKey
	}

	userID, _ := s.MetadataString("userId")
	sessionID, _ := s.MetadataString("sessionId")
	query := Query{
		Topics:         req.Topics,
		Variant:        variant,
		IsFirstMessage: req.IsFirstMessage,
		UserID:         userID,
		SessionID:      sessionID,
		Metadata:       s.Request.Metadata,
	}
	sections, err := e.cache.GetOrLoad(ctx, key, func(ctx context.Context) ([]Section, error) {
		return e.loader.Load(ctx, query)
	})
	if err != nil {
		if e.fallback != nil {
			e.logger.Warn(ctx, "context load failed, using fallback catalog",
				"variant", key,
				"error", err,
			)
			e.metrics.IncCounter("prompt.fallback", 1, "variant", key)
			sel := optimize(e.fallback, e.policy, e.tones, req)
			sel.Variant = variant
			return sel, nil
		}
		return Selection{}, fmt.Errorf("load context sections: %w", err)
	}

	sel := optimize(sections, e.policy, e.tones, req)
	sel.Variant = variant
	e.metrics.RecordGauge("prompt.tokens.estimate", float64(sel.TokenEstimate), "variant", key)
	return sel, nil
}

// InvalidateVariant drops the cached catalog for a variant. An empty
// variant drops the default catalog.
func (e *Engine) InvalidateVariant(variant string) {
	if variant == "" {
		variant = defaultVariantKey
	}
	e.cache.Invalidate(variant)
}

// ClearCache drops every cached catalog.
func (e *Engine) ClearCache() {
	e.cache.Clear()
}

func (e *Engine) fireVariant(ctx context.Context, variant string) {
	if e.onVariant == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error(ctx, "variant callback panic", "panic", rec)
		}
	}()
	e.onVariant(variant)
}

func defaultTopics(s *pipeline.State) []string {
	if res, ok := intent.FromState(s); ok && res.Intent != "" {
		return []string{res.Intent}
	}
	return nil
}

func defaultIsFirstMessage(s *pipeline.State) bool {
	count := 0
	for _, m := range s.Request.Messages {
		if m.Role == pipeline.RoleUser {
			count++
		}
	}
	return count <= 1
}

func defaultTone(s *pipeline.State) string {
	if res, ok := intent.FromState(s); ok && res.Metadata != nil {
		return res.Metadata.Tone
	}
	return ""
}

func defaultVariant(s *pipeline.State) string {
	v, _ := s.MetadataString("variant")
	return v
}
