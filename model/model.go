// Package model defines the provider-agnostic contract for invoking large
// language models. It abstracts over chat completion APIs (Anthropic,
// OpenAI, Bedrock, etc.) so pipeline stages and intent classifiers can
// invoke models without coupling to specific SDKs. Implementations live
// under features/model and translate these normalized types into
// provider-specific formats.
package model

import (
	"context"
	"errors"
)

type (
	// Invoker is the contract stages use to invoke LLM calls. Implementations
	// wrap provider SDKs and translate Request/Response to provider-specific
	// formats. Invokers should be thread-safe and reusable across concurrent
	// pipeline runs.
	Invoker interface {
		// Generate sends a completion request to the model provider and
		// returns the full generated response. Returns an error if the
		// provider is unavailable, quota is exceeded, or the request is
		// malformed; provider failures are classified as *ProviderError.
		Generate(ctx context.Context, req *Request) (*Response, error)

		// Stream sends a completion request and returns a Streamer that
		// yields incremental text chunks followed by a final chunk carrying
		// the assembled Response. The returned Streamer must be closed by
		// callers. Providers that do not support streaming return
		// ErrStreamingUnsupported.
		Stream(ctx context.Context, req *Request) (Streamer, error)
	}

	// Request captures the normalized parameters for a model invocation.
	Request struct {
		// Model identifies the target model using the provider-specific
		// identifier (e.g. "claude-sonnet-4-5", "gpt-4o").
		Model string

		// System is the system prompt. Providers that model system
		// instructions as a message translate it accordingly.
		System string

		// Messages is the ordered chat history, excluding the system prompt.
		Messages []*Message

		// MaxTokens caps completion length. Zero means the provider default.
		MaxTokens int

		// Temperature controls sampling randomness. Zero means greedy
		// decoding or the provider default, per provider.
		Temperature float32
	}

	// Message mirrors an LLM chat message with role and content.
	Message struct {
		// Role is "user", "assistant", "system", or "tool".
		Role string

		// Content is the message text.
		Content string
	}

	// Response wraps the generated text and completion metadata.
	Response struct {
		// Text is the generated completion.
		Text string

		// FinishReason explains why generation stopped. Common values:
		// "stop", "length", "content_filter". Provider-specific; may be
		// empty.
		FinishReason string

		// Usage reports token consumption when the provider supplies it.
		Usage TokenUsage
	}

	// TokenUsage records prompt and completion token counts when reported by
	// the provider. All fields are zero when the provider omits usage.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}

	// Streamer delivers incremental model output. Successive calls to Recv
	// return chunks until io.EOF. Implementations must be safe to call from
	// a single goroutine and release underlying resources on Close.
	Streamer interface {
		// Recv returns the next chunk from the stream.
		Recv() (Chunk, error)
		// Close closes the stream.
		Close() error
	}

	// Chunk is one streaming event. Text chunks carry incremental output;
	// the final chunk carries the assembled Response.
	Chunk struct {
		Type     ChunkType
		Text     string
		Response *Response
	}

	// ChunkType identifies the chunk payload.
	ChunkType string
)

// Chunk type constants.
const (
	ChunkTypeText  ChunkType = "text"
	ChunkTypeFinal ChunkType = "final"
)

// ErrStreamingUnsupported indicates the model provider does not implement
// streaming for the requested model/parameters.
var ErrStreamingUnsupported = errors.New("model: streaming not supported")

// ErrRateLimited marks provider throttling. Adapters join it into the error
// chain alongside the classified *ProviderError so callers can test with
// errors.Is without unwrapping.
var ErrRateLimited = errors.New("model: rate limited")
