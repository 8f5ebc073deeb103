// Package anthropic provides a model.Invoker backed by the Anthropic Claude
// Messages API. It translates normalized requests into anthropic.Message
// calls using github.com/anthropics/anthropic-sdk-go and maps responses
// (text, stop reason, usage) back into the generic structures.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"goa.design/flow/model"
)

const providerName = "anthropic"

type (
	// MessagesClient captures the subset of the Anthropic SDK client used by the
	// adapter. It is satisfied by *sdk.MessageService so callers can pass either a
	// real client or a mock in tests.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
		NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
	}

	// Options configures optional Anthropic adapter behavior.
	Options struct {
		// DefaultModel is the Claude model identifier used when
		// model.Request.Model is empty. Use the typed model constants from
		// github.com/anthropics/anthropic-sdk-go (for example,
		// string(sdk.ModelClaudeSonnet4_5_20250929)) or the identifiers listed
		// in the Anthropic model reference.
		DefaultModel string

		// MaxTokens sets the default completion cap when a request does not
		// specify MaxTokens. When zero or negative, the client requires callers
		// to set Request.MaxTokens explicitly.
		MaxTokens int

		// Temperature is used when a request does not specify Temperature.
		Temperature float64
	}

	// Client implements model.Invoker on top of Anthropic Claude Messages.
	Client struct {
		msg          MessagesClient
		defaultModel string
		maxTok       int
		temp         float64
	}
)

// New builds an Anthropic-backed invoker from the provided Anthropic Messages
// client and configuration options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// Generate issues a non-streaming Messages.New request and translates the
// response into the normalized form.
func (c *Client) Generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return nil, wrapAnthropicError("messages.new", err)
	}
	return translateResponse(msg)
}

// Stream invokes Messages.NewStreaming and adapts incremental events into
// model.Chunks so callers can surface partial responses.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, wrapAnthropicError("messages.new_streaming", err)
	}
	return newAnthropicStreamer(ctx, stream), nil
}

func (c *Client) prepareRequest(req *model.Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	msgs, system, err := encodeMessages(req)
	if err != nil {
		return nil, err
	}
	maxTokens := c.effectiveMaxTokens(req.MaxTokens)
	if maxTokens <= 0 {
		return nil, errors.New("anthropic: max_tokens must be positive")
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	if t := c.effectiveTemperature(req.Temperature); t > 0 {
		params.Temperature = sdk.Float(t)
	}
	return &params, nil
}

func (c *Client) effectiveMaxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return c.maxTok
}

func (c *Client) effectiveTemperature(requested float32) float64 {
	if requested > 0 {
		return float64(requested)
	}
	return c.temp
}

// encodeMessages splits the normalized conversation into Anthropic
// conversation turns and system blocks. Request.System becomes the leading
// system block; system-role messages append to it.
func encodeMessages(req *model.Request) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(req.Messages))
	var system []sdk.TextBlockParam
	if req.System != "" {
		system = append(system, sdk.TextBlockParam{Text: req.System})
	}

	for _, m := range req.Messages {
		if m == nil || strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Role {
		case "user":
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case "assistant":
			conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		case "system":
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func translateResponse(msg *sdk.Message) (*model.Response, error) {
	if msg == nil {
		return nil, errors.New("anthropic: response message is nil")
	}
	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			text.WriteString(block.Text)
		}
	}
	resp := &model.Response{
		Text:         text.String(),
		FinishReason: string(msg.StopReason),
	}
	if u := msg.Usage; u.InputTokens != 0 || u.OutputTokens != 0 {
		resp.Usage = model.TokenUsage{
			InputTokens:  int(u.InputTokens),
			OutputTokens: int(u.OutputTokens),
			TotalTokens:  int(u.InputTokens + u.OutputTokens),
		}
	}
	return resp, nil
}

// wrapAnthropicError classifies an SDK failure into a ProviderError. Rate
// limited responses additionally join ErrRateLimited so callers can test with
// errors.Is without unwrapping.
func wrapAnthropicError(operation string, err error) error {
	status := 0
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		status = apierr.StatusCode
	}

	kind := model.ProviderErrorKindUnknown
	retryable := false
	switch {
	case status == http.StatusBadRequest:
		kind = model.ProviderErrorKindInvalidRequest
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = model.ProviderErrorKindAuth
	case status == http.StatusTooManyRequests:
		kind = model.ProviderErrorKindRateLimited
		retryable = true
	case status >= http.StatusInternalServerError:
		kind = model.ProviderErrorKindUnavailable
		retryable = true
	}

	pe := model.NewProviderError(providerName, operation, status, kind, "", "", retryable, err)
	if kind == model.ProviderErrorKindRateLimited {
		return errors.Join(model.ErrRateLimited, pe)
	}
	return pe
}
