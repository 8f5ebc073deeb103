// Package openai provides a model.Invoker backed by the OpenAI Chat
// Completions API. It translates normalized requests into ChatCompletion
// calls using github.com/sashabaranov/go-openai and maps responses back to
// the generic structures.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"goa.design/flow/model"
)

const providerName = "openai"

// ChatClient captures the subset of the go-openai client used by the adapter.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (
		openai.ChatCompletionResponse, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	Client       ChatClient
	DefaultModel string
}

// Client implements model.Invoker via the OpenAI Chat Completions API.
type Client struct {
	chat  ChatClient
	model string
}

// New builds an OpenAI-backed invoker from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{chat: opts.Client, model: opts.DefaultModel}, nil
}

// NewFromAPIKey constructs a client using the default go-openai HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	return New(Options{Client: openai.NewClient(apiKey), DefaultModel: defaultModel})
}

// Generate renders a chat completion using the configured OpenAI client. The
// request system prompt becomes the leading system-role message.
func (c *Client) Generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		if m == nil || m.Content == "" {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	request := openai.ChatCompletionRequest{
		Model:       modelID,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	response, err := c.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, wrapOpenAIError("chat.completions", err)
	}
	return translateResponse(response), nil
}

// Stream reports that OpenAI Chat Completions streaming is not yet supported
// by this adapter. Callers should fall back to Generate.
func (c *Client) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func translateResponse(resp openai.ChatCompletionResponse) *model.Response {
	out := &model.Response{
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
		out.FinishReason = string(resp.Choices[0].FinishReason)
	}
	return out
}

// wrapOpenAIError classifies a go-openai failure into a ProviderError. Rate
// limited responses additionally join ErrRateLimited.
func wrapOpenAIError(operation string, err error) error {
	var (
		status int
		code   string
		msg    string
	)
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatusCode
		msg = apiErr.Message
		if s, ok := apiErr.Code.(string); ok {
			code = s
		} else if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
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

	pe := model.NewProviderError(providerName, operation, status, kind, code, msg, retryable, err)
	if kind == model.ProviderErrorKindRateLimited {
		return errors.Join(model.ErrRateLimited, pe)
	}
	return pe
}
