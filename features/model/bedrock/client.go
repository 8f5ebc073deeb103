// Package bedrock provides a model.Invoker backed by the AWS Bedrock
// Converse API. It splits system vs. conversational messages, issues
// Converse/ConverseStream calls, and translates responses back into the
// generic structures.
package bedrock

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"goa.design/flow/model"
)

const bedrockProviderName = "bedrock"

type (
	// RuntimeClient mirrors the subset of the AWS Bedrock runtime client
	// required by the adapter. Use WrapRuntime to adapt a real
	// *bedrockruntime.Client; tests can implement it directly.
	RuntimeClient interface {
		Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
		ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (StreamOutput, error)
	}

	// StreamOutput is the subset of the AWS ConverseStream output type required
	// by the adapter. It is satisfied by *bedrockruntime.ConverseStreamOutput
	// and simplifies unit testing by allowing fake implementations.
	StreamOutput interface {
		GetStream() *bedrockruntime.ConverseStreamEventStream
	}

	// Options configures the Bedrock client adapter.
	Options struct {
		// Runtime provides access to the Bedrock runtime. Required.
		Runtime RuntimeClient

		// DefaultModel is the model identifier used when a request does not
		// name one.
		DefaultModel string

		// MaxTokens sets the default completion cap when a request does not
		// specify MaxTokens. When zero or negative, the client omits MaxTokens
		// so Bedrock uses its own default.
		MaxTokens int

		// Temperature is used when a request does not specify Temperature.
		Temperature float32
	}

	// Client implements model.Invoker on top of AWS Bedrock Converse.
	Client struct {
		runtime      RuntimeClient
		defaultModel string
		maxTok       int
		temp         float32
	}
)

// New initializes a Bedrock-powered invoker configured for chat completion
// and streaming requests.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{
		runtime:      opts.Runtime,
		defaultModel: opts.DefaultModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// NewFromConfig builds a client over the real Bedrock runtime created from
// the given AWS config.
func NewFromConfig(cfg aws.Config, opts Options) (*Client, error) {
	opts.Runtime = sdkRuntime{bedrockruntime.NewFromConfig(cfg)}
	return New(opts)
}

// sdkRuntime narrows *bedrockruntime.Client to RuntimeClient. The indirection
// exists because Go interfaces are not covariant in return types.
type sdkRuntime struct {
	c *bedrockruntime.Client
}

func (r sdkRuntime) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return r.c.Converse(ctx, params, optFns...)
}

func (r sdkRuntime) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (StreamOutput, error) {
	out, err := r.c.ConverseStream(ctx, params, optFns...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Generate issues a chat completion request to the configured Bedrock model
// using the Converse API.
func (c *Client) Generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	messages, system, err := encodeMessages(req)
	if err != nil {
		return nil, err
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.resolveModelID(req)),
		Messages: messages,
	}
	if len(system) > 0 {
		input.System = system
	}
	if cfg := c.inferenceConfig(req.MaxTokens, req.Temperature); cfg != nil {
		input.InferenceConfig = cfg
	}
	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return nil, wrapBedrockError("converse", err)
	}
	return translateResponse(output), nil
}

// Stream invokes the Bedrock ConverseStream API and adapts incremental events
// into model.Chunks so callers can surface partial responses.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	messages, system, err := encodeMessages(req)
	if err != nil {
		return nil, err
	}
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(c.resolveModelID(req)),
		Messages: messages,
	}
	if len(system) > 0 {
		input.System = system
	}
	if cfg := c.inferenceConfig(req.MaxTokens, req.Temperature); cfg != nil {
		input.InferenceConfig = cfg
	}
	out, err := c.runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, wrapBedrockError("converse_stream", err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, errors.New("bedrock: stream output missing event stream")
	}
	return newBedrockStreamer(ctx, stream), nil
}

func (c *Client) resolveModelID(req *model.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return c.defaultModel
}

func (c *Client) inferenceConfig(maxTokens int, temp float32) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	tokens := maxTokens
	if tokens <= 0 {
		tokens = c.maxTok
	}
	if tokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(tokens)) //nolint:gosec // AWS SDK requires int32
	}
	t := temp
	if t <= 0 {
		t = c.temp
	}
	if t > 0 {
		cfg.Temperature = aws.Float32(t)
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil {
		return nil
	}
	return &cfg
}

// encodeMessages splits the normalized conversation into Bedrock messages and
// system blocks. Request.System becomes the leading system block; system-role
// messages append to it.
func encodeMessages(req *model.Request) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("bedrock: messages are required")
	}
	conversation := make([]brtypes.Message, 0, len(req.Messages))
	var system []brtypes.SystemContentBlock
	if req.System != "" {
		system = append(system, &brtypes.SystemContentBlockMemberText{Value: req.System})
	}
	for _, m := range req.Messages {
		if m == nil || strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Role {
		case "user":
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		case "assistant":
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		case "system":
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
		default:
			return nil, nil, errors.New("bedrock: unsupported message role " + m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func translateResponse(output *bedrockruntime.ConverseOutput) *model.Response {
	resp := &model.Response{}
	var text strings.Builder
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
				text.WriteString(tb.Value)
			}
		}
	}
	resp.Text = text.String()
	resp.FinishReason = string(output.StopReason)
	if usage := output.Usage; usage != nil {
		if t := usage.InputTokens; t != nil {
			resp.Usage.InputTokens = int(*t)
		}
		if t := usage.OutputTokens; t != nil {
			resp.Usage.OutputTokens = int(*t)
		}
		if t := usage.TotalTokens; t != nil {
			resp.Usage.TotalTokens = int(*t)
		}
	}
	return resp
}

// isRateLimited reports whether err represents a provider rate limiting
// condition. It treats both HTTP 429 responses and provider error codes like
// ThrottlingException as rate-limited signals.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrRateLimited) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429 {
		return true
	}

	return false
}

func wrapBedrockError(operation string, err error) error {
	if isRateLimited(err) {
		pe := model.NewProviderError(bedrockProviderName, operation, http.StatusTooManyRequests, model.ProviderErrorKindRateLimited, "rate_limited", "", true, err)
		return errors.Join(model.ErrRateLimited, pe)
	}

	var (
		status int
		code   string
		msg    string
	)

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
		msg = apiErr.ErrorMessage()
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
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
	case status >= http.StatusInternalServerError && status <= http.StatusNetworkAuthenticationRequired:
		kind = model.ProviderErrorKindUnavailable
		retryable = true
	}

	return model.NewProviderError(bedrockProviderName, operation, status, kind, code, msg, retryable, err)
}
