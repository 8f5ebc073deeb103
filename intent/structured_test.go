package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/flow/model"
)

type stubInvoker struct {
	text string
	err  error
	last *model.Request
}

func (s *stubInvoker) Generate(_ context.Context, req *model.Request) (*model.Response, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &model.Response{
		Text:         s.text,
		FinishReason: "stop",
		Usage:        model.TokenUsage{InputTokens: 12, OutputTokens: 5, TotalTokens: 17},
	}, nil
}

func (s *stubInvoker) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func TestStructuredClassify(t *testing.T) {
	inv := &stubInvoker{text: `{"intent": "billing", "confidence": 0.9, "reasoning": "mentions an invoice"}`}
	c, err := NewStructuredClassifier(inv, []string{"greeting", "billing"}, WithModel("test-model"))
	require.NoError(t, err)

	res, err := c.Classify(context.Background(), "where is my invoice")

	require.NoError(t, err)
	assert.Equal(t, "billing", res.Intent)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Equal(t, "mentions an invoice", res.Reasoning)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 17, res.Usage.TotalTokens)

	require.NotNil(t, inv.last)
	assert.Equal(t, "test-model", inv.last.Model)
	assert.Contains(t, inv.last.System, "greeting, billing, general")
	require.Len(t, inv.last.Messages, 1)
	assert.Equal(t, "where is my invoice", inv.last.Messages[0].Content)
}

func TestStructuredClassifyStripsFences(t *testing.T) {
	inv := &stubInvoker{text: "```json\n{\"intent\": \"general\", \"confidence\": 0.4}\n```"}
	c, err := NewStructuredClassifier(inv, []string{"greeting"})
	require.NoError(t, err)

	res, err := c.Classify(context.Background(), "hm")

	require.NoError(t, err)
	assert.Equal(t, General, res.Intent)
	assert.Equal(t, 0.4, res.Confidence)
}

func TestStructuredClassifyRejectsBadResponses(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"not json", "the intent is billing"},
		{"unknown intent", `{"intent": "payments", "confidence": 0.9}`},
		{"confidence too high", `{"intent": "billing", "confidence": 1.5}`},
		{"confidence negative", `{"intent": "billing", "confidence": -0.1}`},
		{"missing confidence", `{"intent": "billing"}`},
		{"extra field", `{"intent": "billing", "confidence": 0.5, "color": "red"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inv := &stubInvoker{text: tc.text}
			c, err := NewStructuredClassifier(inv, []string{"billing"})
			require.NoError(t, err)

			_, err = c.Classify(context.Background(), "anything")
			assert.Error(t, err)
		})
	}
}

func TestStructuredClassifyPropagatesInvokerError(t *testing.T) {
	inv := &stubInvoker{err: assert.AnError}
	c, err := NewStructuredClassifier(inv, []string{"billing"})
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), "anything")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestStructuredClassifierRequiresInvoker(t *testing.T) {
	_, err := NewStructuredClassifier(nil, []string{"billing"})
	assert.Error(t, err)
}

func TestStripFences(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, stripFences(tc.in))
	}
}
