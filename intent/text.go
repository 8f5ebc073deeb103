package intent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"goa.design/flow/model"
)

// TextClassifier asks a model for a labelled-line verdict:
//
//	INTENT: <category>
//	CONFIDENCE: <number between 0 and 1>
//	REASONING: <one sentence>
//
// Unlike StructuredClassifier it never rejects a response. Labels match
// case-insensitively, unknown categories coerce to General, confidence
// clamps to [0, 1] and defaults to 0.5 when absent or unparseable.
type TextClassifier struct {
	invoker    model.Invoker
	set        modelSettings
	categories []string
	known      map[string]struct{}
}

// NewTextClassifier creates a classifier for the given categories.
func NewTextClassifier(invoker model.Invoker, categories []string, opts ...ModelOption) (*TextClassifier, error) {
	if invoker == nil {
		return nil, errors.New("invoker is required")
	}
	c := &TextClassifier{
		invoker:    invoker,
		set:        defaultModelSettings(),
		categories: withGeneral(categories),
	}
	for _, opt := range opts {
		opt(&c.set)
	}
	c.known = make(map[string]struct{}, len(c.categories))
	for _, cat := range c.categories {
		c.known[strings.ToLower(cat)] = struct{}{}
	}
	return c, nil
}

// Classify sends the message to the model and parses the verdict.
func (c *TextClassifier) Classify(ctx context.Context, message string) (LLMResult, error) {
	resp, err := c.invoker.Generate(ctx, &model.Request{
		Model:       c.set.modelID,
		System:      c.systemPrompt(),
		Messages:    []*model.Message{{Role: "user", Content: message}},
		MaxTokens:   c.set.maxTokens,
		Temperature: c.set.temperature,
	})
	if err != nil {
		return LLMResult{}, fmt.Errorf("generate classification: %w", err)
	}
	res := c.parse(resp.Text)
	usage := resp.Usage
	res.Usage = &usage
	return res, nil
}

// parse extracts the labelled verdict lines. Later labelled lines
// override earlier ones; invalid values leave the running value alone.
func (c *TextClassifier) parse(text string) LLMResult {
	res := LLMResult{Intent: General, Confidence: 0.5}
	for _, line := range strings.Split(text, "\n") {
		label, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		rest = strings.TrimSpace(rest)
		switch strings.ToUpper(strings.TrimSpace(label)) {
		case "INTENT":
			cat := strings.ToLower(rest)
			if _, known := c.known[cat]; known {
				res.Intent = cat
			} else {
				res.Intent = General
			}
		case "CONFIDENCE":
			if f, err := strconv.ParseFloat(rest, 64); err == nil && !math.IsNaN(f) {
				res.Confidence = math.Max(0, math.Min(1, f))
			}
		case "REASONING":
			res.Reasoning = rest
		}
	}
	return res
}

func (c *TextClassifier) systemPrompt() string {
	return fmt.Sprintf(`You are an intent classifier. Classify the user message into exactly one of these categories: %s.

Respond with exactly three lines:
INTENT: <category>
CONFIDENCE: <number between 0 and 1>
REASONING: <one sentence>`, strings.Join(c.categories, ", "))
}
