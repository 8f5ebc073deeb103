package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/flow/model"
)

// StructuredClassifier asks a model for a JSON verdict and validates
// it against a schema before trusting it. Responses that fail
// validation are rejected rather than coerced; callers that want
// tolerance should use TextClassifier instead.
type StructuredClassifier struct {
	invoker model.Invoker
	set     modelSettings
	enum    []string
	schema  *jsonschema.Schema
}

// NewStructuredClassifier creates a classifier that constrains model
// output to one of the given categories. General is always accepted in
// addition to them.
func NewStructuredClassifier(invoker model.Invoker, categories []string, opts ...ModelOption) (*StructuredClassifier, error) {
	if invoker == nil {
		return nil, errors.New("invoker is required")
	}
	c := &StructuredClassifier{
		invoker: invoker,
		set:     defaultModelSettings(),
		enum:    withGeneral(categories),
	}
	for _, opt := range opts {
		opt(&c.set)
	}

	schema, err := compileVerdictSchema(c.enum)
	if err != nil {
		return nil, err
	}
	c.schema = schema
	return c, nil
}

// compileVerdictSchema builds the JSON Schema the model response must
// satisfy: an object with a category-constrained intent, a confidence
// in [0, 1] and optional reasoning.
func compileVerdictSchema(enum []string) (*jsonschema.Schema, error) {
	enumJSON, err := json.Marshal(enum)
	if err != nil {
		return nil, fmt.Errorf("marshal categories: %w", err)
	}
	schemaJSON := fmt.Sprintf(`{
		"type": "object",
		"properties": {
			"intent": {"type": "string", "enum": %s},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1},
			"reasoning": {"type": "string"}
		},
		"required": ["intent", "confidence"],
		"additionalProperties": false
	}`, enumJSON)

	var schemaDoc any
	if err := json.Unmarshal([]byte(schemaJSON), &schemaDoc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("intent.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile("intent.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// Classify sends the message to the model and decodes the validated
// verdict.
func (c *StructuredClassifier) Classify(ctx context.Context, message string) (LLMResult, error) {
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

	payload := stripFences(resp.Text)
	var doc any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return LLMResult{}, fmt.Errorf("parse classification: %w", err)
	}
	if err := c.schema.Validate(doc); err != nil {
		return LLMResult{}, fmt.Errorf("validate classification: %w", err)
	}

	var out struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return LLMResult{}, fmt.Errorf("decode classification: %w", err)
	}
	usage := resp.Usage
	return LLMResult{
		Intent:     out.Intent,
		Confidence: out.Confidence,
		Reasoning:  out.Reasoning,
		Usage:      &usage,
	}, nil
}

func (c *StructuredClassifier) systemPrompt() string {
	return fmt.Sprintf(`You are an intent classifier. Classify the user message into exactly one of these categories: %s.

Respond with a single JSON object and no other text:
{"intent": "<category>", "confidence": <number between 0 and 1>, "reasoning": "<one sentence>"}

Use %q when no category fits.`, strings.Join(c.enum, ", "), General)
}

// withGeneral copies categories and appends General when absent.
func withGeneral(categories []string) []string {
	out := make([]string, 0, len(categories)+1)
	seen := false
	for _, cat := range categories {
		if cat == General {
			seen = true
		}
		out = append(out, cat)
	}
	if !seen {
		out = append(out, General)
	}
	return out
}

// stripFences removes a surrounding markdown code block, which models
// emit even when asked for bare JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
