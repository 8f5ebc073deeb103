// Package intent classifies user messages into configured categories.
//
// Classification runs in two tiers. The keyword tier scores every
// configured pattern against the message and is cheap enough to run on
// each request. When its confidence is low, a Resolver escalates to a
// model-backed classifier and folds the answer back into the same
// Result shape, so downstream stages never care which tier produced it.
package intent

import (
	"math"
	"sort"
	"strings"

	"goa.design/flow/pipeline"
)

type (
	// Method identifies which tier produced a classification.
	Method string

	// Pattern associates an intent category with the keywords that
	// signal it. Keywords match case-insensitively as substrings of the
	// message, and a multi-word keyword scores one point per word.
	Pattern struct {
		Category string
		Keywords []string
	}

	// Metadata carries per-category response guidance.
	Metadata struct {
		Tone                 string
		DeepLink             string
		RequiresAuth         bool
		ClassificationMethod string
		Reasoning            string
	}

	// Result is a classification outcome.
	Result struct {
		Intent          string
		Confidence      float64
		MatchedKeywords []string
		Method          Method
		Metadata        *Metadata
	}

	// Classifier scores messages against configured keyword patterns.
	Classifier struct {
		patterns []Pattern
		metadata map[string]Metadata
	}

	// ClassifierOption configures a Classifier.
	ClassifierOption func(*Classifier)
)

const (
	// MethodKeyword marks results produced by keyword scoring.
	MethodKeyword Method = "keyword"
	// MethodLLM marks results produced by a model-backed classifier.
	MethodLLM Method = "llm"
)

// General is the fallback category returned when no pattern matches.
const General = "general"

// NewClassifier creates a keyword classifier from the given patterns.
// Keywords are normalized to lower case at construction. Pattern order
// is significant: score ties resolve to the earliest declared category.
func NewClassifier(patterns []Pattern, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		patterns: make([]Pattern, 0, len(patterns)),
		metadata: make(map[string]Metadata),
	}
	for _, p := range patterns {
		norm := Pattern{Category: p.Category, Keywords: make([]string, 0, len(p.Keywords))}
		for _, k := range p.Keywords {
			k = strings.ToLower(strings.TrimSpace(k))
			if k == "" {
				continue
			}
			norm.Keywords = append(norm.Keywords, k)
		}
		c.patterns = append(c.patterns, norm)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithMetadata attaches per-category metadata returned alongside
// winning classifications.
func WithMetadata(md map[string]Metadata) ClassifierOption {
	return func(c *Classifier) {
		for category, m := range md {
			c.metadata[category] = m
		}
	}
}

type patternScore struct {
	category string
	points   int
	matched  []string
}

// Classify scores message against every configured pattern and returns
// the best category. Confidence reflects the winning margin: a clear
// winner approaches 1, a near tie approaches 0. A message that matches
// nothing classifies as General with zero confidence.
func (c *Classifier) Classify(message string) Result {
	lower := strings.ToLower(message)
	scores := make([]patternScore, len(c.patterns))
	for i, p := range c.patterns {
		scores[i].category = p.Category
		for _, k := range p.Keywords {
			if strings.Contains(lower, k) {
				scores[i].points += len(strings.Fields(k))
				scores[i].matched = append(scores[i].matched, k)
			}
		}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].points > scores[j].points })

	if len(scores) == 0 || scores[0].points == 0 {
		return Result{Intent: General, MatchedKeywords: []string{}, Method: MethodKeyword}
	}

	best := scores[0]
	var second int
	if len(scores) > 1 {
		second = scores[1].points
	}
	res := Result{
		Intent:          best.category,
		Confidence:      math.Min(1, float64(best.points-second)/math.Max(float64(best.points), 1)),
		MatchedKeywords: best.matched,
		Method:          MethodKeyword,
	}
	if md, ok := c.metadata[best.category]; ok {
		res.Metadata = &md
	}
	return res
}

// MetadataFor returns the configured metadata for category.
func (c *Classifier) MetadataFor(category string) (Metadata, bool) {
	md, ok := c.metadata[category]
	return md, ok
}

// Categories returns the configured category names in declaration
// order, without duplicates.
func (c *Classifier) Categories() []string {
	seen := make(map[string]struct{}, len(c.patterns))
	cats := make([]string, 0, len(c.patterns))
	for _, p := range c.patterns {
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		cats = append(cats, p.Category)
	}
	return cats
}

// FromState returns the classification recorded on s by an intent
// classification stage.
func FromState(s *pipeline.State) (Result, bool) {
	v, ok := s.Value(pipeline.ExtIntent)
	if !ok {
		return Result{}, false
	}
	res, ok := v.(Result)
	return res, ok
}
