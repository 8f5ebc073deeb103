package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/flow/pipeline"
)

func selectivePolicy() Policy {
	return Policy{FirstMessage: ModeSelective, FollowUp: ModeSelective}
}

func TestOptimizeSelectiveWithTone(t *testing.T) {
	o := NewOptimizer([]Section{
		{ID: "core", Content: "A", AlwaysInclude: true},
		{ID: "help", Content: "B", Topics: []string{"help"}},
		{ID: "tech", Content: "C", Topics: []string{"tech"}},
	},
		WithPolicy(selectivePolicy()),
		WithTones(map[string]string{"friendly": "T"}),
	)

	sel := o.Optimize(Request{Topics: []string{"help"}, Tone: "friendly"})

	assert.Equal(t, "A\n\nB\n\nT", sel.SystemPrompt)
	assert.Equal(t, []string{"core", "help"}, sel.SectionsIncluded)
	assert.Equal(t, 3, sel.TotalSections)
	assert.Equal(t, 2, sel.TokenEstimate)
	assert.Equal(t, 2, sel.MaxTokenEstimate)
}

func TestOptimizeFirstMessageUsesFullCatalog(t *testing.T) {
	o := NewOptimizer([]Section{
		{ID: "a", Content: "A", Topics: []string{"x"}},
		{ID: "b", Content: "B", Topics: []string{"y"}},
	})

	sel := o.Optimize(Request{IsFirstMessage: true, Topics: []string{"x"}})

	assert.Equal(t, "A\n\nB", sel.SystemPrompt)
	assert.Equal(t, []string{"a", "b"}, sel.SectionsIncluded)
	assert.Equal(t, sel.MaxTokenEstimate, sel.TokenEstimate)
}

func TestOptimizeFollowUpDefaultsSelective(t *testing.T) {
	o := NewOptimizer([]Section{
		{ID: "core", Content: "A", AlwaysInclude: true},
		{ID: "tech", Content: "C", Topics: []string{"tech"}},
		{ID: "help", Content: "B", Topics: []string{"help"}},
	})

	sel := o.Optimize(Request{Topics: []string{"tech"}})

	assert.Equal(t, []string{"core", "tech"}, sel.SectionsIncluded)
	assert.Equal(t, "A\n\nC", sel.SystemPrompt)
}

func TestOptimizeFirstMessageSelectivePolicy(t *testing.T) {
	o := NewOptimizer([]Section{
		{ID: "a", Content: "A", Topics: []string{"x"}},
		{ID: "b", Content: "B", Topics: []string{"y"}},
	}, WithPolicy(Policy{FirstMessage: ModeSelective}))

	sel := o.Optimize(Request{IsFirstMessage: true, Topics: []string{"y"}})

	assert.Equal(t, []string{"b"}, sel.SectionsIncluded)
}

func TestOptimizeFollowUpFullPolicy(t *testing.T) {
	o := NewOptimizer([]Section{
		{ID: "a", Content: "A", Topics: []string{"x"}},
		{ID: "b", Content: "B", Topics: []string{"y"}},
	}, WithPolicy(Policy{FollowUp: ModeFull}))

	sel := o.Optimize(Request{Topics: []string{"y"}})

	assert.Equal(t, []string{"a", "b"}, sel.SectionsIncluded)
}

func TestOptimizePriorityOrderingIsStable(t *testing.T) {
	o := NewOptimizer([]Section{
		{ID: "a", Content: "A", Priority: 1, Topics: []string{"t"}},
		{ID: "b", Content: "B", Priority: 5, Topics: []string{"t"}},
		{ID: "c", Content: "C", Priority: 5, Topics: []string{"t"}},
		{ID: "d", Content: "D", Priority: 9, AlwaysInclude: true},
	}, WithPolicy(selectivePolicy()))

	sel := o.Optimize(Request{Topics: []string{"t"}})

	assert.Equal(t, []string{"d", "b", "c", "a"}, sel.SectionsIncluded)
}

func TestOptimizeDeduplicatesAfterSort(t *testing.T) {
	// The higher-priority occurrence of a duplicated id wins.
	o := NewOptimizer([]Section{
		{ID: "x", Content: "first", Priority: 1, Topics: []string{"t"}},
		{ID: "x", Content: "second", Priority: 9, Topics: []string{"t"}},
	}, WithPolicy(selectivePolicy()))

	sel := o.Optimize(Request{Topics: []string{"t"}})

	assert.Equal(t, []string{"x"}, sel.SectionsIncluded)
	assert.Equal(t, "second", sel.SystemPrompt)
}

func TestOptimizeToneRequiresMapping(t *testing.T) {
	sections := []Section{{ID: "core", Content: "A", AlwaysInclude: true}}

	o := NewOptimizer(sections, WithPolicy(selectivePolicy()), WithTones(map[string]string{"friendly": "T"}))
	sel := o.Optimize(Request{Tone: "formal"})
	assert.Equal(t, "A", sel.SystemPrompt)

	sel = o.Optimize(Request{})
	assert.Equal(t, "A", sel.SystemPrompt)

	o = NewOptimizer(sections, WithPolicy(selectivePolicy()))
	sel = o.Optimize(Request{Tone: "friendly"})
	assert.Equal(t, "A", sel.SystemPrompt)
}

func TestOptimizeEmptyCatalog(t *testing.T) {
	o := NewOptimizer(nil, WithPolicy(selectivePolicy()))

	sel := o.Optimize(Request{Topics: []string{"t"}})

	assert.Empty(t, sel.SystemPrompt)
	assert.Empty(t, sel.SectionsIncluded)
	assert.Zero(t, sel.TotalSections)
	assert.Zero(t, sel.TokenEstimate)
	assert.Zero(t, sel.MaxTokenEstimate)
}

func TestOptimizeDoesNotMutateCatalog(t *testing.T) {
	sections := []Section{
		{ID: "a", Content: "A", Priority: 1, Topics: []string{"t"}},
		{ID: "b", Content: "B", Priority: 9, Topics: []string{"t"}},
	}
	o := NewOptimizer(sections, WithPolicy(selectivePolicy()))

	sel := o.Optimize(Request{Topics: []string{"t"}})

	assert.Equal(t, []string{"b", "a"}, sel.SectionsIncluded)
	assert.Equal(t, "a", sections[0].ID)
	assert.Equal(t, "b", sections[1].ID)
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, estimateTokens(tc.in), "len %d", len(tc.in))
	}
}

func TestSelectionFromState(t *testing.T) {
	s := pipeline.NewState(pipeline.Request{})

	_, ok := SelectionFromState(s)
	assert.False(t, ok)

	s = s.WithExt(pipeline.ExtPromptContext, Selection{SystemPrompt: "A", Variant: "beta"})
	sel, ok := SelectionFromState(s)
	require.True(t, ok)
	assert.Equal(t, "A", sel.SystemPrompt)
	assert.Equal(t, "beta", sel.Variant)
}
