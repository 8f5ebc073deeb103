// Package prompt assembles system prompts from configured context
// sections. The Optimizer selects sections for a fixed catalog; the
// Engine loads catalogs from an external source per variant, caches
// them and applies the same selection.
package prompt

import (
	"sort"
	"strings"

	"goa.design/flow/pipeline"
)

type (
	// Section is one unit of system prompt content.
	Section struct {
		ID            string
		Name          string
		Content       string
		Topics        []string
		AlwaysInclude bool
		Priority      int
	}

	// Mode decides how a selection round treats the catalog.
	Mode string

	// Policy sets the mode per conversation position. Zero values mean
	// full catalogs for first messages and selective ones afterwards.
	Policy struct {
		FirstMessage Mode
		FollowUp     Mode
	}

	// Request describes one selection round.
	Request struct {
		Topics         []string
		IsFirstMessage bool
		Tone           string
	}

	// Selection is the outcome of a selection round. TokenEstimate
	// approximates the prompt at four characters per token, and
	// MaxTokenEstimate is the same figure for the full catalog, so the
	// difference reports what selectivity saved.
	Selection struct {
		SystemPrompt     string
		SectionsIncluded []string
		TotalSections    int
		TokenEstimate    int
		MaxTokenEstimate int
		Variant          string
	}

	// Optimizer selects sections from a fixed catalog.
	Optimizer struct {
		sections []Section
		policy   Policy
		tones    map[string]string
	}

	// OptimizerOption configures an Optimizer.
	OptimizerOption func(*Optimizer)
)

const (
	// ModeFull includes the whole catalog in configured order.
	ModeFull Mode = "full"
	// ModeSelective includes always-include sections and those whose
	// topics overlap the request, ordered by descending priority.
	ModeSelective Mode = "selective"
)

// NewOptimizer creates an Optimizer over the given catalog. Catalog
// order is significant: full selections preserve it and selective
// selections fall back to it between equal priorities.
func NewOptimizer(sections []Section, opts ...OptimizerOption) *Optimizer {
	o := &Optimizer{sections: sections}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithPolicy overrides the default selection policy.
func WithPolicy(p Policy) OptimizerOption {
	return func(o *Optimizer) { o.policy = p }
}

// WithTones sets the tone map consulted when a request carries a tone.
func WithTones(tones map[string]string) OptimizerOption {
	return func(o *Optimizer) { o.tones = tones }
}

// Optimize runs one selection round. Identical inputs yield identical
// selections.
func (o *Optimizer) Optimize(req Request) Selection {
	return optimize(o.sections, o.policy, o.tones, req)
}

func optimize(sections []Section, policy Policy, tones map[string]string, req Request) Selection {
	useFull := (req.IsFirstMessage && policy.FirstMessage != ModeSelective) ||
		(!req.IsFirstMessage && policy.FollowUp == ModeFull)

	var selected []Section
	if useFull {
		selected = sections
	} else {
		for _, s := range sections {
			if s.AlwaysInclude || overlaps(s.Topics, req.Topics) {
				selected = append(selected, s)
			}
		}
		sort.SliceStable(selected, func(i, j int) bool {
			return selected[i].Priority > selected[j].Priority
		})
		selected = dedupe(selected)
	}

	ids := make([]string, 0, len(selected))
	contents := make([]string, 0, len(selected))
	for _, s := range selected {
		ids = append(ids, s.ID)
		contents = append(contents, s.Content)
	}
	systemPrompt := strings.Join(contents, "\n\n")
	if req.Tone != "" {
		if instruction, ok := tones[req.Tone]; ok {
			systemPrompt += "\n\n" + instruction
		}
	}

	full := make([]string, 0, len(sections))
	for _, s := range sections {
		full = append(full, s.Content)
	}

	return Selection{
		SystemPrompt:     systemPrompt,
		SectionsIncluded: ids,
		TotalSections:    len(sections),
		TokenEstimate:    estimateTokens(systemPrompt),
		MaxTokenEstimate: estimateTokens(strings.Join(full, "\n\n")),
	}
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func dedupe(sections []Section) []Section {
	seen := make(map[string]struct{}, len(sections))
	out := sections[:0:0]
	for _, s := range sections {
		if _, ok := seen[s.ID]; ok {
			continue
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}
	return out
}

// estimateTokens approximates tokens at four characters each.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// SelectionFromState returns the selection recorded on s by a dynamic
// context stage.
func SelectionFromState(s *pipeline.State) (Selection, bool) {
	v, ok := s.Value(pipeline.ExtPromptContext)
	if !ok {
		return Selection{}, false
	}
	sel, ok := v.(Selection)
	return sel, ok
}
