package prompt

import (
	"fmt"
	"reflect"
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestOptimizeProperties drives selection rounds over generated
// catalogs, requests and policies.
func TestOptimizeProperties(t *testing.T) {
	topicsUniverse := []string{"alpha", "beta"}
	tones := map[string]string{"friendly": "Keep it light."}
	modes := []Mode{"", ModeFull, ModeSelective}

	// Five mask bits per section: always-include, two priority bits,
	// one topic bit per universe entry.
	buildSections := func(count, bits int) []Section {
		sections := make([]Section, 0, count)
		for i := 0; i < count; i++ {
			b := bits >> (i * 5)
			var topics []string
			for j, topic := range topicsUniverse {
				if b&(1<<(j+3)) != 0 {
					topics = append(topics, topic)
				}
			}
			sections = append(sections, Section{
				ID:            fmt.Sprintf("s-%d", i),
				Content:       fmt.Sprintf("content %d", i),
				Topics:        topics,
				AlwaysInclude: b&1 != 0,
				Priority:      (b >> 1) & 3,
			})
		}
		return sections
	}

	buildRequest := func(bits int) Request {
		var topics []string
		for j, topic := range topicsUniverse {
			if bits&(1<<j) != 0 {
				topics = append(topics, topic)
			}
		}
		req := Request{Topics: topics, IsFirstMessage: bits&4 != 0}
		if bits&8 != 0 {
			req.Tone = "friendly"
		}
		return req
	}

	buildPolicy := func(bits int) Policy {
		return Policy{FirstMessage: modes[bits%3], FollowUp: modes[bits/3%3]}
	}

	genCount := gen.IntRange(0, 6)
	genBits := gen.IntRange(0, 1<<30-1)
	genReqBits := gen.IntRange(0, 15)
	genPolicyBits := gen.IntRange(0, 8)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("identical inputs yield identical selections", prop.ForAll(
		func(count, bits, reqBits, policyBits int) bool {
			o := NewOptimizer(buildSections(count, bits),
				WithPolicy(buildPolicy(policyBits)),
				WithTones(tones),
			)
			req := buildRequest(reqBits)
			return reflect.DeepEqual(o.Optimize(req), o.Optimize(req))
		},
		genCount, genBits, genReqBits, genPolicyBits,
	))

	properties.Property("included sections come from the catalog", prop.ForAll(
		func(count, bits, reqBits, policyBits int) bool {
			sections := buildSections(count, bits)
			ids := make([]string, 0, len(sections))
			for _, s := range sections {
				ids = append(ids, s.ID)
			}
			o := NewOptimizer(sections, WithPolicy(buildPolicy(policyBits)), WithTones(tones))
			sel := o.Optimize(buildRequest(reqBits))
			if sel.TotalSections != len(sections) {
				return false
			}
			for _, id := range sel.SectionsIncluded {
				if !slices.Contains(ids, id) {
					return false
				}
			}
			return true
		},
		genCount, genBits, genReqBits, genPolicyBits,
	))

	properties.Property("always-include sections survive every selection", prop.ForAll(
		func(count, bits, reqBits, policyBits int) bool {
			sections := buildSections(count, bits)
			o := NewOptimizer(sections, WithPolicy(buildPolicy(policyBits)), WithTones(tones))
			sel := o.Optimize(buildRequest(reqBits))
			for _, s := range sections {
				if s.AlwaysInclude && !slices.Contains(sel.SectionsIncluded, s.ID) {
					return false
				}
			}
			return true
		},
		genCount, genBits, genReqBits, genPolicyBits,
	))

	properties.Property("full rounds keep catalog order", prop.ForAll(
		func(count, bits, reqBits, policyBits int) bool {
			policy := buildPolicy(policyBits)
			req := buildRequest(reqBits)
			useFull := (req.IsFirstMessage && policy.FirstMessage != ModeSelective) ||
				(!req.IsFirstMessage && policy.FollowUp == ModeFull)
			if !useFull {
				return true
			}
			sections := buildSections(count, bits)
			ids := make([]string, 0, len(sections))
			for _, s := range sections {
				ids = append(ids, s.ID)
			}
			o := NewOptimizer(sections, WithPolicy(policy), WithTones(tones))
			return slices.Equal(o.Optimize(req).SectionsIncluded, ids)
		},
		genCount, genBits, genReqBits, genPolicyBits,
	))

	properties.TestingRun(t)
}
