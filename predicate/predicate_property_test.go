package predicate

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"goa.design/flow/pipeline"
)

// TestCombinatorLaws checks the boolean algebra of the combinators over
// arbitrary predicate outcomes.
func TestCombinatorLaws(t *testing.T) {
	ctx := context.Background()
	s := pipeline.NewState(pipeline.Request{})

	eval := func(c pipeline.Condition) bool {
		ok, err := c(ctx, s)
		if err != nil {
			t.Fatalf("condition returned error: %v", err)
		}
		return ok
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("double negation preserves the predicate", prop.ForAll(
		func(p bool) bool {
			return eval(Not(Not(constant(p)))) == p
		},
		gen.Bool(),
	))

	properties.Property("true is the identity of And", prop.ForAll(
		func(p bool) bool {
			return eval(And(constant(p), constant(true))) == p
		},
		gen.Bool(),
	))

	properties.Property("false is the identity of Or", prop.ForAll(
		func(p bool) bool {
			return eval(Or(constant(p), constant(false))) == p
		},
		gen.Bool(),
	))

	properties.Property("De Morgan holds for two predicates", prop.ForAll(
		func(p, q bool) bool {
			left := eval(Not(And(constant(p), constant(q))))
			right := eval(Or(Not(constant(p)), Not(constant(q))))
			return left == right
		},
		gen.Bool(),
		gen.Bool(),
	))

	properties.Property("And agrees with the conjunction of its members", prop.ForAll(
		func(p, q, r bool) bool {
			return eval(And(constant(p), constant(q), constant(r))) == (p && q && r)
		},
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
	))

	properties.Property("Or agrees with the disjunction of its members", prop.ForAll(
		func(p, q, r bool) bool {
			return eval(Or(constant(p), constant(q), constant(r))) == (p || q || r)
		},
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
