// Package predicate provides condition constructors and combinators for
// gating pipeline stages. Conditions are pure functions over the current
// state; primitives cover the common gates (intent, metadata, extensions,
// conversation position, authentication, content patterns) and the And, Or,
// and Not combinators compose them with short-circuit evaluation.
package predicate

import (
	"context"
	"reflect"
	"regexp"

	"goa.design/flow/intent"
	"goa.design/flow/pipeline"
)

// HasIntent returns a condition that is true when the state carries a
// resolved intent matching category.
func HasIntent(category string) pipeline.Condition {
	return func(_ context.Context, s *pipeline.State) (bool, error) {
		res, ok := intent.FromState(s)
		return ok && res.Intent == category, nil
	}
}

// HasMetadata returns a condition that is true when the request metadata
// contains key.
func HasMetadata(key string) pipeline.Condition {
	return func(_ context.Context, s *pipeline.State) (bool, error) {
		_, ok := s.Metadata(key)
		return ok, nil
	}
}

// MetadataEquals returns a condition that is true when the request metadata
// value under key deep-equals value.
func MetadataEquals(key string, value any) pipeline.Condition {
	return func(_ context.Context, s *pipeline.State) (bool, error) {
		v, ok := s.Metadata(key)
		return ok && reflect.DeepEqual(v, value), nil
	}
}

// HasExtension returns a condition that is true when the state's extension
// map contains key.
func HasExtension(key string) pipeline.Condition {
	return func(_ context.Context, s *pipeline.State) (bool, error) {
		_, ok := s.Value(key)
		return ok, nil
	}
}

// ExtensionEquals returns a condition that is true when the extension value
// under key deep-equals value.
func ExtensionEquals(key string, value any) pipeline.Condition {
	return func(_ context.Context, s *pipeline.State) (bool, error) {
		v, ok := s.Value(key)
		return ok && reflect.DeepEqual(v, value), nil
	}
}

// IsFirstMessage returns a condition that is true when the conversation
// holds at most one user message.
func IsFirstMessage() pipeline.Condition {
	return func(_ context.Context, s *pipeline.State) (bool, error) {
		users := 0
		for _, m := range s.Request.Messages {
			if m.Role == pipeline.RoleUser {
				users++
				if users > 1 {
					return false, nil
				}
			}
		}
		return true, nil
	}
}

// IsAuthenticated returns a condition that is true when the request carries
// a non-empty userId metadata string or authenticated == true.
func IsAuthenticated() pipeline.Condition {
	return func(_ context.Context, s *pipeline.State) (bool, error) {
		if _, ok := s.MetadataString("userId"); ok {
			return true, nil
		}
		v, ok := s.Metadata("authenticated")
		return ok && v == true, nil
	}
}

// MatchesPattern returns a condition that is true when re matches the last
// message's content. A conversation with no messages never matches.
func MatchesPattern(re *regexp.Regexp) pipeline.Condition {
	return func(_ context.Context, s *pipeline.State) (bool, error) {
		m, ok := s.LastMessage()
		if !ok {
			return false, nil
		}
		return re.MatchString(m.Content), nil
	}
}

// And composes conditions with short-circuit evaluation: the first false
// stops evaluation, the first error propagates. And() is true.
func And(conds ...pipeline.Condition) pipeline.Condition {
	return func(ctx context.Context, s *pipeline.State) (bool, error) {
		for _, c := range conds {
			ok, err := c(ctx, s)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}
}

// Or composes conditions with short-circuit evaluation: the first true stops
// evaluation, the first error propagates. Or() is false.
func Or(conds ...pipeline.Condition) pipeline.Condition {
	return func(ctx context.Context, s *pipeline.State) (bool, error) {
		for _, c := range conds {
			ok, err := c(ctx, s)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}

// Not inverts a condition. Errors propagate.
func Not(cond pipeline.Condition) pipeline.Condition {
	return func(ctx context.Context, s *pipeline.State) (bool, error) {
		ok, err := cond(ctx, s)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}
}
