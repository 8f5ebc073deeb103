package stages

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"goa.design/flow/pipeline"
	"goa.design/flow/telemetry"
)

type (
	// Rule is a custom moderation pattern with its rejection reason.
	Rule struct {
		Pattern string `yaml:"pattern"`
		Reason  string `yaml:"reason"`
	}

	// ModerationConfig declares the patterns the moderation stage
	// enforces. Patterns compile case-insensitively; profanity words
	// match as case-insensitive substrings.
	ModerationConfig struct {
		SpamPatterns   []string `yaml:"spam_patterns"`
		ProfanityWords []string `yaml:"profanity_words"`
		CustomRules    []Rule   `yaml:"custom_rules"`
	}

	// ModerationOption configures the moderation stage.
	ModerationOption func(*moderationStage)

	moderationStage struct {
		spam       []*regexp.Regexp
		profanity  []string
		custom     []customRule
		compileErr error
		logger     telemetry.Logger
	}

	customRule struct {
		re     *regexp.Regexp
		reason string
	}
)

// WithModerationLogger sets the logger for moderation breakdowns.
func WithModerationLogger(l telemetry.Logger) ModerationOption {
	return func(st *moderationStage) {
		if l != nil {
			st.logger = l
		}
	}
}

// Moderation creates the content moderation stage. A flagged user
// message fails with status 400 and a generic message; the match
// detail stays in the state extension. Moderation never blocks on its
// own breakdowns: a configuration that fails to compile is logged and
// every message passes with the error recorded on the verdict.
func Moderation(cfg ModerationConfig, opts ...ModerationOption) pipeline.Stage {
	st := &moderationStage{logger: telemetry.NewNoopLogger()}
	for _, opt := range opts {
		opt(st)
	}
	st.compile(cfg)
	return pipeline.Stage{Name: StageModeration, Handler: st}
}

func (st *moderationStage) compile(cfg ModerationConfig) {
	for _, p := range cfg.SpamPatterns {
		re, err := compileInsensitive(p)
		if err != nil {
			st.compileErr = fmt.Errorf("spam pattern %q: %w", p, err)
			return
		}
		st.spam = append(st.spam, re)
	}
	for _, w := range cfg.ProfanityWords {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		st.profanity = append(st.profanity, w)
	}
	for _, rule := range cfg.CustomRules {
		re, err := compileInsensitive(rule.Pattern)
		if err != nil {
			st.compileErr = fmt.Errorf("custom rule %q: %w", rule.Pattern, err)
			return
		}
		st.custom = append(st.custom, customRule{re: re, reason: rule.Reason})
	}
}

func (st *moderationStage) Handle(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
	msg, ok := s.LastMessage()
	if !ok || msg.Role != pipeline.RoleUser {
		return s.WithExt(pipeline.ExtModeration, ModerationVerdict{Passed: true}), nil
	}
	if st.compileErr != nil {
		st.logger.Error(ctx, "moderation misconfigured, allowing message", "error", st.compileErr)
		return s.WithExt(pipeline.ExtModeration, ModerationVerdict{Passed: true, Error: st.compileErr.Error()}), nil
	}

	verdict, failure := st.check(msg.Content)
	out := s.WithExt(pipeline.ExtModeration, verdict)
	if failure != nil {
		out = out.WithFailure(failure)
	}
	return out, nil
}

func (st *moderationStage) check(content string) (ModerationVerdict, *pipeline.Failure) {
	for _, re := range st.spam {
		if re.MatchString(content) {
			return ModerationVerdict{Reason: "spam"}, moderationFailure(flaggedMessage)
		}
	}
	lower := strings.ToLower(content)
	for _, word := range st.profanity {
		if strings.Contains(lower, word) {
			return ModerationVerdict{Reason: "profanity"}, moderationFailure(profanityMessage)
		}
	}
	for _, rule := range st.custom {
		if rule.re.MatchString(content) {
			return ModerationVerdict{Reason: rule.reason}, moderationFailure(flaggedMessage)
		}
	}
	return ModerationVerdict{Passed: true}, nil
}

func moderationFailure(message string) *pipeline.Failure {
	return &pipeline.Failure{
		Message:    message,
		StatusCode: 400,
		Step:       StageModeration,
	}
}

func compileInsensitive(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}

// LoadModerationConfig reads a moderation configuration from a YAML
// file.
func LoadModerationConfig(path string) (*ModerationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read moderation config: %w", err)
	}
	var cfg ModerationConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse moderation config: %w", err)
	}
	return &cfg, nil
}
