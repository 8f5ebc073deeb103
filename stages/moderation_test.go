package stages

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/flow/pipeline"
)

func moderationConfig() ModerationConfig {
	return ModerationConfig{
		SpamPatterns:   []string{"buy now", `click\s+here`},
		ProfanityWords: []string{"darnit"},
		CustomRules:    []Rule{{Pattern: `\b\d{16}\b`, Reason: "credit card number"}},
	}
}

func TestModerationPassesCleanMessage(t *testing.T) {
	stage := Moderation(moderationConfig())

	out, err := stage.Handler.Handle(context.Background(), chatState("What are your opening hours?", nil))

	require.NoError(t, err)
	require.Nil(t, out.Failure)
	verdict, ok := ModerationFromState(out)
	require.True(t, ok)
	require.True(t, verdict.Passed)
	require.Empty(t, verdict.Reason)
}

func TestModerationFlagsSpam(t *testing.T) {
	stage := Moderation(moderationConfig())

	out, err := stage.Handler.Handle(context.Background(), chatState("BUY NOW while stocks last", nil))

	require.NoError(t, err)
	require.NotNil(t, out.Failure)
	require.Equal(t, "Your message was flagged as inappropriate.", out.Failure.Message)
	require.Equal(t, 400, out.Failure.StatusCode)
	require.Equal(t, StageModeration, out.Failure.Step)

	verdict, ok := ModerationFromState(out)
	require.True(t, ok)
	require.False(t, verdict.Passed)
	require.Equal(t, "spam", verdict.Reason)
}

func TestModerationFlagsProfanity(t *testing.T) {
	stage := Moderation(moderationConfig())

	out, err := stage.Handler.Handle(context.Background(), chatState("well DARNIT that failed", nil))

	require.NoError(t, err)
	require.NotNil(t, out.Failure)
	require.Equal(t, "Your message contains inappropriate language.", out.Failure.Message)
	require.Equal(t, 400, out.Failure.StatusCode)

	verdict, ok := ModerationFromState(out)
	require.True(t, ok)
	require.Equal(t, "profanity", verdict.Reason)
}

func TestModerationFlagsCustomRule(t *testing.T) {
	stage := Moderation(moderationConfig())

	out, err := stage.Handler.Handle(context.Background(), chatState("my card is 4111111111111111 thanks", nil))

	require.NoError(t, err)
	require.NotNil(t, out.Failure)
	require.Equal(t, "Your message was flagged as inappropriate.", out.Failure.Message)

	verdict, ok := ModerationFromState(out)
	require.True(t, ok)
	require.Equal(t, "credit card number", verdict.Reason)
}

func TestModerationSpamTakesPrecedence(t *testing.T) {
	stage := Moderation(moderationConfig())

	out, err := stage.Handler.Handle(context.Background(), chatState("buy now darnit", nil))

	require.NoError(t, err)
	verdict, ok := ModerationFromState(out)
	require.True(t, ok)
	require.Equal(t, "spam", verdict.Reason)
}

func TestModerationChecksLastMessageOnly(t *testing.T) {
	stage := Moderation(moderationConfig())
	state := pipeline.NewState(pipeline.Request{Messages: []pipeline.Message{
		{Role: pipeline.RoleUser, Content: "buy now"},
		{Role: pipeline.RoleAssistant, Content: "I cannot help with that."},
		{Role: pipeline.RoleUser, Content: "fine, something else then"},
	}})

	out, err := stage.Handler.Handle(context.Background(), state)

	require.NoError(t, err)
	require.Nil(t, out.Failure)
	verdict, ok := ModerationFromState(out)
	require.True(t, ok)
	require.True(t, verdict.Passed)
}

func TestModerationSkipsNonUserMessages(t *testing.T) {
	stage := Moderation(moderationConfig())
	state := pipeline.NewState(pipeline.Request{Messages: []pipeline.Message{
		{Role: pipeline.RoleUser, Content: "hello"},
		{Role: pipeline.RoleAssistant, Content: "buy now"},
	}})

	out, err := stage.Handler.Handle(context.Background(), state)

	require.NoError(t, err)
	require.Nil(t, out.Failure)
	verdict, ok := ModerationFromState(out)
	require.True(t, ok)
	require.True(t, verdict.Passed)
}

func TestModerationEmptyConversationPasses(t *testing.T) {
	stage := Moderation(moderationConfig())

	out, err := stage.Handler.Handle(context.Background(), pipeline.NewState(pipeline.Request{}))

	require.NoError(t, err)
	require.Nil(t, out.Failure)
	verdict, ok := ModerationFromState(out)
	require.True(t, ok)
	require.True(t, verdict.Passed)
}

func TestModerationInvalidPatternAllowsWithError(t *testing.T) {
	logger := &captureLogger{}
	stage := Moderation(ModerationConfig{
		SpamPatterns:   []string{"["},
		ProfanityWords: []string{"darnit"},
	}, WithModerationLogger(logger))

	out, err := stage.Handler.Handle(context.Background(), chatState("darnit", nil))

	require.NoError(t, err)
	require.Nil(t, out.Failure)
	verdict, ok := ModerationFromState(out)
	require.True(t, ok)
	require.True(t, verdict.Passed)
	require.Contains(t, verdict.Error, "spam pattern")
	require.Equal(t, 1, logger.errorCount())
}

func TestLoadModerationConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moderation.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
spam_patterns:
  - buy now
profanity_words:
  - darnit
custom_rules:
  - pattern: '\b\d{16}\b'
    reason: credit card number
`), 0o600))

	cfg, err := LoadModerationConfig(path)

	require.NoError(t, err)
	require.Equal(t, []string{"buy now"}, cfg.SpamPatterns)
	require.Equal(t, []string{"darnit"}, cfg.ProfanityWords)
	require.Len(t, cfg.CustomRules, 1)
	require.Equal(t, "credit card number", cfg.CustomRules[0].Reason)
}

func TestLoadModerationConfigMissingFile(t *testing.T) {
	_, err := LoadModerationConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "read moderation config")
}
