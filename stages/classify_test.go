package stages

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/flow/intent"
	"goa.design/flow/pipeline"
)

type stubResolver struct {
	mu       sync.Mutex
	result   intent.Result
	messages []string
}

func (r *stubResolver) Classify(_ context.Context, message string) intent.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return r.result
}

func TestIntentClassificationRecordsResult(t *testing.T) {
	resolver := &stubResolver{result: intent.Result{
		Intent:          "help",
		Confidence:      0.8,
		MatchedKeywords: []string{"help"},
		Method:          intent.MethodKeyword,
	}}
	stage := IntentClassification(resolver)

	out, err := stage.Handler.Handle(context.Background(), chatState("I need help", nil))

	require.NoError(t, err)
	require.Nil(t, out.Failure)
	require.Equal(t, []string{"I need help"}, resolver.messages)

	res, ok := intent.FromState(out)
	require.True(t, ok)
	require.Equal(t, "help", res.Intent)
	require.InDelta(t, 0.8, res.Confidence, 1e-9)
}

func TestIntentClassificationEmptyConversation(t *testing.T) {
	resolver := &stubResolver{result: intent.Result{Intent: intent.General, Method: intent.MethodKeyword}}
	stage := IntentClassification(resolver)

	out, err := stage.Handler.Handle(context.Background(), pipeline.NewState(pipeline.Request{}))

	require.NoError(t, err)
	require.Nil(t, out.Failure)
	require.Equal(t, []string{""}, resolver.messages)

	res, ok := intent.FromState(out)
	require.True(t, ok)
	require.Equal(t, intent.General, res.Intent)
}
