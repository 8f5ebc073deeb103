package mongo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	clientsmongo "goa.design/flow/features/runlog/mongo/clients/mongo"
	"goa.design/flow/hooks"
	"goa.design/flow/telemetry"
)

type fakeClient struct {
	appended  []*clientsmongo.Entry
	appendErr error
	page      clientsmongo.Page
	listRuns  []string
}

func (c *fakeClient) Name() string { return "fake" }

func (c *fakeClient) Ping(context.Context) error { return nil }

func (c *fakeClient) Append(_ context.Context, e *clientsmongo.Entry) error {
	if c.appendErr != nil {
		return c.appendErr
	}
	c.appended = append(c.appended, e)
	return nil
}

func (c *fakeClient) List(_ context.Context, runID, _ string, _ int) (clientsmongo.Page, error) {
	c.listRuns = append(c.listRuns, runID)
	return c.page, nil
}

type captureLogger struct {
	telemetry.NoopLogger
	mu     sync.Mutex
	errors []string
}

func (l *captureLogger) Error(_ context.Context, msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *captureLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

func TestJournalRecordsRunLifecycle(t *testing.T) {
	ctx := context.Background()
	cli := &fakeClient{}
	journal, err := NewJournal(JournalOptions{Client: cli})
	require.NoError(t, err)

	bus := hooks.NewBus()
	sub, err := bus.Register(journal)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.Publish(ctx, hooks.NewRunStartedEvent("run-1", "support", 2)))
	require.NoError(t, bus.Publish(ctx, hooks.NewStageStartedEvent("run-1", "support", "moderation", false)))
	require.NoError(t, bus.Publish(ctx, hooks.NewStageCompletedEvent("run-1", "support", "moderation", 40*time.Millisecond)))
	require.NoError(t, bus.Publish(ctx, hooks.NewStageSkippedEvent("run-1", "support", "rateLimit", "condition")))
	require.NoError(t, bus.Publish(ctx, hooks.NewStageFailedEvent("run-1", "support", "generate", 503, "model unavailable")))
	require.NoError(t, bus.Publish(ctx, hooks.NewRunCompletedEvent("run-1", "support", "failed", 503, 120*time.Millisecond)))

	require.Len(t, cli.appended, 6)

	started := cli.appended[0]
	require.Equal(t, "run_started", started.Type)
	require.Equal(t, "run-1", started.RunID)
	require.Equal(t, "support", started.Pipeline)
	require.Equal(t, 2, started.MessageCount)
	require.False(t, started.Timestamp.IsZero())
	require.Equal(t, time.UTC, started.Timestamp.Location())

	completed := cli.appended[2]
	require.Equal(t, "stage_completed", completed.Type)
	require.Equal(t, "moderation", completed.Stage)
	require.Equal(t, int64(40), completed.DurationMS)

	skipped := cli.appended[3]
	require.Equal(t, "rateLimit", skipped.Stage)
	require.Equal(t, "condition", skipped.Reason)

	failed := cli.appended[4]
	require.Equal(t, "generate", failed.Stage)
	require.Equal(t, 503, failed.StatusCode)
	require.Equal(t, "model unavailable", failed.Message)

	done := cli.appended[5]
	require.Equal(t, "failed", done.Status)
	require.Equal(t, 503, done.StatusCode)
	require.Equal(t, int64(120), done.DurationMS)
}

func TestHandleEventSwallowsStorageErrors(t *testing.T) {
	logger := &captureLogger{}
	journal, err := NewJournal(JournalOptions{
		Client: &fakeClient{appendErr: errors.New("mongo down")},
		Logger: logger,
	})
	require.NoError(t, err)

	err = journal.HandleEvent(context.Background(), hooks.NewRunStartedEvent("run-1", "support", 1))
	require.NoError(t, err)
	require.Equal(t, 1, logger.errorCount())
}

func TestAppendSurfacesStorageErrors(t *testing.T) {
	journal, err := NewJournal(JournalOptions{Client: &fakeClient{appendErr: errors.New("mongo down")}})
	require.NoError(t, err)

	err = journal.Append(context.Background(), &Entry{RunID: "run-1", Type: "run_started", Timestamp: time.Now()})
	require.EqualError(t, err, "mongo down")
}

func TestListDelegates(t *testing.T) {
	cli := &fakeClient{page: clientsmongo.Page{NextCursor: "abc"}}
	journal, err := NewJournal(JournalOptions{Client: cli})
	require.NoError(t, err)

	page, err := journal.List(context.Background(), "run-1", "", 10)
	require.NoError(t, err)
	require.Equal(t, "abc", page.NextCursor)
	require.Equal(t, []string{"run-1"}, cli.listRuns)
}

func TestNewJournalRequiresClient(t *testing.T) {
	_, err := NewJournal(JournalOptions{})
	require.EqualError(t, err, "mongo client is required")
}
