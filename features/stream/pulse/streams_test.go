package pulse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"

	"goa.design/flow/hooks"
)

func TestEventStreamsAttachPublishes(t *testing.T) {
	ctx := context.Background()
	str := &fakeStream{}
	streams, err := NewEventStreams(EventStreamsOptions{Client: &fakeClient{stream: str}})
	require.NoError(t, err)

	bus := hooks.NewBus()
	sub, err := streams.Attach(bus)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, hooks.NewRunStartedEvent("run-1", "support", 1)))
	require.Len(t, str.added, 1)

	require.NoError(t, sub.Close())
	require.NoError(t, bus.Publish(ctx, hooks.NewRunStartedEvent("run-2", "support", 1)))
	require.Len(t, str.added, 1)
}

func TestEventStreamsNewSubscriberSharesClient(t *testing.T) {
	snk := &fakeSink{ch: make(chan *streaming.Event)}
	cli := &fakeClient{stream: &fakeStream{sink: snk}}
	streams, err := NewEventStreams(EventStreamsOptions{Client: cli})
	require.NoError(t, err)

	sub, err := streams.NewSubscriber(SubscriberOptions{})
	require.NoError(t, err)
	_, _, cancel, err := sub.Subscribe(context.Background(), "run/run-1")
	require.NoError(t, err)
	cancel()

	require.Equal(t, []string{"run/run-1"}, cli.names)
}

func TestEventStreamsValidation(t *testing.T) {
	_, err := NewEventStreams(EventStreamsOptions{})
	require.EqualError(t, err, "pulse client is required")

	streams, err := NewEventStreams(EventStreamsOptions{Client: &fakeClient{stream: &fakeStream{}}})
	require.NoError(t, err)
	_, err = streams.Attach(nil)
	require.EqualError(t, err, "bus is required")
}
