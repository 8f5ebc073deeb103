// Package hooks implements fan-out notification of pipeline lifecycle events.
//
// The executor publishes typed events (run start/completion, stage
// completion, skips, failures) to a Bus; subscribers receive them via
// HandleEvent. This decouples the executor from consumers such as streaming
// sinks, audit logs, and telemetry exporters.
//
// Typical usage:
//
//	bus := hooks.NewBus()
//	sub := hooks.SubscriberFunc(func(ctx context.Context, evt hooks.Event) error {
//	    if evt.Type() == hooks.StageFailed {
//	        log.Printf("run %s failed", evt.RunID())
//	    }
//	    return nil
//	})
//	subscription, _ := bus.Register(sub)
//	defer subscription.Close()
package hooks

import "context"

// SubscriberFunc adapts an ordinary function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, event Event) error

// HandleEvent implements Subscriber by invoking the function.
func (fn SubscriberFunc) HandleEvent(ctx context.Context, event Event) error {
	return fn(ctx, event)
}

// EventType enumerates the lifecycle events broadcast on the bus.
type EventType string

const (
	// RunStarted fires when the executor begins driving a plan.
	RunStarted EventType = "run_started"

	// RunCompleted fires after a run finishes, whether successfully, with a
	// failure, or cancelled.
	RunCompleted EventType = "run_completed"

	// StageStarted fires immediately before a stage handler is invoked.
	StageStarted EventType = "stage_started"

	// StageCompleted fires after a stage handler returns normally.
	StageCompleted EventType = "stage_completed"

	// StageSkipped fires when a stage is bypassed because it is disabled or
	// its condition evaluated to false.
	StageSkipped EventType = "stage_skipped"

	// StageFailed fires when a stage produces the failure that terminates
	// the run.
	StageFailed EventType = "stage_failed"
)
