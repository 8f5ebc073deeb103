package hooks

import "time"

type (
	// Event is the interface all bus events implement. Concrete event types
	// carry typed payloads for each lifecycle phase; subscribers use type
	// switches or Type() to route them:
	//
	//	func (s *sink) HandleEvent(ctx context.Context, evt hooks.Event) error {
	//	    switch e := evt.(type) {
	//	    case *hooks.StageCompletedEvent:
	//	        log.Printf("%s took %v", e.Stage, e.Duration)
	//	    case *hooks.RunCompletedEvent:
	//	        log.Printf("run %s: %s", e.RunID(), e.Status)
	//	    }
	//	    return nil
	//	}
	Event interface {
		// Type returns the event type constant.
		Type() EventType
		// RunID returns the run identifier shared by all events of one
		// execution.
		RunID() string
		// Pipeline returns the name of the pipeline that produced the event.
		Pipeline() string
		// Timestamp returns the Unix timestamp in milliseconds at event
		// creation. Events are timestamped at creation, not delivery.
		Timestamp() int64
	}

	// RunStartedEvent fires when the executor begins driving a plan.
	RunStartedEvent struct {
		baseEvent
		// MessageCount is the number of messages on the initial request.
		MessageCount int
	}

	// RunCompletedEvent fires after a run finishes.
	RunCompletedEvent struct {
		baseEvent
		// Status is "success", "failed", or "cancelled".
		Status string
		// StatusCode carries the failure status code, 0 on success.
		StatusCode int
		// Duration is the wall-clock time of the whole run.
		Duration time.Duration
	}

	// StageStartedEvent fires immediately before a stage handler runs.
	StageStartedEvent struct {
		baseEvent
		// Stage is the stage name.
		Stage string
		// Parallel reports whether the stage runs inside a parallel group.
		Parallel bool
	}

	// StageCompletedEvent fires after a stage handler returns normally,
	// including returns that carry a failure descriptor.
	StageCompletedEvent struct {
		baseEvent
		Stage    string
		Duration time.Duration
	}

	// StageSkippedEvent fires when a stage is bypassed.
	StageSkippedEvent struct {
		baseEvent
		Stage string
		// Reason is "disabled" or "condition".
		Reason string
	}

	// StageFailedEvent fires when a stage produces the failure terminating
	// the run.
	StageFailedEvent struct {
		baseEvent
		// Stage names the failing stage, or the joined names of a parallel
		// group when attribution is lost.
		Stage      string
		StatusCode int
		// Message is the user-safe failure message.
		Message string
	}

	baseEvent struct {
		runID     string
		pipeline  string
		timestamp int64
	}
)

// RunID returns the run identifier.
func (e baseEvent) RunID() string { return e.runID }

// Pipeline returns the producing pipeline name.
func (e baseEvent) Pipeline() string { return e.pipeline }

// Timestamp returns the Unix timestamp in milliseconds at event creation.
func (e baseEvent) Timestamp() int64 { return e.timestamp }

func newBaseEvent(runID, pipeline string) baseEvent {
	return baseEvent{
		runID:     runID,
		pipeline:  pipeline,
		timestamp: time.Now().UnixMilli(),
	}
}

// NewRunStartedEvent constructs a RunStartedEvent with the current timestamp.
func NewRunStartedEvent(runID, pipeline string, messageCount int) *RunStartedEvent {
	return &RunStartedEvent{
		baseEvent:    newBaseEvent(runID, pipeline),
		MessageCount: messageCount,
	}
}

// NewRunCompletedEvent constructs a RunCompletedEvent. Status should be
// "success", "failed", or "cancelled"; statusCode is 0 on success.
func NewRunCompletedEvent(runID, pipeline, status string, statusCode int, duration time.Duration) *RunCompletedEvent {
	return &RunCompletedEvent{
		baseEvent:  newBaseEvent(runID, pipeline),
		Status:     status,
		StatusCode: statusCode,
		Duration:   duration,
	}
}

// NewStageStartedEvent constructs a StageStartedEvent.
func NewStageStartedEvent(runID, pipeline, stage string, parallel bool) *StageStartedEvent {
	return &StageStartedEvent{
		baseEvent: newBaseEvent(runID, pipeline),
		Stage:     stage,
		Parallel:  parallel,
	}
}

// NewStageCompletedEvent constructs a StageCompletedEvent.
func NewStageCompletedEvent(runID, pipeline, stage string, duration time.Duration) *StageCompletedEvent {
	return &StageCompletedEvent{
		baseEvent: newBaseEvent(runID, pipeline),
		Stage:     stage,
		Duration:  duration,
	}
}

// NewStageSkippedEvent constructs a StageSkippedEvent. Reason is "disabled"
// or "condition".
func NewStageSkippedEvent(runID, pipeline, stage, reason string) *StageSkippedEvent {
	return &StageSkippedEvent{
		baseEvent: newBaseEvent(runID, pipeline),
		Stage:     stage,
		Reason:    reason,
	}
}

// NewStageFailedEvent constructs a StageFailedEvent.
func NewStageFailedEvent(runID, pipeline, stage string, statusCode int, message string) *StageFailedEvent {
	return &StageFailedEvent{
		baseEvent:  newBaseEvent(runID, pipeline),
		Stage:      stage,
		StatusCode: statusCode,
		Message:    message,
	}
}

// Type method implementations

func (e *RunStartedEvent) Type() EventType     { return RunStarted }
func (e *RunCompletedEvent) Type() EventType   { return RunCompleted }
func (e *StageStartedEvent) Type() EventType   { return StageStarted }
func (e *StageCompletedEvent) Type() EventType { return StageCompleted }
func (e *StageSkippedEvent) Type() EventType   { return StageSkipped }
func (e *StageFailedEvent) Type() EventType    { return StageFailed }
