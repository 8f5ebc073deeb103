// Package pipeline implements a composable execution engine for AI-assisted
// request processing. A Pipeline drives an ordered plan of named stages and
// parallel stage groups over an immutable-by-supersession State record,
// honoring per-stage enablement, conditional gating, first-failure-wins error
// policy, and caller cancellation.
//
// Stages are handlers from state to state. They never mutate their input;
// they derive a successor with Clone, WithExt, or WithFailure and return it.
// Parallel groups invoke their members concurrently against the same input
// snapshot and merge the resulting extensions deterministically in
// declaration order, later members overwriting earlier ones on key conflicts.
//
// The executor applies no retries: the first failure is final for the run.
// Handlers own their transient retry policy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"goa.design/flow/hooks"
	"goa.design/flow/telemetry"
)

type (
	// Handler is the stage capability: it receives the current state and
	// returns its successor. Returning a state whose Failure field is set
	// terminates the plan. Returning an error is the runtime-fault path and
	// is converted by the executor into a generic 500 failure.
	Handler interface {
		Handle(ctx context.Context, state *State) (*State, error)
	}

	// HandlerFunc adapts an ordinary function to the Handler interface.
	HandlerFunc func(ctx context.Context, state *State) (*State, error)

	// Condition gates stage execution. It is evaluated against the stage's
	// input snapshot; returning false skips the stage. A condition error is
	// treated like a handler fault.
	Condition func(ctx context.Context, state *State) (bool, error)

	// Stage is one named processing step of a plan.
	Stage struct {
		// Name identifies the stage. Names must be unique across the plan;
		// they appear in failure descriptors, callbacks, logs, and events.
		Name string

		// Handler processes the state.
		Handler Handler

		// Disabled excludes the stage from execution. The zero value keeps
		// the stage enabled.
		Disabled bool

		// When, if set, gates the stage on the current state.
		When Condition
	}

	// Callbacks observe stage lifecycle. Both are optional. Callbacks run
	// supervised on the executor's goroutine, never concurrently: a panic is
	// recovered and logged, never fatal to the run.
	Callbacks struct {
		// StepCompleted fires after each handler that returns normally,
		// including returns that carry a failure descriptor. It does not
		// fire for handler faults.
		StepCompleted func(name string, duration time.Duration)

		// StepError fires once with the failure that terminates the run.
		StepError func(failure Failure)
	}

	// Result is the outcome of one plan execution.
	Result struct {
		// OK reports whether every executed stage succeeded.
		OK bool

		// State is the final state. On failure it carries the failure
		// descriptor and the output of the failing stage.
		State *State

		// Failure is set iff OK is false.
		Failure *Failure

		// RunID uniquely identifies this execution.
		RunID string
	}

	// Pipeline is a long-lived, immutable-after-build plan executor. It is
	// safe for concurrent Run invocations; runs share no mutable state.
	Pipeline struct {
		name           string
		entries        []entry
		cb             Callbacks
		logger         telemetry.Logger
		metrics        telemetry.Metrics
		tracer         telemetry.Tracer
		bus            hooks.Bus
		includeDetails bool
	}

	// Option configures a Pipeline.
	Option func(*Pipeline)

	// entry is one plan element: a single stage (len 1) or a parallel group.
	entry struct {
		stages []Stage
	}

	// outcome captures one handler invocation inside a parallel group.
	outcome struct {
		state    *State
		err      error
		duration time.Duration
	}
)

// StatusCancelled is the distinguished status code reported when the caller's
// context is cancelled before the run completes.
const StatusCancelled = 499

// StepCancelled is the step name stamped on cancellation failures.
const StepCancelled = "cancelled"

// User-safe failure messages. Raw fault text never reaches Failure.Message;
// it lives in Failure.Details when error details are enabled.
const (
	genericFailureMessage   = "An unexpected error occurred while processing your request."
	cancelledFailureMessage = "Request cancelled."
)

// Skip reasons reported on skip events.
const (
	skipDisabled  = "disabled"
	skipCondition = "condition"
)

// WithLogger sets the structured logger. Defaults to a noop logger.
func WithLogger(l telemetry.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics sets the metrics recorder. Defaults to a noop recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTracer sets the tracer used to span each run and stage. Defaults to a
// noop tracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithCallbacks registers lifecycle callbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(p *Pipeline) { p.cb = cb }
}

// WithHooks sets the event bus the executor publishes lifecycle events to.
// Publish errors are logged and never fail the run.
func WithHooks(bus hooks.Bus) Option {
	return func(p *Pipeline) { p.bus = bus }
}

// WithErrorDetails controls whether raw fault text is copied into
// Failure.Details. Keep it off in production so internals never reach
// callers; the default is off.
func WithErrorDetails(include bool) Option {
	return func(p *Pipeline) { p.includeDetails = include }
}

// New returns an empty pipeline with the given name. The name appears in run
// identifiers, logs, and events; an empty name defaults to "pipeline". Add
// plan entries with Then and Parallel, then call Validate or let Run validate
// on first use.
func New(name string, opts ...Option) *Pipeline {
	if name == "" {
		name = "pipeline"
	}
	p := &Pipeline{
		name:    name,
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
		tracer:  telemetry.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// Then appends a single stage to the plan and returns the pipeline for
// chaining.
func (p *Pipeline) Then(stage Stage) *Pipeline {
	p.entries = append(p.entries, entry{stages: []Stage{stage}})
	return p
}

// Parallel appends a group of stages scheduled concurrently and joined
// before the next plan entry. Merge conflicts resolve deterministically:
// later-listed stages overwrite earlier ones.
func (p *Pipeline) Parallel(stages ...Stage) *Pipeline {
	p.entries = append(p.entries, entry{stages: stages})
	return p
}

// Validate checks the plan: it must be non-empty, every stage needs a name
// and a handler, parallel groups need at least one member, and stage names
// must be unique across the whole plan.
func (p *Pipeline) Validate() error {
	if len(p.entries) == 0 {
		return errors.New("plan is empty")
	}
	seen := make(map[string]struct{})
	for _, e := range p.entries {
		if len(e.stages) == 0 {
			return errors.New("parallel group is empty")
		}
		for _, s := range e.stages {
			if s.Name == "" {
				return errors.New("stage name is required")
			}
			if s.Handler == nil {
				return fmt.Errorf("stage %q: handler is required", s.Name)
			}
			if _, dup := seen[s.Name]; dup {
				return fmt.Errorf("stage %q declared twice", s.Name)
			}
			seen[s.Name] = struct{}{}
		}
	}
	return nil
}

// Run drives the plan over initial and returns the outcome. A nil initial
// state is treated as an empty request. Run never panics on handler faults;
// they surface as 500 failures. Cancelling ctx stops the run before the next
// plan entry and yields a 499 failure with step "cancelled".
func (p *Pipeline) Run(ctx context.Context, initial *State) Result {
	runID := generateRunID(p.name)
	if initial == nil {
		initial = NewState(Request{})
	}
	if err := p.Validate(); err != nil {
		f := &Failure{
			Message:    genericFailureMessage,
			StatusCode: http.StatusInternalServerError,
			Step:       p.name,
		}
		if p.includeDetails {
			f.Details = err.Error()
		}
		p.logger.Error(ctx, "invalid plan", "pipeline", p.name, "run_id", runID, "error", err)
		return Result{State: initial.WithFailure(f), Failure: f, RunID: runID}
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.run")
	defer span.End()
	span.AddEvent("run started", "pipeline", p.name, "run_id", runID)

	start := time.Now()
	p.publish(ctx, hooks.NewRunStartedEvent(runID, p.name, len(initial.Request.Messages)))
	p.logger.Debug(ctx, "run started", "pipeline", p.name, "run_id", runID, "entries", len(p.entries))

	current := initial
	for _, e := range p.entries {
		if ctx.Err() != nil {
			return p.finish(ctx, runID, p.cancel(ctx, runID, current), start)
		}
		var (
			next   *State
			failed *Failure
		)
		if len(e.stages) == 1 {
			next, failed = p.runStage(ctx, runID, e.stages[0], current)
		} else {
			next, failed = p.runGroup(ctx, runID, e.stages, current)
		}
		if failed != nil {
			return p.finish(ctx, runID, Result{State: next, Failure: failed, RunID: runID}, start)
		}
		current = next
	}
	return p.finish(ctx, runID, Result{OK: true, State: current, RunID: runID}, start)
}

// runStage executes one single-stage plan entry. It returns the successor
// state and, when the stage terminates the run, the failure.
func (p *Pipeline) runStage(ctx context.Context, runID string, s Stage, in *State) (*State, *Failure) {
	if s.Disabled {
		p.skip(ctx, runID, s.Name, skipDisabled)
		return in, nil
	}
	if s.When != nil {
		ok, err := s.When(ctx, in)
		if err != nil {
			if ctx.Err() != nil {
				return p.cancelState(ctx, runID, in)
			}
			return p.fault(ctx, runID, in, s.Name, fmt.Errorf("condition: %w", err))
		}
		if !ok {
			p.skip(ctx, runID, s.Name, skipCondition)
			return in, nil
		}
	}

	p.publish(ctx, hooks.NewStageStartedEvent(runID, p.name, s.Name, false))
	start := time.Now()
	out, err := p.invoke(ctx, s.Handler, in)
	duration := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return p.cancelState(ctx, runID, in)
		}
		return p.fault(ctx, runID, in, s.Name, err)
	}

	p.metrics.RecordTimer("pipeline.stage.duration", duration, "pipeline", p.name, "stage", s.Name)
	p.fireStepCompleted(ctx, s.Name, duration)
	p.publish(ctx, hooks.NewStageCompletedEvent(runID, p.name, s.Name, duration))

	if out.Failure != nil {
		f := out.Failure
		if f.Step == "" {
			f.Step = s.Name
		}
		p.reportFailure(ctx, runID, f)
		return out, f
	}
	return out, nil
}

// runGroup executes a parallel plan entry. Enablement and conditions are
// evaluated sequentially against the group's input snapshot; active handlers
// then run concurrently with that same snapshot. At the join, cancellation
// wins, then handler faults, then returned failures in declaration order;
// otherwise extensions merge left to right with later stages overwriting
// earlier ones.
func (p *Pipeline) runGroup(ctx context.Context, runID string, stages []Stage, in *State) (*State, *Failure) {
	active := make([]Stage, 0, len(stages))
	for _, s := range stages {
		if s.Disabled {
			p.skip(ctx, runID, s.Name, skipDisabled)
			continue
		}
		if s.When != nil {
			ok, err := s.When(ctx, in)
			if err != nil {
				if ctx.Err() != nil {
					return p.cancelState(ctx, runID, in)
				}
				return p.fault(ctx, runID, in, s.Name, fmt.Errorf("condition: %w", err))
			}
			if !ok {
				p.skip(ctx, runID, s.Name, skipCondition)
				continue
			}
		}
		active = append(active, s)
	}
	if len(active) == 0 {
		return in, nil
	}

	outs := make([]outcome, len(active))
	var wg sync.WaitGroup
	for i, s := range active {
		p.publish(ctx, hooks.NewStageStartedEvent(runID, p.name, s.Name, true))
		wg.Add(1)
		go func(i int, s Stage) {
			defer wg.Done()
			start := time.Now()
			out, err := p.invoke(ctx, s.Handler, in)
			outs[i] = outcome{state: out, err: err, duration: time.Since(start)}
		}(i, s)
	}
	wg.Wait()

	// Completion callbacks fire at the join in declaration order so callback
	// invocations stay single-goroutine.
	for i, s := range active {
		if outs[i].err != nil {
			continue
		}
		p.metrics.RecordTimer("pipeline.stage.duration", outs[i].duration, "pipeline", p.name, "stage", s.Name)
		p.fireStepCompleted(ctx, s.Name, outs[i].duration)
		p.publish(ctx, hooks.NewStageCompletedEvent(runID, p.name, s.Name, outs[i].duration))
	}

	if ctx.Err() != nil {
		return p.cancelState(ctx, runID, in)
	}

	// A handler fault rejects the whole group. Attribution is lost at the
	// join, so the step names every launched member.
	for i := range active {
		if outs[i].err != nil {
			return p.fault(ctx, runID, in, groupStep(active), outs[i].err)
		}
	}

	// First returned failure in declaration order wins; the other members'
	// side effects are discarded.
	for i, s := range active {
		if f := outs[i].state.Failure; f != nil {
			if f.Step == "" {
				f.Step = s.Name
			}
			p.reportFailure(ctx, runID, f)
			return outs[i].state, f
		}
	}

	merged := in.Clone()
	for i := range active {
		for k, v := range outs[i].state.Ext {
			merged.Ext[k] = v
		}
	}
	return merged, nil
}

// invoke calls the handler, converting panics and nil results into errors.
func (p *Pipeline) invoke(ctx context.Context, h Handler, in *State) (out *State, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()
	out, err = h.Handle(ctx, in)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("handler returned nil state")
	}
	return out, nil
}

// fault converts a handler or condition error into the generic 500 failure.
func (p *Pipeline) fault(ctx context.Context, runID string, in *State, step string, err error) (*State, *Failure) {
	f := &Failure{
		Message:    genericFailureMessage,
		StatusCode: http.StatusInternalServerError,
		Step:       step,
	}
	if p.includeDetails {
		f.Details = err.Error()
	}
	p.logger.Error(ctx, "stage fault", "pipeline", p.name, "run_id", runID, "stage", step, "error", err)
	p.reportFailure(ctx, runID, f)
	return in.WithFailure(f), f
}

// cancel builds the distinguished cancellation result.
func (p *Pipeline) cancel(ctx context.Context, runID string, in *State) Result {
	state, f := p.cancelState(ctx, runID, in)
	return Result{State: state, Failure: f, RunID: runID}
}

func (p *Pipeline) cancelState(ctx context.Context, runID string, in *State) (*State, *Failure) {
	f := &Failure{
		Message:    cancelledFailureMessage,
		StatusCode: StatusCancelled,
		Step:       StepCancelled,
	}
	p.logger.Info(ctx, "run cancelled", "pipeline", p.name, "run_id", runID)
	return in.WithFailure(f), f
}

// reportFailure records the terminal failure: counter, supervised StepError
// callback, and the StageFailed event.
func (p *Pipeline) reportFailure(ctx context.Context, runID string, f *Failure) {
	p.logger.Error(ctx, "stage failed",
		"pipeline", p.name, "run_id", runID, "stage", f.Step, "status", f.StatusCode)
	p.metrics.IncCounter("pipeline.stage.failure", 1, "pipeline", p.name, "stage", f.Step)
	p.fireStepError(ctx, *f)
	p.publish(ctx, hooks.NewStageFailedEvent(runID, p.name, f.Step, f.StatusCode, f.Message))
}

// finish records run-level telemetry and publishes the RunCompleted event.
func (p *Pipeline) finish(ctx context.Context, runID string, res Result, start time.Time) Result {
	duration := time.Since(start)
	status := "success"
	code := 0
	if res.Failure != nil {
		status = "failed"
		code = res.Failure.StatusCode
		if code == StatusCancelled {
			status = "cancelled"
		}
		p.tracer.Span(ctx).SetStatus(codes.Error, res.Failure.Message)
	}
	p.metrics.RecordTimer("pipeline.run.duration", duration, "pipeline", p.name, "status", status)
	p.logger.Debug(ctx, "run completed", "pipeline", p.name, "run_id", runID, "status", status)
	p.publish(ctx, hooks.NewRunCompletedEvent(runID, p.name, status, code, duration))
	return res
}

func (p *Pipeline) skip(ctx context.Context, runID, stage, reason string) {
	p.logger.Debug(ctx, "stage skipped", "pipeline", p.name, "run_id", runID, "stage", stage, "reason", reason)
	p.publish(ctx, hooks.NewStageSkippedEvent(runID, p.name, stage, reason))
}

// publish forwards an event to the bus when one is configured. Delivery
// errors are logged, never fatal to the run.
func (p *Pipeline) publish(ctx context.Context, event hooks.Event) {
	if p.bus == nil {
		return
	}
	if err := p.bus.Publish(ctx, event); err != nil {
		p.logger.Warn(ctx, "event publish failed", "pipeline", p.name, "event", string(event.Type()), "error", err)
	}
}

func (p *Pipeline) fireStepCompleted(ctx context.Context, name string, duration time.Duration) {
	if p.cb.StepCompleted == nil {
		return
	}
	defer p.superviseCallback(ctx, "step_completed")
	p.cb.StepCompleted(name, duration)
}

func (p *Pipeline) fireStepError(ctx context.Context, f Failure) {
	if p.cb.StepError == nil {
		return
	}
	defer p.superviseCallback(ctx, "step_error")
	p.cb.StepError(f)
}

// superviseCallback recovers a callback panic. Callback faults never fail
// the run.
func (p *Pipeline) superviseCallback(ctx context.Context, name string) {
	if r := recover(); r != nil {
		p.logger.Error(ctx, "callback panicked", "pipeline", p.name, "callback", name, "panic", r)
	}
}

// groupStep joins the names of a group's launched members into the step
// reported for an unattributed group fault.
func groupStep(stages []Stage) string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name
	}
	return strings.Join(names, ",")
}

// Handle implements Handler by invoking the function.
func (fn HandlerFunc) Handle(ctx context.Context, state *State) (*State, error) {
	return fn(ctx, state)
}
