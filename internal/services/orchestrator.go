package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/SamuraiViking/pos-register/internal/domain"
	"github.com/SamuraiViking/pos-register/internal/platform/requestctx"
)

const instrumentationName = "github.com/SamuraiViking/pos-register/internal/services"

// Navigation tells the UI how to move after a step.
type Navigation string

const (
	NavigateNone    Navigation = "none"
	NavigateForward Navigation = "forward"
	NavigateBack    Navigation = "back"
)

// Step is one unit of workflow. Run returns the screen to advance to, or ""
// to stay where the UI is. Settle, when set, sees the outcome before the
// in-flight gate is released and may rewrite it.
type Step struct {
	ID     StepID
	Run    func(ctx context.Context) (domain.Screen, error)
	Settle func(Outcome) Outcome
}

// Outcome describes what a finished step asks the UI to do.
type Outcome struct {
	RunID      string
	Step       StepID
	Navigation Navigation
	Screen     domain.Screen
	Error      *ErrorMessage
	Duration   time.Duration
}

// Succeeded reports whether the step completed without error.
func (o Outcome) Succeeded() bool { return o.Error == nil }

// WorkflowState is the observable state of the orchestrator.
type WorkflowState struct {
	InFlight  bool
	LastError *ErrorMessage
}

// OrchestratorDeps wires the orchestrator.
type OrchestratorDeps struct {
	Classifier    ErrorClassifier
	Tracer        trace.Tracer
	Meter         metric.Meter
	Clock         func() time.Time
	RunIDs        func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
	OnStateChange func(WorkflowState)
}

// Orchestrator runs at most one step at a time. A step started while another
// is running is rejected with ErrWorkflowInFlight and leaves state untouched.
type Orchestrator struct {
	classifier ErrorClassifier
	tracer     trace.Tracer
	now        func() time.Time
	runIDs     func() string
	logger     func(ctx context.Context, event string, fields map[string]any)
	onChange   func(WorkflowState)

	steps    metric.Int64Counter
	duration metric.Float64Histogram

	running atomic.Bool

	mu        sync.RWMutex
	lastError *ErrorMessage
}

// NewOrchestrator validates deps and registers the step metrics.
func NewOrchestrator(deps OrchestratorDeps) (*Orchestrator, error) {
	classifier := deps.Classifier
	if classifier == nil {
		classifier = NewSubstringClassifier(nil)
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	runIDs := deps.RunIDs
	if runIDs == nil {
		runIDs = newRunID
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	onChange := deps.OnStateChange
	if onChange == nil {
		onChange = func(WorkflowState) {}
	}

	steps, err := meter.Int64Counter(
		"register.workflow.steps",
		metric.WithDescription("Count of workflow steps by step id and result"),
	)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: register step counter: %w", err)
	}
	duration, err := meter.Float64Histogram(
		"register.workflow.step.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds of workflow steps"),
	)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: register step histogram: %w", err)
	}

	return &Orchestrator{
		classifier: classifier,
		tracer:     tracer,
		now:        clock,
		runIDs:     runIDs,
		logger:     logger,
		onChange:   onChange,
		steps:      steps,
		duration:   duration,
	}, nil
}

// Run executes step. The returned error is only ErrWorkflowInFlight; step
// failures are reported through the outcome and LastError.
func (o *Orchestrator) Run(ctx context.Context, step Step) (Outcome, error) {
	if !o.running.CompareAndSwap(false, true) {
		return Outcome{}, ErrWorkflowInFlight
	}
	o.setLastError(nil)
	o.onChange(WorkflowState{InFlight: true})

	runID := o.runIDs()
	ctx = requestctx.WithRunID(context.WithoutCancel(ctx), runID)
	ctx, span := o.tracer.Start(ctx, "register.step "+string(step.ID), trace.WithAttributes(
		attribute.String("register.step", string(step.ID)),
		attribute.String("register.run_id", runID),
	))
	defer span.End()

	started := o.now()
	screen, err := runStep(ctx, step)
	elapsed := o.now().Sub(started)

	outcome := Outcome{RunID: runID, Step: step.ID, Duration: elapsed}
	result := "success"
	if err != nil {
		result = "failure"
		message := o.classify(err)
		outcome.Navigation = NavigateBack
		outcome.Error = &message

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger(ctx, "register.workflow.step_failed", map[string]any{
			"step":  string(step.ID),
			"kind":  string(message.Kind),
			"error": err.Error(),
		})
	} else {
		outcome.Screen = screen
		outcome.Navigation = NavigateNone
		if screen != "" {
			outcome.Navigation = NavigateForward
		}
		o.logger(ctx, "register.workflow.step_completed", map[string]any{
			"step":   string(step.ID),
			"screen": string(screen),
		})
	}

	attrs := metric.WithAttributes(
		attribute.String("step", string(step.ID)),
		attribute.String("result", result),
	)
	o.steps.Add(ctx, 1, attrs)
	o.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)

	if step.Settle != nil {
		outcome = step.Settle(outcome)
	}

	o.setLastError(outcome.Error)
	o.running.Store(false)
	o.onChange(WorkflowState{InFlight: false, LastError: outcome.Error})
	return outcome, nil
}

// Exclusive runs fn while holding the in-flight gate, so no step can start
// until it returns. It fails with ErrWorkflowInFlight when a step is running.
func (o *Orchestrator) Exclusive(fn func()) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrWorkflowInFlight
	}
	defer o.running.Store(false)
	fn()
	return nil
}

// IsRunning reports whether a step is in flight.
func (o *Orchestrator) IsRunning() bool {
	return o.running.Load()
}

// LastError returns the message of the last failed step, if not dismissed.
func (o *Orchestrator) LastError() *ErrorMessage {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return copyMessage(o.lastError)
}

// DismissError clears the last error.
func (o *Orchestrator) DismissError() {
	o.setLastError(nil)
	o.onChange(o.State())
}

// State returns the current workflow state.
func (o *Orchestrator) State() WorkflowState {
	return WorkflowState{InFlight: o.IsRunning(), LastError: o.LastError()}
}

func (o *Orchestrator) classify(err error) ErrorMessage {
	message := o.classifier.Classify(err.Error())
	if message.Kind == KindUnclassified {
		if kind := KindOf(err); kind != "" {
			message.Kind = kind
		}
	}
	return message
}

func (o *Orchestrator) setLastError(message *ErrorMessage) {
	o.mu.Lock()
	o.lastError = copyMessage(message)
	o.mu.Unlock()
}

func runStep(ctx context.Context, step Step) (screen domain.Screen, err error) {
	if step.Run == nil {
		return "", ErrUnknownStep
	}
	defer func() {
		if r := recover(); r != nil {
			screen = ""
			err = fmt.Errorf("workflow: step %s panicked: %v", step.ID, r)
		}
	}()
	return step.Run(ctx)
}

func copyMessage(message *ErrorMessage) *ErrorMessage {
	if message == nil {
		return nil
	}
	copied := *message
	copied.Lines = append([]string(nil), message.Lines...)
	return &copied
}

func newRunID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
