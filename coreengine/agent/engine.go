// Package agent provides the Engine - a task-type driven dispatch loop
// that turns raw inputs into EMPI envelopes.
//
// Units register a two-stage handler per task type: an extraction stage
// that pulls what it needs from the raw input and may update unit
// state, and a processing stage that turns the extracted intermediate
// into the final payload data. The engine wraps the result in an
// envelope and never lets a stage failure escape as an error; failures
// are folded into the envelope payload using the shared error shape.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/empi-systems/agentcore/coreengine/envelope"
	"github.com/empi-systems/agentcore/coreengine/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger is the interface for logging.
type Logger interface {
	Info(msg string, fields ...any)
	Debug(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
	Bind(fields ...any) Logger
}

// EventContext is the interface for dispatch lifecycle event emission.
// A nil EventContext disables emission.
type EventContext interface {
	EmitDispatchStarted(unitID, taskType, messageID string) error
	EmitDispatchCompleted(unitID, taskType, messageID, status string, durationMS int) error
}

// StageFunc is one stage of a handler pipeline. It receives the stage
// input (raw input for extraction, the extracted intermediate for
// processing), the per-call context map, and the live unit state.
// State mutations are visible to later stages and later calls; the
// engine serializes Process so stages never race on state.
type StageFunc func(ctx context.Context, input map[string]any, callCtx map[string]any, state map[string]any) (map[string]any, error)

// Handler pairs the two stages registered for a task type.
type Handler struct {
	Extract StageFunc
	Process StageFunc
}

var tracer = otel.Tracer("agentcore/agent")

// Engine dispatches inputs to registered handlers and wraps results in
// EMPI envelopes. One mutex guards the registry, the unit state and
// the dispatch loop itself; concurrent Process calls run one at a time.
type Engine struct {
	mu       sync.Mutex
	unitID   string
	defaults string
	handlers map[string]Handler
	state    map[string]any

	clock  envelope.Clock
	logger Logger
	events EventContext
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock substitutes the clock used for envelope construction.
func WithClock(clk envelope.Clock) Option {
	return func(e *Engine) { e.clock = clk }
}

// WithLogger sets the engine logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithEventContext sets the lifecycle event sink.
func WithEventContext(ec EventContext) Option {
	return func(e *Engine) { e.events = ec }
}

// NewEngine creates an engine for the given unit. defaultTaskType is
// used when Process is called with an empty task type.
func NewEngine(unitID, defaultTaskType string, opts ...Option) (*Engine, error) {
	if strings.TrimSpace(unitID) == "" {
		return nil, fmt.Errorf("unit id must not be empty")
	}
	if strings.TrimSpace(defaultTaskType) == "" {
		return nil, fmt.Errorf("default task type must not be empty")
	}
	e := &Engine{
		unitID:   unitID,
		defaults: defaultTaskType,
		handlers: make(map[string]Handler),
		state:    make(map[string]any),
		clock:    envelope.SystemClock{},
		logger:   nopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Bind("unit", unitID)
	return e, nil
}

// UnitID returns the unit's identity.
func (e *Engine) UnitID() string { return e.unitID }

// DefaultTaskType returns the task type used for empty dispatch requests.
func (e *Engine) DefaultTaskType() string { return e.defaults }

// =============================================================================
// Handler Registry
// =============================================================================

// RegisterHandler binds a stage pair to a task type. Blank task types
// and nil stages are rejected. Re-registering a task type replaces the
// previous pair; the replacement is logged, not refused.
func (e *Engine) RegisterHandler(taskType string, h Handler) error {
	if strings.TrimSpace(taskType) == "" {
		return fmt.Errorf("task type must not be empty")
	}
	if h.Extract == nil {
		return fmt.Errorf("handler for task type '%s' has nil extraction stage", taskType)
	}
	if h.Process == nil {
		return fmt.Errorf("handler for task type '%s' has nil processing stage", taskType)
	}

	e.mu.Lock()
	_, replaced := e.handlers[taskType]
	e.handlers[taskType] = h
	e.mu.Unlock()

	if replaced {
		e.logger.Warn("handler_replaced", "task_type", taskType)
	} else {
		e.logger.Debug("handler_registered", "task_type", taskType)
	}
	return nil
}

// HasHandler reports whether a handler is registered for the task type.
func (e *Engine) HasHandler(taskType string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.handlers[taskType]
	return ok
}

// TaskTypes returns the registered task types in no particular order.
func (e *Engine) TaskTypes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	types := make([]string, 0, len(e.handlers))
	for t := range e.handlers {
		types = append(types, t)
	}
	return types
}

// =============================================================================
// Dispatch
// =============================================================================

// Process dispatches one input and always returns exactly one
// envelope. An empty taskType resolves to the unit's default. Handler
// failures of any kind, including panics, are folded into the
// envelope payload; the engine itself never fails a call.
func (e *Engine) Process(ctx context.Context, input, callCtx map[string]any, taskType string) *envelope.Envelope {
	if strings.TrimSpace(taskType) == "" {
		taskType = e.defaults
	}
	if callCtx == nil {
		callCtx = make(map[string]any)
	}

	ctx, span := tracer.Start(ctx, "engine.process",
		trace.WithAttributes(
			attribute.String("empi.unit.id", e.unitID),
			attribute.String("empi.task.type", taskType),
		))
	defer span.End()

	env := envelope.New(e.unitID, taskType, e.clock)
	startTime := time.Now()

	// Lifecycle events fire outside the dispatch lock; subscribers may
	// call back into State() and friends without deadlocking.
	e.emitStarted(taskType, env.Header.MessageID)
	e.logger.Info("dispatch_started", "task_type", taskType, "message_id", env.Header.MessageID)

	e.dispatch(ctx, env, input, callCtx, taskType)

	durationMS := int(time.Since(startTime).Milliseconds())
	status := "success"
	if env.IsError() {
		status = "error"
	}
	span.SetAttributes(attribute.Int("duration_ms", durationMS))
	observability.RecordDispatch(e.unitID, taskType, status, durationMS)
	if status == "error" {
		errType := env.ErrorType()
		span.SetStatus(codes.Error, errType)
		e.logger.Error("dispatch_error", "task_type", taskType, "error_type", errType, "duration_ms", durationMS)
	} else {
		span.SetStatus(codes.Ok, "success")
		e.logger.Info("dispatch_completed", "task_type", taskType, "duration_ms", durationMS)
	}
	e.emitCompleted(taskType, env.Header.MessageID, status, durationMS)
	return env
}

// dispatch runs the two-stage pipeline under the engine mutex and
// writes the outcome into env.
func (e *Engine) dispatch(ctx context.Context, env *envelope.Envelope, input, callCtx map[string]any, taskType string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	handler, ok := e.handlers[taskType]
	if !ok {
		env.SetData(ErrorData(ErrorTypeHandlerNotFound,
			fmt.Sprintf("No handler registered for task type: %s", taskType)))
		return
	}

	extracted, err := e.runStage(ctx, "extract", handler.Extract, input, callCtx)
	if err != nil {
		env.SetData(ErrorData(ErrorTypeProcessingException,
			fmt.Sprintf("Processing failed: %v", err)))
		return
	}

	data, err := e.runStage(ctx, "process", handler.Process, extracted, callCtx)
	if err != nil {
		env.SetData(ErrorData(ErrorTypeProcessingException,
			fmt.Sprintf("Processing failed: %v", err)))
		return
	}

	env.SetData(data)
}

// runStage executes one stage with panic containment. A panicking
// stage is reported as an ordinary stage error.
func (e *Engine) runStage(ctx context.Context, name string, fn StageFunc, input, callCtx map[string]any) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("stage_panic", "stage", name, "panic", fmt.Sprintf("%v", r))
			result = nil
			err = fmt.Errorf("%s stage panicked: %v", name, r)
		}
	}()
	start := time.Now()
	result, err = fn(ctx, input, callCtx, e.state)
	observability.RecordStage(e.unitID, name, time.Since(start))
	return result, err
}

// =============================================================================
// Unit State
// =============================================================================

// State returns a deep copy of the unit state. Callers may mutate the
// result freely without affecting the unit.
func (e *Engine) State() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return envelope.DeepCopyMap(e.state)
}

// StateValue returns one state entry and whether it exists.
func (e *Engine) StateValue(key string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.state[key]
	return v, ok
}

// SetState replaces the unit state with a deep copy of the given map.
// A nil map resets to empty.
func (e *Engine) SetState(state map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if state == nil {
		e.state = make(map[string]any)
		return
	}
	e.state = envelope.DeepCopyMap(state)
}

// ResetState clears the unit state.
func (e *Engine) ResetState() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = make(map[string]any)
}

// =============================================================================
// Events
// =============================================================================

func (e *Engine) emitStarted(taskType, messageID string) {
	if e.events != nil {
		_ = e.events.EmitDispatchStarted(e.unitID, taskType, messageID)
	}
}

func (e *Engine) emitCompleted(taskType, messageID, status string, durationMS int) {
	if e.events != nil {
		_ = e.events.EmitDispatchCompleted(e.unitID, taskType, messageID, status, durationMS)
	}
}

// nopLogger discards everything. Used when no logger is wired.
type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (l nopLogger) Bind(...any) Logger { return l }
