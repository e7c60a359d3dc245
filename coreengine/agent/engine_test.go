package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empi-systems/agentcore/coreengine/envelope"
)

// fixedClock returns the same instant on every call.
type fixedClock struct {
	at time.Time
}

func (c fixedClock) Now() time.Time { return c.at }

// recordingEvents captures lifecycle emissions for assertions.
type recordingEvents struct {
	started   []string
	completed []string
	statuses  []string
}

func (r *recordingEvents) EmitDispatchStarted(unitID, taskType, messageID string) error {
	r.started = append(r.started, taskType)
	return nil
}

func (r *recordingEvents) EmitDispatchCompleted(unitID, taskType, messageID, status string, durationMS int) error {
	r.completed = append(r.completed, taskType)
	r.statuses = append(r.statuses, status)
	return nil
}

// passthroughHandler forwards input through both stages unchanged,
// tagging each stage so tests can observe invocation order.
func passthroughHandler(calls *[]string) Handler {
	return Handler{
		Extract: func(ctx context.Context, input, callCtx, state map[string]any) (map[string]any, error) {
			*calls = append(*calls, "extract")
			out := envelope.DeepCopyMap(input)
			out["extracted"] = true
			return out, nil
		},
		Process: func(ctx context.Context, extracted, callCtx, state map[string]any) (map[string]any, error) {
			*calls = append(*calls, "process")
			out := envelope.DeepCopyMap(extracted)
			out["status"] = "success"
			return out, nil
		},
	}
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	eng, err := NewEngine("test_unit", "metrics", opts...)
	require.NoError(t, err)
	return eng
}

// =============================================================================
// CONSTRUCTION TESTS
// =============================================================================

func TestNewEngineIdentity(t *testing.T) {
	// Unit identity is fixed at construction.
	eng := newTestEngine(t)

	assert.Equal(t, "test_unit", eng.UnitID())
	assert.Equal(t, "metrics", eng.DefaultTaskType())
}

func TestNewEngineRejectsEmptyIdentity(t *testing.T) {
	// Blank unit id or default task type is refused.
	_, err := NewEngine("", "metrics")
	assert.Error(t, err)

	_, err = NewEngine("unit", "  ")
	assert.Error(t, err)
}

// =============================================================================
// REGISTRATION TESTS
// =============================================================================

func TestRegisterHandlerValidation(t *testing.T) {
	// Blank task types and nil stages are rejected.
	eng := newTestEngine(t)
	var calls []string
	valid := passthroughHandler(&calls)

	assert.Error(t, eng.RegisterHandler("", valid))
	assert.Error(t, eng.RegisterHandler("   ", valid))
	assert.Error(t, eng.RegisterHandler("metrics", Handler{Extract: nil, Process: valid.Process}))
	assert.Error(t, eng.RegisterHandler("metrics", Handler{Extract: valid.Extract, Process: nil}))

	assert.False(t, eng.HasHandler("metrics"))
}

func TestRegisterHandlerSuccess(t *testing.T) {
	// Valid registration makes the task type dispatchable.
	eng := newTestEngine(t)
	var calls []string
	require.NoError(t, eng.RegisterHandler("metrics", passthroughHandler(&calls)))

	assert.True(t, eng.HasHandler("metrics"))
	assert.Equal(t, []string{"metrics"}, eng.TaskTypes())
}

func TestRegisterHandlerOverwrite(t *testing.T) {
	// Re-registering a task type replaces the previous pair.
	eng := newTestEngine(t)
	var calls []string
	require.NoError(t, eng.RegisterHandler("metrics", passthroughHandler(&calls)))

	replacement := Handler{
		Extract: func(ctx context.Context, input, callCtx, state map[string]any) (map[string]any, error) {
			return map[string]any{}, nil
		},
		Process: func(ctx context.Context, extracted, callCtx, state map[string]any) (map[string]any, error) {
			return map[string]any{"status": "success", "from": "replacement"}, nil
		},
	}
	require.NoError(t, eng.RegisterHandler("metrics", replacement))

	env := eng.Process(context.Background(), map[string]any{}, nil, "metrics")
	assert.Equal(t, "replacement", env.Payload.Data["from"])
	assert.Empty(t, calls)
}

// =============================================================================
// DISPATCH TESTS
// =============================================================================

func TestProcessInvokesStagesInOrder(t *testing.T) {
	// Extraction runs first, processing second, exactly once each.
	eng := newTestEngine(t)
	var calls []string
	require.NoError(t, eng.RegisterHandler("metrics", passthroughHandler(&calls)))

	env := eng.Process(context.Background(), map[string]any{"text": "hi"}, nil, "metrics")

	assert.Equal(t, []string{"extract", "process"}, calls)
	assert.Equal(t, "success", env.Payload.Data["status"])
	assert.Equal(t, true, env.Payload.Data["extracted"])
	assert.Equal(t, "hi", env.Payload.Data["text"])
}

func TestProcessStageDataFlow(t *testing.T) {
	// The processing stage receives exactly what extraction returned.
	eng := newTestEngine(t)
	var received map[string]any
	h := Handler{
		Extract: func(ctx context.Context, input, callCtx, state map[string]any) (map[string]any, error) {
			return map[string]any{"token": "from-extract"}, nil
		},
		Process: func(ctx context.Context, extracted, callCtx, state map[string]any) (map[string]any, error) {
			received = extracted
			return map[string]any{"status": "success"}, nil
		},
	}
	require.NoError(t, eng.RegisterHandler("metrics", h))

	eng.Process(context.Background(), map[string]any{"ignored": true}, nil, "metrics")

	require.NotNil(t, received)
	assert.Equal(t, "from-extract", received["token"])
	assert.NotContains(t, received, "ignored")
}

func TestProcessEnvelopeHeader(t *testing.T) {
	// Every dispatch yields a well-formed EMPI envelope.
	clk := fixedClock{at: time.Unix(1700000000, 0).UTC()}
	eng := newTestEngine(t, WithClock(clk))
	var calls []string
	require.NoError(t, eng.RegisterHandler("metrics", passthroughHandler(&calls)))

	env := eng.Process(context.Background(), map[string]any{}, nil, "metrics")

	assert.Equal(t, "EMPI/1.0", env.Header.Protocol)
	assert.Equal(t, "1.0", env.Header.Version)
	assert.Equal(t, "test_unit", env.Header.AgentID)
	assert.Equal(t, "metrics", env.Header.TaskType)
	assert.Equal(t, "1700000000", env.Header.Timestamp)
	assert.Equal(t, "test_unit", env.Payload.Metadata.Source)
}

func TestProcessDefaultTaskType(t *testing.T) {
	// An empty task type resolves to the unit default.
	eng := newTestEngine(t)
	var calls []string
	require.NoError(t, eng.RegisterHandler("metrics", passthroughHandler(&calls)))

	env := eng.Process(context.Background(), map[string]any{}, nil, "")

	assert.Equal(t, "metrics", env.Header.TaskType)
	assert.Equal(t, "success", env.Payload.Data["status"])
}

func TestProcessCallContextReachesStages(t *testing.T) {
	// The per-call context map is handed to both stages.
	eng := newTestEngine(t)
	var extractCtx, processCtx map[string]any
	h := Handler{
		Extract: func(ctx context.Context, input, callCtx, state map[string]any) (map[string]any, error) {
			extractCtx = callCtx
			return map[string]any{}, nil
		},
		Process: func(ctx context.Context, extracted, callCtx, state map[string]any) (map[string]any, error) {
			processCtx = callCtx
			return map[string]any{"status": "success"}, nil
		},
	}
	require.NoError(t, eng.RegisterHandler("metrics", h))

	eng.Process(context.Background(), map[string]any{}, map[string]any{"language": "en"}, "metrics")

	assert.Equal(t, "en", extractCtx["language"])
	assert.Equal(t, "en", processCtx["language"])
}

// =============================================================================
// ERROR BACKSTOP TESTS
// =============================================================================

func TestProcessHandlerNotFound(t *testing.T) {
	// Unknown task types produce the handler_not_found envelope, not an error.
	eng := newTestEngine(t)

	env := eng.Process(context.Background(), map[string]any{}, nil, "")

	require.NotNil(t, env)
	assert.True(t, env.IsError())
	assert.Equal(t, ErrorTypeHandlerNotFound, env.ErrorType())
	assert.Equal(t, "No handler registered for task type: metrics", env.Payload.Data["message"])
	assert.Equal(t, "metrics", env.Header.TaskType)
}

func TestProcessExtractionErrorFolded(t *testing.T) {
	// An extraction stage error becomes a processing_exception payload.
	eng := newTestEngine(t)
	h := Handler{
		Extract: func(ctx context.Context, input, callCtx, state map[string]any) (map[string]any, error) {
			return nil, errors.New("bad input shape")
		},
		Process: func(ctx context.Context, extracted, callCtx, state map[string]any) (map[string]any, error) {
			t.Fatal("processing stage must not run after extraction failure")
			return nil, nil
		},
	}
	require.NoError(t, eng.RegisterHandler("metrics", h))

	env := eng.Process(context.Background(), map[string]any{}, nil, "metrics")

	assert.Equal(t, ErrorTypeProcessingException, env.ErrorType())
	assert.Equal(t, "Processing failed: bad input shape", env.Payload.Data["message"])
}

func TestProcessProcessingErrorFolded(t *testing.T) {
	// A processing stage error becomes a processing_exception payload.
	eng := newTestEngine(t)
	h := Handler{
		Extract: func(ctx context.Context, input, callCtx, state map[string]any) (map[string]any, error) {
			return map[string]any{}, nil
		},
		Process: func(ctx context.Context, extracted, callCtx, state map[string]any) (map[string]any, error) {
			return nil, errors.New("delegate unreachable")
		},
	}
	require.NoError(t, eng.RegisterHandler("metrics", h))

	env := eng.Process(context.Background(), map[string]any{}, nil, "metrics")

	assert.Equal(t, ErrorTypeProcessingException, env.ErrorType())
	assert.Equal(t, "Processing failed: delegate unreachable", env.Payload.Data["message"])
}

func TestProcessStagePanicRecovered(t *testing.T) {
	// A panicking stage is contained and reported like any stage error.
	eng := newTestEngine(t)
	h := Handler{
		Extract: func(ctx context.Context, input, callCtx, state map[string]any) (map[string]any, error) {
			panic("nil map write")
		},
		Process: func(ctx context.Context, extracted, callCtx, state map[string]any) (map[string]any, error) {
			return map[string]any{"status": "success"}, nil
		},
	}
	require.NoError(t, eng.RegisterHandler("metrics", h))

	var env *envelope.Envelope
	require.NotPanics(t, func() {
		env = eng.Process(context.Background(), map[string]any{}, nil, "metrics")
	})

	assert.Equal(t, ErrorTypeProcessingException, env.ErrorType())
	assert.Contains(t, env.Payload.Data["message"], "Processing failed:")
	assert.Contains(t, env.Payload.Data["message"], "nil map write")
}

func TestProcessHandlerErrorConventionPreserved(t *testing.T) {
	// Handlers that return error payloads keep their own error_type;
	// the engine wraps without rewriting.
	eng := newTestEngine(t)
	h := Handler{
		Extract: func(ctx context.Context, input, callCtx, state map[string]any) (map[string]any, error) {
			if _, ok := input["text"]; !ok {
				return map[string]any{"error": "No text provided"}, nil
			}
			return map[string]any{"text": input["text"]}, nil
		},
		Process: func(ctx context.Context, extracted, callCtx, state map[string]any) (map[string]any, error) {
			if errMsg, ok := extracted["error"].(string); ok {
				return ErrorData(ErrorTypeInputValidation, errMsg), nil
			}
			return SuccessData(map[string]any{"echo": extracted["text"]}), nil
		},
	}
	require.NoError(t, eng.RegisterHandler("metrics", h))

	env := eng.Process(context.Background(), map[string]any{}, nil, "metrics")

	assert.True(t, env.IsError())
	assert.Equal(t, ErrorTypeInputValidation, env.ErrorType())
	assert.Equal(t, "No text provided", env.Payload.Data["message"])
}

// =============================================================================
// UNIT STATE TESTS
// =============================================================================

// countingHandler increments state["count"] during extraction and
// reports the observed value from processing.
func countingHandler() Handler {
	return Handler{
		Extract: func(ctx context.Context, input, callCtx, state map[string]any) (map[string]any, error) {
			count := 0
			if c, ok := state["count"].(int); ok {
				count = c
			}
			count++
			state["count"] = count
			return map[string]any{"count": count}, nil
		},
		Process: func(ctx context.Context, extracted, callCtx, state map[string]any) (map[string]any, error) {
			return map[string]any{"status": "success", "count": extracted["count"]}, nil
		},
	}
}

func TestStatePersistsAcrossDispatches(t *testing.T) {
	// State written during extraction survives between calls.
	eng := newTestEngine(t)
	require.NoError(t, eng.RegisterHandler("metrics", countingHandler()))

	for want := 1; want <= 3; want++ {
		env := eng.Process(context.Background(), map[string]any{}, nil, "metrics")
		assert.Equal(t, want, env.Payload.Data["count"])
	}

	count, ok := eng.StateValue("count")
	require.True(t, ok)
	assert.Equal(t, 3, count)
}

func TestResetStateClearsCounters(t *testing.T) {
	// After a reset the counter starts over.
	eng := newTestEngine(t)
	require.NoError(t, eng.RegisterHandler("metrics", countingHandler()))

	eng.Process(context.Background(), map[string]any{}, nil, "metrics")
	eng.Process(context.Background(), map[string]any{}, nil, "metrics")
	eng.ResetState()

	env := eng.Process(context.Background(), map[string]any{}, nil, "metrics")
	assert.Equal(t, 1, env.Payload.Data["count"])
}

func TestStateDeepCopyIsolation(t *testing.T) {
	// Mutating a State() snapshot does not leak into the unit.
	eng := newTestEngine(t)
	eng.SetState(map[string]any{"nested": map[string]any{"n": 1}})

	snapshot := eng.State()
	snapshot["nested"].(map[string]any)["n"] = 99

	fresh := eng.State()
	assert.Equal(t, 1, fresh["nested"].(map[string]any)["n"])
}

func TestSetStateCopiesInput(t *testing.T) {
	// The map handed to SetState is copied, not retained.
	eng := newTestEngine(t)
	src := map[string]any{"k": "v"}
	eng.SetState(src)
	src["k"] = "mutated"

	state := eng.State()
	assert.Equal(t, "v", state["k"])
}

func TestSetStateNilResets(t *testing.T) {
	// A nil argument behaves like ResetState.
	eng := newTestEngine(t)
	eng.SetState(map[string]any{"k": "v"})
	eng.SetState(nil)

	assert.Empty(t, eng.State())
}

// =============================================================================
// EVENT TESTS
// =============================================================================

func TestProcessEmitsLifecycleEvents(t *testing.T) {
	// Start and completion events fire around each dispatch.
	events := &recordingEvents{}
	eng := newTestEngine(t, WithEventContext(events))
	var calls []string
	require.NoError(t, eng.RegisterHandler("metrics", passthroughHandler(&calls)))

	eng.Process(context.Background(), map[string]any{}, nil, "metrics")
	eng.Process(context.Background(), map[string]any{}, nil, "unknown_task")

	require.Len(t, events.started, 2)
	require.Len(t, events.completed, 2)
	assert.Equal(t, []string{"success", "error"}, events.statuses)
}

// stateReadingEvents reads engine state from inside each emission, the
// way a bus subscriber answering a state query would.
type stateReadingEvents struct {
	eng       *Engine
	snapshots []map[string]any
}

func (s *stateReadingEvents) EmitDispatchStarted(unitID, taskType, messageID string) error {
	s.snapshots = append(s.snapshots, s.eng.State())
	return nil
}

func (s *stateReadingEvents) EmitDispatchCompleted(unitID, taskType, messageID, status string, durationMS int) error {
	s.snapshots = append(s.snapshots, s.eng.State())
	return nil
}

func TestLifecycleEventSinkMayReadState(t *testing.T) {
	// Emission happens outside the dispatch lock, so a sink calling
	// back into State() must not block the dispatch.
	events := &stateReadingEvents{}
	eng := newTestEngine(t, WithEventContext(events))
	events.eng = eng
	require.NoError(t, eng.RegisterHandler("metrics", countingHandler()))

	done := make(chan struct{})
	go func() {
		eng.Process(context.Background(), map[string]any{}, nil, "metrics")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch blocked on an event sink reading engine state")
	}

	require.Len(t, events.snapshots, 2)
	assert.Equal(t, 1, events.snapshots[1]["count"])
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestProcessSerializesStateAccess(t *testing.T) {
	// Concurrent dispatches against the counting handler never lose an
	// increment; the engine runs them one at a time.
	eng := newTestEngine(t)
	require.NoError(t, eng.RegisterHandler("metrics", countingHandler()))

	const goroutines = 20
	done := make(chan struct{}, goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			eng.Process(context.Background(), map[string]any{}, nil, "metrics")
			done <- struct{}{}
		}()
	}
	for i := 0; i < goroutines; i++ {
		<-done
	}

	count, ok := eng.StateValue("count")
	require.True(t, ok)
	assert.Equal(t, goroutines, count)
}

func TestProcessManyTaskTypes(t *testing.T) {
	// Handlers for distinct task types do not interfere.
	eng := newTestEngine(t)
	for i := 0; i < 5; i++ {
		taskType := fmt.Sprintf("task_%d", i)
		idx := i
		h := Handler{
			Extract: func(ctx context.Context, input, callCtx, state map[string]any) (map[string]any, error) {
				return map[string]any{}, nil
			},
			Process: func(ctx context.Context, extracted, callCtx, state map[string]any) (map[string]any, error) {
				return map[string]any{"status": "success", "index": idx}, nil
			},
		}
		require.NoError(t, eng.RegisterHandler(taskType, h))
	}

	for i := 0; i < 5; i++ {
		env := eng.Process(context.Background(), map[string]any{}, nil, fmt.Sprintf("task_%d", i))
		assert.Equal(t, i, env.Payload.Data["index"])
	}
	assert.Len(t, eng.TaskTypes(), 5)
}
