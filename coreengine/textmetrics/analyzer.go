package textmetrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/empi-systems/agentcore/coreengine/agent"
	"github.com/empi-systems/agentcore/coreengine/config"
	"github.com/empi-systems/agentcore/coreengine/envelope"
	"github.com/empi-systems/agentcore/coreengine/observability"
	"github.com/empi-systems/agentcore/coreengine/typeutil"
)

const (
	// UnitID is the dispatch identity of the text analysis unit.
	UnitID = "text_analyzer"

	// TaskTypeTextMetrics is the unit's default task type.
	TaskTypeTextMetrics = "text_metrics"
)

const missingTextMessage = "No text found in input. Expected fields: 'text', 'content', or 'data.text'"

// DelegateEventSink receives delegate lifecycle notifications.
// commbus.DispatchEventBridge satisfies it.
type DelegateEventSink interface {
	EmitDelegateCompleted(unitID, delegateName, status string, durationMS int, errMsg string) error
}

// Analyzer is the text analysis unit. It owns a dispatch engine with the
// text_metrics handler registered and forwards analysis to its delegate.
//
// Stage split:
//   - extraction pulls the text (text -> content -> data.text), picks up
//     the language hint, and bumps the per-unit counters;
//   - processing calls the delegate, classifies failures, and shapes the
//     success payload with complexity labels.
type Analyzer struct {
	engine   *agent.Engine
	delegate Delegate
	cfg      *config.CoreConfig
	events   DelegateEventSink

	mu      sync.Mutex
	lastErr string
}

// Option configures an Analyzer.
type Option func(*Analyzer) error

// WithEventSink attaches a sink for DelegateCompleted events.
func WithEventSink(sink DelegateEventSink) Option {
	return func(a *Analyzer) error {
		a.events = sink
		return nil
	}
}

// WithEngineOptions forwards options (logger, clock, event context) to
// the underlying dispatch engine.
func WithEngineOptions(opts ...agent.Option) Option {
	return func(a *Analyzer) error {
		engine, err := agent.NewEngine(UnitID, TaskTypeTextMetrics, opts...)
		if err != nil {
			return err
		}
		a.engine = engine
		return nil
	}
}

// NewAnalyzer creates the text analysis unit around the given delegate.
// A nil cfg falls back to the process-wide core config.
func NewAnalyzer(delegate Delegate, cfg *config.CoreConfig, opts ...Option) (*Analyzer, error) {
	if delegate == nil {
		return nil, fmt.Errorf("textmetrics: delegate must not be nil")
	}
	if cfg == nil {
		cfg = config.GetCoreConfig()
	}

	a := &Analyzer{delegate: delegate, cfg: cfg}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.engine == nil {
		engine, err := agent.NewEngine(UnitID, TaskTypeTextMetrics)
		if err != nil {
			return nil, err
		}
		a.engine = engine
	}

	if err := a.engine.RegisterHandler(TaskTypeTextMetrics, agent.Handler{
		Extract: a.extract,
		Process: a.process,
	}); err != nil {
		return nil, err
	}
	return a, nil
}

// Engine exposes the underlying dispatch engine for state inspection
// and direct registration of additional handlers.
func (a *Analyzer) Engine() *agent.Engine { return a.engine }

// Process dispatches one request through the engine. An empty taskType
// selects the default text_metrics task.
func (a *Analyzer) Process(ctx context.Context, input, callCtx map[string]any, taskType string) *envelope.Envelope {
	return a.engine.Process(ctx, input, callCtx, taskType)
}

// Available reports whether the delegate is ready.
func (a *Analyzer) Available() bool { return a.delegate.Available() }

// LastError returns the most recent delegate failure message, or ""
// when the last call succeeded.
func (a *Analyzer) LastError() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

func (a *Analyzer) setLastError(msg string) {
	a.mu.Lock()
	a.lastErr = msg
	a.mu.Unlock()
}

// =============================================================================
// STAGES
// =============================================================================

func (a *Analyzer) extract(ctx context.Context, input, callCtx, state map[string]any) (map[string]any, error) {
	// Field presence decides which source wins: an input carrying an
	// empty "text" is rejected even when "content" holds something.
	text, found := typeutil.FirstPresentString(input, "text", "content")
	if !found {
		text, _ = typeutil.GetNestedString(input, "data.text")
	}
	if text == "" {
		return map[string]any{"error": missingTextMessage}, nil
	}

	extracted := map[string]any{"text": text}
	if lang, ok := typeutil.SafeString(input["language"]); ok && lang != "" {
		extracted["language"] = lang
	} else if lang, ok := typeutil.GetNestedString(input, "meta.language"); ok && lang != "" {
		extracted["language"] = lang
	}

	state["total_texts_processed"] = typeutil.SafeIntDefault(state["total_texts_processed"], 0) + 1
	state["total_chars_processed"] = typeutil.SafeIntDefault(state["total_chars_processed"], 0) + len(text)

	return extracted, nil
}

func (a *Analyzer) process(ctx context.Context, extracted, callCtx, state map[string]any) (map[string]any, error) {
	if msg, ok := typeutil.SafeString(extracted["error"]); ok {
		return agent.ErrorData(agent.ErrorTypeInputValidation, msg), nil
	}

	text, ok := typeutil.SafeString(extracted["text"])
	if !ok || text == "" {
		return agent.ErrorData(agent.ErrorTypeDataStructure, "Invalid extracted info: missing text"), nil
	}
	language := typeutil.SafeStringDefault(extracted["language"], a.cfg.DefaultLanguage)

	dctx := ctx
	if a.cfg.DelegateTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, time.Duration(a.cfg.DelegateTimeout)*time.Second)
		defer cancel()
	}

	start := time.Now()
	result, err := a.delegate.Analyze(dctx, text, language)
	durationMS := int(time.Since(start).Milliseconds())

	if err != nil {
		msg := "Text analysis failed: " + err.Error()
		a.setLastError(msg)
		a.recordDelegate("error", durationMS, err.Error())
		return agent.ErrorData(agent.ErrorTypeDelegateFailure, msg), nil
	}
	if msg, ok := typeutil.SafeString(result["error"]); ok {
		a.setLastError(msg)
		a.recordDelegate("error", durationMS, msg)
		data := agent.ErrorData(agent.ErrorTypeDelegateFailure, msg)
		data["raw_delegate_output"] = result
		return data, nil
	}

	a.recordDelegate("success", durationMS, "")

	grade, ok := typeutil.SafeFloat64(result["flesch_kincaid_grade"])
	if !ok {
		data := agent.ErrorData(agent.ErrorTypeOutputStructure, "Invalid delegate output structure: missing flesch_kincaid_grade")
		data["raw_delegate_output"] = result
		return data, nil
	}

	a.setLastError("")

	label, accessibility := a.classify(grade)
	return agent.SuccessData(map[string]any{
		"analysis_id":         fmt.Sprintf("analyze_%d", typeutil.SafeIntDefault(state["total_texts_processed"], 0)),
		"metrics":             result,
		"complexity_label":    label,
		"accessibility_level": accessibility,
	}), nil
}

// classify maps a Flesch-Kincaid grade onto the complexity and
// accessibility labels using the configured thresholds.
func (a *Analyzer) classify(grade float64) (label, accessibility string) {
	switch {
	case grade <= a.cfg.SimpleGradeMax:
		return "simple", "high"
	case grade <= a.cfg.ModerateGradeMax:
		return "moderate", "medium"
	default:
		return "complex", "low"
	}
}

func (a *Analyzer) recordDelegate(status string, durationMS int, errMsg string) {
	observability.RecordDelegateCall(a.delegate.Name(), status, durationMS)
	if a.events != nil {
		_ = a.events.EmitDelegateCompleted(UnitID, a.delegate.Name(), status, durationMS, errMsg)
	}
}
