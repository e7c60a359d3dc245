// Package main provides the empi-agent CLI for subprocess execution.
//
// This CLI reads JSON from stdin, runs the text analysis unit, and
// writes the resulting envelope to stdout. Designed for pipeline and
// subprocess-based interop: unit state can be passed in and read back,
// so a caller owns persistence between invocations.
//
// Usage:
//
//	# Analyze text (default task type)
//	echo '{"input": {"text": "hello world"}}' | empi-agent process
//
//	# Continue with carried-over state
//	echo '{"input": {"text": "more"}, "state": {...}}' | empi-agent process
//
//	# Check input shape without dispatching
//	echo '{"input": {"content": "hi"}}' | empi-agent validate
//
// Set AGENTCORE_CONFIG to a YAML file to override the core defaults.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/empi-systems/agentcore/commbus"
	"github.com/empi-systems/agentcore/coreengine/agent"
	"github.com/empi-systems/agentcore/coreengine/config"
	"github.com/empi-systems/agentcore/coreengine/envelope"
	"github.com/empi-systems/agentcore/coreengine/textmetrics"
	"github.com/empi-systems/agentcore/coreengine/typeutil"
)

const (
	cmdProcess    = "process"
	cmdState      = "state"
	cmdResetState = "reset-state"
	cmdValidate   = "validate"
	cmdConfig     = "config"
	cmdHealth     = "health"
	cmdVersion    = "version"
)

// Version information
const (
	Version   = "1.0.0"
	BuildTime = "2026-08-30"
)

// stdLogger writes engine logs to stderr via the standard library log,
// keeping stdout JSON-clean for the pipeline.
type stdLogger struct{}

func (l *stdLogger) Debug(msg string, keysAndValues ...any) {}
func (l *stdLogger) Info(msg string, keysAndValues ...any)  {}
func (l *stdLogger) Warn(msg string, keysAndValues ...any) {
	log.Printf("[WARN] %s %v", msg, keysAndValues)
}
func (l *stdLogger) Error(msg string, keysAndValues ...any) {
	log.Printf("[ERROR] %s %v", msg, keysAndValues)
}
func (l *stdLogger) Bind(fields ...any) agent.Logger { return l }

// request is the stdin shape shared by the stateful commands.
type request struct {
	Input    map[string]any `json:"input"`
	TaskType string         `json:"task_type,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
	State    map[string]any `json:"state,omitempty"`
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]

	switch cmd {
	case cmdVersion:
		handleVersion()
	case cmdProcess:
		handleProcess()
	case cmdState:
		handleState()
	case cmdResetState:
		handleResetState()
	case cmdValidate:
		handleValidate()
	case cmdConfig:
		handleConfig()
	case cmdHealth:
		handleHealth()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: empi-agent <command>

Commands:
  process      Read input JSON from stdin, dispatch, write envelope to stdout
  state        Echo the unit state after seeding (introspection)
  reset-state  Return the cleared unit state
  validate     Check input shape without dispatching
  config       Print the resolved runtime configuration
  health       Probe the delegate and print its health
  version      Print version information

Input/Output:
  All commands read JSON from stdin and write JSON to stdout.
  Errors are written to stderr.

Examples:
  echo '{"input":{"text":"hello"}}' | empi-agent process
  echo '{"input":{"data":{"text":"nested"}}}' | empi-agent validate`)
}

// loadConfig resolves the core config, honoring AGENTCORE_CONFIG.
func loadConfig() (*config.CoreConfig, error) {
	if path := os.Getenv("AGENTCORE_CONFIG"); path != "" {
		return config.LoadFile(path)
	}
	return config.GetCoreConfig(), nil
}

// runtime bundles the text analysis unit with the bus its lifecycle
// events and queries flow through.
type runtime struct {
	analyzer *textmetrics.Analyzer
	bus      commbus.CommBus
	cfg      *config.CoreConfig
}

// newRuntime builds the analyzer with the native delegate, bridges its
// lifecycle onto an in-process bus, and binds the state, config, and
// health query handlers.
func newRuntime() (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	bus := commbus.NewInMemoryCommBus(time.Duration(cfg.DelegateTimeout) * time.Second)
	bridge := commbus.NewDispatchEventBridge(bus)
	logger := &stdLogger{}

	bus.Subscribe("DispatchCompleted", func(ctx context.Context, msg commbus.Message) (any, error) {
		event := msg.(*commbus.DispatchCompleted)
		logger.Debug("dispatch_event",
			"task_type", event.TaskType, "status", event.Status, "duration_ms", event.DurationMS)
		return nil, nil
	})

	delegate := textmetrics.NewNativeDelegate(cfg.MaxTextLength)
	analyzer, err := textmetrics.NewAnalyzer(delegate, cfg,
		textmetrics.WithEventSink(bridge),
		textmetrics.WithEngineOptions(
			agent.WithLogger(logger),
			agent.WithEventContext(bridge),
		))
	if err != nil {
		return nil, err
	}

	if err := commbus.RegisterUnitStateHandler(bus, analyzer.Engine()); err != nil {
		return nil, err
	}
	if err := commbus.RegisterConfigHandler(bus, cfg.ToMap); err != nil {
		return nil, err
	}
	if err := commbus.RegisterHealthHandler(bus, map[string]commbus.HealthFunc{
		"delegate": func(ctx context.Context) (commbus.HealthStatus, map[string]any) {
			if analyzer.Available() {
				return commbus.HealthStatusHealthy, map[string]any{"name": delegate.Name()}
			}
			return commbus.HealthStatusUnhealthy, map[string]any{"last_error": analyzer.LastError()}
		},
	}); err != nil {
		return nil, err
	}

	return &runtime{analyzer: analyzer, bus: bus, cfg: cfg}, nil
}

// handleVersion prints version information.
func handleVersion() {
	output := map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"protocol":   envelope.Protocol,
		"unit_id":    textmetrics.UnitID,
	}
	writeJSON(output)
}

// handleProcess dispatches one request and writes envelope plus state.
func handleProcess() {
	req, ok := readRequest()
	if !ok {
		os.Exit(1)
	}

	rt, err := newRuntime()
	if err != nil {
		writeError("config_error", err.Error())
		os.Exit(1)
	}
	if req.State != nil {
		rt.analyzer.Engine().SetState(req.State)
	}

	env := rt.analyzer.Process(context.Background(), req.Input, req.Context, req.TaskType)

	writeJSON(map[string]any{
		"envelope": env.ToMap(),
		"state":    rt.analyzer.Engine().State(),
	})
}

// handleState seeds the unit state and echoes the normalized copy,
// read back through the bus's state query.
func handleState() {
	req, ok := readRequest()
	if !ok {
		os.Exit(1)
	}

	rt, err := newRuntime()
	if err != nil {
		writeError("config_error", err.Error())
		os.Exit(1)
	}
	if req.State != nil {
		rt.analyzer.Engine().SetState(req.State)
	}

	reply, err := rt.bus.QuerySync(context.Background(), &commbus.GetUnitState{UnitID: textmetrics.UnitID})
	if err != nil {
		writeError("query_error", err.Error())
		os.Exit(1)
	}
	resp := reply.(*commbus.UnitStateResponse)

	writeJSON(map[string]any{
		"unit_id":    resp.UnitID,
		"task_types": rt.analyzer.Engine().TaskTypes(),
		"state":      resp.State,
	})
}

// handleResetState returns the cleared unit state.
func handleResetState() {
	// Input is read for symmetry with the other commands but its state
	// is discarded.
	if _, ok := readRequest(); !ok {
		os.Exit(1)
	}

	writeJSON(map[string]any{
		"unit_id": textmetrics.UnitID,
		"state":   map[string]any{},
	})
}

// handleValidate checks the input shape without dispatching.
func handleValidate() {
	req, ok := readRequest()
	if !ok {
		os.Exit(1)
	}

	errors := []string{}
	if req.Input == nil {
		errors = append(errors, "missing 'input' object")
	} else {
		text, found := typeutil.FirstPresentString(req.Input, "text", "content")
		if !found {
			text, _ = typeutil.GetNestedString(req.Input, "data.text")
		}
		if text == "" {
			errors = append(errors, "no text found: expected 'text', 'content', or 'data.text'")
		}
	}
	if req.TaskType != "" && req.TaskType != textmetrics.TaskTypeTextMetrics {
		errors = append(errors, fmt.Sprintf("unknown task type: %s", req.TaskType))
	}

	writeJSON(map[string]any{
		"valid":  len(errors) == 0,
		"errors": errors,
	})
}

// handleConfig answers with the resolved runtime configuration.
func handleConfig() {
	rt, err := newRuntime()
	if err != nil {
		writeError("config_error", err.Error())
		os.Exit(1)
	}

	reply, err := rt.bus.QuerySync(context.Background(), &commbus.GetCoreConfig{})
	if err != nil {
		writeError("query_error", err.Error())
		os.Exit(1)
	}
	resp := reply.(*commbus.CoreConfigResponse)

	writeJSON(map[string]any{"config": resp.Values})
}

// handleHealth probes the delegate through the bus's health query.
func handleHealth() {
	rt, err := newRuntime()
	if err != nil {
		writeError("config_error", err.Error())
		os.Exit(1)
	}

	reply, err := rt.bus.QuerySync(context.Background(), &commbus.HealthCheckRequest{Component: "delegate"})
	if err != nil {
		writeError("query_error", err.Error())
		os.Exit(1)
	}
	resp := reply.(*commbus.HealthCheckResponse)

	writeJSON(map[string]any{
		"component": resp.Component,
		"status":    resp.Status,
		"details":   resp.Details,
	})
}

// readRequest reads and parses the stdin request. On failure it writes
// the error response and returns false.
func readRequest() (*request, bool) {
	input, err := readInput()
	if err != nil {
		writeError("read_error", err.Error())
		return nil, false
	}

	var req request
	if err := json.Unmarshal(input, &req); err != nil {
		writeError("parse_error", fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return nil, false
	}
	return &req, true
}

// readInput reads all input from stdin.
func readInput() ([]byte, error) {
	reader := bufio.NewReader(os.Stdin)
	return io.ReadAll(reader)
}

// writeJSON writes a JSON object to stdout.
func writeJSON(v any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %s\n", err.Error())
		os.Exit(1)
	}
}

// writeError writes an error response to stdout.
func writeError(code, message string) {
	result := map[string]any{
		"error":   true,
		"code":    code,
		"message": message,
	}
	writeJSON(result)
}
