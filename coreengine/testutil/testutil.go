// Package testutil provides shared test utilities and mocks for integration tests.
//
// All mocks in this package are designed for testing the coreengine components
// in isolation without requiring external dependencies. The delegate and chat
// provider mocks satisfy their interfaces structurally, so this package never
// imports the packages that consume it.
package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/empi-systems/agentcore/coreengine/agent"
	"github.com/empi-systems/agentcore/coreengine/envelope"
)

// =============================================================================
// MOCK DELEGATE
// =============================================================================

// MockDelegate implements the text-metrics delegate interface for testing.
// Configure results by text prefix or use DefaultResult.
type MockDelegate struct {
	// Results maps text prefixes to metric maps.
	// First matching prefix wins.
	Results map[string]map[string]any

	// DefaultResult is returned when no prefix matches.
	DefaultResult map[string]any

	// Delay simulates delegate latency.
	Delay time.Duration

	// Error causes Analyze to return this error.
	Error error

	// Availability is what Available reports. Defaults to true.
	Availability bool

	// CallCount tracks the number of Analyze calls.
	CallCount int

	// Calls records all calls for assertion.
	Calls []DelegateCall

	// AnalyzeFunc allows custom analysis logic.
	// If set, this is called instead of using Results.
	AnalyzeFunc func(context.Context, string, string) (map[string]any, error)

	mu sync.Mutex
}

// DelegateCall records a single delegate call for assertion.
type DelegateCall struct {
	Text     string
	Language string
}

// NewMockDelegate creates a MockDelegate with sensible defaults.
func NewMockDelegate() *MockDelegate {
	return &MockDelegate{
		Results: make(map[string]map[string]any),
		DefaultResult: map[string]any{
			"sentence_count":       1.0,
			"word_count":           5.0,
			"syllable_count":       7.0,
			"flesch_reading_ease":  82.4,
			"flesch_kincaid_grade": 3.7,
		},
		Availability: true,
	}
}

// Name implements the delegate interface.
func (m *MockDelegate) Name() string { return "mock" }

// Analyze implements the delegate interface.
func (m *MockDelegate) Analyze(ctx context.Context, text, language string) (map[string]any, error) {
	m.mu.Lock()
	m.CallCount++
	m.Calls = append(m.Calls, DelegateCall{Text: text, Language: language})
	customFunc := m.AnalyzeFunc
	m.mu.Unlock()

	// If custom function is set, use it
	if customFunc != nil {
		return customFunc(ctx, text, language)
	}

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.Error != nil {
		return nil, m.Error
	}

	// Check prefix matches
	for prefix, result := range m.Results {
		if len(text) >= len(prefix) && text[:len(prefix)] == prefix {
			return result, nil
		}
	}

	return m.DefaultResult, nil
}

// Available implements the delegate interface.
func (m *MockDelegate) Available() bool {
	return m.Availability
}

// WithResult adds a prefix-based result.
func (m *MockDelegate) WithResult(prefix string, result map[string]any) *MockDelegate {
	m.Results[prefix] = result
	return m
}

// WithGrade sets the default result's grade and reading-ease scores.
func (m *MockDelegate) WithGrade(grade, readingEase float64) *MockDelegate {
	m.DefaultResult["flesch_kincaid_grade"] = grade
	m.DefaultResult["flesch_reading_ease"] = readingEase
	return m
}

// WithError configures the mock to return an error.
func (m *MockDelegate) WithError(err error) *MockDelegate {
	m.Error = err
	return m
}

// WithDelay adds latency simulation.
func (m *MockDelegate) WithDelay(d time.Duration) *MockDelegate {
	m.Delay = d
	return m
}

// WithUnavailable marks the delegate as unavailable.
func (m *MockDelegate) WithUnavailable() *MockDelegate {
	m.Availability = false
	return m
}

// GetCallCount returns the number of calls (thread-safe).
func (m *MockDelegate) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// GetCalls returns a copy of recorded calls (thread-safe).
func (m *MockDelegate) GetCalls() []DelegateCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]DelegateCall, len(m.Calls))
	copy(copied, m.Calls)
	return copied
}

// Reset clears call history.
func (m *MockDelegate) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCount = 0
	m.Calls = nil
}

// =============================================================================
// MOCK CHAT PROVIDER
// =============================================================================

// MockChatProvider implements the dialog chat provider interface for testing.
type MockChatProvider struct {
	// Responses maps user-message prefixes to replies.
	Responses map[string]string

	// DefaultResponse is returned when no prefix matches.
	DefaultResponse string

	// Error causes Chat to return this error.
	Error error

	// Delay simulates provider latency.
	Delay time.Duration

	// CallCount tracks the number of Chat calls.
	CallCount int

	// Calls records all calls for assertion.
	Calls []ChatCall

	mu sync.Mutex
}

// ChatCall records a single chat call for assertion.
type ChatCall struct {
	History     []map[string]string
	UserMessage string
}

// NewMockChatProvider creates a MockChatProvider with sensible defaults.
func NewMockChatProvider() *MockChatProvider {
	return &MockChatProvider{
		Responses:       make(map[string]string),
		DefaultResponse: "mock reply",
	}
}

// Name implements the chat provider interface.
func (m *MockChatProvider) Name() string { return "mock" }

// Chat implements the chat provider interface.
func (m *MockChatProvider) Chat(ctx context.Context, history []map[string]string, userMessage string) (string, error) {
	m.mu.Lock()
	m.CallCount++
	m.Calls = append(m.Calls, ChatCall{History: history, UserMessage: userMessage})
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if m.Error != nil {
		return "", m.Error
	}

	for prefix, response := range m.Responses {
		if len(userMessage) >= len(prefix) && userMessage[:len(prefix)] == prefix {
			return response, nil
		}
	}

	return m.DefaultResponse, nil
}

// WithResponse adds a prefix-based reply.
func (m *MockChatProvider) WithResponse(prefix, response string) *MockChatProvider {
	m.Responses[prefix] = response
	return m
}

// WithError configures the mock to return an error.
func (m *MockChatProvider) WithError(err error) *MockChatProvider {
	m.Error = err
	return m
}

// GetCallCount returns the number of calls (thread-safe).
func (m *MockChatProvider) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// Reset clears call history.
func (m *MockChatProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCount = 0
	m.Calls = nil
}

// =============================================================================
// MOCK EVENT CONTEXT
// =============================================================================

// MockEventContext captures dispatch events for assertion.
type MockEventContext struct {
	// Events captures all emitted events.
	Events []DispatchEvent

	// Error causes emit methods to return this error.
	Error error

	mu sync.Mutex
}

// DispatchEvent represents a captured event.
type DispatchEvent struct {
	Type       string
	UnitID     string
	TaskType   string
	MessageID  string
	Status     string
	DurationMS int
	Timestamp  time.Time
}

// NewMockEventContext creates a MockEventContext.
func NewMockEventContext() *MockEventContext {
	return &MockEventContext{
		Events: make([]DispatchEvent, 0),
	}
}

// EmitDispatchStarted records a dispatch started event.
func (m *MockEventContext) EmitDispatchStarted(unitID, taskType, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Error != nil {
		return m.Error
	}

	m.Events = append(m.Events, DispatchEvent{
		Type:      "started",
		UnitID:    unitID,
		TaskType:  taskType,
		MessageID: messageID,
		Timestamp: time.Now(),
	})
	return nil
}

// EmitDispatchCompleted records a dispatch completed event.
func (m *MockEventContext) EmitDispatchCompleted(unitID, taskType, messageID, status string, durationMS int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Error != nil {
		return m.Error
	}

	m.Events = append(m.Events, DispatchEvent{
		Type:       "completed",
		UnitID:     unitID,
		TaskType:   taskType,
		MessageID:  messageID,
		Status:     status,
		DurationMS: durationMS,
		Timestamp:  time.Now(),
	})
	return nil
}

// GetEvents returns a copy of captured events (thread-safe).
func (m *MockEventContext) GetEvents() []DispatchEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]DispatchEvent, len(m.Events))
	copy(copied, m.Events)
	return copied
}

// GetCompletedStatuses returns the statuses of completed events in order.
func (m *MockEventContext) GetCompletedStatuses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var statuses []string
	for _, e := range m.Events {
		if e.Type == "completed" {
			statuses = append(statuses, e.Status)
		}
	}
	return statuses
}

// Clear removes all captured events.
func (m *MockEventContext) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = nil
}

// =============================================================================
// MOCK LOGGER
// =============================================================================

// MockLogger implements agent.Logger for testing.
type MockLogger struct {
	// Logs captures all log entries.
	Logs []LogEntry

	mu sync.Mutex
}

// LogEntry represents a captured log entry.
type LogEntry struct {
	Level   string
	Message string
	Fields  map[string]any
}

// NewMockLogger creates a MockLogger.
func NewMockLogger() *MockLogger {
	return &MockLogger{
		Logs: make([]LogEntry, 0),
	}
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) {
	m.log("debug", msg, keysAndValues...)
}

func (m *MockLogger) Info(msg string, keysAndValues ...any) {
	m.log("info", msg, keysAndValues...)
}

func (m *MockLogger) Warn(msg string, keysAndValues ...any) {
	m.log("warn", msg, keysAndValues...)
}

func (m *MockLogger) Error(msg string, keysAndValues ...any) {
	m.log("error", msg, keysAndValues...)
}

func (m *MockLogger) Bind(fields ...any) agent.Logger {
	return m
}

func (m *MockLogger) log(level, msg string, keysAndValues ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields := make(map[string]any)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}

	m.Logs = append(m.Logs, LogEntry{
		Level:   level,
		Message: msg,
		Fields:  fields,
	})
}

// GetLogs returns captured logs (thread-safe).
func (m *MockLogger) GetLogs() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]LogEntry, len(m.Logs))
	copy(copied, m.Logs)
	return copied
}

// HasLog checks if a log message exists at the given level.
func (m *MockLogger) HasLog(level, message string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, log := range m.Logs {
		if log.Level == level && log.Message == message {
			return true
		}
	}
	return false
}

// Clear removes all captured logs.
func (m *MockLogger) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logs = nil
}

// =============================================================================
// FIXED CLOCK
// =============================================================================

// FixedClock implements envelope.Clock with a settable instant.
type FixedClock struct {
	mu      sync.Mutex
	instant time.Time
}

// NewFixedClock creates a clock frozen at the given instant.
func NewFixedClock(instant time.Time) *FixedClock {
	return &FixedClock{instant: instant}
}

// Now implements envelope.Clock.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instant
}

// Advance moves the clock forward.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instant = c.instant.Add(d)
}

// Set replaces the clock's instant.
func (c *FixedClock) Set(instant time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instant = instant
}

// =============================================================================
// ENVELOPE HELPERS
// =============================================================================

// NewTestEnvelope creates an envelope with test defaults and a fixed clock.
func NewTestEnvelope(unitID, taskType string) *envelope.Envelope {
	clk := NewFixedClock(time.Unix(1700000000, 0).UTC())
	return envelope.New(unitID, taskType, clk)
}

// CloneMap deep-copies a map through JSON. Handy for building
// expected values that must not alias the input.
func CloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	data, _ := json.Marshal(in)
	out := make(map[string]any)
	_ = json.Unmarshal(data, &out)
	return out
}
