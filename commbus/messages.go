// Package commbus provides CommBus Message Definitions.
//
// This module defines all message types for the runtime communication bus.
// Messages are organized by domain.
//
// Categories:
//   - EVENT: Fire-and-forget, fan-out to subscribers
//   - QUERY: Request-response, single handler
//   - COMMAND: Fire-and-forget, single handler
package commbus

// =============================================================================
// MESSAGE CATEGORIES
// =============================================================================

// MessageCategory represents message routing categories.
type MessageCategory string

const (
	// MessageCategoryEvent represents fire-and-forget, fan-out to all subscribers.
	MessageCategoryEvent MessageCategory = "event"
	// MessageCategoryQuery represents request-response, single handler.
	MessageCategoryQuery MessageCategory = "query"
	// MessageCategoryCommand represents fire-and-forget, single handler.
	MessageCategoryCommand MessageCategory = "command"
)

// HealthStatus represents canonical health status values.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// =============================================================================
// DISPATCH LIFECYCLE EVENTS
// =============================================================================

// DispatchStarted is emitted when a unit begins dispatching a task.
// Subscribers: telemetry, trace logging.
type DispatchStarted struct {
	UnitID    string         `json:"unit_id"`
	TaskType  string         `json:"task_type"`
	MessageID string         `json:"message_id"`
	Input     map[string]any `json:"input,omitempty"`
}

// Category implements the Message interface.
func (m *DispatchStarted) Category() string { return string(MessageCategoryEvent) }

// DispatchCompleted is emitted when a unit finishes dispatching a task.
// Subscribers: telemetry, trace logging.
type DispatchCompleted struct {
	UnitID     string  `json:"unit_id"`
	TaskType   string  `json:"task_type"`
	MessageID  string  `json:"message_id"`
	Status     string  `json:"status"` // "success", "error"
	DurationMS int     `json:"duration_ms"`
	ErrorType  *string `json:"error_type,omitempty"`
	Error      *string `json:"error,omitempty"`
}

// Category implements the Message interface.
func (m *DispatchCompleted) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// DELEGATE EVENTS
// =============================================================================

// DelegateCompleted is emitted when a delegate call finishes.
// Subscribers: telemetry, circuit breaking.
type DelegateCompleted struct {
	UnitID       string  `json:"unit_id"`
	DelegateName string  `json:"delegate_name"`
	Status       string  `json:"status"` // "success", "error", "timeout"
	DurationMS   int     `json:"duration_ms"`
	Error        *string `json:"error,omitempty"`
}

// Category implements the Message interface.
func (m *DelegateCompleted) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// DIALOG EVENTS
// =============================================================================

// DialogMessageRecorded is emitted when the recorder persists a dialog turn.
// Subscribers: telemetry, session monitoring.
type DialogMessageRecorded struct {
	SessionID  string `json:"session_id"`
	MessageID  string `json:"message_id"`
	Role       string `json:"role"` // "user", "assistant"
	ParentHash string `json:"parent_hash,omitempty"`
	Length     int    `json:"length"`
}

// Category implements the Message interface.
func (m *DialogMessageRecorded) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// STATE QUERIES
// =============================================================================

// GetUnitState queries the accumulated state of a processing unit.
type GetUnitState struct {
	UnitID string  `json:"unit_id"`
	Key    *string `json:"key,omitempty"` // nil = get full state
}

// Category implements the Message interface.
func (m *GetUnitState) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetUnitState) IsQuery() {}

// UnitStateResponse is the response for GetUnitState query.
type UnitStateResponse struct {
	UnitID string         `json:"unit_id"`
	State  map[string]any `json:"state"`
	Found  bool           `json:"found"`
}

// =============================================================================
// CONFIG QUERIES
// =============================================================================

// GetCoreConfig queries runtime configuration values.
type GetCoreConfig struct {
	Key *string `json:"key,omitempty"` // nil = get all values
}

// Category implements the Message interface.
func (m *GetCoreConfig) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetCoreConfig) IsQuery() {}

// CoreConfigResponse is the response for GetCoreConfig query.
type CoreConfigResponse struct {
	Values map[string]any `json:"values"`
}

// =============================================================================
// HEALTH CHECK EVENTS
// =============================================================================

// HealthCheckRequest requests health check from a component.
type HealthCheckRequest struct {
	Component string `json:"component"` // "engine", "dialog_store", "delegate"
}

// Category implements the Message interface.
func (m *HealthCheckRequest) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *HealthCheckRequest) IsQuery() {}

// HealthCheckResponse is the response for HealthCheckRequest.
type HealthCheckResponse struct {
	Component string         `json:"component"`
	Status    string         `json:"status"` // "healthy", "degraded", "unhealthy"
	Details   map[string]any `json:"details,omitempty"`
	LatencyMS *int           `json:"latency_ms,omitempty"`
}

// =============================================================================
// DIALOG COMMANDS
// =============================================================================

// ClearDialogSession is a command to drop recorded history for a session.
type ClearDialogSession struct {
	SessionID *string `json:"session_id,omitempty"` // nil = clear all sessions
}

// Category implements the Message interface.
func (m *ClearDialogSession) Category() string { return string(MessageCategoryCommand) }

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// TypedMessage is an optional interface for messages that can provide their own type name.
// This is useful for dynamically-typed messages built from decoded envelopes.
type TypedMessage interface {
	Message
	MessageType() string
}

// GetMessageType returns the type name of a message for routing.
func GetMessageType(msg Message) string {
	// First check if the message can provide its own type
	if typed, ok := msg.(TypedMessage); ok {
		return typed.MessageType()
	}

	// Otherwise use the static type switch
	switch msg.(type) {
	case *DispatchStarted:
		return "DispatchStarted"
	case *DispatchCompleted:
		return "DispatchCompleted"
	case *DelegateCompleted:
		return "DelegateCompleted"
	case *DialogMessageRecorded:
		return "DialogMessageRecorded"
	case *GetUnitState:
		return "GetUnitState"
	case *GetCoreConfig:
		return "GetCoreConfig"
	case *HealthCheckRequest:
		return "HealthCheckRequest"
	case *ClearDialogSession:
		return "ClearDialogSession"
	default:
		return "Unknown"
	}
}
