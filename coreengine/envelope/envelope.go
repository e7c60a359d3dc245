// Package envelope builds and parses EMPI/1.0 message envelopes.
//
// Every dispatch result in the system is carried in one of these
// envelopes: a fixed header identifying the protocol, the producing
// unit and the task type, and a payload holding provenance metadata
// plus arbitrary result data.
//
// Design:
//   - Timestamps are epoch seconds encoded as strings, matching the
//     wire format consumers already parse
//   - Payload.Data is an open map; units decide its shape
//   - Optional header fields (parent_hash, requires_ack, async_token)
//     extend the envelope for dialog recording without breaking
//     consumers that only know the core fields
package envelope

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	// Protocol is the protocol identifier stamped into every header.
	Protocol = "EMPI/1.0"
	// Version is the envelope schema version stamped into every header.
	Version = "1.0"
)

// Clock abstracts time for envelope construction. Tests substitute a
// fixed clock to get deterministic timestamps and message IDs.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Header identifies the protocol, the message and the producing unit.
type Header struct {
	Protocol  string `json:"protocol"`
	MessageID string `json:"message_id"`
	Timestamp string `json:"timestamp"`
	AgentID   string `json:"agent_id"`
	TaskType  string `json:"task_type"`
	Version   string `json:"version"`

	// Dialog extension fields. Zero values are omitted so core
	// envelopes stay byte-compatible with consumers that predate them.
	ParentHash      string `json:"parent_hash,omitempty"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	RequiresAck     bool   `json:"requires_ack,omitempty"`
	AsyncToken      string `json:"async_token,omitempty"`
}

// Metadata records provenance for a payload.
type Metadata struct {
	Source          string `json:"source"`
	ProcessingStart string `json:"processing_start"`
}

// Payload carries provenance metadata and the unit's result data.
type Payload struct {
	Metadata Metadata       `json:"metadata"`
	Data     map[string]any `json:"data"`
}

// Envelope is a complete EMPI/1.0 message.
type Envelope struct {
	Header  Header  `json:"header"`
	Payload Payload `json:"payload"`
}

// New builds an envelope skeleton for the given unit and task type.
// Both timestamps are taken from a single clock reading so header and
// metadata agree. Data starts empty and non-nil; callers fill it in.
func New(unitID, taskType string, clk Clock) *Envelope {
	if clk == nil {
		clk = SystemClock{}
	}
	now := clk.Now()
	epoch := strconv.FormatInt(now.Unix(), 10)
	return &Envelope{
		Header: Header{
			Protocol:  Protocol,
			MessageID: newMessageID(unitID, now),
			Timestamp: epoch,
			AgentID:   unitID,
			TaskType:  taskType,
			Version:   Version,
		},
		Payload: Payload{
			Metadata: Metadata{
				Source:          unitID,
				ProcessingStart: epoch,
			},
			Data: make(map[string]any),
		},
	}
}

// newMessageID derives a message ID from the unit and generation time.
// The uuid fragment keeps IDs unique within a second.
func newMessageID(unitID string, now time.Time) string {
	return fmt.Sprintf("msg_%d_%s_%s", now.Unix(), unitID, uuid.New().String()[:8])
}

// SetData replaces the payload data map.
func (e *Envelope) SetData(data map[string]any) {
	if data == nil {
		data = make(map[string]any)
	}
	e.Payload.Data = data
}

// Timestamp parses the header timestamp back into a time.Time.
func (e *Envelope) Timestamp() (time.Time, error) {
	secs, err := strconv.ParseInt(e.Header.Timestamp, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse envelope timestamp: %w", err)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// IsError reports whether the payload data carries the shared error
// shape (status == "error").
func (e *Envelope) IsError() bool {
	status, ok := e.Payload.Data["status"].(string)
	return ok && status == "error"
}

// ErrorType returns the payload's error_type, or "" when the envelope
// is not an error.
func (e *Envelope) ErrorType() string {
	if !e.IsError() {
		return ""
	}
	et, _ := e.Payload.Data["error_type"].(string)
	return et
}

// Clone creates a deep copy of the envelope. Payload data is copied
// recursively so mutating the clone never touches the original.
func (e *Envelope) Clone() *Envelope {
	clone := &Envelope{
		Header: e.Header,
		Payload: Payload{
			Metadata: e.Payload.Metadata,
			Data:     DeepCopyMap(e.Payload.Data),
		},
	}
	return clone
}

// =============================================================================
// Serialization
// =============================================================================

// ToMap converts the envelope to the nested map form used for interop
// and persistence.
func (e *Envelope) ToMap() map[string]any {
	header := map[string]any{
		"protocol":   e.Header.Protocol,
		"message_id": e.Header.MessageID,
		"timestamp":  e.Header.Timestamp,
		"agent_id":   e.Header.AgentID,
		"task_type":  e.Header.TaskType,
		"version":    e.Header.Version,
	}
	if e.Header.ParentHash != "" {
		header["parent_hash"] = e.Header.ParentHash
	}
	if e.Header.ProtocolVersion != "" {
		header["protocol_version"] = e.Header.ProtocolVersion
	}
	if e.Header.RequiresAck {
		header["requires_ack"] = e.Header.RequiresAck
	}
	if e.Header.AsyncToken != "" {
		header["async_token"] = e.Header.AsyncToken
	}
	return map[string]any{
		"header": header,
		"payload": map[string]any{
			"metadata": map[string]any{
				"source":           e.Payload.Metadata.Source,
				"processing_start": e.Payload.Metadata.ProcessingStart,
			},
			"data": DeepCopyMap(e.Payload.Data),
		},
	}
}

// FromMap reconstructs an envelope from its map form. Missing sections
// yield zero values rather than errors; only a nil input fails.
func FromMap(m map[string]any) (*Envelope, error) {
	if m == nil {
		return nil, fmt.Errorf("envelope map is nil")
	}
	e := &Envelope{Payload: Payload{Data: make(map[string]any)}}

	if header, ok := m["header"].(map[string]any); ok {
		if v, ok := header["protocol"].(string); ok {
			e.Header.Protocol = v
		}
		if v, ok := header["message_id"].(string); ok {
			e.Header.MessageID = v
		}
		if v, ok := header["timestamp"].(string); ok {
			e.Header.Timestamp = v
		} else if v, ok := header["timestamp"].(float64); ok {
			// Tolerate numeric timestamps from loose producers.
			e.Header.Timestamp = strconv.FormatInt(int64(v), 10)
		} else if v, ok := header["timestamp"].(int); ok {
			e.Header.Timestamp = strconv.Itoa(v)
		}
		if v, ok := header["agent_id"].(string); ok {
			e.Header.AgentID = v
		}
		if v, ok := header["task_type"].(string); ok {
			e.Header.TaskType = v
		}
		if v, ok := header["version"].(string); ok {
			e.Header.Version = v
		}
		if v, ok := header["parent_hash"].(string); ok {
			e.Header.ParentHash = v
		}
		if v, ok := header["protocol_version"].(string); ok {
			e.Header.ProtocolVersion = v
		}
		if v, ok := header["requires_ack"].(bool); ok {
			e.Header.RequiresAck = v
		}
		if v, ok := header["async_token"].(string); ok {
			e.Header.AsyncToken = v
		}
	}

	if payload, ok := m["payload"].(map[string]any); ok {
		if meta, ok := payload["metadata"].(map[string]any); ok {
			if v, ok := meta["source"].(string); ok {
				e.Payload.Metadata.Source = v
			}
			if v, ok := meta["processing_start"].(string); ok {
				e.Payload.Metadata.ProcessingStart = v
			} else if v, ok := meta["processing_start"].(float64); ok {
				e.Payload.Metadata.ProcessingStart = strconv.FormatInt(int64(v), 10)
			}
		}
		if data, ok := payload["data"].(map[string]any); ok {
			e.Payload.Data = DeepCopyMap(data)
		}
	}

	return e, nil
}

// ToJSON serializes the envelope.
func (e *Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an envelope, rejecting non-EMPI input.
func FromJSON(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Header.Protocol != Protocol {
		return nil, fmt.Errorf("unexpected protocol %q", e.Header.Protocol)
	}
	if e.Payload.Data == nil {
		e.Payload.Data = make(map[string]any)
	}
	return &e, nil
}

// =============================================================================
// Deep Copy Helpers
// =============================================================================

// DeepCopyMap copies a string-keyed map recursively. Nested maps and
// slices are cloned; primitives are copied by value.
func DeepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = deepCopyValue(v)
	}
	return result
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return DeepCopyMap(val)
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = deepCopyValue(item)
		}
		return result
	case []string:
		result := make([]string, len(val))
		copy(result, val)
		return result
	case []map[string]any:
		result := make([]map[string]any, len(val))
		for i, item := range val {
			result[i] = DeepCopyMap(item)
		}
		return result
	default:
		return v
	}
}
