package dialog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/empi-systems/agentcore/commbus"
	"github.com/empi-systems/agentcore/coreengine/envelope"
	"github.com/empi-systems/agentcore/coreengine/observability"
)

const (
	// AgentID is the recorder's unit identity in envelope headers.
	AgentID = "dialog_recorder"

	// DialogProtocolVersion marks envelopes carrying the dialog
	// extension fields.
	DialogProtocolVersion = "1.0-dialog"

	// Task types used for recorded envelopes.
	TaskTypeUserInput         = "user_input"
	TaskTypeAssistantResponse = "assistant_response"
	TaskTypeDialogHistory     = "dialog_history"

	// Roles stamped into payload data.
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Recorder writes a conversation into a Store as protocol envelopes.
// Each recorded envelope carries the SHA-256 of the previous one in its
// parent_hash header field, so the chain detects reordering and loss.
//
// A Recorder resumes: constructed over a store that already holds the
// session, it continues the sequence and the hash chain.
type Recorder struct {
	sessionID    string
	store        Store
	clock        envelope.Clock
	bus          commbus.CommBus
	historyLimit int

	mu       sync.Mutex
	seq      int
	lastHash string
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock fixes the clock, mainly for tests.
func WithClock(clk envelope.Clock) Option {
	return func(r *Recorder) { r.clock = clk }
}

// WithBus publishes a DialogMessageRecorded event for every recorded
// turn.
func WithBus(bus commbus.CommBus) Option {
	return func(r *Recorder) { r.bus = bus }
}

// WithHistoryLimit caps how many turns ChatHistory replays to a
// provider. Zero means no cap.
func WithHistoryLimit(n int) Option {
	return func(r *Recorder) { r.historyLimit = n }
}

// NewRecorder creates a recorder over a store. An empty sessionID gets
// a generated "session_<ms>" id; a nil store means in-memory only.
func NewRecorder(sessionID string, store Store, opts ...Option) (*Recorder, error) {
	r := &Recorder{
		sessionID: sessionID,
		store:     store,
		clock:     envelope.SystemClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.store == nil {
		r.store = NewMemoryStore()
	}
	if r.sessionID == "" {
		r.sessionID = fmt.Sprintf("session_%d", r.clock.Now().UnixMilli())
	}

	// Resume an existing session's sequence and hash chain.
	last, err := r.store.Last(context.Background(), r.sessionID)
	if err != nil {
		return nil, fmt.Errorf("dialog: load session %s: %w", r.sessionID, err)
	}
	if last != nil {
		r.seq = last.Seq
		r.lastHash = last.Hash
	}
	return r, nil
}

// SessionID returns the session this recorder writes to.
func (r *Recorder) SessionID() string { return r.sessionID }

// MessageCount returns the number of turns recorded in this session.
func (r *Recorder) MessageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// RecordUserMessage appends a user turn and returns its envelope.
func (r *Recorder) RecordUserMessage(ctx context.Context, text string) (*envelope.Envelope, error) {
	return r.record(ctx, TaskTypeUserInput, RoleUser, text)
}

// RecordAssistantMessage appends an assistant turn and returns its
// envelope.
func (r *Recorder) RecordAssistantMessage(ctx context.Context, text string) (*envelope.Envelope, error) {
	return r.record(ctx, TaskTypeAssistantResponse, RoleAssistant, text)
}

func (r *Recorder) record(ctx context.Context, taskType, role, text string) (*envelope.Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	env := envelope.New(AgentID, taskType, r.clock)
	env.Header.ParentHash = r.lastHash
	env.Header.ProtocolVersion = DialogProtocolVersion
	env.Header.AsyncToken = "async_" + r.sessionID
	env.Payload.Data = map[string]any{
		"text":         text,
		"role":         role,
		"timestamp_ms": now.UnixMilli(),
	}

	hash, err := hashEnvelope(env)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		SessionID:  r.sessionID,
		Seq:        r.seq + 1,
		MessageID:  env.Header.MessageID,
		Role:       role,
		Hash:       hash,
		ParentHash: r.lastHash,
		Envelope:   env,
		CreatedAt:  now,
	}

	start := time.Now()
	if err := r.store.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("dialog: append record: %w", err)
	}
	observability.RecordDialogStoreWrite(r.store.Name(), time.Since(start))
	observability.RecordDialogMessage(role)

	r.seq = rec.Seq
	r.lastHash = hash

	if r.bus != nil {
		_ = r.bus.Publish(ctx, &commbus.DialogMessageRecorded{
			SessionID:  r.sessionID,
			MessageID:  rec.MessageID,
			Role:       role,
			ParentHash: rec.ParentHash,
			Length:     len(text),
		})
	}
	return env, nil
}

// FullHistory returns the whole session as one dialog_history envelope:
// session id, message count, and every recorded envelope as a map.
func (r *Recorder) FullHistory(ctx context.Context) (*envelope.Envelope, error) {
	records, err := r.store.History(ctx, r.sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("dialog: load history: %w", err)
	}

	messages := make([]any, 0, len(records))
	for _, rec := range records {
		messages = append(messages, rec.Envelope.ToMap())
	}

	r.mu.Lock()
	lastHash := r.lastHash
	r.mu.Unlock()

	env := envelope.New(AgentID, TaskTypeDialogHistory, r.clock)
	env.Header.ParentHash = lastHash
	env.Header.ProtocolVersion = DialogProtocolVersion
	env.Header.AsyncToken = "async_" + r.sessionID
	env.Payload.Data = map[string]any{
		"session_id":    r.sessionID,
		"message_count": len(records),
		"messages":      messages,
	}
	return env, nil
}

// SimpleHistory returns the session as a flat role/content/timestamp
// list, the shape downstream tooling consumes.
func (r *Recorder) SimpleHistory(ctx context.Context) ([]map[string]any, error) {
	records, err := r.store.History(ctx, r.sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("dialog: load history: %w", err)
	}

	simple := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		data := rec.Envelope.Payload.Data
		simple = append(simple, map[string]any{
			"role":      data["role"],
			"content":   data["text"],
			"timestamp": data["timestamp_ms"],
		})
	}
	return simple, nil
}

// ChatHistory returns the replay view for ChatProvider calls, capped by
// the history limit.
func (r *Recorder) ChatHistory(ctx context.Context) ([]map[string]string, error) {
	records, err := r.store.History(ctx, r.sessionID, r.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("dialog: load history: %w", err)
	}

	history := make([]map[string]string, 0, len(records))
	for _, rec := range records {
		text, _ := rec.Envelope.Payload.Data["text"].(string)
		history = append(history, map[string]string{
			"role":    rec.Role,
			"content": text,
		})
	}
	return history, nil
}

// Exchange runs one conversational turn: records the user message,
// asks the provider for a reply given the prior history, records the
// reply, and returns it.
func (r *Recorder) Exchange(ctx context.Context, provider ChatProvider, userMessage string) (string, error) {
	history, err := r.ChatHistory(ctx)
	if err != nil {
		return "", err
	}
	if _, err := r.RecordUserMessage(ctx, userMessage); err != nil {
		return "", err
	}

	reply, err := provider.Chat(ctx, history, userMessage)
	if err != nil {
		return "", err
	}
	if _, err := r.RecordAssistantMessage(ctx, reply); err != nil {
		return "", err
	}
	return reply, nil
}

// Clear drops the session from the store and resets the chain.
func (r *Recorder) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Clear(ctx, r.sessionID); err != nil {
		return err
	}
	r.seq = 0
	r.lastHash = ""
	return nil
}

// hashEnvelope returns the hex SHA-256 of the envelope's JSON form.
func hashEnvelope(env *envelope.Envelope) (string, error) {
	raw, err := env.ToJSON()
	if err != nil {
		return "", fmt.Errorf("dialog: hash envelope: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
