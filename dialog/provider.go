package dialog

import (
	"context"
	"strings"
)

// ChatProvider produces assistant replies. History entries are
// {"role": ..., "content": ...} maps in conversation order, not
// including the current user message.
type ChatProvider interface {
	// Name identifies the provider in logs.
	Name() string

	// Chat returns the assistant reply to userMessage given the prior
	// conversation.
	Chat(ctx context.Context, history []map[string]string, userMessage string) (string, error)
}

// EchoProvider answers every message by repeating it. It lets the
// recorder run end to end without a model behind it.
type EchoProvider struct{}

var _ ChatProvider = EchoProvider{}

// Name implements ChatProvider.
func (EchoProvider) Name() string { return "echo" }

// Chat implements ChatProvider.
func (EchoProvider) Chat(ctx context.Context, history []map[string]string, userMessage string) (string, error) {
	return "echo: " + strings.TrimSpace(userMessage), nil
}
