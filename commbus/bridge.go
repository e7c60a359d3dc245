package commbus

import (
	"context"
)

// DispatchEventBridge publishes dispatch lifecycle events to a CommBus.
//
// It satisfies the event sink the dispatch engine expects, so wiring is
// a one-liner:
//
//	bridge := commbus.NewDispatchEventBridge(bus)
//	engine, _ := agent.NewEngine("text_analyzer", "metrics",
//	    agent.WithEventContext(bridge))
type DispatchEventBridge struct {
	bus CommBus
}

// NewDispatchEventBridge creates a bridge that publishes to the given bus.
func NewDispatchEventBridge(bus CommBus) *DispatchEventBridge {
	return &DispatchEventBridge{bus: bus}
}

// EmitDispatchStarted publishes a DispatchStarted event.
func (b *DispatchEventBridge) EmitDispatchStarted(unitID, taskType, messageID string) error {
	return b.bus.Publish(context.Background(), &DispatchStarted{
		UnitID:    unitID,
		TaskType:  taskType,
		MessageID: messageID,
	})
}

// EmitDispatchCompleted publishes a DispatchCompleted event.
func (b *DispatchEventBridge) EmitDispatchCompleted(unitID, taskType, messageID, status string, durationMS int) error {
	return b.bus.Publish(context.Background(), &DispatchCompleted{
		UnitID:     unitID,
		TaskType:   taskType,
		MessageID:  messageID,
		Status:     status,
		DurationMS: durationMS,
	})
}

// EmitDelegateCompleted publishes a DelegateCompleted event. An empty
// errMsg means the call succeeded and the Error field is omitted.
func (b *DispatchEventBridge) EmitDelegateCompleted(unitID, delegateName, status string, durationMS int, errMsg string) error {
	event := &DelegateCompleted{
		UnitID:       unitID,
		DelegateName: delegateName,
		Status:       status,
		DurationMS:   durationMS,
	}
	if errMsg != "" {
		event.Error = &errMsg
	}
	return b.bus.Publish(context.Background(), event)
}
