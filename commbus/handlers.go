package commbus

import (
	"context"
	"fmt"
	"time"
)

// Production handler bindings for the runtime's query and command
// messages. Binaries call these once at startup; the dependencies are
// narrow interfaces or closures so no package outside commbus is
// imported here.

// UnitStateSource is the surface a processing unit exposes to state
// queries. The dispatch engine satisfies it.
type UnitStateSource interface {
	UnitID() string
	State() map[string]any
	StateValue(key string) (any, bool)
}

// RegisterUnitStateHandler answers GetUnitState queries from src.
// Queries naming a different unit come back with Found false.
func RegisterUnitStateHandler(bus CommBus, src UnitStateSource) error {
	return bus.RegisterHandler("GetUnitState", func(ctx context.Context, message Message) (any, error) {
		q, ok := message.(*GetUnitState)
		if !ok {
			return nil, fmt.Errorf("unexpected message %T for GetUnitState", message)
		}
		if q.UnitID != "" && q.UnitID != src.UnitID() {
			return &UnitStateResponse{UnitID: q.UnitID, State: map[string]any{}, Found: false}, nil
		}
		if q.Key != nil {
			state := map[string]any{}
			value, found := src.StateValue(*q.Key)
			if found {
				state[*q.Key] = value
			}
			return &UnitStateResponse{UnitID: src.UnitID(), State: state, Found: found}, nil
		}
		return &UnitStateResponse{UnitID: src.UnitID(), State: src.State(), Found: true}, nil
	})
}

// RegisterConfigHandler answers GetCoreConfig queries. values is
// called per query so callers always see current configuration.
func RegisterConfigHandler(bus CommBus, values func() map[string]any) error {
	return bus.RegisterHandler("GetCoreConfig", func(ctx context.Context, message Message) (any, error) {
		q, ok := message.(*GetCoreConfig)
		if !ok {
			return nil, fmt.Errorf("unexpected message %T for GetCoreConfig", message)
		}
		all := values()
		if q.Key != nil {
			picked := map[string]any{}
			if v, found := all[*q.Key]; found {
				picked[*q.Key] = v
			}
			return &CoreConfigResponse{Values: picked}, nil
		}
		return &CoreConfigResponse{Values: all}, nil
	})
}

// HealthFunc probes one component and reports its status.
type HealthFunc func(ctx context.Context) (HealthStatus, map[string]any)

// RegisterHealthHandler answers HealthCheckRequest queries by probing
// the named component. Components the map does not know report
// HealthStatusUnknown rather than an error.
func RegisterHealthHandler(bus CommBus, components map[string]HealthFunc) error {
	return bus.RegisterHandler("HealthCheckRequest", func(ctx context.Context, message Message) (any, error) {
		q, ok := message.(*HealthCheckRequest)
		if !ok {
			return nil, fmt.Errorf("unexpected message %T for HealthCheckRequest", message)
		}
		probe, known := components[q.Component]
		if !known {
			return &HealthCheckResponse{Component: q.Component, Status: string(HealthStatusUnknown)}, nil
		}
		start := time.Now()
		status, details := probe(ctx)
		latency := int(time.Since(start).Milliseconds())
		return &HealthCheckResponse{
			Component: q.Component,
			Status:    string(status),
			Details:   details,
			LatencyMS: &latency,
		}, nil
	})
}

// RegisterDialogClearHandler executes ClearDialogSession commands with
// the given clear function. A nil session id means every session.
func RegisterDialogClearHandler(bus CommBus, clear func(ctx context.Context, sessionID *string) error) error {
	return bus.RegisterHandler("ClearDialogSession", func(ctx context.Context, message Message) (any, error) {
		cmd, ok := message.(*ClearDialogSession)
		if !ok {
			return nil, fmt.Errorf("unexpected message %T for ClearDialogSession", message)
		}
		return nil, clear(ctx, cmd.SessionID)
	})
}
