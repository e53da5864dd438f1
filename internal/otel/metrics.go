package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce     sync.Once
	busMessagesCounter  metric.Int64Counter
	requestTimeouts     metric.Int64Counter
	agentTurnsCounter   metric.Int64Counter
	agentTurnDuration   metric.Float64Histogram
	toolCallsCounter    metric.Int64Counter
	continuationCounter metric.Int64Counter
	staleStopsCounter   metric.Int64Counter
	mergesCounter       metric.Int64Counter
	sseEventsCounter    metric.Int64Counter
	sseConnectionsGauge metric.Int64ObservableGauge
	sseConnections      int64
	sseConnectionsMu    sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times; only runs once.
// Call after InitMeterProvider. Record helpers are no-ops until this has run.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		if busMessagesCounter, err = m.Int64Counter("orchestra_bus_messages_total", metric.WithDescription("Messages sent on the bus")); err != nil {
			return
		}
		if requestTimeouts, err = m.Int64Counter("orchestra_bus_request_timeouts_total", metric.WithDescription("Bus requests that got no response")); err != nil {
			return
		}
		if agentTurnsCounter, err = m.Int64Counter("orchestra_agent_turns_total", metric.WithDescription("Agent think turns")); err != nil {
			return
		}
		if agentTurnDuration, err = m.Float64Histogram("orchestra_agent_turn_duration_seconds", metric.WithDescription("Agent think duration in seconds")); err != nil {
			return
		}
		if toolCallsCounter, err = m.Int64Counter("orchestra_tool_calls_total", metric.WithDescription("Tool invocations by tool and result")); err != nil {
			return
		}
		if continuationCounter, err = m.Int64Counter("orchestra_continuation_cycles_total", metric.WithDescription("Team Lead continuation cycles by phase")); err != nil {
			return
		}
		if staleStopsCounter, err = m.Int64Counter("orchestra_continuation_stale_stops_total", metric.WithDescription("Continuation loops stopped on unchanged state")); err != nil {
			return
		}
		if mergesCounter, err = m.Int64Counter("orchestra_merges_total", metric.WithDescription("Worker branch merges by outcome")); err != nil {
			return
		}
		if sseEventsCounter, err = m.Int64Counter("orchestra_sse_events_total", metric.WithDescription("Total SSE events published")); err != nil {
			return
		}
		if sseConnectionsGauge, err = m.Int64ObservableGauge("orchestra_sse_connections", metric.WithDescription("Current SSE subscriber count")); err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			sseConnectionsMu.Lock()
			n := sseConnections
			sseConnectionsMu.Unlock()
			o.ObserveInt64(sseConnectionsGauge, n)
			return nil
		}, sseConnectionsGauge)
	})
	return err
}

// RecordBusMessage counts one bus message.
func RecordBusMessage(ctx context.Context, msgType string, broadcast bool) {
	if busMessagesCounter == nil {
		return
	}
	busMessagesCounter.Add(ctx, 1, metric.WithAttributes(AttrType.String(msgType), attribute.Bool("broadcast", broadcast)))
}

// RecordRequestTimeout counts a request that resolved to no response.
func RecordRequestTimeout(ctx context.Context, target string) {
	if requestTimeouts == nil {
		return
	}
	requestTimeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("target", target)))
}

// RecordAgentTurn records one think turn and its duration.
func RecordAgentTurn(ctx context.Context, role, project string, duration time.Duration) {
	attrs := metric.WithAttributes(AttrRole.String(role), AttrProject.String(project))
	if agentTurnsCounter != nil {
		agentTurnsCounter.Add(ctx, 1, attrs)
	}
	if agentTurnDuration != nil {
		agentTurnDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordToolCall counts one tool invocation.
func RecordToolCall(ctx context.Context, tool string, ok bool) {
	if toolCallsCounter == nil {
		return
	}
	toolCallsCounter.Add(ctx, 1, metric.WithAttributes(AttrTool.String(tool), attribute.Bool("ok", ok)))
}

// RecordContinuationCycle counts one continuation prompt issued for phase.
func RecordContinuationCycle(ctx context.Context, project, phase string) {
	if continuationCounter == nil {
		return
	}
	continuationCounter.Add(ctx, 1, metric.WithAttributes(AttrProject.String(project), AttrPhase.String(phase)))
}

// RecordStaleStop counts a continuation loop ended by the stale-state check.
func RecordStaleStop(ctx context.Context, project string) {
	if staleStopsCounter == nil {
		return
	}
	staleStopsCounter.Add(ctx, 1, metric.WithAttributes(AttrProject.String(project)))
}

// RecordMerge counts a merge attempt by outcome (merged, empty, conflict, tests_failed).
func RecordMerge(ctx context.Context, project, outcome string) {
	if mergesCounter == nil {
		return
	}
	mergesCounter.Add(ctx, 1, metric.WithAttributes(AttrProject.String(project), AttrOutcome.String(outcome)))
}

// RecordSSEEvent records one SSE event published.
func RecordSSEEvent(ctx context.Context) {
	if sseEventsCounter != nil {
		sseEventsCounter.Add(ctx, 1)
	}
}

// AddSSEConnection adds 1 to the SSE connection gauge (call on subscribe).
func AddSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections++
	sseConnectionsMu.Unlock()
}

// RemoveSSEConnection subtracts 1 from the SSE connection gauge (call on unsubscribe).
func RemoveSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections--
	if sseConnections < 0 {
		sseConnections = 0
	}
	sseConnectionsMu.Unlock()
}

// SSEConnections returns the current gauge value.
func SSEConnections() int64 {
	sseConnectionsMu.Lock()
	defer sseConnectionsMu.Unlock()
	return sseConnections
}

// BoardCountFunc returns task counts per column across all projects.
type BoardCountFunc func(ctx context.Context) (backlog, inProgress, done int64)

// AgentCountFunc returns live agent counts keyed by role.
type AgentCountFunc func() map[string]int64

// RegisterStateGauges registers observable gauges for board columns and live agents.
// Either callback may be nil.
func RegisterStateGauges(ctx context.Context, boards BoardCountFunc, agents AgentCountFunc) error {
	if err := InitMetrics(ctx); err != nil {
		return err
	}
	m := Meter()
	if boards != nil {
		g, err := m.Int64ObservableGauge("orchestra_tasks", metric.WithDescription("Tasks by board column"))
		if err != nil {
			return err
		}
		if _, err := m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			backlog, inProgress, done := boards(ctx)
			o.ObserveInt64(g, backlog, metric.WithAttributes(AttrColumn.String("backlog")))
			o.ObserveInt64(g, inProgress, metric.WithAttributes(AttrColumn.String("in_progress")))
			o.ObserveInt64(g, done, metric.WithAttributes(AttrColumn.String("done")))
			return nil
		}, g); err != nil {
			return err
		}
	}
	if agents != nil {
		g, err := m.Int64ObservableGauge("orchestra_live_agents", metric.WithDescription("Live agents by role"))
		if err != nil {
			return err
		}
		if _, err := m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			for role, n := range agents() {
				o.ObserveInt64(g, n, metric.WithAttributes(AttrRole.String(role)))
			}
			return nil
		}, g); err != nil {
			return err
		}
	}
	return nil
}
