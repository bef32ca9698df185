// Package bus implements the bounded event-routing fabric (§4.1) tying
// WebSocket ingress, keyboard input, the agent subprocess, and the render
// loop together. It is a multi-producer/single-consumer bounded channel of
// typed messages, plus a smaller command channel back to the Connection
// Manager. Producers never block: try-send only, drop and warn on Full.
package bus

import (
	"log/slog"
	"sync/atomic"

	"deskbot/internal/metrics"
	"deskbot/pkg/types"
)

// Capacities match §3 "Event Bus": 512 for the message stream, 32 for the
// connection-command stream.
const (
	MessageCapacity = 512
	CommandCapacity = 32
)

// Bus is the shared handle producers and the single consumer hold.
type Bus struct {
	messages chan types.Message
	commands chan types.ConnectionCommand

	logger  *slog.Logger
	metrics *metrics.Registry

	droppedMessages atomic.Int64
	droppedCommands atomic.Int64
}

// New creates a Bus with the declared fixed capacities.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		messages: make(chan types.Message, MessageCapacity),
		commands: make(chan types.ConnectionCommand, CommandCapacity),
		logger:   logger,
	}
}

// SetMetrics attaches the shared metrics registry after construction, so a
// test-built Bus can stay metrics-free.
func (b *Bus) SetMetrics(m *metrics.Registry) {
	b.metrics = m
}

// TrySendMessage attempts a non-blocking send. On Full it logs at warn
// level tagged with the message's variant and increments the drop counter.
// It never blocks the caller. The Bus never closes its channels, so a send
// cannot hit a closed channel.
func (b *Bus) TrySendMessage(msg types.Message) {
	select {
	case b.messages <- msg:
	default:
		b.droppedMessages.Add(1)
		if b.metrics != nil {
			b.metrics.BusDropped.WithLabelValues("message", msg.Kind.String()).Inc()
		}
		b.logger.Warn("bus message stream full, dropping", "kind", msg.Kind)
	}
}

// TrySendCommand attempts a non-blocking send on the connection-command
// stream, with the same drop-and-warn policy as TrySendMessage.
func (b *Bus) TrySendCommand(cmd types.ConnectionCommand) {
	select {
	case b.commands <- cmd:
	default:
		b.droppedCommands.Add(1)
		if b.metrics != nil {
			b.metrics.BusDropped.WithLabelValues("command", cmd.Kind.String()).Inc()
		}
		b.logger.Warn("bus command stream full, dropping", "kind", cmd.Kind)
	}
}

// Messages returns the receive-only message stream. Owned exclusively by
// the main event-loop consumer (§5 "Event bus receiver").
func (b *Bus) Messages() <-chan types.Message { return b.messages }

// Commands returns the receive-only connection-command stream, consumed by
// the Connection Manager.
func (b *Bus) Commands() <-chan types.ConnectionCommand { return b.commands }

// DroppedMessages returns the cumulative count of dropped messages, for
// diagnostics and metrics (§8 "overflow increments a drop counter").
func (b *Bus) DroppedMessages() int64 { return b.droppedMessages.Load() }

// DroppedCommands returns the cumulative count of dropped commands.
func (b *Bus) DroppedCommands() int64 { return b.droppedCommands.Load() }
