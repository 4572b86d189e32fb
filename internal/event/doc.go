/*
Package event provides a type-safe, pub/sub event system for the Reply
Orchestrator and its supporting subsystems.

The event system decouples the turn loop, Tool Dispatcher, Compaction
Engine, and any UI consumer: publishers emit events and subscribers react
to them without a direct dependency on each other.

# Architecture

The package is built on top of watermill's gochannel for infrastructure
while maintaining direct-call semantics to preserve Go type information.
It provides both synchronous and asynchronous event publishing patterns.

# Event Types

  - Status: coarse-grained turn-loop phase change (thinking, tool_running,
    compacting, retrying, idle)
  - Turn: start/end of one provider round-trip
  - Text: streamed assistant text delta or final text
  - Thinking: streamed reasoning content, when the model exposes it
  - ToolCall / ToolResult: Tool Dispatcher invocation lifecycle
  - WorkspaceChanged: a tool produced a file diff
  - Compaction: the Compaction Engine ran (auto, recovery, or manual)
  - SessionId: the orchestrator announcing the active session ID
  - Done: the turn loop finished, naturally or via error/abort
  - ModelChange: the session's active model/provider changed mid-conversation
  - HistoryReplaced: the visible message history was swapped out from under
    a running UI (after compaction or a revert)

A second, smaller tier of event types exists outside the reply loop proper:
the client-tool bridge (ClientToolRegistered/Unregistered/Request/Executing/
Completed/Failed), the out-of-band permission cycle (PermissionRequired/
Resolved), and the VCS branch watcher (VcsBranchUpdated).

# Basic Usage

Publishing events:

	// Asynchronous publishing (non-blocking)
	event.Publish(event.Event{
		Type: event.Status,
		Data: event.StatusData{SessionID: sid, Phase: "thinking"},
	})

	// Synchronous publishing (blocking until all subscribers complete)
	event.PublishSync(event.Event{
		Type: event.Text,
		Data: event.TextData{SessionID: sid, Delta: "hello"},
	})

Subscribing to specific events:

	unsubscribe := event.Subscribe(event.ToolCall, func(e event.Event) {
		data := e.Data.(event.ToolCallData)
		log.Info().Str("tool", data.ToolName).Msg("tool call started")
	})
	defer unsubscribe()

Subscribing to all events:

	unsubscribe := event.SubscribeAll(func(e event.Event) {
		log.Debug().Str("type", string(e.Type)).Msg("event received")
	})
	defer unsubscribe()

# Subscriber Safety Guidelines

When using PublishSync, subscribers are called synchronously in the
publisher's goroutine. To avoid blocking or deadlocks, subscribers MUST:

  - Complete quickly (avoid long-running operations)
  - Use non-blocking channel sends (select with default case)
  - Never call Publish/PublishSync from within a subscriber (no re-entrant publishing)
  - Never acquire locks that the publisher might hold

# Custom Event Bus

For testing or isolation, create custom bus instances:

	bus := event.NewBus()
	defer bus.Close()

	unsubscribe := bus.Subscribe(event.Status, handler)
	bus.PublishSync(event.Event{Type: event.Status, Data: data})

# Testing

	// Reset global bus state (use in test cleanup)
	event.Reset()

# Thread Safety

The event bus is thread-safe and can be used concurrently from multiple
goroutines. Both publishing and subscribing operations are protected by
internal synchronization.

# Integration with Watermill

The package uses watermill's gochannel internally, providing access to the
underlying pubsub infrastructure for advanced use cases:

	pubsub := event.PubSub()
	// Use watermill features like middleware, routing, etc.

This allows future migration to a distributed broker without changing the
public API.
*/
package event
