package plugin

import (
	"go.uber.org/zap"
)

// EventHandler handles plugin manager events.
// Handlers run synchronously on the manager's goroutine and must not call
// back into the Manager. Panics in handlers are recovered.
type EventHandler func(event ManagerEvent)

// ManagerEvent represents a plugin manager event.
type ManagerEvent struct {
	Type   ManagerEventType
	Plugin string
	Error  error

	// Command and InvocationID are set for EventCommandExecuted.
	Command      string
	InvocationID string
}

// ManagerEventType is the type of manager event.
type ManagerEventType int

const (
	// EventPluginDiscovered is emitted when discovery registers a plugin.
	EventPluginDiscovered ManagerEventType = iota
	// EventPluginLoaded is emitted when a plugin becomes live.
	EventPluginLoaded
	// EventPluginUnloaded is emitted when a live plugin is unloaded.
	EventPluginUnloaded
	// EventPluginFailed is emitted when a load fails.
	EventPluginFailed
	// EventPluginEnabled is emitted when a plugin is enabled.
	EventPluginEnabled
	// EventPluginDisabled is emitted when a plugin is disabled.
	EventPluginDisabled
	// EventPluginInstalled is emitted when a unit is installed.
	EventPluginInstalled
	// EventPluginUninstalled is emitted when a unit is uninstalled.
	EventPluginUninstalled
	// EventCommandExecuted is emitted after every command invocation.
	EventCommandExecuted
)

// String returns a string representation of the event type.
func (t ManagerEventType) String() string {
	switch t {
	case EventPluginDiscovered:
		return "discovered"
	case EventPluginLoaded:
		return "loaded"
	case EventPluginUnloaded:
		return "unloaded"
	case EventPluginFailed:
		return "failed"
	case EventPluginEnabled:
		return "enabled"
	case EventPluginDisabled:
		return "disabled"
	case EventPluginInstalled:
		return "installed"
	case EventPluginUninstalled:
		return "uninstalled"
	case EventCommandExecuted:
		return "command_executed"
	default:
		return "unknown"
	}
}

// Subscribe registers an event handler.
// Returns a function to unsubscribe.
func (m *Manager) Subscribe(handler EventHandler) func() {
	id := m.nextHandlerID
	m.nextHandlerID++
	m.handlers = append(m.handlers, subscription{id: id, fn: handler})

	return func() {
		for i, s := range m.handlers {
			if s.id == id {
				m.handlers = append(m.handlers[:i], m.handlers[i+1:]...)
				return
			}
		}
	}
}

type subscription struct {
	id int
	fn EventHandler
}

// emitEvent sends an event to all handlers.
func (m *Manager) emitEvent(event ManagerEvent) {
	handlers := append([]subscription(nil), m.handlers...)
	for _, s := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("plugin event handler panicked",
						zap.Stringer("event", event.Type),
						zap.Any("panic", r))
				}
			}()
			s.fn(event)
		}()
	}
}
