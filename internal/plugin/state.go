package plugin

// State represents the lifecycle state of a plugin.
type State int

// Plugin states.
const (
	// StateUnloaded - Plugin is registered but has no live instance.
	StateUnloaded State = iota

	// StateLoading - Plugin code is being run and initialized.
	StateLoading

	// StateLive - Plugin is initialized and accepts calls.
	StateLive

	// StateFailed - Loading failed. Retried only once the descriptor changes.
	StateFailed
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsUsable returns true if the plugin can serve calls.
func (s State) IsUsable() bool {
	return s == StateLive
}
