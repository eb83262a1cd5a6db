package transport

// Transport sends playback state snapshots to UI observers.
// Implementations must be thread-safe and must not block the caller.
type Transport interface {
	Send(data any) error
	Close() error
}
