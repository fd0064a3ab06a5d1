package core

// Frame is a raw encoded message.
type Frame []byte

// ConnID identifies one live events connection.
type ConnID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	ID() ConnID
	// TrySend never blocks; a full buffer is reported as backpressure.
	TrySend(Frame) error
	IsOpen() bool
	Close()
}
