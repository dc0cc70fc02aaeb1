package core

// Frame is an encoded signaling message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// Send encodes v and queues it without blocking.
	Send(v any) error
	TrySend(Frame) error
	Close()
}
