package core

// Frame is a raw signaling payload (one protocol line).
type Frame []byte

// SignalTransport abstracts the persistent bidirectional connection to
// the signaling server. Control frames (ping/close) are the adapter's
// business and never surface here.
type SignalTransport interface {
	// Incoming delivers text frames. Closed on connection shutdown;
	// Err distinguishes clean close from failure afterwards.
	Incoming() <-chan Frame
	// Send enqueues a frame for transmission. Fails on a closed
	// connection or an exhausted write buffer; it never blocks.
	Send(f Frame) error
	// Err reports why Incoming closed. Nil means a clean close.
	Err() error
	Close()
}
