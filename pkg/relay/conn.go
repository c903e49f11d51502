package relay

// Conn is the transport handle the relay writes to. Send must not block: it
// queues data for the connection's writer and reports false when the frame
// was dropped (queue full or connection closing).
type Conn interface {
	ID() string
	Send(data []byte) bool
	Close() error
}

// Identity is what the transport knows about a socket when it connects. A
// zero UserID means the socket is unauthenticated and, in trust mode, takes
// the identity asserted by its first envelope.
type Identity struct {
	UserID    UserID
	Username  string
	AvatarURL string
	// CanHost gates join-as-host for session-bound sockets.
	CanHost bool
}
