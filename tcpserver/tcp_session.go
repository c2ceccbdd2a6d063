package tcpserver

// Session is implemented by each connection handler. The server creates one
// session per accepted connection and runs Handle in its own goroutine.
type Session interface {
	// ID returns the identifier assigned by the server.
	ID() string

	// Handle runs the session until the connection ends. The server forgets
	// the session and releases its connection slot when Handle returns.
	Handle()

	// Close ends the session from the outside. It must wake a blocked Handle
	// and be safe to call multiple times and concurrently with Handle.
	Close() error
}
