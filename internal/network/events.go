package network

// EventKind tells the dispatcher what happened on a connection.
type EventKind int

const (
	// EventAccepted is sent once per connection, after the TLS handshake.
	EventAccepted EventKind = iota
	// EventData carries plaintext read from the connection.
	EventData
	// EventClosed is the last event of a connection. Err is nil for an
	// orderly close by the peer.
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventAccepted:
		return "accepted"
	case EventData:
		return "data"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one notification from the event source. Events of a single
// connection arrive in order: Accepted, any number of Data, Closed.
type Event struct {
	Kind EventKind
	Conn Conn
	Data []byte
	Err  error
}
