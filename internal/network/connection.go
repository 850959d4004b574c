// Package network accepts player connections, wraps them in TLS and turns
// their byte streams into events for the dispatcher.
package network

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrConnectionClosed = errors.New("connection closed")
)

const (
	// DefaultSendBuffer is the number of frames a connection may have in flight.
	DefaultSendBuffer = 256

	writeTimeout = 10 * time.Second
)

// Conn is the dispatcher's view of a connection: plaintext in, plaintext out.
type Conn interface {
	Send(p []byte) error
	Close() error
	RemoteAddr() string
	// Pending returns the number of queued writes not yet on the wire.
	Pending() int
}

// Connection wraps a player connection. Reads happen on the listener's
// goroutine; writes are queued and performed by a dedicated writer so Send
// never blocks the caller.
type Connection struct {
	conn   net.Conn
	logger zerolog.Logger

	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

// NewConnection wraps conn and starts its writer. sendBuffer bounds the
// number of queued writes.
func NewConnection(conn net.Conn, sendBuffer int) *Connection {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	c := &Connection{
		conn:   conn,
		sendCh: make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: log.With().
			Str("component", "connection").
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
	go c.writeLoop()
	return c
}

// Send queues p for writing. It fails immediately when the connection is
// closed or its send buffer is full.
func (c *Connection) Send(p []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.sendCh <- p:
		return nil
	default:
		return fmt.Errorf("%w (%d queued)", ErrSendBufferFull, len(c.sendCh))
	}
}

func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case p := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := c.conn.Write(p); err != nil {
				c.logger.Warn().Err(err).Msg("write failed, closing connection")
				c.Close()
				return
			}
		}
	}
}

// Read reads plaintext from the connection. A positive idle timeout sets a
// read deadline.
func (c *Connection) Read(p []byte, idle time.Duration) (int, error) {
	if idle > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(idle))
	}
	return c.conn.Read(p)
}

// Close stops the writer and closes the socket. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
		c.logger.Debug().Msg("connection closed")
	})
	return err
}

// IsClosed reports whether Close has been called.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Pending returns the number of queued writes.
func (c *Connection) Pending() int {
	return len(c.sendCh)
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Registry tracks open connections so they can be closed on shutdown.
type Registry struct {
	mu    sync.RWMutex
	conns map[*Connection]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[*Connection]struct{})}
}

// Register adds a connection.
func (r *Registry) Register(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c] = struct{}{}
}

// Unregister removes a connection without closing it.
func (r *Registry) Unregister(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c)
}

// Count returns the number of open connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes and forgets every connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for c := range r.conns {
		c.Close()
		delete(r.conns, c)
	}
	log.Info().Msg("all player connections closed")
}
