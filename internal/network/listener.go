package network

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReadBuffer       = 4096
)

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	Addr string
	// TLS wraps every accepted connection when set. The TLS layer is the
	// only place ciphertext is seen; everything above it is plaintext.
	TLS              *tls.Config
	HandshakeTimeout time.Duration
	// IdleTimeout closes connections that send nothing for this long. Zero disables it.
	IdleTimeout time.Duration
	SendBuffer  int
	ReadBuffer  int
}

// Listener accepts player connections and publishes their lifecycle as
// Events on a single channel. Each connection is read on its own goroutine.
type Listener struct {
	cfg      ListenerConfig
	events   chan<- Event
	conns    *Registry
	listener net.Listener
	logger   zerolog.Logger
}

// NewListener creates a listener that publishes to events.
func NewListener(cfg ListenerConfig, events chan<- Event) *Listener {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = DefaultReadBuffer
	}
	return &Listener{
		cfg:    cfg,
		events: events,
		conns:  NewRegistry(),
		logger: log.With().Str("component", "listener").Logger(),
	}
}

// Listen binds the listening socket.
func (l *Listener) Listen(ctx context.Context) error {
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", l.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.cfg.Addr, err)
	}
	l.listener = ln

	l.logger.Info().
		Str("addr", ln.Addr().String()).
		Bool("tls", l.cfg.TLS != nil).
		Msg("listening for players")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *Listener) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Serve accepts connections until ctx is cancelled. Listen must have been called.
func (l *Listener) Serve(ctx context.Context) error {
	if l.listener == nil {
		return errors.New("listener not bound")
	}

	go func() {
		<-ctx.Done()
		l.listener.Close()
		l.conns.CloseAll()
	}()

	for {
		raw, err := l.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.logger.Info().Msg("listener stopping")
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.logger.Error().Err(err).Msg("failed to accept connection")
			continue
		}

		go l.handleConnection(ctx, raw)
	}
}

func (l *Listener) handleConnection(ctx context.Context, raw net.Conn) {
	logger := l.logger.With().Str("remote", raw.RemoteAddr().String()).Logger()

	if l.cfg.TLS != nil {
		tlsConn := tls.Server(raw, l.cfg.TLS)
		hsCtx, cancel := context.WithTimeout(ctx, l.cfg.HandshakeTimeout)
		err := tlsConn.HandshakeContext(hsCtx)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("TLS handshake failed")
			raw.Close()
			return
		}
		raw = tlsConn
	}

	conn := NewConnection(raw, l.cfg.SendBuffer)
	l.conns.Register(conn)
	defer func() {
		l.conns.Unregister(conn)
		conn.Close()
	}()

	logger.Debug().Int("connections", l.conns.Count()).Msg("player connected")
	if !l.publish(ctx, Event{Kind: EventAccepted, Conn: conn}) {
		return
	}

	buf := make([]byte, l.cfg.ReadBuffer)
	for {
		n, err := conn.Read(buf, l.cfg.IdleTimeout)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !l.publish(ctx, Event{Kind: EventData, Conn: conn, Data: data}) {
				return
			}
		}
		if err != nil {
			l.publish(ctx, Event{Kind: EventClosed, Conn: conn, Err: closeReason(err, conn)})
			return
		}
	}
}

// closeReason maps a read error to the error carried by EventClosed: nil
// for an orderly close.
func closeReason(err error, conn *Connection) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	if conn.IsClosed() || errors.Is(err, net.ErrClosed) {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("idle timeout: %w", err)
	}
	return err
}

func (l *Listener) publish(ctx context.Context, ev Event) bool {
	select {
	case l.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
