package network

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/stepgame/internal/util"
)

func startListener(t *testing.T, tlsCfg *tls.Config) (*Listener, chan Event) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	events := make(chan Event, 16)
	l := NewListener(ListenerConfig{Addr: "127.0.0.1:0", TLS: tlsCfg}, events)
	require.NoError(t, l.Listen(ctx))
	go l.Serve(ctx)
	return l, events
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func exerciseConnection(t *testing.T, client net.Conn, events <-chan Event) {
	t.Helper()

	// Given: a connected client
	accepted := nextEvent(t, events)
	require.Equal(t, EventAccepted, accepted.Kind)

	// When: the server sends and the client answers
	require.NoError(t, accepted.Conn.Send([]byte{8, 1, 0}))
	got := make([]byte, 3)
	_, err := io.ReadFull(client, got)
	require.NoError(t, err)
	assert.Equal(t, []byte{8, 1, 0}, got)

	_, err = client.Write([]byte{0, 5, 'a', 'l', 'i', 'c', 'e'})
	require.NoError(t, err)

	// Then: the plaintext arrives as data events for the same connection
	var data []byte
	for len(data) < 7 {
		ev := nextEvent(t, events)
		require.Equal(t, EventData, ev.Kind)
		assert.Same(t, accepted.Conn, ev.Conn)
		data = append(data, ev.Data...)
	}
	assert.Equal(t, []byte{0, 5, 'a', 'l', 'i', 'c', 'e'}, data)

	// And: an orderly close is reported without an error
	require.NoError(t, client.Close())
	closed := nextEvent(t, events)
	assert.Equal(t, EventClosed, closed.Kind)
	assert.NoError(t, closed.Err)
	assert.Same(t, accepted.Conn, closed.Conn)
}

func TestListenerPlain(t *testing.T) {
	l, events := startListener(t, nil)

	client, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)

	exerciseConnection(t, client, events)
}

func TestListenerTLS(t *testing.T) {
	cert, err := util.SelfSignedCertificate([]string{"127.0.0.1"})
	require.NoError(t, err)
	l, events := startListener(t, &tls.Config{Certificates: []tls.Certificate{cert}})

	client, err := tls.Dial("tcp", l.Addr().String(), &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, err)

	exerciseConnection(t, client, events)
}

func TestListenerDropsFailedHandshake(t *testing.T) {
	cert, err := util.SelfSignedCertificate([]string{"127.0.0.1"})
	require.NoError(t, err)
	l, events := startListener(t, &tls.Config{Certificates: []tls.Certificate{cert}})

	// Given: a client that speaks plaintext to a TLS listener
	client, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	_, _ = client.Write([]byte("hello there, this is not TLS\r\n\r\n"))
	client.Close()

	// Then: no session event is ever published
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %s", ev.Kind)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestConnectionSendBuffer(t *testing.T) {
	// Given: a connection whose peer never reads
	server, client := net.Pipe()
	defer client.Close()
	conn := NewConnection(server, 1)

	// When: more frames are sent than the buffer holds
	var err error
	for i := 0; i < 3 && err == nil; i++ {
		err = conn.Send([]byte{byte(i)})
	}

	// Then: the overflow is reported instead of blocking
	assert.ErrorIs(t, err, ErrSendBufferFull)
	assert.LessOrEqual(t, conn.Pending(), 1)

	require.NoError(t, conn.Close())
	assert.True(t, conn.IsClosed())
	assert.ErrorIs(t, conn.Send([]byte{1}), ErrConnectionClosed)
	assert.NoError(t, conn.Close())
}

func TestRegistryCloseAll(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	conn := NewConnection(server, 0)

	r := NewRegistry()
	r.Register(conn)
	assert.Equal(t, 1, r.Count())

	r.CloseAll()

	assert.Zero(t, r.Count())
	assert.True(t, conn.IsClosed())
}
