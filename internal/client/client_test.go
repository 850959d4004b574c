package client

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/stepgame/internal/protocol"
)

func init() {
	color.NoColor = true
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestParseInput(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		named   bool
		want    protocol.Frame
		wantErr error
	}{
		{"first line is the name", "  alice \n", false, protocol.SetName("alice"), nil},
		{"a number is a move", "3", true, protocol.PlayerMove(3), nil},
		{"zero is sent, the server rejects it", "0", true, protocol.PlayerMove(0), nil},
		{"rematch", "r", true, protocol.RestartGame(), nil},
		{"leave the match", "Q", true, protocol.EndGame(), nil},
		{"blank line", "   ", true, protocol.Frame{}, ErrEmptyInput},
		{"too large for a byte", "300", true, protocol.Frame{}, ErrUnknownInput},
		{"words", "hello", true, protocol.Frame{}, ErrUnknownInput},
		{"exit", "exit", true, protocol.Frame{}, errExit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInput(tt.line, tt.named)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func feed(c *Client, frames ...protocol.Frame) {
	for _, f := range frames {
		c.handle(f)
	}
}

func TestMirrorFollowsAMatch(t *testing.T) {
	out := &syncBuffer{}
	c := New(nil, out)

	// Given: alice is paired with bob and moves first
	feed(c,
		protocol.Welcome(0),
		protocol.ServerUserName("alice"),
		protocol.GameConfig(2, 3, 10),
		protocol.AddPlayer(0, "alice"),
		protocol.AddPlayer(1, "bob"),
		protocol.SetActivePlayer(0),
	)
	assert.Contains(t, out.String(), "connected as player 0")
	assert.Contains(t, out.String(), "your opponent is bob")
	assert.Contains(t, out.String(), "Your move, enter 1-3")

	// When: the moves bring the board to 10 on bob's move
	feed(c,
		protocol.MovePlayer(0, 3),
		protocol.MovePlayer(1, 3),
		protocol.MovePlayer(0, 3),
		protocol.MovePlayer(1, 1),
	)

	// Then: alice is told bob lost
	assert.Contains(t, out.String(), "alice moved 3 (3/10)")
	assert.Contains(t, out.String(), "Waiting for bob")
	assert.Contains(t, out.String(), "bob moved 1 (10/10)")
	assert.Contains(t, out.String(), "bob filled the board, you win!")

	// When: both vote and bob starts the rematch
	feed(c, protocol.GameConfig(2, 3, 10), protocol.SetActivePlayer(1))

	assert.Contains(t, out.String(), "rematch, round 2")
	assert.Equal(t, 0, c.mirror.BoardLen())
	active, ok := c.mirror.Active()
	require.True(t, ok)
	assert.Equal(t, protocol.PlayerID(1), active)

	// When: bob leaves
	feed(c, protocol.OpponentDisconnect())

	assert.Contains(t, out.String(), "your opponent left")
	_, ok = c.mirror.Active()
	assert.False(t, ok)
}

func TestNewOpponentAfterGameOverIsANewMatch(t *testing.T) {
	out := &syncBuffer{}
	c := New(nil, out)

	// Given: alice won a round against bob and nothing reset the mirror
	feed(c,
		protocol.Welcome(0),
		protocol.GameConfig(2, 3, 3),
		protocol.AddPlayer(0, "alice"),
		protocol.AddPlayer(1, "bob"),
		protocol.SetActivePlayer(1),
		protocol.MovePlayer(1, 3),
	)

	// When: the server pairs her with carol
	feed(c,
		protocol.GameConfig(2, 3, 10),
		protocol.AddPlayer(0, "alice"),
		protocol.AddPlayer(2, "carol"),
		protocol.SetActivePlayer(0),
		protocol.MovePlayer(0, 2),
		protocol.MovePlayer(2, 3),
	)

	// Then: the mirror follows the new match instead of a rematch with bob
	assert.NotContains(t, out.String(), "rematch, round")
	assert.Contains(t, out.String(), "carol moved 3 (5/10)")
	assert.Equal(t, 5, c.mirror.BoardLen())
	assert.Equal(t, 1, c.mirror.Round())
	active, ok := c.mirror.Active()
	require.True(t, ok)
	assert.Equal(t, protocol.PlayerID(0), active)
}

func TestSelfLosing(t *testing.T) {
	out := &syncBuffer{}
	c := New(nil, out)

	feed(c,
		protocol.Welcome(1),
		protocol.GameConfig(2, 3, 3),
		protocol.AddPlayer(0, "alice"),
		protocol.AddPlayer(1, "bob"),
		protocol.SetActivePlayer(1),
		protocol.MovePlayer(1, 3),
	)

	assert.Contains(t, out.String(), "You filled the board and lost")
}

func TestBadFramesAreIgnored(t *testing.T) {
	out := &syncBuffer{}
	c := New(nil, out)

	feed(c, protocol.Frame{Type: protocol.MsgWelcome, Payload: []byte{}}, protocol.Frame{Type: 42})

	assert.Empty(t, out.String())
}

type pipeServer struct {
	t       *testing.T
	conn    net.Conn
	inbound protocol.FrameBuffer
	input   *io.PipeWriter
	out     *syncBuffer
	client  *Client
	done    chan error
}

func startPipeClient(t *testing.T) *pipeServer {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	inR, inW := io.Pipe()
	out := &syncBuffer{}
	p := &pipeServer{
		t:      t,
		conn:   serverConn,
		input:  inW,
		out:    out,
		client: New(clientConn, out),
		done:   make(chan error, 1),
	}
	go func() { p.done <- p.client.Run(context.Background(), inR) }()
	t.Cleanup(func() {
		serverConn.Close()
		inW.Close()
	})
	return p
}

func (p *pipeServer) readFrame() protocol.Frame {
	p.t.Helper()
	buf := make([]byte, 512)
	for {
		if f, ok := p.inbound.Next(); ok {
			return f
		}
		require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, err := p.conn.Read(buf)
		require.NoError(p.t, err)
		p.inbound.Write(buf[:n])
	}
}

func (p *pipeServer) write(frames ...protocol.Frame) {
	p.t.Helper()
	for _, f := range frames {
		data, err := f.Encode()
		require.NoError(p.t, err)
		_, err = p.conn.Write(data)
		require.NoError(p.t, err)
	}
}

// typeLine feeds one line of player input. io.Pipe blocks until the client
// has read it.
func (p *pipeServer) typeLine(line string) {
	go io.WriteString(p.input, line+"\n")
}

func (p *pipeServer) waitOutput(text string) {
	p.t.Helper()
	assert.Eventually(p.t, func() bool { return strings.Contains(p.out.String(), text) },
		2*time.Second, 10*time.Millisecond, "output never contained %q", text)
}

func TestRunOverPipe(t *testing.T) {
	p := startPipeClient(t)

	// Given: the server welcomes the client
	p.write(protocol.Welcome(4))

	// When: the player types a name and the server accepts it
	p.typeLine("alice")
	assert.Equal(t, protocol.SetName("alice"), p.readFrame())
	p.write(protocol.ServerUserName("alice"))
	p.waitOutput("name accepted: alice")

	// Then: the next line is a move
	p.typeLine("2")
	assert.Equal(t, protocol.PlayerMove(2), p.readFrame())

	// When: the server hangs up
	p.conn.Close()

	select {
	case err := <-p.done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.Fail(t, "client did not stop")
	}
	assert.Contains(t, p.out.String(), "connected as player 4")
	assert.Contains(t, p.out.String(), "connection closed")
}

func TestTakenNameCanBeReplaced(t *testing.T) {
	p := startPipeClient(t)
	p.write(protocol.Welcome(1))

	// Given: the first name is taken, so the server stays silent
	p.typeLine("bob")
	assert.Equal(t, protocol.SetName("bob"), p.readFrame())

	// When: the player tries another name
	p.typeLine("carol")

	// Then: it is sent as a name, not parsed as a command
	assert.Equal(t, protocol.SetName("carol"), p.readFrame())
	assert.NotContains(t, p.out.String(), "unknown command")

	p.write(protocol.ServerUserName("carol"))
	p.waitOutput("name accepted: carol")
	p.typeLine("3")
	assert.Equal(t, protocol.PlayerMove(3), p.readFrame())
}

func TestLeavingForgetsTheFinishedMatch(t *testing.T) {
	p := startPipeClient(t)

	// Given: alice finished a round against bob
	p.write(protocol.Welcome(0))
	p.typeLine("alice")
	assert.Equal(t, protocol.SetName("alice"), p.readFrame())
	p.write(
		protocol.ServerUserName("alice"),
		protocol.GameConfig(2, 3, 3),
		protocol.AddPlayer(0, "alice"),
		protocol.AddPlayer(1, "bob"),
		protocol.SetActivePlayer(1),
		protocol.MovePlayer(1, 3),
	)
	p.waitOutput("bob filled the board")

	// When: she leaves instead of voting for a rematch
	p.typeLine("q")
	assert.Equal(t, protocol.EndGame(), p.readFrame())

	// Then: the next config is a new match against carol
	p.write(
		protocol.GameConfig(2, 3, 10),
		protocol.AddPlayer(0, "alice"),
		protocol.AddPlayer(2, "carol"),
		protocol.SetActivePlayer(2),
		protocol.MovePlayer(2, 3),
	)
	p.waitOutput("carol moved 3 (3/10)")
	assert.NotContains(t, p.out.String(), "rematch, round")
	assert.Contains(t, p.out.String(), "your opponent is carol")
}
