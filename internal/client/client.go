// Package client implements the terminal client for the stepgame server.
package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/stepgame/internal/game"
	"github.com/energizer-project/stepgame/internal/protocol"
)

var (
	ErrEmptyInput   = errors.New("empty input")
	ErrUnknownInput = errors.New("unknown command")
	errExit         = errors.New("exit requested")
)

// Dial connects to the server. A nil tlsCfg dials plain TCP.
func Dial(ctx context.Context, addr string, tlsCfg *tls.Config) (net.Conn, error) {
	if tlsCfg == nil {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
	d := tls.Dialer{Config: tlsCfg}
	return d.DialContext(ctx, "tcp", addr)
}

// ParseInput turns a line typed by the player into a frame. The first line
// is always the player's name.
func ParseInput(line string, named bool) (protocol.Frame, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return protocol.Frame{}, ErrEmptyInput
	}
	if !named {
		return protocol.SetName(line), nil
	}

	switch strings.ToLower(line) {
	case "exit":
		return protocol.Frame{}, errExit
	case "r", "rematch":
		return protocol.RestartGame(), nil
	case "q", "quit":
		return protocol.EndGame(), nil
	}

	n, err := strconv.ParseUint(line, 10, 8)
	if err != nil {
		return protocol.Frame{}, fmt.Errorf("%w: %q", ErrUnknownInput, line)
	}
	return protocol.PlayerMove(uint8(n)), nil
}

// Client plays one connection.
type Client struct {
	conn    net.Conn
	display *Display
	named   atomic.Bool
	logger  zerolog.Logger

	mu     sync.Mutex
	mirror *Mirror
}

// New wraps an established connection.
func New(conn net.Conn, out io.Writer) *Client {
	return &Client{
		conn:    conn,
		display: NewDisplay(out),
		mirror:  &Mirror{},
		logger:  log.With().Str("component", "client").Logger(),
	}
}

// Display returns the client's display.
func (c *Client) Display() *Display {
	return c.display
}

// Run plays until the server closes the connection, input ends, the player
// types exit or ctx is cancelled.
func (c *Client) Run(ctx context.Context, in io.Reader) error {
	errCh := make(chan error, 2)
	go func() { errCh <- c.readLoop() }()
	go func() { errCh <- c.inputLoop(in) }()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
	}
	c.conn.Close()
	return err
}

func (c *Client) readLoop() error {
	var frames protocol.FrameBuffer
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			frames.Write(buf[:n])
			for {
				f, ok := frames.Next()
				if !ok {
					break
				}
				c.handle(f)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				c.display.Server("connection closed")
				return nil
			}
			return fmt.Errorf("read from server: %w", err)
		}
	}
}

func (c *Client) inputLoop(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	c.display.Prompt(false)
	for scanner.Scan() {
		f, err := ParseInput(scanner.Text(), c.named.Load())
		switch {
		case errors.Is(err, errExit):
			return nil
		case errors.Is(err, ErrEmptyInput):
		case err != nil:
			c.display.Warning("%v (numbers move, 'r' rematch, 'q' leave, 'exit' quit)", err)
		default:
			if f.Type == protocol.MsgEndGame {
				// The server sends nothing back to the player who leaves.
				c.mu.Lock()
				c.mirror.Reset()
				c.mu.Unlock()
			}
			data, encErr := f.Encode()
			if encErr != nil {
				c.display.Warning("%v", encErr)
				break
			}
			if _, werr := c.conn.Write(data); werr != nil {
				return fmt.Errorf("write to server: %w", werr)
			}
			if f.Type == protocol.MsgSetName {
				c.display.Server("name sent, if it is taken enter another one")
			}
		}
		c.display.Prompt(c.named.Load())
	}
	return scanner.Err()
}

// handle prints one server frame and updates the local mirror.
func (c *Client) handle(f protocol.Frame) {
	msg, err := protocol.Parse(f)
	if err != nil {
		c.logger.Debug().Err(err).Stringer("frame", f).Msg("ignoring bad frame")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	d, m := c.display, c.mirror
	switch msg := msg.(type) {
	case protocol.WelcomeMsg:
		m.self = msg.ID
		d.Server("connected as player %d", msg.ID)
	case protocol.ServerUserNameMsg:
		c.named.Store(true)
		d.Server("name accepted: %s, waiting for an opponent", msg.Name)
	case protocol.GameConfigMsg:
		// A rematch is only announced once SetActivePlayer confirms it.
		if !m.Configure(msg) {
			d.Game("new match: moves of 1-%d, board of %d", msg.MaxMove, msg.BoardSize)
		}
	case protocol.AddPlayerMsg:
		if m.AddPlayer(msg) {
			d.Game("new match: moves of 1-%d, board of %d", m.MaxMove(), m.BoardSize())
		}
		if msg.ID != m.self {
			d.Game("your opponent is %s", msg.Name)
		}
	case protocol.SetActivePlayerMsg:
		if m.rematch {
			d.Game("rematch, round %d", m.Round())
		}
		m.SetActive(msg.ID)
		d.Turn(msg.ID == m.self, m.Name(msg.ID), m.MaxMove())
	case protocol.MovePlayerMsg:
		over := m.Move(msg)
		d.Move(msg.ID == m.self, m.Name(msg.ID), msg.Size, m.BoardLen(), m.BoardSize())
		if over {
			d.GameOver(msg.ID == m.self, m.Name(msg.ID))
			return
		}
		if active, ok := m.Active(); ok {
			d.Turn(active == m.self, m.Name(active), m.MaxMove())
		}
	case protocol.OpponentDisconnectMsg:
		m.Reset()
		d.Server("your opponent left, waiting for a new one")
	default:
		c.logger.Debug().Stringer("type", f.Type).Msg("unexpected frame from server")
	}
}

// Mirror follows the match with a local engine fed by server frames.
type Mirror struct {
	self    protocol.PlayerID
	cfg     *protocol.GameConfigMsg
	players []game.Player
	engine  *game.Engine
	rematch bool
}

func (m *Mirror) rules() game.Config {
	return game.Config{
		MaxPlayers: m.cfg.MaxPlayers,
		MaxMove:    m.cfg.MaxMove,
		BoardSize:  m.cfg.BoardSize,
	}
}

// Configure starts a new match, or a new round when the match is over and
// the players are already known. It reports whether this was a rematch.
func (m *Mirror) Configure(cfg protocol.GameConfigMsg) bool {
	m.cfg = &cfg
	if m.engine != nil && m.engine.Phase() == game.PhaseGameOver {
		// Every player voting restarts the round; the server's
		// SetActivePlayer that follows picks who moves first.
		for _, p := range m.players {
			m.engine.AddPlayer(p.ID, p.Name)
		}
		m.rematch = true
		return true
	}

	m.engine = game.New(m.rules())
	m.players = nil
	m.rematch = false
	return false
}

// AddPlayer records a player of the current match. Players are only sent
// for a new match, so one arriving after a rematch config means the old
// match was left and a new one started; AddPlayer then reports true.
func (m *Mirror) AddPlayer(p protocol.AddPlayerMsg) bool {
	restarted := m.rematch
	if restarted {
		m.engine = game.New(m.rules())
		m.players = nil
		m.rematch = false
	}
	m.players = append(m.players, game.Player{ID: p.ID, Name: p.Name})
	if m.engine != nil {
		m.engine.AddPlayer(p.ID, p.Name)
	}
	return restarted
}

// SetActive records whose turn it is.
func (m *Mirror) SetActive(id protocol.PlayerID) {
	m.rematch = false
	if m.engine != nil {
		m.engine.SetActivePlayer(id)
	}
}

// Move applies a relayed move and reports whether it ended the round.
func (m *Mirror) Move(mv protocol.MovePlayerMsg) bool {
	if m.engine == nil {
		return false
	}
	phase, err := m.engine.Move(mv.ID, mv.Size)
	return err == nil && phase == game.PhaseGameOver
}

// Reset forgets the current match.
func (m *Mirror) Reset() {
	m.cfg = nil
	m.players = nil
	m.engine = nil
	m.rematch = false
}

// Name returns the name of a player in the match.
func (m *Mirror) Name(id protocol.PlayerID) string {
	for _, p := range m.players {
		if p.ID == id {
			return p.Name
		}
	}
	return fmt.Sprintf("player %d", id)
}

// Active returns whose turn it is.
func (m *Mirror) Active() (protocol.PlayerID, bool) {
	if m.engine == nil {
		return 0, false
	}
	return m.engine.Active()
}

func (m *Mirror) Round() int {
	if m.engine == nil {
		return 0
	}
	return m.engine.Round()
}

func (m *Mirror) BoardLen() int {
	if m.engine == nil {
		return 0
	}
	return m.engine.BoardLen()
}

func (m *Mirror) BoardSize() int {
	if m.cfg == nil {
		return 0
	}
	return int(m.cfg.BoardSize)
}

func (m *Mirror) MaxMove() uint8 {
	if m.cfg == nil {
		return 0
	}
	return m.cfg.MaxMove
}
