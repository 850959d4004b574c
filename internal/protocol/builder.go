package protocol

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

// FrameBuilder assembles the payload of a single frame.
type FrameBuilder struct {
	typ MessageType
	buf bytes.Buffer
}

// NewFrameBuilder creates a builder for a frame of the given type.
func NewFrameBuilder(t MessageType) *FrameBuilder {
	return &FrameBuilder{typ: t}
}

// WriteUint8 appends a single byte.
func (b *FrameBuilder) WriteUint8(v uint8) *FrameBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteID appends a player id.
func (b *FrameBuilder) WriteID(id PlayerID) *FrameBuilder {
	b.buf.WriteByte(byte(id))
	return b
}

// WriteString appends s without a length prefix, truncated on a rune
// boundary so the payload never exceeds MaxPayloadSize.
func (b *FrameBuilder) WriteString(s string) *FrameBuilder {
	b.buf.WriteString(truncate(s, MaxPayloadSize-b.buf.Len()))
	return b
}

// Build returns the finished frame.
func (b *FrameBuilder) Build() Frame {
	payload := make([]byte, b.buf.Len())
	copy(payload, b.buf.Bytes())
	return Frame{Type: b.typ, Payload: payload}
}

// Len returns the payload size so far.
func (b *FrameBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the frame being built.
func (b *FrameBuilder) String() string {
	return fmt.Sprintf("FrameBuilder[%s, %d bytes]: %x", b.typ, b.buf.Len(), b.buf.Bytes())
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// ---- Typed messages ----

// Message is a decoded frame with a typed payload.
type Message interface {
	Type() MessageType
	Frame() Frame
}

type SetNameMsg struct{ Name string }
type PlayerMoveMsg struct{ Size uint8 }
type RestartGameMsg struct{}
type EndGameMsg struct{}

// GameConfigMsg describes the rules of the match about to start.
type GameConfigMsg struct {
	MaxPlayers uint8
	MaxMove    uint8
	BoardSize  uint8
}

type AddPlayerMsg struct {
	ID   PlayerID
	Name string
}

type MovePlayerMsg struct {
	ID   PlayerID
	Size uint8
}

type SetActivePlayerMsg struct{ ID PlayerID }
type WelcomeMsg struct{ ID PlayerID }
type ServerUserNameMsg struct{ Name string }
type OpponentDisconnectMsg struct{}

func (SetNameMsg) Type() MessageType { return MsgSetName }
func (PlayerMoveMsg) Type() MessageType { return MsgPlayerMove }
func (RestartGameMsg) Type() MessageType { return MsgRestartGame }
func (EndGameMsg) Type() MessageType { return MsgEndGame }
func (GameConfigMsg) Type() MessageType { return MsgGameConfig }
func (AddPlayerMsg) Type() MessageType { return MsgAddPlayer }
func (MovePlayerMsg) Type() MessageType { return MsgMovePlayer }
func (SetActivePlayerMsg) Type() MessageType { return MsgSetActivePlayer }
func (WelcomeMsg) Type() MessageType { return MsgWelcome }
func (ServerUserNameMsg) Type() MessageType { return MsgServerUserName }
func (OpponentDisconnectMsg) Type() MessageType { return MsgOpponentDisconnect }

func (m SetNameMsg) Frame() Frame { return SetName(m.Name) }
func (m PlayerMoveMsg) Frame() Frame { return PlayerMove(m.Size) }
func (RestartGameMsg) Frame() Frame { return RestartGame() }
func (EndGameMsg) Frame() Frame { return EndGame() }
func (m GameConfigMsg) Frame() Frame { return GameConfig(m.MaxPlayers, m.MaxMove, m.BoardSize) }
func (m AddPlayerMsg) Frame() Frame { return AddPlayer(m.ID, m.Name) }
func (m MovePlayerMsg) Frame() Frame { return MovePlayer(m.ID, m.Size) }
func (m SetActivePlayerMsg) Frame() Frame { return SetActivePlayer(m.ID) }
func (m WelcomeMsg) Frame() Frame { return Welcome(m.ID) }
func (m ServerUserNameMsg) Frame() Frame { return ServerUserName(m.Name) }
func (OpponentDisconnectMsg) Frame() Frame { return OpponentDisconnect() }

// ---- Frame constructors ----

// SetName creates a SetName frame (client -> server).
func SetName(name string) Frame {
	return NewFrameBuilder(MsgSetName).WriteString(name).Build()
}

// PlayerMove creates a PlayerMove frame (client -> server).
func PlayerMove(size uint8) Frame {
	return NewFrameBuilder(MsgPlayerMove).WriteUint8(size).Build()
}

// RestartGame creates a rematch vote (client -> server).
func RestartGame() Frame {
	return Frame{Type: MsgRestartGame, Payload: []byte{}}
}

// EndGame creates an EndGame frame (client -> server).
func EndGame() Frame {
	return Frame{Type: MsgEndGame, Payload: []byte{}}
}

// GameConfig creates a GameConfig frame.
// Format: [max_players:1][max_move:1][board_size:1]
func GameConfig(maxPlayers, maxMove, boardSize uint8) Frame {
	return NewFrameBuilder(MsgGameConfig).
		WriteUint8(maxPlayers).
		WriteUint8(maxMove).
		WriteUint8(boardSize).
		Build()
}

// AddPlayer creates an AddPlayer frame.
// Format: [id:1][name...]
func AddPlayer(id PlayerID, name string) Frame {
	return NewFrameBuilder(MsgAddPlayer).WriteID(id).WriteString(name).Build()
}

// MovePlayer creates a MovePlayer frame.
// Format: [id:1][size:1]
func MovePlayer(id PlayerID, size uint8) Frame {
	return NewFrameBuilder(MsgMovePlayer).WriteID(id).WriteUint8(size).Build()
}

// SetActivePlayer creates a SetActivePlayer frame.
func SetActivePlayer(id PlayerID) Frame {
	return NewFrameBuilder(MsgSetActivePlayer).WriteID(id).Build()
}

// Welcome creates the first frame a new connection receives.
func Welcome(id PlayerID) Frame {
	return NewFrameBuilder(MsgWelcome).WriteID(id).Build()
}

// ServerUserName confirms an accepted name.
func ServerUserName(name string) Frame {
	return NewFrameBuilder(MsgServerUserName).WriteString(name).Build()
}

// OpponentDisconnect tells a player their match is over.
func OpponentDisconnect() Frame {
	return Frame{Type: MsgOpponentDisconnect, Payload: []byte{}}
}
