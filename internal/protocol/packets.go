// Package protocol implements the stepgame wire protocol shared by the
// server and the terminal client. Every frame is a one-byte message type,
// a one-byte payload length and up to 255 payload bytes:
//
//	[type:1][length:1][payload:length]
//
// Several frames may arrive in one chunk and a chunk may end in the middle
// of a frame; FrameBuffer reassembles them.
package protocol

import (
	"errors"
	"fmt"
)

// MessageType is the first byte of every frame.
type MessageType byte

// Client -> server messages.
const (
	MsgSetName     MessageType = 0 // UTF-8 display name
	MsgPlayerMove  MessageType = 1 // [size:1]
	MsgRestartGame MessageType = 2 // empty, rematch vote
	MsgEndGame     MessageType = 3 // empty
)

// Server -> client messages.
const (
	MsgGameConfig         MessageType = 4   // [max_players:1][max_move:1][board_size:1]
	MsgAddPlayer          MessageType = 5   // [id:1][name...]
	MsgMovePlayer         MessageType = 6   // [id:1][size:1]
	MsgSetActivePlayer    MessageType = 7   // [id:1]
	MsgWelcome            MessageType = 8   // [id:1]
	MsgServerUserName     MessageType = 9   // accepted name
	MsgOpponentDisconnect MessageType = 128 // empty
)

const (
	// HeaderSize is the number of bytes preceding every payload.
	HeaderSize = 2

	// MaxPayloadSize is the largest payload a single length byte can describe.
	MaxPayloadSize = 255

	// MaxFrameSize is the largest encoded frame.
	MaxFrameSize = HeaderSize + MaxPayloadSize

	// MaxNameSize is the longest name AddPlayer can carry next to its id byte.
	MaxNameSize = MaxPayloadSize - 1
)

var (
	ErrIncomplete       = errors.New("incomplete frame")
	ErrPayloadTooLarge  = errors.New("payload exceeds 255 bytes")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnknownType      = errors.New("unknown message type")
)

// PlayerID is the one-byte identifier the server assigns to each connection.
type PlayerID uint8

var typeNames = map[MessageType]string{
	MsgSetName:            "SetName",
	MsgPlayerMove:         "PlayerMove",
	MsgRestartGame:        "RestartGame",
	MsgEndGame:            "EndGame",
	MsgGameConfig:         "GameConfig",
	MsgAddPlayer:          "AddPlayer",
	MsgMovePlayer:         "MovePlayer",
	MsgSetActivePlayer:    "SetActivePlayer",
	MsgWelcome:            "Welcome",
	MsgServerUserName:     "ServerUserName",
	MsgOpponentDisconnect: "OpponentDisconnect",
}

// String returns the catalog name of the type, or its numeric value when unknown.
func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", byte(t))
}

// Known reports whether t is part of the message catalog.
func (t MessageType) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// FromClient reports whether t is a message clients are allowed to send.
func (t MessageType) FromClient() bool {
	return t <= MsgEndGame
}

// Frame is one decoded unit of the wire protocol.
type Frame struct {
	Type    MessageType
	Payload []byte
}

// Len returns the encoded size of the frame.
func (f Frame) Len() int {
	return HeaderSize + len(f.Payload)
}

// Encode returns the wire bytes of the frame.
func (f Frame) Encode() ([]byte, error) {
	return Encode(f.Type, f.Payload)
}

func (f Frame) String() string {
	return fmt.Sprintf("%s[%d bytes]", f.Type, len(f.Payload))
}
