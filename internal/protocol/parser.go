package protocol

import (
	"fmt"
	"unicode/utf8"
)

// Encode builds a frame from a message type and payload.
func Encode(t MessageType, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("encode %s: %w (%d bytes)", t, ErrPayloadTooLarge, len(payload))
	}

	out := make([]byte, HeaderSize+len(payload))
	out[0] = byte(t)
	out[1] = byte(len(payload))
	copy(out[HeaderSize:], payload)
	return out, nil
}

// Decode reads one frame from the front of buf and returns it with the
// number of bytes consumed. The returned payload is a copy. Unknown types
// are decoded like any other frame; classifying them is up to the caller.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) < HeaderSize {
		return Frame{}, 0, ErrIncomplete
	}

	size := HeaderSize + int(buf[1])
	if len(buf) < size {
		return Frame{}, 0, ErrIncomplete
	}

	payload := make([]byte, size-HeaderSize)
	copy(payload, buf[HeaderSize:size])

	return Frame{Type: MessageType(buf[0]), Payload: payload}, size, nil
}

// FrameBuffer accumulates stream bytes and yields complete frames in order.
// It is not safe for concurrent use.
type FrameBuffer struct {
	buf []byte
}

// Write appends a chunk of stream bytes. It never fails.
func (b *FrameBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Next removes and returns the next complete frame. It returns false when
// the buffered bytes do not hold a whole frame yet.
func (b *FrameBuffer) Next() (Frame, bool) {
	frame, n, err := Decode(b.buf)
	if err != nil {
		return Frame{}, false
	}

	b.buf = b.buf[n:]
	if len(b.buf) == 0 {
		b.buf = nil
	}
	return frame, true
}

// Drain returns every complete frame currently buffered.
func (b *FrameBuffer) Drain() []Frame {
	var frames []Frame
	for {
		f, ok := b.Next()
		if !ok {
			return frames
		}
		frames = append(frames, f)
	}
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (b *FrameBuffer) Buffered() int {
	return len(b.buf)
}

// Reset discards any buffered bytes.
func (b *FrameBuffer) Reset() {
	b.buf = nil
}

// ---- Payload parsers ----

// ParseName validates a UTF-8 name payload.
func ParseName(payload []byte) (string, error) {
	if !utf8.Valid(payload) {
		return "", fmt.Errorf("%w: name is not valid UTF-8", ErrMalformedPayload)
	}
	return string(payload), nil
}

// ParseSetName validates a SetName payload. Empty names are rejected.
func ParseSetName(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: empty name", ErrMalformedPayload)
	}
	return ParseName(payload)
}

// ParsePlayerMove returns the move size carried by a PlayerMove payload.
func ParsePlayerMove(payload []byte) (uint8, error) {
	if len(payload) != 1 {
		return 0, fmt.Errorf("%w: move payload is %d bytes, want 1", ErrMalformedPayload, len(payload))
	}
	return payload[0], nil
}

// ParsePlayerID reads the id of a Welcome or SetActivePlayer payload.
func ParsePlayerID(payload []byte) (PlayerID, error) {
	if len(payload) != 1 {
		return 0, fmt.Errorf("%w: id payload is %d bytes, want 1", ErrMalformedPayload, len(payload))
	}
	return PlayerID(payload[0]), nil
}

// ParseGameConfig reads a GameConfig payload.
func ParseGameConfig(payload []byte) (GameConfigMsg, error) {
	if len(payload) != 3 {
		return GameConfigMsg{}, fmt.Errorf("%w: config payload is %d bytes, want 3", ErrMalformedPayload, len(payload))
	}
	return GameConfigMsg{MaxPlayers: payload[0], MaxMove: payload[1], BoardSize: payload[2]}, nil
}

// ParseAddPlayer reads an AddPlayer payload.
func ParseAddPlayer(payload []byte) (AddPlayerMsg, error) {
	if len(payload) < 1 {
		return AddPlayerMsg{}, fmt.Errorf("%w: add player payload is empty", ErrMalformedPayload)
	}
	name, err := ParseName(payload[1:])
	if err != nil {
		return AddPlayerMsg{}, err
	}
	return AddPlayerMsg{ID: PlayerID(payload[0]), Name: name}, nil
}

// ParseMovePlayer reads a MovePlayer payload.
func ParseMovePlayer(payload []byte) (MovePlayerMsg, error) {
	if len(payload) != 2 {
		return MovePlayerMsg{}, fmt.Errorf("%w: move player payload is %d bytes, want 2", ErrMalformedPayload, len(payload))
	}
	return MovePlayerMsg{ID: PlayerID(payload[0]), Size: payload[1]}, nil
}

func expectEmpty(t MessageType, payload []byte) error {
	if len(payload) != 0 {
		return fmt.Errorf("%w: %s carries %d unexpected bytes", ErrMalformedPayload, t, len(payload))
	}
	return nil
}

// Parse turns a frame into its typed message. Unknown types return
// ErrUnknownType; malformed payloads return ErrMalformedPayload.
func Parse(f Frame) (Message, error) {
	switch f.Type {
	case MsgSetName:
		name, err := ParseSetName(f.Payload)
		if err != nil {
			return nil, err
		}
		return SetNameMsg{Name: name}, nil
	case MsgPlayerMove:
		size, err := ParsePlayerMove(f.Payload)
		if err != nil {
			return nil, err
		}
		return PlayerMoveMsg{Size: size}, nil
	case MsgRestartGame:
		if err := expectEmpty(f.Type, f.Payload); err != nil {
			return nil, err
		}
		return RestartGameMsg{}, nil
	case MsgEndGame:
		if err := expectEmpty(f.Type, f.Payload); err != nil {
			return nil, err
		}
		return EndGameMsg{}, nil
	case MsgGameConfig:
		return ParseGameConfig(f.Payload)
	case MsgAddPlayer:
		return ParseAddPlayer(f.Payload)
	case MsgMovePlayer:
		return ParseMovePlayer(f.Payload)
	case MsgSetActivePlayer:
		id, err := ParsePlayerID(f.Payload)
		if err != nil {
			return nil, err
		}
		return SetActivePlayerMsg{ID: id}, nil
	case MsgWelcome:
		id, err := ParsePlayerID(f.Payload)
		if err != nil {
			return nil, err
		}
		return WelcomeMsg{ID: id}, nil
	case MsgServerUserName:
		name, err := ParseName(f.Payload)
		if err != nil {
			return nil, err
		}
		return ServerUserNameMsg{Name: name}, nil
	case MsgOpponentDisconnect:
		if err := expectEmpty(f.Type, f.Payload); err != nil {
			return nil, err
		}
		return OpponentDisconnectMsg{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, byte(f.Type))
	}
}
