// Package session tracks the lifecycle of every connected player.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/energizer-project/stepgame/internal/protocol"
)

var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrNameTaken         = errors.New("name already in use")
	ErrRegistryFull      = errors.New("session registry is full")
	ErrNotFound          = errors.New("session not found")
)

// Phase is the lifecycle phase of a session.
type Phase int

const (
	PhaseConnected Phase = iota
	PhaseWaitingForOpponent
	PhaseInGame
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseConnected:
		return "connected"
	case PhaseWaitingForOpponent:
		return "waiting_for_opponent"
	case PhaseInGame:
		return "in_game"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalJSON serializes Phase as a string.
func (p Phase) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// Session is the server-side record of one connection. Sessions refer to
// each other by id only.
type Session struct {
	id          protocol.PlayerID
	name        string
	phase       Phase
	partner     protocol.PlayerID
	remoteAddr  string
	connectedAt time.Time

	inbound protocol.FrameBuffer
}

func newSession(id protocol.PlayerID, remoteAddr string) *Session {
	return &Session{
		id:          id,
		phase:       PhaseConnected,
		remoteAddr:  remoteAddr,
		connectedAt: time.Now(),
	}
}

func (s *Session) ID() protocol.PlayerID { return s.id }
func (s *Session) Name() string { return s.name }
func (s *Session) Phase() Phase { return s.phase }
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// Partner returns the opponent id while the session is in a game.
func (s *Session) Partner() (protocol.PlayerID, bool) {
	if s.phase != PhaseInGame {
		return 0, false
	}
	return s.partner, true
}

// OnNameReceived accepts a display name. Only valid before the session has one.
func (s *Session) OnNameReceived(name string) error {
	if s.phase != PhaseConnected {
		return fmt.Errorf("%w: name from %s", ErrInvalidTransition, s.phase)
	}
	s.name = name
	s.phase = PhaseWaitingForOpponent
	return nil
}

// OnMatched binds the session to an opponent.
func (s *Session) OnMatched(partner protocol.PlayerID) error {
	if s.phase != PhaseWaitingForOpponent {
		return fmt.Errorf("%w: match from %s", ErrInvalidTransition, s.phase)
	}
	if partner == s.id {
		return fmt.Errorf("%w: cannot match with itself", ErrInvalidTransition)
	}
	s.partner = partner
	s.phase = PhaseInGame
	return nil
}

// OnPartnerLeft sends the session back to the waiting pool.
func (s *Session) OnPartnerLeft() error {
	if s.phase != PhaseInGame {
		return fmt.Errorf("%w: partner left from %s", ErrInvalidTransition, s.phase)
	}
	s.partner = 0
	s.phase = PhaseWaitingForOpponent
	return nil
}

// OnClosed marks the session as finished. It is valid from any phase.
func (s *Session) OnClosed() {
	s.partner = 0
	s.phase = PhaseClosed
	s.inbound.Reset()
}

// Feed appends plaintext stream bytes to the reassembly buffer.
func (s *Session) Feed(data []byte) {
	s.inbound.Write(data)
}

// NextFrame pops the next complete frame from the reassembly buffer.
func (s *Session) NextFrame() (protocol.Frame, bool) {
	return s.inbound.Next()
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (s *Session) Buffered() int {
	return s.inbound.Buffered()
}

// Info is a read-only copy of a session for reporting.
type Info struct {
	ID          protocol.PlayerID  `json:"id"`
	Name        string             `json:"name"`
	Phase       Phase              `json:"phase"`
	Partner     *protocol.PlayerID `json:"partner,omitempty"`
	RemoteAddr  string             `json:"remote_addr"`
	ConnectedAt time.Time          `json:"connected_at"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	info := Info{
		ID:          s.id,
		Name:        s.name,
		Phase:       s.phase,
		RemoteAddr:  s.remoteAddr,
		ConnectedAt: s.connectedAt,
	}
	if partner, ok := s.Partner(); ok {
		info.Partner = &partner
	}
	return info
}
