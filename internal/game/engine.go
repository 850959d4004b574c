// Package game implements the turn-based match rules: players take turns
// adding 1..MaxMove steps to a shared board and whoever brings the board to
// BoardSize loses. The engine is a plain state machine with no I/O; the
// server decides what to tell the players after each transition.
package game

import (
	"errors"
	"fmt"

	"github.com/energizer-project/stepgame/internal/protocol"
)

var (
	ErrWrongPhase    = errors.New("action not allowed in current phase")
	ErrNotActive     = errors.New("player is not the active player")
	ErrInvalidMove   = errors.New("move size out of range")
	ErrUnknownPlayer = errors.New("player is not part of this game")
	ErrGameFull      = errors.New("game already has all players")
	ErrDuplicate     = errors.New("player already joined")
	ErrBoardNotEmpty = errors.New("board already has moves this round")
	ErrAlreadyVoted  = errors.New("player already voted for a rematch")
)

// Phase is the current state of a match.
type Phase int

const (
	PhaseWaitingForPlayers Phase = iota
	PhaseWaitingOnMove
	PhaseGameOver
)

func (p Phase) String() string {
	switch p {
	case PhaseWaitingForPlayers:
		return "waiting_for_players"
	case PhaseWaitingOnMove:
		return "waiting_on_move"
	case PhaseGameOver:
		return "game_over"
	default:
		return "unknown"
	}
}

// MarshalJSON serializes Phase as a string.
func (p Phase) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// RematchPolicy decides who moves first after a rematch.
type RematchPolicy string

const (
	// RematchLoserStarts keeps the active index where the game ended: the
	// player who lost moves first.
	RematchLoserStarts RematchPolicy = "loser"
	// RematchWinnerStarts hands the first move to the player after the loser.
	RematchWinnerStarts RematchPolicy = "winner"
	// RematchFirstJoinerStarts always gives the first move to the first player who joined.
	RematchFirstJoinerStarts RematchPolicy = "first"
)

// Valid reports whether p is a known policy.
func (p RematchPolicy) Valid() bool {
	switch p {
	case RematchLoserStarts, RematchWinnerStarts, RematchFirstJoinerStarts:
		return true
	}
	return false
}

// Config holds the rules of a match.
type Config struct {
	MaxPlayers uint8
	MaxMove    uint8
	BoardSize  uint8
	Rematch    RematchPolicy
}

// DefaultConfig returns the classic two-player, max three, board of ten rules.
func DefaultConfig() Config {
	return Config{
		MaxPlayers: 2,
		MaxMove:    3,
		BoardSize:  10,
		Rematch:    RematchLoserStarts,
	}
}

// Player is one participant of a match.
type Player struct {
	ID   protocol.PlayerID `json:"id"`
	Name string            `json:"name"`
}

// Engine is the state of a single match. It is not safe for concurrent use.
type Engine struct {
	cfg     Config
	phase   Phase
	players []Player
	board   []protocol.PlayerID
	active  int
	votes   map[protocol.PlayerID]struct{}
	loser   int
	round   int
}

// New creates an engine waiting for its players.
func New(cfg Config) *Engine {
	if cfg.MaxPlayers == 0 {
		cfg.MaxPlayers = 2
	}
	if !cfg.Rematch.Valid() {
		cfg.Rematch = RematchLoserStarts
	}
	return &Engine{
		cfg:   cfg,
		phase: PhaseWaitingForPlayers,
		votes: make(map[protocol.PlayerID]struct{}),
		loser: -1,
	}
}

// action is one input to the state machine.
type action struct {
	kind actionKind
	id   protocol.PlayerID
	name string
	size uint8
}

type actionKind int

const (
	actionAddPlayer actionKind = iota
	actionMove
	actionSetActive
)

// AddPlayer joins a player while the match is filling up, or records a
// rematch vote once the match is over. It returns the phase after the call.
func (e *Engine) AddPlayer(id protocol.PlayerID, name string) (Phase, error) {
	return e.apply(action{kind: actionAddPlayer, id: id, name: name})
}

// Move adds size steps for the given player. Rejected moves leave the
// engine untouched. It returns the phase after the call.
func (e *Engine) Move(id protocol.PlayerID, size uint8) (Phase, error) {
	return e.apply(action{kind: actionMove, id: id, size: size})
}

// SetActivePlayer overrides whose turn it is. Only allowed before the
// first move of a round.
func (e *Engine) SetActivePlayer(id protocol.PlayerID) error {
	_, err := e.apply(action{kind: actionSetActive, id: id})
	return err
}

// apply runs the transition function and commits the resulting phase.
func (e *Engine) apply(a action) (Phase, error) {
	next, err := e.step(a)
	if err != nil {
		return e.phase, err
	}
	e.phase = next
	return next, nil
}

// step is the transition function: given the current phase and an action
// it mutates the match data and returns the next phase.
func (e *Engine) step(a action) (Phase, error) {
	switch e.phase {
	case PhaseWaitingForPlayers:
		return e.stepWaitingForPlayers(a)
	case PhaseWaitingOnMove:
		return e.stepWaitingOnMove(a)
	case PhaseGameOver:
		return e.stepGameOver(a)
	default:
		return e.phase, fmt.Errorf("phase %d: %w", e.phase, ErrWrongPhase)
	}
}

func (e *Engine) stepWaitingForPlayers(a action) (Phase, error) {
	switch a.kind {
	case actionAddPlayer:
		if e.indexOf(a.id) >= 0 {
			return e.phase, ErrDuplicate
		}
		e.players = append(e.players, Player{ID: a.id, Name: a.name})
		if len(e.players) < int(e.cfg.MaxPlayers) {
			return PhaseWaitingForPlayers, nil
		}
		e.active = 0
		e.round = 1
		return PhaseWaitingOnMove, nil
	case actionSetActive:
		return e.phase, e.setActive(a.id)
	default:
		return e.phase, ErrWrongPhase
	}
}

func (e *Engine) stepWaitingOnMove(a action) (Phase, error) {
	switch a.kind {
	case actionMove:
		mover := e.indexOf(a.id)
		if mover < 0 {
			return e.phase, ErrUnknownPlayer
		}
		if mover != e.active {
			return e.phase, ErrNotActive
		}
		if a.size < 1 || a.size > e.cfg.MaxMove {
			return e.phase, fmt.Errorf("%w: %d not in 1..%d", ErrInvalidMove, a.size, e.cfg.MaxMove)
		}

		for i := uint8(0); i < a.size; i++ {
			e.board = append(e.board, a.id)
		}

		if len(e.board) >= int(e.cfg.BoardSize) {
			e.loser = mover
			return PhaseGameOver, nil
		}
		e.active = (e.active + 1) % len(e.players)
		return PhaseWaitingOnMove, nil
	case actionSetActive:
		return e.phase, e.setActive(a.id)
	case actionAddPlayer:
		return e.phase, ErrGameFull
	default:
		return e.phase, ErrWrongPhase
	}
}

func (e *Engine) stepGameOver(a action) (Phase, error) {
	if a.kind != actionAddPlayer {
		return e.phase, ErrWrongPhase
	}
	if e.indexOf(a.id) < 0 {
		return e.phase, ErrUnknownPlayer
	}
	if _, voted := e.votes[a.id]; voted {
		return e.phase, ErrAlreadyVoted
	}

	e.votes[a.id] = struct{}{}
	if len(e.votes) < len(e.players) {
		return PhaseGameOver, nil
	}

	clear(e.votes)
	e.board = nil
	e.round++

	switch e.cfg.Rematch {
	case RematchWinnerStarts:
		e.active = (e.loser + 1) % len(e.players)
	case RematchFirstJoinerStarts:
		e.active = 0
	}
	e.loser = -1
	return PhaseWaitingOnMove, nil
}

func (e *Engine) setActive(id protocol.PlayerID) error {
	idx := e.indexOf(id)
	if idx < 0 {
		return ErrUnknownPlayer
	}
	if len(e.board) > 0 {
		return ErrBoardNotEmpty
	}
	e.active = idx
	return nil
}

func (e *Engine) indexOf(id protocol.PlayerID) int {
	for i, p := range e.players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase { return e.phase }

// Config returns the match rules.
func (e *Engine) Config() Config { return e.cfg }

// Round is 0 before the match starts and increments on every rematch.
func (e *Engine) Round() int { return e.round }

// Players returns the participants in join order.
func (e *Engine) Players() []Player {
	out := make([]Player, len(e.players))
	copy(out, e.players)
	return out
}

// Has reports whether id takes part in the match.
func (e *Engine) Has(id protocol.PlayerID) bool {
	return e.indexOf(id) >= 0
}

// Opponent returns the other participant of a two-player match.
func (e *Engine) Opponent(id protocol.PlayerID) (protocol.PlayerID, bool) {
	if e.indexOf(id) < 0 {
		return 0, false
	}
	for _, p := range e.players {
		if p.ID != id {
			return p.ID, true
		}
	}
	return 0, false
}

// Active returns the player whose turn it is. It returns false while the
// match is still filling up.
func (e *Engine) Active() (protocol.PlayerID, bool) {
	if e.phase == PhaseWaitingForPlayers || len(e.players) == 0 {
		return 0, false
	}
	return e.players[e.active].ID, true
}

// Board returns a copy of the move history, one entry per step.
func (e *Engine) Board() []protocol.PlayerID {
	out := make([]protocol.PlayerID, len(e.board))
	copy(out, e.board)
	return out
}

// BoardLen returns the number of steps taken this round.
func (e *Engine) BoardLen() int { return len(e.board) }

// Loser returns the player who ended the last round.
func (e *Engine) Loser() (Player, bool) {
	if e.phase != PhaseGameOver || e.loser < 0 {
		return Player{}, false
	}
	return e.players[e.loser], true
}

// Winners returns every participant except the loser of the last round.
func (e *Engine) Winners() []Player {
	loser, ok := e.Loser()
	if !ok {
		return nil
	}
	var out []Player
	for _, p := range e.players {
		if p.ID != loser.ID {
			out = append(out, p)
		}
	}
	return out
}

// Votes returns how many players asked for a rematch.
func (e *Engine) Votes() int { return len(e.votes) }
