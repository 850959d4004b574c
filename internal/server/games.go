package server

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/energizer-project/stepgame/internal/game"
	"github.com/energizer-project/stepgame/internal/protocol"
)

// Game is one active match.
type Game struct {
	ID        string
	Engine    *game.Engine
	StartedAt time.Time
}

// GameInfo is a read-only copy of a match for reporting.
type GameInfo struct {
	ID        string        `json:"id"`
	Players   []game.Player `json:"players"`
	Phase     game.Phase    `json:"phase"`
	Round     int           `json:"round"`
	BoardLen  int           `json:"board_len"`
	Board     []int         `json:"board"`
	BoardSize uint8         `json:"board_size"`
	MaxMove   uint8         `json:"max_move"`
	Active    *uint8        `json:"active,omitempty"`
	Votes     int           `json:"rematch_votes"`
	StartedAt time.Time     `json:"started_at"`
}

// Info returns a snapshot of the match.
func (g *Game) Info() GameInfo {
	cfg := g.Engine.Config()
	info := GameInfo{
		ID:        g.ID,
		Players:   g.Engine.Players(),
		Phase:     g.Engine.Phase(),
		Round:     g.Engine.Round(),
		BoardLen:  g.Engine.BoardLen(),
		BoardSize: cfg.BoardSize,
		MaxMove:   cfg.MaxMove,
		Votes:     g.Engine.Votes(),
		StartedAt: g.StartedAt,
	}
	// Ids as ints so JSON shows the movers instead of base64 bytes.
	board := g.Engine.Board()
	info.Board = make([]int, len(board))
	for i, id := range board {
		info.Board[i] = int(id)
	}
	if active, ok := g.Engine.Active(); ok && g.Engine.Phase() == game.PhaseWaitingOnMove {
		id := uint8(active)
		info.Active = &id
	}
	return info
}

// GameRegistry holds the active matches. Matches are found by scanning for
// a participant id. It is not safe for concurrent use.
type GameRegistry struct {
	games []*Game
}

// NewGameRegistry creates an empty registry.
func NewGameRegistry() *GameRegistry {
	return &GameRegistry{}
}

// Add registers an engine under a fresh match id.
func (r *GameRegistry) Add(engine *game.Engine) *Game {
	g := &Game{
		ID:        uuid.NewString(),
		Engine:    engine,
		StartedAt: time.Now(),
	}
	r.games = append(r.games, g)
	return g
}

// FindByPlayer returns the match the player takes part in.
func (r *GameRegistry) FindByPlayer(id protocol.PlayerID) (*Game, bool) {
	for _, g := range r.games {
		if g.Engine.Has(id) {
			return g, true
		}
	}
	return nil, false
}

// Get returns the match with the given id.
func (r *GameRegistry) Get(matchID string) (*Game, bool) {
	for _, g := range r.games {
		if g.ID == matchID {
			return g, true
		}
	}
	return nil, false
}

// Remove drops a match.
func (r *GameRegistry) Remove(matchID string) (*Game, bool) {
	for i, g := range r.games {
		if g.ID == matchID {
			r.games = slices.Delete(r.games, i, i+1)
			return g, true
		}
	}
	return nil, false
}

// Len returns the number of active matches.
func (r *GameRegistry) Len() int { return len(r.games) }

// All returns the active matches, oldest first.
func (r *GameRegistry) All() []*Game {
	return slices.Clone(r.games)
}

// Infos returns a snapshot of every active match.
func (r *GameRegistry) Infos() []GameInfo {
	out := make([]GameInfo, 0, len(r.games))
	for _, g := range r.games {
		out = append(out, g.Info())
	}
	return out
}
