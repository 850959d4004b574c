// Package matchmaker pairs named, unmatched players into new games.
// Players are paired strictly in the order they started waiting.
package matchmaker

import (
	"slices"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/stepgame/internal/game"
	"github.com/energizer-project/stepgame/internal/protocol"
	"github.com/energizer-project/stepgame/internal/session"
)

// SessionStore looks sessions up by id.
type SessionStore interface {
	Get(id protocol.PlayerID) (*session.Session, bool)
}

// Outbox queues a frame for one player.
type Outbox interface {
	Enqueue(to protocol.PlayerID, f protocol.Frame)
}

// Match is a freshly created game and its two players in join order.
type Match struct {
	Engine  *game.Engine
	Players [2]protocol.PlayerID
}

// Matchmaker holds the FIFO queue of waiting players.
type Matchmaker struct {
	cfg    game.Config
	queue  []protocol.PlayerID
	logger zerolog.Logger
}

// New creates a matchmaker that starts games with the given rules.
// Games always have exactly two players.
func New(cfg game.Config) *Matchmaker {
	cfg.MaxPlayers = 2
	return &Matchmaker{
		cfg:    cfg,
		logger: log.With().Str("component", "matchmaker").Logger(),
	}
}

// Enqueue appends a player to the back of the queue. Players already
// queued keep their position.
func (m *Matchmaker) Enqueue(id protocol.PlayerID) {
	if slices.Contains(m.queue, id) {
		return
	}
	m.queue = append(m.queue, id)
}

// Remove drops a player from the queue.
func (m *Matchmaker) Remove(id protocol.PlayerID) {
	m.queue = slices.DeleteFunc(m.queue, func(q protocol.PlayerID) bool { return q == id })
}

// Len returns the number of queued players, including stale entries not yet pruned.
func (m *Matchmaker) Len() int { return len(m.queue) }

// Waiting returns the queue in pairing order.
func (m *Matchmaker) Waiting() []protocol.PlayerID {
	return slices.Clone(m.queue)
}

// Config returns the rules new games start with.
func (m *Matchmaker) Config() game.Config { return m.cfg }

// Pair matches waiting players two at a time, oldest first. For every
// pair it creates a game, sends both players the setup frames
// (GameConfig, AddPlayer for each player, SetActivePlayer) and moves both
// sessions in game. Queue entries whose session is gone or no longer
// waiting are discarded.
func (m *Matchmaker) Pair(store SessionStore, out Outbox) []Match {
	var (
		matches []Match
		pending []*session.Session
	)

	for len(m.queue) > 0 {
		id := m.queue[0]
		m.queue = m.queue[1:]

		s, ok := store.Get(id)
		if !ok || s.Phase() != session.PhaseWaitingForOpponent {
			m.logger.Debug().Uint8("player_id", uint8(id)).Msg("dropping stale queue entry")
			continue
		}

		pending = append(pending, s)
		if len(pending) < 2 {
			continue
		}

		match, err := m.start(pending[0], pending[1], out)
		pending = pending[:0]
		if err != nil {
			m.logger.Error().Err(err).Msg("failed to start match")
			continue
		}
		matches = append(matches, match)
	}

	if len(pending) == 1 {
		m.queue = append([]protocol.PlayerID{pending[0].ID()}, m.queue...)
	}
	if len(m.queue) == 0 {
		m.queue = nil
	}
	return matches
}

func (m *Matchmaker) start(first, second *session.Session, out Outbox) (Match, error) {
	engine := game.New(m.cfg)
	for _, s := range []*session.Session{first, second} {
		if _, err := engine.AddPlayer(s.ID(), s.Name()); err != nil {
			return Match{}, err
		}
	}

	if err := first.OnMatched(second.ID()); err != nil {
		return Match{}, err
	}
	if err := second.OnMatched(first.ID()); err != nil {
		return Match{}, err
	}

	active, _ := engine.Active()
	setup := []protocol.Frame{
		protocol.GameConfig(m.cfg.MaxPlayers, m.cfg.MaxMove, m.cfg.BoardSize),
		protocol.AddPlayer(first.ID(), first.Name()),
		protocol.AddPlayer(second.ID(), second.Name()),
		protocol.SetActivePlayer(active),
	}
	for _, f := range setup {
		out.Enqueue(first.ID(), f)
		out.Enqueue(second.ID(), f)
	}

	m.logger.Info().
		Str("first", first.Name()).
		Str("second", second.Name()).
		Uint8("active", uint8(active)).
		Msg("players matched")

	return Match{Engine: engine, Players: [2]protocol.PlayerID{first.ID(), second.ID()}}, nil
}
