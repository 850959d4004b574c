// Package server runs the dispatcher: the single owner of every session,
// match and queued frame. Connection events go in, frames come out.
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/stepgame/internal/events"
	"github.com/energizer-project/stepgame/internal/game"
	"github.com/energizer-project/stepgame/internal/matchmaker"
	"github.com/energizer-project/stepgame/internal/network"
	"github.com/energizer-project/stepgame/internal/protocol"
	"github.com/energizer-project/stepgame/internal/session"
)

// ErrNoGame is returned for match messages from a player without a match.
var ErrNoGame = errors.New("player is not in a game")

// Config configures a Dispatcher.
type Config struct {
	Rules           game.Config
	MaxSessions     int
	MaxQueuedFrames int
}

// handlerFunc handles one decoded client message.
type handlerFunc func(s *session.Session, msg protocol.Message) error

// Dispatcher owns the session registry, the game registry, the outbound
// queue and the matchmaker. Only the goroutine running Run (or a test
// calling Step) touches them.
type Dispatcher struct {
	cfg Config

	sessions   *session.Registry
	games      *GameRegistry
	matchmaker *matchmaker.Matchmaker
	outbox     *Outbox

	conns  map[protocol.PlayerID]network.Conn
	byConn map[network.Conn]protocol.PlayerID

	handlers map[protocol.MessageType]handlerFunc
	queries  chan func()

	bus       *events.EventBus
	ctx       context.Context
	startedAt time.Time
	logger    zerolog.Logger
}

// NewDispatcher creates a dispatcher. bus may be nil.
func NewDispatcher(cfg Config, bus *events.EventBus) *Dispatcher {
	defaults := game.DefaultConfig()
	if cfg.Rules.MaxPlayers == 0 {
		cfg.Rules.MaxPlayers = defaults.MaxPlayers
	}
	if cfg.Rules.MaxMove == 0 {
		cfg.Rules.MaxMove = defaults.MaxMove
	}
	if cfg.Rules.BoardSize == 0 {
		cfg.Rules.BoardSize = defaults.BoardSize
	}
	if cfg.Rules.Rematch == "" {
		cfg.Rules.Rematch = defaults.Rematch
	}

	d := &Dispatcher{
		cfg:        cfg,
		sessions:   session.NewRegistry(cfg.MaxSessions),
		games:      NewGameRegistry(),
		matchmaker: matchmaker.New(cfg.Rules),
		outbox:     NewOutbox(cfg.MaxQueuedFrames),
		conns:      make(map[protocol.PlayerID]network.Conn),
		byConn:     make(map[network.Conn]protocol.PlayerID),
		queries:    make(chan func()),
		bus:        bus,
		ctx:        context.Background(),
		startedAt:  time.Now(),
		logger:     log.With().Str("component", "dispatcher").Logger(),
	}
	d.registerHandlers()
	return d
}

// registerHandlers builds the client message table.
func (d *Dispatcher) registerHandlers() {
	d.handlers = map[protocol.MessageType]handlerFunc{
		protocol.MsgSetName:     d.onSetName,
		protocol.MsgPlayerMove:  d.onPlayerMove,
		protocol.MsgRestartGame: d.onRestartGame,
		protocol.MsgEndGame:     d.onEndGame,
	}
}

// Run consumes connection events until ctx is cancelled or the channel is
// closed. Every event is followed by one maintenance cycle.
func (d *Dispatcher) Run(ctx context.Context, in <-chan network.Event) error {
	d.ctx = context.WithoutCancel(ctx)

	d.logger.Info().
		Int("max_sessions", d.sessions.Cap()).
		Uint8("max_move", d.cfg.Rules.MaxMove).
		Uint8("board_size", d.cfg.Rules.BoardSize).
		Str("rematch", string(d.cfg.Rules.Rematch)).
		Msg("dispatcher started")

	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return nil
		case ev, ok := <-in:
			if !ok {
				d.shutdown()
				return nil
			}
			d.Step(ev)
		case q := <-d.queries:
			q()
		}
	}
}

// Step handles one connection event and then runs the orphan sweep, the
// matchmaker and the flush, in that order.
func (d *Dispatcher) Step(ev network.Event) {
	switch ev.Kind {
	case network.EventAccepted:
		d.onAccepted(ev.Conn)
	case network.EventData:
		d.onData(ev.Conn, ev.Data)
	case network.EventClosed:
		d.onClosed(ev.Conn, ev.Err)
	default:
		d.logger.Warn().Int("kind", int(ev.Kind)).Msg("unknown connection event")
	}

	d.sweepOrphans()
	d.matchmake()
	d.flush()
}

// ---- Connection events ----

func (d *Dispatcher) onAccepted(conn network.Conn) {
	s, err := d.sessions.Add(conn.RemoteAddr())
	if err != nil {
		d.logger.Warn().Err(err).Str("remote", conn.RemoteAddr()).Msg("rejecting connection")
		conn.Close()
		return
	}

	d.conns[s.ID()] = conn
	d.byConn[conn] = s.ID()
	d.outbox.Enqueue(s.ID(), protocol.Welcome(s.ID()))

	d.logger.Info().
		Uint8("player_id", uint8(s.ID())).
		Str("remote", s.RemoteAddr()).
		Int("sessions", d.sessions.Len()).
		Msg("player connected")

	d.emit(events.EventPlayerConnected, events.PlayerPayload{
		Player:     playerRef(s),
		RemoteAddr: s.RemoteAddr(),
	})
}

func (d *Dispatcher) onData(conn network.Conn, data []byte) {
	id, ok := d.byConn[conn]
	if !ok {
		d.logger.Debug().Str("remote", conn.RemoteAddr()).Msg("data for unknown connection")
		return
	}
	s, ok := d.sessions.Get(id)
	if !ok {
		return
	}

	s.Feed(data)
	for s.Phase() != session.PhaseClosed {
		f, ok := s.NextFrame()
		if !ok {
			break
		}
		d.dispatch(s, f)
	}
}

func (d *Dispatcher) onClosed(conn network.Conn, cause error) {
	id, ok := d.byConn[conn]
	if !ok {
		return
	}
	delete(d.byConn, conn)
	delete(d.conns, id)

	s, ok := d.sessions.Get(id)
	if !ok {
		return
	}
	ref := playerRef(s)

	if g, ok := d.games.FindByPlayer(id); ok {
		d.endGame(g, events.EndReasonDisconnect, id)
	}
	d.matchmaker.Remove(id)
	d.outbox.Discard(id)
	d.sessions.Remove(id)
	conn.Close()

	logEvent := d.logger.Info()
	if cause != nil {
		logEvent = d.logger.Warn().Err(cause)
	}
	logEvent.
		Uint8("player_id", uint8(id)).
		Str("name", ref.Name).
		Int("sessions", d.sessions.Len()).
		Msg("player disconnected")

	d.emit(events.EventPlayerDisconnected, events.PlayerPayload{
		Player:     ref,
		RemoteAddr: s.RemoteAddr(),
	})
}

// ---- Message dispatch ----

func (d *Dispatcher) dispatch(s *session.Session, f protocol.Frame) {
	logger := d.logger.With().
		Uint8("player_id", uint8(s.ID())).
		Str("frame", f.String()).
		Logger()

	if !f.Type.FromClient() {
		if f.Type.Known() {
			logger.Warn().Msg("dropping server message sent by client")
		} else {
			logger.Warn().Err(protocol.ErrUnknownType).Msg("dropping frame")
		}
		return
	}

	if s.Phase() == session.PhaseConnected && f.Type != protocol.MsgSetName {
		logger.Debug().Msg("ignoring frame from unnamed player")
		return
	}

	msg, err := protocol.Parse(f)
	if err != nil {
		logger.Warn().Err(err).Msg("dropping malformed frame")
		return
	}

	handler, ok := d.handlers[f.Type]
	if !ok {
		logger.Warn().Msg("no handler for message")
		return
	}
	if err := handler(s, msg); err != nil {
		logger.Debug().Err(err).Msg("message rejected")
	}
}

func (d *Dispatcher) onSetName(s *session.Session, msg protocol.Message) error {
	name := msg.(protocol.SetNameMsg).Name

	if err := d.sessions.SetName(s.ID(), name); err != nil {
		return err
	}

	d.outbox.Enqueue(s.ID(), protocol.ServerUserName(name))
	d.matchmaker.Enqueue(s.ID())

	d.logger.Info().
		Uint8("player_id", uint8(s.ID())).
		Str("name", name).
		Msg("player named")

	d.emit(events.EventPlayerNamed, events.PlayerPayload{
		Player:     playerRef(s),
		RemoteAddr: s.RemoteAddr(),
	})
	return nil
}

func (d *Dispatcher) onPlayerMove(s *session.Session, msg protocol.Message) error {
	size := msg.(protocol.PlayerMoveMsg).Size

	g, ok := d.games.FindByPlayer(s.ID())
	if !ok {
		return ErrNoGame
	}

	phase, err := g.Engine.Move(s.ID(), size)
	if err != nil {
		return fmt.Errorf("move %d: %w", size, err)
	}

	d.broadcast(g, protocol.MovePlayer(s.ID(), size))
	d.emit(events.EventPlayerMoved, events.PlayerMovedPayload{
		MatchID:  g.ID,
		Player:   playerRef(s),
		Size:     size,
		BoardLen: g.Engine.BoardLen(),
		Round:    g.Engine.Round(),
	})

	if phase == game.PhaseGameOver {
		loser, _ := g.Engine.Loser()
		payload := events.GameOverPayload{
			MatchID:  g.ID,
			Loser:    events.PlayerRef{ID: uint8(loser.ID), Name: loser.Name},
			BoardLen: g.Engine.BoardLen(),
			Round:    g.Engine.Round(),
		}
		for _, w := range g.Engine.Winners() {
			payload.Winners = append(payload.Winners, events.PlayerRef{ID: uint8(w.ID), Name: w.Name})
		}

		d.logger.Info().
			Str("match_id", g.ID).
			Str("loser", loser.Name).
			Int("round", g.Engine.Round()).
			Msg("game over")
		d.emit(events.EventGameOver, payload)
	}
	return nil
}

func (d *Dispatcher) onRestartGame(s *session.Session, _ protocol.Message) error {
	g, ok := d.games.FindByPlayer(s.ID())
	if !ok {
		return ErrNoGame
	}

	phase, err := g.Engine.AddPlayer(s.ID(), s.Name())
	if err != nil {
		return fmt.Errorf("rematch vote: %w", err)
	}
	if phase != game.PhaseWaitingOnMove {
		d.logger.Debug().Str("match_id", g.ID).Str("name", s.Name()).Msg("rematch vote recorded")
		return nil
	}

	rules := g.Engine.Config()
	active, _ := g.Engine.Active()
	d.broadcast(g, protocol.GameConfig(rules.MaxPlayers, rules.MaxMove, rules.BoardSize))
	d.broadcast(g, protocol.SetActivePlayer(active))

	d.logger.Info().
		Str("match_id", g.ID).
		Int("round", g.Engine.Round()).
		Uint8("active", uint8(active)).
		Msg("rematch started")

	first, _ := d.sessions.Get(active)
	d.emit(events.EventRematchStarted, events.RematchPayload{
		MatchID:    g.ID,
		Round:      g.Engine.Round(),
		FirstMover: playerRef(first),
	})
	return nil
}

func (d *Dispatcher) onEndGame(s *session.Session, _ protocol.Message) error {
	g, ok := d.games.FindByPlayer(s.ID())
	if !ok {
		return ErrNoGame
	}
	d.endGame(g, events.EndReasonEndGame, s.ID())
	return nil
}

// endGame removes a match and tells every participant except leaver that
// their opponent is gone. The sweep returns them to the waiting pool.
func (d *Dispatcher) endGame(g *Game, reason events.EndReason, leaver protocol.PlayerID) {
	d.games.Remove(g.ID)
	for _, p := range g.Engine.Players() {
		if p.ID != leaver {
			d.outbox.Enqueue(p.ID, protocol.OpponentDisconnect())
		}
	}

	d.logger.Info().
		Str("match_id", g.ID).
		Str("reason", string(reason)).
		Int("rounds", g.Engine.Round()).
		Msg("match ended")

	d.emit(events.EventMatchEnded, events.MatchEndedPayload{
		MatchID: g.ID,
		Reason:  reason,
		Rounds:  g.Engine.Round(),
	})
}

func (d *Dispatcher) broadcast(g *Game, f protocol.Frame) {
	for _, p := range g.Engine.Players() {
		d.outbox.Enqueue(p.ID, f)
	}
}

// ---- Cycle ----

// sweepOrphans returns in-game sessions whose match is gone to the waiting pool.
func (d *Dispatcher) sweepOrphans() {
	d.sessions.Each(func(s *session.Session) {
		if s.Phase() != session.PhaseInGame {
			return
		}
		if _, ok := d.games.FindByPlayer(s.ID()); ok {
			return
		}
		if err := s.OnPartnerLeft(); err != nil {
			d.logger.Error().Err(err).Uint8("player_id", uint8(s.ID())).Msg("failed to reset orphan")
			return
		}
		d.matchmaker.Enqueue(s.ID())
		d.logger.Debug().Uint8("player_id", uint8(s.ID())).Str("name", s.Name()).Msg("orphaned player back in queue")
	})
}

func (d *Dispatcher) matchmake() {
	for _, m := range d.matchmaker.Pair(d.sessions, d.outbox) {
		g := d.games.Add(m.Engine)

		payload := events.MatchStartedPayload{
			MatchID:   g.ID,
			MaxMove:   d.cfg.Rules.MaxMove,
			BoardSize: d.cfg.Rules.BoardSize,
		}
		for _, id := range m.Players {
			if s, ok := d.sessions.Get(id); ok {
				payload.Players = append(payload.Players, playerRef(s))
			}
		}
		if active, ok := g.Engine.Active(); ok {
			if s, ok := d.sessions.Get(active); ok {
				payload.FirstMover = playerRef(s)
			}
		}

		d.logger.Info().Str("match_id", g.ID).Int("games", d.games.Len()).Msg("match started")
		d.emit(events.EventMatchStarted, payload)
	}
}

// flush attempts every queued frame exactly once, in order. Failed writes
// are logged and not retried; a full send buffer closes the connection and
// the resulting close event tears the session down.
func (d *Dispatcher) flush() {
	for _, item := range d.outbox.Drain() {
		conn, ok := d.conns[item.to]
		if !ok {
			d.logger.Debug().Uint8("player_id", uint8(item.to)).Str("frame", item.frame.String()).Msg("no connection for frame")
			continue
		}

		data, err := item.frame.Encode()
		if err != nil {
			d.logger.Error().Err(err).Str("frame", item.frame.String()).Msg("failed to encode frame")
			continue
		}

		if err := conn.Send(data); err != nil {
			d.logger.Warn().
				Err(err).
				Uint8("player_id", uint8(item.to)).
				Str("frame", item.frame.String()).
				Msg("failed to send frame")
			if errors.Is(err, network.ErrSendBufferFull) {
				conn.Close()
			}
		}
	}
}

// shutdown ends every match without notifying anyone.
func (d *Dispatcher) shutdown() {
	for _, g := range d.games.All() {
		d.games.Remove(g.ID)
		d.emit(events.EventMatchEnded, events.MatchEndedPayload{
			MatchID: g.ID,
			Reason:  events.EndReasonShutdown,
			Rounds:  g.Engine.Round(),
		})
	}
	d.logger.Info().Int("sessions", d.sessions.Len()).Msg("dispatcher stopped")
}

func (d *Dispatcher) emit(t events.EventType, payload interface{}) {
	if d.bus == nil {
		return
	}
	d.bus.Emit(d.ctx, events.Event{Type: t, Source: "dispatcher", Payload: payload})
}

func playerRef(s *session.Session) events.PlayerRef {
	if s == nil {
		return events.PlayerRef{}
	}
	return events.PlayerRef{ID: uint8(s.ID()), Name: s.Name()}
}

// ---- Snapshots ----

// Snapshot is a consistent read-only view of the dispatcher state.
type Snapshot struct {
	Sessions      []session.Info `json:"sessions"`
	Games         []GameInfo     `json:"games"`
	Waiting       []int          `json:"waiting"`
	Phases        map[string]int `json:"phases"`
	Capacity      int            `json:"capacity"`
	QueuedFrames  int            `json:"queued_frames"`
	DroppedFrames uint64         `json:"dropped_frames"`
	PendingSends  int            `json:"pending_sends"`
	Rules         SnapshotRules  `json:"rules"`
	StartedAt     time.Time      `json:"started_at"`
}

// SnapshotRules are the rules new matches start with.
type SnapshotRules struct {
	MaxMove   uint8              `json:"max_move"`
	BoardSize uint8              `json:"board_size"`
	Rematch   game.RematchPolicy `json:"rematch_policy"`
}

// Snapshot asks the running loop for a copy of its state. It blocks until
// Run picks the request up or ctx is done.
func (d *Dispatcher) Snapshot(ctx context.Context) (Snapshot, error) {
	result := make(chan Snapshot, 1)
	query := func() { result <- d.snapshot() }

	select {
	case d.queries <- query:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}

	select {
	case snap := <-result:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (d *Dispatcher) snapshot() Snapshot {
	phases := make(map[string]int)
	for phase, n := range d.sessions.CountByPhase() {
		phases[phase.String()] = n
	}
	waiting := make([]int, 0, d.matchmaker.Len())
	for _, id := range d.matchmaker.Waiting() {
		waiting = append(waiting, int(id))
	}
	pending := 0
	for _, conn := range d.conns {
		pending += conn.Pending()
	}
	return Snapshot{
		PendingSends:  pending,
		Sessions:      d.sessions.Infos(),
		Games:         d.games.Infos(),
		Waiting:       waiting,
		Phases:        phases,
		Capacity:      d.sessions.Cap(),
		QueuedFrames:  d.outbox.Len(),
		DroppedFrames: d.outbox.Dropped(),
		Rules: SnapshotRules{
			MaxMove:   d.cfg.Rules.MaxMove,
			BoardSize: d.cfg.Rules.BoardSize,
			Rematch:   d.cfg.Rules.Rematch,
		},
		StartedAt: d.startedAt,
	}
}
