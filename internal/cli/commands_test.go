package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/stepgame/internal/db"
	"github.com/energizer-project/stepgame/internal/events"
	"github.com/energizer-project/stepgame/internal/game"
	"github.com/energizer-project/stepgame/internal/protocol"
	"github.com/energizer-project/stepgame/internal/server"
	"github.com/energizer-project/stepgame/internal/session"
)

type fakeState struct {
	snap server.Snapshot
	err  error
}

func (f fakeState) Snapshot(context.Context) (server.Snapshot, error) { return f.snap, f.err }

type fakeHistory struct{}

func (fakeHistory) Recent(context.Context, int) ([]db.MatchRecord, error) {
	ended := time.Date(2024, 5, 1, 12, 5, 0, 0, time.UTC)
	return []db.MatchRecord{{
		ID:        "m1",
		Players:   [2]string{"alice", "bob"},
		StartedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		EndedAt:   &ended,
		EndReason: "end_game",
		Rounds:    3,
	}}, nil
}

func (fakeHistory) Leaderboard(context.Context, int) ([]db.Standing, error) {
	return []db.Standing{{Name: "alice", Wins: 2, Losses: 1}, {Name: "bob", Wins: 1, Losses: 2}}, nil
}

func snapshot() server.Snapshot {
	active := uint8(1)
	partner := protocol.PlayerID(1)
	return server.Snapshot{
		Sessions: []session.Info{{ID: 0, Name: "alice", Partner: &partner, RemoteAddr: "10.0.0.1:4000"}},
		Games: []server.GameInfo{{
			ID:        "game-1",
			Players:   []game.Player{{ID: 0, Name: "alice"}, {ID: 1, Name: "bob"}},
			Phase:     game.PhaseWaitingOnMove,
			Round:     1,
			BoardLen:  4,
			BoardSize: 10,
			MaxMove:   3,
			Active:    &active,
		}},
		Capacity:     256,
		PendingSends: 2,
		Rules:        server.SnapshotRules{MaxMove: 3, BoardSize: 10, Rematch: game.RematchLoserStarts},
		StartedAt:    time.Now(),
	}
}

func run(t *testing.T, c *CLI, input string) string {
	t.Helper()
	out := c.out.(*bytes.Buffer)
	c.Start(context.Background(), strings.NewReader(input))
	return out.String()
}

func TestStatusAndTables(t *testing.T) {
	c := NewCLI(fakeState{snap: snapshot()}, fakeHistory{}, nil, &bytes.Buffer{})

	out := run(t, c, "status\nsessions\ngames\ngames game-1\n")

	assert.Contains(t, out, "Sessions:      1 / 256")
	assert.Contains(t, out, "rematch loser")
	assert.Contains(t, out, "Pending sends: 2")
	assert.Contains(t, out, "alice vs bob")
	assert.Contains(t, out, "4/10")
	assert.Contains(t, out, "Active:   bob")
	assert.Contains(t, out, "10.0.0.1:4000")
}

func TestHistoryAndLeaderboard(t *testing.T) {
	c := NewCLI(fakeState{}, fakeHistory{}, nil, &bytes.Buffer{})

	out := run(t, c, "history 5\nleaderboard\n")

	assert.Contains(t, out, "m1")
	assert.Contains(t, out, "2024-05-01 12:05:00 (end_game)")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "NAME")
}

func TestHistoryDisabled(t *testing.T) {
	c := NewCLI(fakeState{}, nil, nil, &bytes.Buffer{})

	out := run(t, c, "history\nleaderboard\n")

	assert.Equal(t, 2, strings.Count(out, "Error: match history is disabled"))
}

func TestErrorsAndUnknownCommands(t *testing.T) {
	c := NewCLI(fakeState{err: errors.New("dispatcher stopped")}, fakeHistory{}, nil, &bytes.Buffer{})

	out := run(t, c, "status\nfrobnicate\nhistory zero\ngames missing\n")

	assert.Contains(t, out, "Error: dispatcher stopped")
	assert.Contains(t, out, "Unknown command: 'frobnicate'")
	assert.Contains(t, out, "Error: invalid count: zero")
}

func TestQuitEmitsShutdown(t *testing.T) {
	bus := events.NewEventBus()
	got := make(chan events.Event, 1)
	bus.Subscribe(events.EventShutdown, "test", func(_ context.Context, e events.Event) error {
		got <- e
		return nil
	})
	c := NewCLI(fakeState{}, nil, bus, &bytes.Buffer{})

	// When: the operator quits, later lines are not executed
	out := run(t, c, "quit\nfrobnicate\n")

	assert.NotContains(t, out, "frobnicate")
	select {
	case e := <-got:
		assert.Equal(t, "cli", e.Source)
	case <-time.After(time.Second):
		require.Fail(t, "shutdown event not published")
	}
}
