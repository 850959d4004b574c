package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/stepgame/internal/game"
	"github.com/energizer-project/stepgame/internal/protocol"
)

func startedEngine(t *testing.T, a, b protocol.PlayerID) *game.Engine {
	t.Helper()
	e := game.New(game.DefaultConfig())
	_, err := e.AddPlayer(a, "a")
	require.NoError(t, err)
	_, err = e.AddPlayer(b, "b")
	require.NoError(t, err)
	return e
}

func TestGameRegistry(t *testing.T) {
	r := NewGameRegistry()
	first := r.Add(startedEngine(t, 0, 1))
	second := r.Add(startedEngine(t, 2, 3))

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, r.Len())

	found, ok := r.FindByPlayer(3)
	require.True(t, ok)
	assert.Equal(t, second.ID, found.ID)

	_, ok = r.FindByPlayer(4)
	assert.False(t, ok)

	got, ok := r.Get(first.ID)
	require.True(t, ok)
	assert.Same(t, first, got)

	removed, ok := r.Remove(first.ID)
	require.True(t, ok)
	assert.Same(t, first, removed)
	_, ok = r.FindByPlayer(0)
	assert.False(t, ok)

	_, ok = r.Remove(first.ID)
	assert.False(t, ok)
	assert.Len(t, r.All(), 1)
}

func TestGameInfo(t *testing.T) {
	r := NewGameRegistry()
	g := r.Add(startedEngine(t, 4, 7))
	_, err := g.Engine.Move(4, 2)
	require.NoError(t, err)

	infos := r.Infos()

	require.Len(t, infos, 1)
	info := infos[0]
	assert.Equal(t, g.ID, info.ID)
	assert.Equal(t, game.PhaseWaitingOnMove, info.Phase)
	assert.Equal(t, 2, info.BoardLen)
	assert.Equal(t, []int{4, 4}, info.Board)
	assert.Equal(t, uint8(10), info.BoardSize)
	assert.Equal(t, 1, info.Round)
	require.NotNil(t, info.Active)
	assert.Equal(t, uint8(7), *info.Active)
}

func TestOutbox(t *testing.T) {
	o := NewOutbox(3)

	o.Enqueue(1, protocol.Welcome(1))
	o.Enqueue(2, protocol.Welcome(2))
	o.Enqueue(1, protocol.ServerUserName("one"))
	o.Enqueue(2, protocol.ServerUserName("two"))

	assert.Equal(t, 3, o.Len())
	assert.Equal(t, uint64(1), o.Dropped())

	assert.Equal(t, 2, o.Discard(1))
	items := o.Drain()
	require.Len(t, items, 1)
	assert.Equal(t, protocol.PlayerID(2), items[0].to)
	assert.Equal(t, protocol.MsgWelcome, items[0].frame.Type)
	assert.Equal(t, 0, o.Len())
	assert.Empty(t, o.Drain())
}

func TestOutboxDefaultLimit(t *testing.T) {
	o := NewOutbox(0)
	for i := 0; i < DefaultMaxQueuedFrames+1; i++ {
		o.Enqueue(0, protocol.EndGame())
	}
	assert.Equal(t, DefaultMaxQueuedFrames, o.Len())
	assert.Equal(t, uint64(1), o.Dropped())
}
