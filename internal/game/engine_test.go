package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/stepgame/internal/protocol"
)

const (
	alice protocol.PlayerID = 0
	bob   protocol.PlayerID = 1
)

func startedGame(t *testing.T, cfg Config) *Engine {
	t.Helper()

	e := New(cfg)
	phase, err := e.AddPlayer(alice, "alice")
	require.NoError(t, err)
	require.Equal(t, PhaseWaitingForPlayers, phase)

	phase, err = e.AddPlayer(bob, "bob")
	require.NoError(t, err)
	require.Equal(t, PhaseWaitingOnMove, phase)
	return e
}

func TestAddPlayer(t *testing.T) {
	t.Run("starts once the game is full", func(t *testing.T) {
		// Given: a fresh engine
		e := New(DefaultConfig())
		_, ok := e.Active()
		assert.False(t, ok)

		// When: both players join
		e = startedGame(t, DefaultConfig())

		// Then: the first joiner is active
		active, ok := e.Active()
		require.True(t, ok)
		assert.Equal(t, alice, active)
		assert.Equal(t, 1, e.Round())
		assert.Equal(t, []Player{{alice, "alice"}, {bob, "bob"}}, e.Players())
	})

	t.Run("a third player is refused", func(t *testing.T) {
		e := startedGame(t, DefaultConfig())

		phase, err := e.AddPlayer(7, "carol")

		assert.ErrorIs(t, err, ErrGameFull)
		assert.Equal(t, PhaseWaitingOnMove, phase)
		assert.Len(t, e.Players(), 2)
	})

	t.Run("the same player cannot join twice", func(t *testing.T) {
		e := New(DefaultConfig())
		_, err := e.AddPlayer(alice, "alice")
		require.NoError(t, err)

		_, err = e.AddPlayer(alice, "alice")

		assert.ErrorIs(t, err, ErrDuplicate)
		assert.Equal(t, PhaseWaitingForPlayers, e.Phase())
	})

	t.Run("moves are ignored while waiting for players", func(t *testing.T) {
		e := New(DefaultConfig())
		_, err := e.AddPlayer(alice, "alice")
		require.NoError(t, err)

		_, err = e.Move(alice, 1)

		assert.ErrorIs(t, err, ErrWrongPhase)
		assert.Zero(t, e.BoardLen())
	})
}

func TestMove(t *testing.T) {
	t.Run("legal moves grow the board and pass the turn", func(t *testing.T) {
		for m := uint8(1); m <= 3; m++ {
			// Given: a fresh round
			e := startedGame(t, DefaultConfig())

			// When: the active player moves m steps
			phase, err := e.Move(alice, m)

			// Then: the board grows by exactly m and bob is active
			require.NoError(t, err)
			assert.Equal(t, PhaseWaitingOnMove, phase)
			assert.Equal(t, int(m), e.BoardLen())
			active, _ := e.Active()
			assert.Equal(t, bob, active)
		}
	})

	t.Run("the turn wraps around", func(t *testing.T) {
		e := startedGame(t, DefaultConfig())

		_, err := e.Move(alice, 1)
		require.NoError(t, err)
		_, err = e.Move(bob, 1)
		require.NoError(t, err)

		active, _ := e.Active()
		assert.Equal(t, alice, active)
		assert.Equal(t, []protocol.PlayerID{alice, bob}, e.Board())
	})

	rejected := []struct {
		name string
		id   protocol.PlayerID
		size uint8
		want error
	}{
		{"non-active player", bob, 1, ErrNotActive},
		{"zero size", alice, 0, ErrInvalidMove},
		{"above max move", alice, 4, ErrInvalidMove},
		{"stranger", 9, 1, ErrUnknownPlayer},
	}
	for _, tt := range rejected {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			e := startedGame(t, DefaultConfig())

			phase, err := e.Move(tt.id, tt.size)

			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, PhaseWaitingOnMove, phase)
			assert.Zero(t, e.BoardLen())
			active, _ := e.Active()
			assert.Equal(t, alice, active)
		})
	}
}

func TestGameOver(t *testing.T) {
	// Given: alice and bob alternate three-step moves on a board of ten
	e := startedGame(t, DefaultConfig())
	moves := []protocol.PlayerID{alice, bob, alice}
	for _, id := range moves {
		phase, err := e.Move(id, 3)
		require.NoError(t, err)
		require.Equal(t, PhaseWaitingOnMove, phase)
	}
	require.Equal(t, 9, e.BoardLen())

	// When: bob reaches the threshold
	phase, err := e.Move(bob, 1)

	// Then: bob loses and the board is frozen
	require.NoError(t, err)
	assert.Equal(t, PhaseGameOver, phase)
	loser, ok := e.Loser()
	require.True(t, ok)
	assert.Equal(t, bob, loser.ID)
	assert.Equal(t, []Player{{alice, "alice"}}, e.Winners())

	_, err = e.Move(alice, 1)
	assert.ErrorIs(t, err, ErrWrongPhase)
	assert.Equal(t, 10, e.BoardLen())
	assert.ErrorIs(t, e.SetActivePlayer(alice), ErrWrongPhase)
}

func TestOvershootStillEndsTheGame(t *testing.T) {
	e := startedGame(t, Config{MaxPlayers: 2, MaxMove: 3, BoardSize: 2})

	phase, err := e.Move(alice, 3)

	require.NoError(t, err)
	assert.Equal(t, PhaseGameOver, phase)
	assert.Equal(t, 3, e.BoardLen())
}

func finishedGame(t *testing.T, policy RematchPolicy) *Engine {
	t.Helper()

	e := startedGame(t, Config{MaxPlayers: 2, MaxMove: 3, BoardSize: 4, Rematch: policy})
	_, err := e.Move(alice, 3)
	require.NoError(t, err)
	phase, err := e.Move(bob, 1)
	require.NoError(t, err)
	require.Equal(t, PhaseGameOver, phase)
	return e
}

func TestRematch(t *testing.T) {
	t.Run("needs every vote", func(t *testing.T) {
		e := finishedGame(t, RematchLoserStarts)

		phase, err := e.AddPlayer(alice, "alice")
		require.NoError(t, err)
		assert.Equal(t, PhaseGameOver, phase)
		assert.Equal(t, 1, e.Votes())

		_, err = e.AddPlayer(alice, "alice")
		assert.ErrorIs(t, err, ErrAlreadyVoted)

		_, err = e.AddPlayer(9, "mallory")
		assert.ErrorIs(t, err, ErrUnknownPlayer)

		phase, err = e.AddPlayer(bob, "bob")
		require.NoError(t, err)
		assert.Equal(t, PhaseWaitingOnMove, phase)
		assert.Zero(t, e.BoardLen())
		assert.Zero(t, e.Votes())
		assert.Equal(t, 2, e.Round())
		_, ok := e.Loser()
		assert.False(t, ok)
	})

	policies := []struct {
		policy RematchPolicy
		want   protocol.PlayerID
	}{
		{RematchLoserStarts, bob},
		{RematchWinnerStarts, alice},
		{RematchFirstJoinerStarts, alice},
	}
	for _, tt := range policies {
		t.Run("policy "+string(tt.policy), func(t *testing.T) {
			// Given: bob lost the previous round
			e := finishedGame(t, tt.policy)

			// When: both players vote
			_, err := e.AddPlayer(bob, "bob")
			require.NoError(t, err)
			_, err = e.AddPlayer(alice, "alice")
			require.NoError(t, err)

			// Then: the policy picks who starts
			active, _ := e.Active()
			assert.Equal(t, tt.want, active)
		})
	}

	t.Run("unknown policy falls back to loser", func(t *testing.T) {
		e := New(Config{MaxPlayers: 2, MaxMove: 3, BoardSize: 10, Rematch: "coin"})
		assert.Equal(t, RematchLoserStarts, e.Config().Rematch)
	})
}

func TestSetActivePlayer(t *testing.T) {
	t.Run("allowed before the first move", func(t *testing.T) {
		e := startedGame(t, DefaultConfig())

		require.NoError(t, e.SetActivePlayer(bob))

		active, _ := e.Active()
		assert.Equal(t, bob, active)
	})

	t.Run("refused once the board has moves", func(t *testing.T) {
		e := startedGame(t, DefaultConfig())
		_, err := e.Move(alice, 1)
		require.NoError(t, err)

		err = e.SetActivePlayer(alice)

		assert.ErrorIs(t, err, ErrBoardNotEmpty)
		active, _ := e.Active()
		assert.Equal(t, bob, active)
	})

	t.Run("refused for strangers", func(t *testing.T) {
		e := startedGame(t, DefaultConfig())
		assert.ErrorIs(t, e.SetActivePlayer(9), ErrUnknownPlayer)
	})
}

func TestOpponent(t *testing.T) {
	e := startedGame(t, DefaultConfig())

	other, ok := e.Opponent(alice)
	require.True(t, ok)
	assert.Equal(t, bob, other)

	_, ok = e.Opponent(9)
	assert.False(t, ok)
	assert.True(t, e.Has(bob))
}
