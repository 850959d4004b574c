package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/stepgame/internal/protocol"
)

func TestSessionTransitions(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		s := newSession(0, "127.0.0.1:5000")
		assert.Equal(t, PhaseConnected, s.Phase())

		require.NoError(t, s.OnNameReceived("alice"))
		assert.Equal(t, PhaseWaitingForOpponent, s.Phase())
		assert.Equal(t, "alice", s.Name())

		require.NoError(t, s.OnMatched(1))
		partner, ok := s.Partner()
		require.True(t, ok)
		assert.Equal(t, protocol.PlayerID(1), partner)

		require.NoError(t, s.OnPartnerLeft())
		assert.Equal(t, PhaseWaitingForOpponent, s.Phase())
		_, ok = s.Partner()
		assert.False(t, ok)

		s.OnClosed()
		assert.Equal(t, PhaseClosed, s.Phase())
	})

	invalid := []struct {
		name string
		from func(*Session)
		run  func(*Session) error
	}{
		{
			name: "second name",
			from: func(s *Session) { _ = s.OnNameReceived("alice") },
			run:  func(s *Session) error { return s.OnNameReceived("again") },
		},
		{
			name: "match before naming",
			from: func(*Session) {},
			run:  func(s *Session) error { return s.OnMatched(1) },
		},
		{
			name: "match with itself",
			from: func(s *Session) { _ = s.OnNameReceived("alice") },
			run:  func(s *Session) error { return s.OnMatched(0) },
		},
		{
			name: "partner left while waiting",
			from: func(s *Session) { _ = s.OnNameReceived("alice") },
			run:  func(s *Session) error { return s.OnPartnerLeft() },
		},
		{
			name: "name after close",
			from: func(s *Session) { s.OnClosed() },
			run:  func(s *Session) error { return s.OnNameReceived("alice") },
		},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a session in some phase
			s := newSession(0, "")
			tt.from(s)
			before := s.Info()

			// When: an illegal transition is attempted
			err := tt.run(s)

			// Then: it is refused and nothing changes
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, before, s.Info())
		})
	}
}

func TestSessionReassembly(t *testing.T) {
	s := newSession(0, "")
	raw, err := protocol.SetName("bob").Encode()
	require.NoError(t, err)

	s.Feed(raw[:3])
	_, ok := s.NextFrame()
	assert.False(t, ok)
	assert.Equal(t, 3, s.Buffered())

	s.Feed(raw[3:])
	frame, ok := s.NextFrame()
	require.True(t, ok)
	assert.Equal(t, protocol.SetName("bob"), frame)
}

func TestRegistry(t *testing.T) {
	t.Run("assigns the lowest free slot", func(t *testing.T) {
		r := NewRegistry(4)
		a, err := r.Add("a")
		require.NoError(t, err)
		b, err := r.Add("b")
		require.NoError(t, err)
		assert.Equal(t, protocol.PlayerID(0), a.ID())
		assert.Equal(t, protocol.PlayerID(1), b.ID())

		_, ok := r.Remove(a.ID())
		require.True(t, ok)
		assert.Equal(t, PhaseClosed, a.Phase())

		c, err := r.Add("c")
		require.NoError(t, err)
		assert.Equal(t, protocol.PlayerID(0), c.ID())
		assert.Equal(t, 2, r.Len())
	})

	t.Run("refuses sessions beyond capacity", func(t *testing.T) {
		r := NewRegistry(1)
		_, err := r.Add("a")
		require.NoError(t, err)

		_, err = r.Add("b")

		assert.ErrorIs(t, err, ErrRegistryFull)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("capacity is capped by the id width", func(t *testing.T) {
		assert.Equal(t, MaxSessions, NewRegistry(10_000).Cap())
		assert.Equal(t, MaxSessions, NewRegistry(0).Cap())
	})

	t.Run("names are unique among live sessions", func(t *testing.T) {
		// Given: alice is connected
		r := NewRegistry(4)
		a, _ := r.Add("a")
		b, _ := r.Add("b")
		require.NoError(t, r.SetName(a.ID(), "alice"))

		// When: another session asks for the same name
		err := r.SetName(b.ID(), "alice")

		// Then: it is refused and the session stays unnamed
		assert.ErrorIs(t, err, ErrNameTaken)
		assert.Equal(t, PhaseConnected, b.Phase())

		// And: the name is released once alice leaves
		r.Remove(a.ID())
		require.NoError(t, r.SetName(b.ID(), "alice"))
	})

	t.Run("unknown ids", func(t *testing.T) {
		r := NewRegistry(2)
		_, ok := r.Get(200)
		assert.False(t, ok)
		assert.ErrorIs(t, r.SetName(1, "x"), ErrNotFound)
		_, ok = r.Remove(1)
		assert.False(t, ok)
	})

	t.Run("reports in id order", func(t *testing.T) {
		r := NewRegistry(4)
		for _, addr := range []string{"a", "b", "c"} {
			_, err := r.Add(addr)
			require.NoError(t, err)
		}
		require.NoError(t, r.SetName(1, "bob"))

		infos := r.Infos()
		require.Len(t, infos, 3)
		assert.Equal(t, []string{"a", "b", "c"}, []string{infos[0].RemoteAddr, infos[1].RemoteAddr, infos[2].RemoteAddr})
		assert.Equal(t, map[Phase]int{PhaseConnected: 2, PhaseWaitingForOpponent: 1}, r.CountByPhase())
	})
}
