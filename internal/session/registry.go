package session

import (
	"fmt"

	"github.com/energizer-project/stepgame/internal/protocol"
)

// MaxSessions is the most sessions a registry can hold; ids are one byte on the wire.
const MaxSessions = 256

// Registry owns every live session. Ids are slot indexes; the lowest free
// slot is reused when a session leaves. It is not safe for concurrent use.
type Registry struct {
	slots []*Session
	names map[string]protocol.PlayerID
	count int
}

// NewRegistry creates a registry holding at most capacity sessions.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 || capacity > MaxSessions {
		capacity = MaxSessions
	}
	return &Registry{
		slots: make([]*Session, capacity),
		names: make(map[string]protocol.PlayerID),
	}
}

// Add registers a new connection in the lowest free slot.
func (r *Registry) Add(remoteAddr string) (*Session, error) {
	for i, s := range r.slots {
		if s == nil {
			sess := newSession(protocol.PlayerID(i), remoteAddr)
			r.slots[i] = sess
			r.count++
			return sess, nil
		}
	}
	return nil, fmt.Errorf("%w (%d sessions)", ErrRegistryFull, len(r.slots))
}

// Get returns the live session with the given id.
func (r *Registry) Get(id protocol.PlayerID) (*Session, bool) {
	if int(id) >= len(r.slots) {
		return nil, false
	}
	s := r.slots[id]
	return s, s != nil
}

// SetName gives a session its display name. Names are unique among live sessions.
func (r *Registry) SetName(id protocol.PlayerID, name string) error {
	s, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("session %d: %w", id, ErrNotFound)
	}
	if owner, taken := r.names[name]; taken && owner != id {
		return fmt.Errorf("%q: %w", name, ErrNameTaken)
	}
	if err := s.OnNameReceived(name); err != nil {
		return err
	}
	r.names[name] = id
	return nil
}

// Remove closes the session and frees its slot and name.
func (r *Registry) Remove(id protocol.PlayerID) (*Session, bool) {
	s, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	if s.name != "" && r.names[s.name] == id {
		delete(r.names, s.name)
	}
	s.OnClosed()
	r.slots[id] = nil
	r.count--
	return s, true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int { return r.count }

// Cap returns the maximum number of sessions.
func (r *Registry) Cap() int { return len(r.slots) }

// Each calls fn for every live session in id order.
func (r *Registry) Each(fn func(*Session)) {
	for _, s := range r.slots {
		if s != nil {
			fn(s)
		}
	}
}

// CountByPhase returns how many sessions are in each phase.
func (r *Registry) CountByPhase() map[Phase]int {
	counts := make(map[Phase]int)
	r.Each(func(s *Session) { counts[s.phase]++ })
	return counts
}

// Infos returns a snapshot of every live session in id order.
func (r *Registry) Infos() []Info {
	out := make([]Info, 0, r.count)
	r.Each(func(s *Session) { out = append(out, s.Info()) })
	return out
}
