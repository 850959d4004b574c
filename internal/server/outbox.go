package server

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/stepgame/internal/protocol"
)

// DefaultMaxQueuedFrames bounds the outbound queue when no limit is configured.
const DefaultMaxQueuedFrames = 4096

// outbound is one frame addressed to one player.
type outbound struct {
	to    protocol.PlayerID
	frame protocol.Frame
}

// Outbox is the dispatcher's outbound queue. Frames are kept in enqueue
// order; once the limit is reached new frames are dropped.
type Outbox struct {
	items   []outbound
	limit   int
	dropped uint64
	logger  zerolog.Logger
}

// NewOutbox creates a queue holding at most limit frames.
func NewOutbox(limit int) *Outbox {
	if limit <= 0 {
		limit = DefaultMaxQueuedFrames
	}
	return &Outbox{
		limit:  limit,
		logger: log.With().Str("component", "outbox").Logger(),
	}
}

// Enqueue appends a frame for a player.
func (o *Outbox) Enqueue(to protocol.PlayerID, f protocol.Frame) {
	if len(o.items) >= o.limit {
		o.dropped++
		o.logger.Warn().
			Uint8("player_id", uint8(to)).
			Str("frame", f.String()).
			Int("limit", o.limit).
			Msg("outbound queue full, dropping frame")
		return
	}
	o.items = append(o.items, outbound{to: to, frame: f})
}

// Discard removes every queued frame addressed to a player.
func (o *Outbox) Discard(to protocol.PlayerID) int {
	kept := o.items[:0]
	for _, item := range o.items {
		if item.to != to {
			kept = append(kept, item)
		}
	}
	n := len(o.items) - len(kept)
	o.items = kept
	return n
}

// Drain returns the queued frames in order and empties the queue.
func (o *Outbox) Drain() []outbound {
	items := o.items
	o.items = nil
	return items
}

// Len returns the number of queued frames.
func (o *Outbox) Len() int { return len(o.items) }

// Dropped returns how many frames were refused since start.
func (o *Outbox) Dropped() uint64 { return o.dropped }
