// Package events defines the game lifecycle events published by the
// dispatcher and consumed by storage, telemetry and the spectator feed.
package events

import "time"

// EventType identifies an event published through the EventBus.
type EventType string

const (
	// Connection events
	EventPlayerConnected    EventType = "player_connected"
	EventPlayerNamed        EventType = "player_named"
	EventPlayerDisconnected EventType = "player_disconnected"

	// Match events
	EventMatchStarted   EventType = "match_started"
	EventPlayerMoved    EventType = "player_moved"
	EventGameOver       EventType = "game_over"
	EventRematchStarted EventType = "rematch_started"
	EventMatchEnded     EventType = "match_ended"

	// System events
	EventServerStatus EventType = "server_status"
	EventShutdown     EventType = "shutdown"
)

// AllTypes lists every event type, in publication order of a typical match.
var AllTypes = []EventType{
	EventPlayerConnected,
	EventPlayerNamed,
	EventMatchStarted,
	EventPlayerMoved,
	EventGameOver,
	EventRematchStarted,
	EventMatchEnded,
	EventPlayerDisconnected,
	EventServerStatus,
	EventShutdown,
}

// EndReason explains why a match was removed.
type EndReason string

const (
	EndReasonDisconnect EndReason = "disconnect"
	EndReasonEndGame    EndReason = "end_game"
	EndReasonShutdown   EndReason = "shutdown"
)

// Event is the envelope published through the EventBus.
type Event struct {
	Type    EventType   `json:"type"`
	Source  string      `json:"source"`
	Time    time.Time   `json:"time"`
	Payload interface{} `json:"payload,omitempty"`
}

// PlayerRef identifies a player inside payloads.
type PlayerRef struct {
	ID   uint8  `json:"id"`
	Name string `json:"name"`
}

// PlayerPayload is carried by connection events.
type PlayerPayload struct {
	Player     PlayerRef `json:"player"`
	RemoteAddr string    `json:"remote_addr"`
}

// MatchStartedPayload is carried by EventMatchStarted.
type MatchStartedPayload struct {
	MatchID    string      `json:"match_id"`
	Players    []PlayerRef `json:"players"`
	MaxMove    uint8       `json:"max_move"`
	BoardSize  uint8       `json:"board_size"`
	FirstMover PlayerRef   `json:"first_mover"`
}

// PlayerMovedPayload is carried by EventPlayerMoved.
type PlayerMovedPayload struct {
	MatchID  string    `json:"match_id"`
	Player   PlayerRef `json:"player"`
	Size     uint8     `json:"size"`
	BoardLen int       `json:"board_len"`
	Round    int       `json:"round"`
}

// GameOverPayload is carried by EventGameOver.
type GameOverPayload struct {
	MatchID  string      `json:"match_id"`
	Loser    PlayerRef   `json:"loser"`
	Winners  []PlayerRef `json:"winners"`
	BoardLen int         `json:"board_len"`
	Round    int         `json:"round"`
}

// RematchPayload is carried by EventRematchStarted.
type RematchPayload struct {
	MatchID    string    `json:"match_id"`
	Round      int       `json:"round"`
	FirstMover PlayerRef `json:"first_mover"`
}

// MatchEndedPayload is carried by EventMatchEnded.
type MatchEndedPayload struct {
	MatchID string    `json:"match_id"`
	Reason  EndReason `json:"reason"`
	Rounds  int       `json:"rounds"`
}

// ServerStatusPayload is the periodic heartbeat.
type ServerStatusPayload struct {
	Sessions      int     `json:"sessions"`
	Waiting       int     `json:"waiting"`
	Games         int     `json:"games"`
	QueuedFrames  int     `json:"queued_frames"`
	PendingSends  int     `json:"pending_sends"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}
