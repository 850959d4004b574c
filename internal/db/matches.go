package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/stepgame/internal/events"
)

// MatchStore records match history. Event handlers may run in any order,
// so every write is an upsert keyed by match id.
type MatchStore struct {
	db     *Database
	logger zerolog.Logger
}

// MatchRecord is one row of match history.
type MatchRecord struct {
	ID        string     `json:"id"`
	Players   [2]string  `json:"players"`
	MaxMove   int        `json:"max_move"`
	BoardSize int        `json:"board_size"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
	Rounds    int        `json:"rounds"`
}

// Standing is one leaderboard line.
type Standing struct {
	Name   string `json:"name"`
	Wins   int    `json:"wins"`
	Losses int    `json:"losses"`
}

// NewMatchStore opens the database at path and creates the schema.
func NewMatchStore(path string) (*MatchStore, error) {
	database, err := NewDatabase(path)
	if err != nil {
		return nil, err
	}

	store := &MatchStore{
		db:     database,
		logger: log.With().Str("component", "match_store").Logger(),
	}
	if err := store.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate match database: %w", err)
	}
	return store, nil
}

func (s *MatchStore) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS matches (
			id TEXT PRIMARY KEY,
			player_one TEXT NOT NULL DEFAULT '',
			player_two TEXT NOT NULL DEFAULT '',
			max_move INTEGER NOT NULL DEFAULT 0,
			board_size INTEGER NOT NULL DEFAULT 0,
			started_at INTEGER NOT NULL DEFAULT 0,
			ended_at INTEGER,
			end_reason TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS rounds (
			match_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			loser_name TEXT NOT NULL,
			winner_name TEXT NOT NULL,
			board_len INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			PRIMARY KEY (match_id, round)
		);

		CREATE INDEX IF NOT EXISTS idx_matches_started ON matches(started_at DESC);
	`
	_, err := s.db.Exec(ctx, schema)
	return err
}

// Close closes the underlying database.
func (s *MatchStore) Close() error {
	return s.db.Close()
}

// RecordStart stores a new match.
func (s *MatchStore) RecordStart(ctx context.Context, at time.Time, p events.MatchStartedPayload) error {
	var one, two string
	if len(p.Players) > 0 {
		one = p.Players[0].Name
	}
	if len(p.Players) > 1 {
		two = p.Players[1].Name
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO matches (id, player_one, player_two, max_move, board_size, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			player_one = excluded.player_one,
			player_two = excluded.player_two,
			max_move = excluded.max_move,
			board_size = excluded.board_size,
			started_at = excluded.started_at`,
		p.MatchID, one, two, p.MaxMove, p.BoardSize, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record match start: %w", err)
	}
	return nil
}

// RecordRound stores the result of one finished round.
func (s *MatchStore) RecordRound(ctx context.Context, at time.Time, p events.GameOverPayload) error {
	var winner string
	if len(p.Winners) > 0 {
		winner = p.Winners[0].Name
	}

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO matches (id) VALUES (?) ON CONFLICT(id) DO NOTHING`, p.MatchID); err != nil {
			return fmt.Errorf("failed to ensure match row: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rounds (match_id, round, loser_name, winner_name, board_len, finished_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(match_id, round) DO NOTHING`,
			p.MatchID, p.Round, p.Loser.Name, winner, p.BoardLen, at.UnixMilli()); err != nil {
			return fmt.Errorf("failed to record round: %w", err)
		}
		return nil
	})
}

// RecordEnd marks a match as finished.
func (s *MatchStore) RecordEnd(ctx context.Context, at time.Time, p events.MatchEndedPayload) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO matches (id, ended_at, end_reason) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET ended_at = excluded.ended_at, end_reason = excluded.end_reason`,
		p.MatchID, at.UnixMilli(), string(p.Reason))
	if err != nil {
		return fmt.Errorf("failed to record match end: %w", err)
	}
	return nil
}

// Recent returns the latest matches, newest first.
func (s *MatchStore) Recent(ctx context.Context, limit int) ([]MatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(ctx, `
		SELECT m.id, m.player_one, m.player_two, m.max_move, m.board_size, m.started_at,
			m.ended_at, m.end_reason, COUNT(r.round)
		FROM matches m
		LEFT JOIN rounds r ON r.match_id = m.id
		GROUP BY m.id
		ORDER BY m.started_at DESC, m.id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()

	var out []MatchRecord
	for rows.Next() {
		var (
			rec     MatchRecord
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.Players[0], &rec.Players[1], &rec.MaxMove, &rec.BoardSize,
			&started, &ended, &rec.EndReason, &rec.Rounds); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		rec.StartedAt = time.UnixMilli(started)
		if ended.Valid {
			t := time.UnixMilli(ended.Int64)
			rec.EndedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Leaderboard ranks players by rounds won.
func (s *MatchStore) Leaderboard(ctx context.Context, limit int) ([]Standing, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(ctx, `
		SELECT name, SUM(wins) AS wins, SUM(losses) AS losses FROM (
			SELECT winner_name AS name, 1 AS wins, 0 AS losses FROM rounds WHERE winner_name != ''
			UNION ALL
			SELECT loser_name AS name, 0 AS wins, 1 AS losses FROM rounds
		)
		GROUP BY name
		ORDER BY wins DESC, losses ASC, name ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []Standing
	for rows.Next() {
		var st Standing
		if err := rows.Scan(&st.Name, &st.Wins, &st.Losses); err != nil {
			return nil, fmt.Errorf("failed to scan standing: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Prune deletes finished matches that ended before cutoff, with their
// rounds. Matches still in progress are kept. It returns the number of
// matches removed.
func (s *MatchStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		before := cutoff.UnixMilli()
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM rounds WHERE match_id IN (
				SELECT id FROM matches WHERE ended_at IS NOT NULL AND ended_at < ?
			)`, before); err != nil {
			return fmt.Errorf("failed to prune rounds: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM matches WHERE ended_at IS NOT NULL AND ended_at < ?`, before)
		if err != nil {
			return fmt.Errorf("failed to prune matches: %w", err)
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

// Attach subscribes the store to match events on the bus.
func (s *MatchStore) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventMatchStarted, "match_store", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.MatchStartedPayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Payload)
		}
		return s.RecordStart(ctx, e.Time, p)
	})

	bus.Subscribe(events.EventGameOver, "match_store", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.GameOverPayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Payload)
		}
		return s.RecordRound(ctx, e.Time, p)
	})

	bus.Subscribe(events.EventMatchEnded, "match_store", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.MatchEndedPayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Payload)
		}
		return s.RecordEnd(ctx, e.Time, p)
	})

	s.logger.Debug().Msg("match store subscribed to events")
}
