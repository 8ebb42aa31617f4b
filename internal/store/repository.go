// Package store persists finished games.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// GameRecord is one finished game from the bot's point of view.
type GameRecord struct {
	GameID         string
	Color          string
	Me             string
	Opponent       string
	OpponentRating int
	TimeControl    string
	Rated          bool
	Status         string
	Winner         string
	Outcome        string
	Opening        string
	MovesUCI       []string
	MovesSAN       []string
	StartedAt      time.Time
	EndedAt        time.Time
}

// Recorder is what sessions save results through.
type Recorder interface {
	SaveResult(ctx context.Context, g GameRecord) error
}

const schema = `CREATE TABLE IF NOT EXISTS bot_games (
    game_id        TEXT PRIMARY KEY,
    color          TEXT NOT NULL,
    opponent       TEXT NOT NULL,
    opponent_elo   INTEGER NOT NULL DEFAULT 0,
    time_control   TEXT NOT NULL,
    rated          BOOLEAN NOT NULL DEFAULT FALSE,
    status         TEXT NOT NULL,
    winner         TEXT NOT NULL,
    outcome        TEXT NOT NULL,
    moves_uci      JSONB NOT NULL,
    pgn            TEXT NOT NULL,
    started_at     TIMESTAMPTZ,
    ended_at       TIMESTAMPTZ,
    duration_ms    BIGINT NOT NULL DEFAULT 0
)`

type Repository struct {
	db *sql.DB
}

func NewRepository(ctx context.Context, databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := db.ExecContext(pctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bot_games: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts g into bot_games.
func (r *Repository) SaveResult(ctx context.Context, g GameRecord) error {
	if r == nil || r.db == nil {
		return nil
	}
	movesRaw, err := json.Marshal(g.MovesUCI)
	if err != nil {
		return err
	}
	duration := g.EndedAt.Sub(g.StartedAt).Milliseconds()
	if duration < 0 || g.StartedAt.IsZero() {
		duration = 0
	}

	q := `INSERT INTO bot_games (
        game_id, color, opponent, opponent_elo, time_control, rated,
        status, winner, outcome, moves_uci, pgn,
        started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
      ) ON CONFLICT (game_id) DO UPDATE SET
        color=EXCLUDED.color,
        opponent=EXCLUDED.opponent,
        opponent_elo=EXCLUDED.opponent_elo,
        time_control=EXCLUDED.time_control,
        rated=EXCLUDED.rated,
        status=EXCLUDED.status,
        winner=EXCLUDED.winner,
        outcome=EXCLUDED.outcome,
        moves_uci=EXCLUDED.moves_uci,
        pgn=EXCLUDED.pgn,
        started_at=EXCLUDED.started_at,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

	_, err = r.db.ExecContext(ctx, q,
		g.GameID, g.Color, g.Opponent, g.OpponentRating, g.TimeControl, g.Rated,
		g.Status, g.Winner, g.Outcome, string(movesRaw), BuildPGN(g),
		nullTime(g.StartedAt), nullTime(g.EndedAt), duration,
	)
	return err
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// MemoryRepository keeps records in memory, for tests and runs without a
// database.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]GameRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]GameRecord)}
}

func (m *MemoryRepository) SaveResult(_ context.Context, g GameRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[g.GameID] = g
	return nil
}

func (m *MemoryRepository) Get(gameID string) (GameRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.records[gameID]
	return g, ok
}

func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
