package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/game-lobby/internal/game"
)

// PostgresStore archives games and answers historical queries
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dbURL and creates the schema
func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error pinging database: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL database")
	return store, nil
}

// initSchema creates the necessary tables
func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS games (
			id TEXT PRIMARY KEY,
			game_type TEXT NOT NULL,
			status TEXT NOT NULL,
			creator TEXT NOT NULL,
			players TEXT[] NOT NULL,
			winners TEXT[] NOT NULL DEFAULT '{}',
			deltas JSONB,
			config JSONB NOT NULL,
			-- JSON keeps the bytes the hash chain was computed over
			history JSON NOT NULL DEFAULT '[]',
			history_length INTEGER NOT NULL DEFAULT 0,
			history_head TEXT,
			duration_seconds BIGINT NOT NULL DEFAULT 0,
			version BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_games_type_status ON games(game_type, status);
		CREATE INDEX IF NOT EXISTS idx_games_created_at ON games(created_at);

		CREATE TABLE IF NOT EXISTS game_players (
			game_id TEXT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			address TEXT NOT NULL,
			won BOOLEAN NOT NULL DEFAULT FALSE,
			delta NUMERIC NOT NULL DEFAULT 0,
			PRIMARY KEY (game_id, address)
		);

		CREATE INDEX IF NOT EXISTS idx_game_players_address ON game_players(address);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// SaveGame upserts a game and its history. A row is only replaced by a newer
// version of the same game; it reports false when the stored row was newer.
func (s *PostgresStore) SaveGame(ctx context.Context, v *game.View, history []game.Entry) (bool, error) {
	row := archiveRow(v)

	configJSON, err := json.Marshal(row.Config)
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return false, fmt.Errorf("marshal history: %w", err)
	}
	var deltasJSON []byte
	if row.Deltas != nil {
		if deltasJSON, err = json.Marshal(row.Deltas); err != nil {
			return false, fmt.Errorf("marshal deltas: %w", err)
		}
	}

	saved := false
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO games (id, game_type, status, creator, players, winners, deltas, config,
			                   history, history_length, history_head, duration_seconds, version,
			                   created_at, started_at, ended_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				players = EXCLUDED.players,
				winners = EXCLUDED.winners,
				deltas = EXCLUDED.deltas,
				history = EXCLUDED.history,
				history_length = EXCLUDED.history_length,
				history_head = EXCLUDED.history_head,
				duration_seconds = EXCLUDED.duration_seconds,
				version = EXCLUDED.version,
				started_at = EXCLUDED.started_at,
				ended_at = EXCLUDED.ended_at
			WHERE games.version < EXCLUDED.version
		`,
			row.ID, string(row.Type), string(row.Status), row.Creator, row.Players, row.Winners,
			deltasJSON, configJSON, historyJSON, row.HistoryLength, row.HistoryHead,
			row.DurationSeconds, row.Version, row.CreatedAt, row.StartedAt, row.EndedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		saved = true

		if _, err := tx.Exec(ctx, `DELETE FROM game_players WHERE game_id = $1`, row.ID); err != nil {
			return err
		}
		won := make(map[string]bool, len(row.Winners))
		for _, w := range row.Winners {
			won[w] = true
		}
		for _, p := range row.Players {
			delta := row.Deltas[p]
			if delta == "" {
				delta = "0"
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO game_players (game_id, address, won, delta) VALUES ($1, $2, $3, $4::numeric)`,
				row.ID, p, won[p], delta,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("save game %s: %w", v.ID, err)
	}
	return saved, nil
}

// GetGame returns an archived game and its history
func (s *PostgresStore) GetGame(ctx context.Context, id string) (*ArchivedGame, []game.Entry, error) {
	var (
		g                                   ArchivedGame
		gameType, status                    string
		deltasJSON, configJSON, historyJSON []byte
		head                                *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, game_type, status, creator, players, winners, deltas, config, history,
		       history_length, history_head, duration_seconds, version, created_at, started_at, ended_at
		FROM games WHERE id = $1
	`, id).Scan(
		&g.ID, &gameType, &status, &g.Creator, &g.Players, &g.Winners, &deltasJSON, &configJSON,
		&historyJSON, &g.HistoryLength, &head, &g.DurationSeconds, &g.Version, &g.CreatedAt,
		&g.StartedAt, &g.EndedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, game.ErrGameNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load game %s: %w", id, err)
	}

	g.Type, g.Status = game.Type(gameType), game.Status(status)
	if head != nil {
		g.HistoryHead = *head
	}
	if len(deltasJSON) > 0 {
		if err := json.Unmarshal(deltasJSON, &g.Deltas); err != nil {
			return nil, nil, fmt.Errorf("decode deltas of %s: %w", id, err)
		}
	}
	if err := json.Unmarshal(configJSON, &g.Config); err != nil {
		return nil, nil, fmt.Errorf("decode config of %s: %w", id, err)
	}
	var history []game.Entry
	if err := json.Unmarshal(historyJSON, &history); err != nil {
		return nil, nil, fmt.Errorf("decode history of %s: %w", id, err)
	}
	return &g, history, nil
}

// GetLeaderboard ranks players by finished games won. An empty gameType covers all types.
func (s *PostgresStore) GetLeaderboard(ctx context.Context, gameType game.Type, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT
			gp.address,
			COUNT(*) FILTER (WHERE gp.won) AS wins,
			COUNT(*) FILTER (WHERE NOT gp.won) AS losses,
			COUNT(*) AS games,
			ROUND(COUNT(*) FILTER (WHERE gp.won)::numeric / COUNT(*) * 100, 1)::float8 AS win_rate,
			COALESCE(SUM(gp.delta) FILTER (WHERE gp.delta > 0), 0)::text AS stake_won
		FROM game_players gp
		JOIN games g ON g.id = gp.game_id
		WHERE g.status = 'FINISHED' AND ($1 = '' OR g.game_type = $1)
		GROUP BY gp.address
		ORDER BY wins DESC, win_rate DESC, gp.address
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, string(gameType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []LeaderboardEntry{}
	rank := 1
	for rows.Next() {
		var entry LeaderboardEntry
		err := rows.Scan(&entry.Address, &entry.Wins, &entry.Losses, &entry.Games, &entry.WinRate, &entry.StakeWon)
		if err != nil {
			return nil, err
		}
		entry.Rank = rank
		entries = append(entries, entry)
		rank++
	}

	return entries, rows.Err()
}

// GetPlayerStats returns detailed statistics for a player
func (s *PostgresStore) GetPlayerStats(ctx context.Context, address string) (*PlayerStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE g.status = 'FINISHED' AND gp.won) AS wins,
			COUNT(*) FILTER (WHERE g.status = 'FINISHED' AND NOT gp.won) AS losses,
			COUNT(*) FILTER (WHERE g.status = 'CANCELLED') AS cancelled,
			COUNT(*) AS total_games,
			COALESCE(AVG(g.duration_seconds) FILTER (WHERE g.status = 'FINISHED'), 0)::float8 AS avg_game_length,
			COALESCE(SUM(gp.delta), 0)::text AS net_stake
		FROM game_players gp
		JOIN games g ON g.id = gp.game_id
		WHERE gp.address = $1 AND g.status IN ('FINISHED', 'CANCELLED')
	`

	stats := PlayerStats{Address: address}
	err := s.pool.QueryRow(ctx, query, address).Scan(
		&stats.Wins,
		&stats.Losses,
		&stats.Cancelled,
		&stats.TotalGames,
		&stats.AvgGameLength,
		&stats.NetStake,
	)
	if err != nil {
		return nil, err
	}

	if decided := stats.Wins + stats.Losses; decided > 0 {
		stats.WinRate = float64(stats.Wins) / float64(decided) * 100
	}

	return &stats, nil
}

// GetAnalytics returns aggregated game analytics
func (s *PostgresStore) GetAnalytics(ctx context.Context, now time.Time) (*GameAnalytics, error) {
	today := now.UTC().Truncate(24 * time.Hour)
	thisHour := now.UTC().Truncate(time.Hour)

	query := `
		SELECT
			COUNT(*) AS total_games,
			COUNT(*) FILTER (WHERE status = 'FINISHED') AS finished_games,
			COUNT(*) FILTER (WHERE status = 'CANCELLED') AS cancelled_games,
			(SELECT COUNT(DISTINCT address) FROM game_players) AS total_players,
			COALESCE(AVG(duration_seconds) FILTER (WHERE status = 'FINISHED'), 0)::float8 AS avg_duration,
			COUNT(*) FILTER (WHERE created_at >= $1) AS games_today,
			COUNT(*) FILTER (WHERE created_at >= $2) AS games_this_hour,
			(SELECT address FROM game_players WHERE won GROUP BY address ORDER BY COUNT(*) DESC, address LIMIT 1) AS most_frequent_winner
		FROM games
	`

	analytics := GameAnalytics{GamesByType: make(map[game.Type]int)}
	var mostFrequentWinner *string

	err := s.pool.QueryRow(ctx, query, today, thisHour).Scan(
		&analytics.TotalGames,
		&analytics.FinishedGames,
		&analytics.CancelledGames,
		&analytics.TotalPlayers,
		&analytics.AvgGameDuration,
		&analytics.GamesToday,
		&analytics.GamesThisHour,
		&mostFrequentWinner,
	)
	if err != nil {
		return nil, err
	}
	if mostFrequentWinner != nil {
		analytics.MostFrequentWinner = *mostFrequentWinner
	}

	rows, err := s.pool.Query(ctx, `SELECT game_type, COUNT(*) FROM games GROUP BY game_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		analytics.GamesByType[game.Type(t)] = n
	}

	return &analytics, rows.Err()
}

// Close closes the database connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}
