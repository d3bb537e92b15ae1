package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/game-lobby/internal/game"
	"github.com/game-lobby/internal/lifecycle"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "DATABASE_URL", "KAFKA_BROKERS", "GAME_START_POLICY", "DISCONNECT_POLICY", "DISCONNECT_GRACE", "MAX_PLAYERS_LIMIT"} {
		t.Setenv(k, "")
	}

	c, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "8080", c.Port)
	assert.Empty(t, c.DatabaseURL)
	assert.Empty(t, c.KafkaBrokers)
	assert.Equal(t, lifecycle.StartAuto, c.StartPolicy)
	assert.Equal(t, lifecycle.DisconnectCancel, c.DisconnectPolicy)
	assert.Equal(t, 30*time.Second, c.DisconnectGrace)
	assert.Equal(t, game.DefaultMaxPlayersLimit, c.MaxPlayersLimit)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("GAME_START_POLICY", "manual")
	t.Setenv("DISCONNECT_POLICY", "cancel")
	t.Setenv("DISCONNECT_GRACE", "45")
	t.Setenv("LAG_THRESHOLD", "12.5")
	t.Setenv("MAX_PLAYERS_LIMIT", "8")

	c, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.KafkaBrokers)
	assert.Equal(t, lifecycle.StartManual, c.StartPolicy)
	assert.Equal(t, lifecycle.DisconnectCancel, c.DisconnectPolicy)
	assert.Equal(t, 45*time.Second, c.DisconnectGrace)

	opts := c.Lifecycle()
	assert.Equal(t, 12.5, opts.Thresholds.Lag)
	assert.Equal(t, 8, opts.MaxPlayersLimit)

	t.Setenv("DISCONNECT_GRACE", "1m30s")
	c, err = FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, c.DisconnectGrace)
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := map[string]string{
		"GAME_START_POLICY": "sometimes",
		"DISCONNECT_POLICY": "explode",
		"MAX_PLAYERS_LIMIT": "-1",
		"BOT_THRESHOLD":     "lots",
		"DISCONNECT_GRACE":  "soon",
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv(k, v)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("IRC_HISTORY=7\n"), 0o600))
	t.Setenv("IRC_HISTORY", "")
	os.Unsetenv("IRC_HISTORY")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, c.IRCHistory)
	os.Unsetenv("IRC_HISTORY")

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestSetupLogging(t *testing.T) {
	defer func(l zerolog.Logger, lvl zerolog.Level) {
		log.Logger = l
		zerolog.SetGlobalLevel(lvl)
	}(log.Logger, zerolog.GlobalLevel())

	var buf bytes.Buffer
	SetupLoggingTo(&buf, "warn", "json")
	log.Info().Msg("hidden")
	log.Warn().Str("game", "g1").Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"game":"g1"`)
	assert.Contains(t, buf.String(), `"level":"warn"`)
}
