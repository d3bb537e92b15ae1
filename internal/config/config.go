package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/game-lobby/internal/game"
	"github.com/game-lobby/internal/irc"
	"github.com/game-lobby/internal/lifecycle"
)

// Config is the server configuration read from the environment
type Config struct {
	Port string

	// DatabaseURL enables the Postgres archive when set
	DatabaseURL string

	// KafkaBrokers enables the event producer and analytics consumer when set
	KafkaBrokers []string

	LogLevel  string
	LogFormat string

	StartPolicy      lifecycle.StartPolicy
	DisconnectPolicy lifecycle.DisconnectPolicy
	DisconnectGrace  time.Duration
	LagThreshold     float64
	BotThreshold     float64
	MaxPlayersLimit  int

	IRCHistory int

	RateLimit float64
	RateBurst int
}

// Load reads an optional .env file, then the environment
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("could not read .env")
	}
	return FromEnv()
}

// FromEnv builds the configuration from environment variables
func FromEnv() (Config, error) {
	c := Config{
		Port:         getenv("PORT", "8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		LogFormat:    getenv("LOG_FORMAT", "console"),
	}

	var err error
	if c.StartPolicy, err = lifecycle.ParseStartPolicy(os.Getenv("GAME_START_POLICY")); err != nil {
		return Config{}, err
	}
	if c.DisconnectPolicy, err = lifecycle.ParseDisconnectPolicy(os.Getenv("DISCONNECT_POLICY")); err != nil {
		return Config{}, err
	}
	if c.DisconnectGrace, err = durationEnv("DISCONNECT_GRACE", lifecycle.DefaultDisconnectGrace); err != nil {
		return Config{}, err
	}
	if c.LagThreshold, err = floatEnv("LAG_THRESHOLD", game.DefaultThresholds.Lag); err != nil {
		return Config{}, err
	}
	if c.BotThreshold, err = floatEnv("BOT_THRESHOLD", game.DefaultThresholds.Bot); err != nil {
		return Config{}, err
	}
	if c.MaxPlayersLimit, err = intEnv("MAX_PLAYERS_LIMIT", game.DefaultMaxPlayersLimit); err != nil {
		return Config{}, err
	}
	if c.IRCHistory, err = intEnv("IRC_HISTORY", irc.DefaultCapacity); err != nil {
		return Config{}, err
	}
	if c.RateLimit, err = floatEnv("WS_RATE_LIMIT", 50); err != nil {
		return Config{}, err
	}
	if c.RateBurst, err = intEnv("WS_RATE_BURST", 100); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Lifecycle returns the game lifecycle options
func (c Config) Lifecycle() lifecycle.Options {
	return lifecycle.Options{
		StartPolicy:      c.StartPolicy,
		DisconnectPolicy: c.DisconnectPolicy,
		DisconnectGrace:  c.DisconnectGrace,
		Thresholds:       game.Thresholds{Lag: c.LagThreshold, Bot: c.BotThreshold},
		MaxPlayersLimit:  c.MaxPlayersLimit,
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func intEnv(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", k, v)
	}
	return n, nil
}

func floatEnv(k string, def float64) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("%s must be a positive number, got %q", k, v)
	}
	return f, nil
}

// durationEnv accepts a Go duration ("45s") or a plain number of seconds
func durationEnv(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s must be a duration, got %q", k, v)
	}
	return d, nil
}
