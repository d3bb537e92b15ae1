package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/game-lobby/internal/api"
	"github.com/game-lobby/internal/auth"
	"github.com/game-lobby/internal/config"
	"github.com/game-lobby/internal/game"
	"github.com/game-lobby/internal/irc"
	"github.com/game-lobby/internal/kafka"
	"github.com/game-lobby/internal/lifecycle"
	"github.com/game-lobby/internal/lobby"
	"github.com/game-lobby/internal/settlement"
	"github.com/game-lobby/internal/storage"
	"github.com/game-lobby/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	config.SetupLogging(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("server exited properly")
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	// Postgres archive (optional)
	var (
		archive  api.Archive
		archiver *storage.Archiver
	)
	if cfg.DatabaseURL != "" {
		store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Warn().Err(err).Msg("database not available, games won't be archived")
		} else {
			defer store.Close()
			archive = store
			archiver = storage.NewArchiver(store, 1024)
			g.Go(func() error { return archiver.Run(gctx) })
		}
	}

	// Kafka analytics (optional)
	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()
	g.Go(func() error { return producer.Run(gctx) })

	var consumer *kafka.Consumer
	if producer.IsEnabled() {
		c, err := kafka.NewConsumer(cfg.KafkaBrokers)
		if err != nil {
			log.Warn().Err(err).Msg("kafka consumer not available")
		} else {
			consumer = c
			g.Go(func() error { return c.Run(gctx) })
		}
	}

	// Core
	relay := irc.NewRelay(cfg.IRCHistory)
	lobbyManager := lobby.NewManager()
	lc := lifecycle.NewManager(auth.NewPersonalSign(), relay, lobbyManager, settlement.NewRegistry(nil), cfg.Lifecycle())
	defer lc.Close()

	hub := websocket.NewHub(relay, lc, websocket.Options{
		RateLimit: rate.Limit(cfg.RateLimit),
		RateBurst: cfg.RateBurst,
	})
	handler := websocket.NewHandler(hub, lc, lobbyManager, relay)

	lobbyManager.SetOnChange(hub.OnLobbyChange)
	lc.SetOnEvent(func(ev lifecycle.Event) {
		hub.OnEvent(ev)
		producer.Emit(ev)
	})
	if archiver != nil {
		lc.SetOnGameStart(func(v *game.View) {
			archiver.Archive(v, nil)
		})
		lc.SetOnGameEnd(func(v *game.View, history []game.Entry) {
			archiver.Archive(v, history)
		})
	}

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	// HTTP
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
		api.NewHandlers(archive, lc, lobbyManager, hub, producer, consumer).RegisterRoutes(r)
	})

	r.Get("/ws", websocket.ServeWs(hub, handler))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("port", cfg.Port).
			Str("startPolicy", string(cfg.StartPolicy)).
			Str("disconnectPolicy", string(cfg.DisconnectPolicy)).
			Bool("archive", archive != nil).
			Bool("kafka", producer.IsEnabled()).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// requestLogger logs every HTTP request except websocket upgrades
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/ws" {
			return
		}
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("dur", time.Since(start)).
			Str("request", middleware.GetReqID(r.Context())).
			Msg("http")
	})
}
