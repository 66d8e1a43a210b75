package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flowchat/internal/auth"
	"flowchat/internal/chat"
	"flowchat/internal/config"
	"flowchat/internal/db"
	myMiddleware "flowchat/internal/middleware"
	"flowchat/internal/presence"
	"flowchat/internal/user"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mama165/sdk-go/logs"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Config & Flags
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	addr := flag.String("addr", cfg.Addr, "http service address")
	flag.Parse()

	log := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Database
	database, err := db.NewDatabase(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer func() {
		log.Info("Closing PostgreSQL pool")
		_ = database.Close()
	}()
	log.Info("Connected to PostgreSQL")

	if err := database.AutoMigrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Info("Database schema initialized")

	// 3. Redis, only when a backend needs it
	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		log.Info("Connected to Redis", "addr", cfg.RedisAddr)
	}

	// 4. Presence
	var presenceStore presence.Store
	switch cfg.PresenceBackend {
	case config.PresenceRedis:
		presenceStore = presence.NewRedisStore(redisClient)
	case config.PresenceMemory:
		presenceStore = presence.NewMemoryStore()
	default:
		presenceStore = presence.NewSQLStore(database.Conn)
	}
	presenceHandler := presence.NewHandler(presenceStore, log, cfg.StoreTimeout)

	// 5. Users
	verifier := auth.NewVerifier(cfg.JWTSecret)
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, presenceStore, verifier, cfg.AccessTokenTTL)
	userHandler := user.NewHandler(userService, log)

	// 6. Chat
	registry := chat.NewRegistry(log)
	var (
		bus      chat.Bus = registry
		redisBus *chat.RedisBus
	)
	if cfg.BroadcastBackend == config.BroadcastRedis {
		redisBus = chat.NewRedisBus(redisClient, registry, log)
		bus = redisBus
	}

	chatRepo := chat.NewRepository(database.Conn)
	hub := chat.NewHub(log, registry, bus, verifier, chatRepo, presenceStore, chat.HubOptions{
		SendBufferSize: cfg.SendBufferSize,
		StoreTimeout:   cfg.StoreTimeout,
	})
	chatHandler := chat.NewHandler(hub, chatRepo, log, cfg.Origins())

	authMiddleware := myMiddleware.NewAuthMiddleware(verifier)

	// 7. Routes
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Post("/api/auth/register", userHandler.Register)
	r.Post("/api/auth/login", userHandler.Login)

	// The websocket authorizes itself so a rejection is a bare 403.
	r.Get("/ws/chat/{roomID}", chatHandler.ServeWs)
	r.Get("/ws/chat/{roomID}/", chatHandler.ServeWs)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Post("/api/auth/logout", userHandler.Logout)
		r.Get("/api/auth/me", userHandler.Me)
		r.Get("/api/auth/profile", userHandler.Me)
		r.Put("/api/auth/profile", userHandler.UpdateProfile)
		r.Patch("/api/auth/profile", userHandler.UpdateProfile)
		r.Get("/api/auth/users/lookup", userHandler.Lookup)
		r.Get("/api/users/search", userHandler.SearchUsers)
		r.Get("/api/users/{userID}/presence", presenceHandler.GetPresence)
		r.Post("/api/chat/rooms/{roomID}/messages", chatHandler.CreateMessageMetadata)
		r.Post("/api/chat/rooms/{roomID}/read", chatHandler.MarkRead)
		r.Post("/api/chat/rooms/{roomID}/leave", chatHandler.LeaveRoom)
	})

	server := &http.Server{
		Addr:              *addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 8. Serve until a signal or a fatal error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server starting", "addr", *addr, "presence", cfg.PresenceBackend, "broadcast", cfg.BroadcastBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if redisBus != nil {
		g.Go(func() error {
			if err := redisBus.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("redis relay: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP shutdown incomplete", "error", err)
		}
		if err := hub.Shutdown(shutdownCtx); err != nil {
			log.Warn("Hub shutdown incomplete", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Program stopped cleanly")
	return nil
}
