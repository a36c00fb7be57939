package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/community/community-api/internal/config"
	"github.com/community/community-api/internal/domain/privatemessage"
	"github.com/community/community-api/internal/domain/user"
	"github.com/community/community-api/internal/middleware"
	"github.com/community/community-api/internal/pkg/database"
	"github.com/community/community-api/internal/pkg/jwt"
	"github.com/community/community-api/internal/pkg/logger"
	"github.com/community/community-api/internal/pkg/metrics"
	pkgresponse "github.com/community/community-api/internal/pkg/response"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize logger")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting community API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	appCtx, stop := context.WithCancel(context.Background())
	defer stop()

	m := metrics.New()
	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	// ---------- Repositories ----------
	userRepo := user.NewRepository(db)
	messageRepo := privatemessage.NewRepository(db)

	// ---------- Private messages ----------
	evaluator := privatemessage.NewEvaluator(
		user.NewPrivilegeOracle(userRepo),
		privatemessage.WithDecisionObserver(m.ObserveThrottle),
	)
	burstLimiter := privatemessage.NewBurstLimiter(appCtx, redis, cfg.PMBurstLimit, cfg.PMBurstWindow,
		privatemessage.WithOnDenied(func(uuid.UUID) { m.IncBurstDenied() }),
	)

	hub := privatemessage.NewHub(redis, m)
	go hub.Run()
	defer hub.Shutdown()

	pmService := privatemessage.NewService(messageRepo, userRepo, evaluator, burstLimiter, hub, m, cfg.PMMaxLength)
	pmHandler := privatemessage.NewHandler(pmService, hub, cfg.AllowedOrigins)

	r := newRouter(routerDeps{
		jwt:            jwtService,
		messages:       pmHandler,
		metrics:        m,
		allowedOrigins: cfg.AllowedOrigins,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

type routerDeps struct {
	jwt            *jwt.Service
	messages       *privatemessage.Handler
	metrics        *metrics.Metrics
	allowedOrigins []string
}

func newRouter(d routerDeps) chi.Router {
	authMiddleware := middleware.Auth(d.jwt)

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(d.allowedOrigins))

	// WebSocket endpoint, token comes in the query string
	r.With(middleware.QueryToken, authMiddleware).Get("/ws", d.messages.WebSocket)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})
	r.Handle("/metrics", d.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.Compress(5))

		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			pkgresponse.OK(w, map[string]string{"message": "pong"})
		})

		r.Mount("/messages", d.messages.Routes(authMiddleware))
	})

	return r
}
