package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"feedline.org/internal/audit"
	"feedline.org/internal/auth"
	"feedline.org/internal/config"
	"feedline.org/internal/events"
	"feedline.org/internal/feed"
	"feedline.org/internal/httpapi"
	"feedline.org/internal/media"
	"feedline.org/internal/obs"
	"feedline.org/internal/store/memory"
	"feedline.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := obs.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Инициализация observability (регистрация метрик)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		users feed.UserStore
		posts feed.PostStore
		ready httpapi.ReadyProbe
	)
	if cfg.DatabaseURL != "" {
		store, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("open db", zap.Error(err))
		}
		defer store.Close()
		users, posts = store.Users(), store.Posts()
		ready = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		logger.Warn("FEEDLINE_PG_DSN not set, using in-memory stores")
		users, posts = memory.NewUsers(), memory.NewPosts()
	}

	var cleaner feed.Cleaner
	if cfg.RedisURL != "" {
		client, err := media.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("connect redis", zap.Error(err))
		}
		defer client.Close()
		cleaner = media.NewQueueCleaner(client)
	} else {
		disk, err := media.NewDiskCleaner(cfg.MediaRoot)
		if err != nil {
			logger.Fatal("media root", zap.Error(err))
		}
		cleaner = disk
	}

	tokens, err := auth.NewTokenService([]byte(cfg.AuthSecret), auth.WithTokenIssuer(cfg.AuthIssuer))
	if err != nil {
		logger.Fatal("token service", zap.Error(err))
	}
	hub := events.New()
	svc := feed.NewService(users, posts, auth.NewBcryptHasher(auth.DefaultCost), tokens,
		feed.WithCleaner(cleaner),
		feed.WithPublisher(hub),
		feed.WithLogger(logger.Named("feed")),
	)

	api := httpapi.New(svc, auth.NewGate(tokens, logger.Named("gate")),
		httpapi.WithVersion(version),
		httpapi.WithReadiness(ready),
		httpapi.WithEvents(hub),
		httpapi.WithAudit(audit.New(logger)),
		httpapi.WithLogger(logger.Named("http")),
		httpapi.WithAllowedOrigins(cfg.AllowedOrigins),
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
	)
	defer api.Close()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// no WriteTimeout: /feed/events keeps the response open
	}
	srv.RegisterOnShutdown(api.StopStreams)

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, httpapi.NewGRPCServer(ready))
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("grpc listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}

	logger.Info("starting feedline-api",
		zap.String("version", version),
		zap.String("http_addr", srv.Addr),
		zap.String("grpc_addr", cfg.GRPCAddr),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()
	go func() {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Fatal("grpc serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	logger.Info("stopped")
}
