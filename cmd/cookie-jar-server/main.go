package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	internalhttp "github.com/EternisAI/cookie-jar/internal/api/http"
	"github.com/EternisAI/cookie-jar/internal/auth"
	"github.com/EternisAI/cookie-jar/internal/db"
	"github.com/EternisAI/cookie-jar/internal/events"
	"github.com/EternisAI/cookie-jar/internal/harvest"
	"github.com/EternisAI/cookie-jar/internal/metrics"
	"github.com/EternisAI/cookie-jar/internal/pool"
	"github.com/EternisAI/cookie-jar/internal/sessions"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var AppVersion string

var errNoHarvester = errors.New("no harvester configured")

func main() {
	InitConfig()

	slog.Info("Cookie Jar Server", "version", AppVersion)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx)
	if err != nil {
		slog.Error("Failed to open session store", "backend", config.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []pool.Option{pool.WithMetrics(metrics.New(registry))}
	if config.Nats.Url != "" {
		publisher, err := events.NewNATSPublisher(config.Nats)
		if err != nil {
			slog.Error("Failed to connect to NATS", "url", config.Nats.Url, "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		opts = append(opts, pool.WithPublisher(publisher))
		slog.Info("Publishing session events", "url", config.Nats.Url, "prefix", config.Nats.SubjectPrefix)
	}

	sessionPool := pool.New(store, newHarvester(), config.Pool, opts...)

	mode, err := pool.ParseSweepMode(config.Sweep.Mode)
	if err != nil {
		slog.Error("Invalid sweep configuration", "error", err)
		os.Exit(1)
	}
	if config.Sweep.Interval > 0 {
		slog.Info("Starting sweeper", "interval", config.Sweep.Interval, "mode", mode)
		go sessionPool.StartSweeper(ctx, config.Sweep.Interval, mode)
	}

	if config.Auth.JWTSecret == "" {
		slog.Warn("auth.jwt_secret is empty, lease endpoints will reject every request")
	}

	services := &internalhttp.Services{
		Pool:        sessionPool,
		Tokens:      auth.NewService(config.Auth),
		JWTSecret:   config.Auth.JWTSecret,
		AdminAPIKey: config.Http.AdminAPIKey,
		Metrics:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}

	origins := config.Http.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "DELETE"},
		AllowHeaders:  []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-API-Key", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, services)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	slog.Info("Shutdown complete")
}

func openStore(ctx context.Context) (sessions.Store, func(), error) {
	switch config.Store.Backend {
	case "postgres":
		if err := db.RunMigrations(config.DB.Url, config.DB.Schema); err != nil {
			return nil, nil, err
		}
		pgPool, err := db.InitDB(ctx, config.DB)
		if err != nil {
			return nil, nil, err
		}
		return sessions.NewPGStore(pgPool), pgPool.Close, nil
	case "file":
		fs, err := sessions.NewFileStore(config.Store.FileDir)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using file session store", "dir", config.Store.FileDir)
		return fs, func() {}, nil
	case "memory", "":
		slog.Warn("Using in-memory session store, sessions are lost on restart")
		return sessions.NewMemoryStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", config.Store.Backend)
}

func newHarvester() harvest.Harvester {
	if config.Harvester.Url == "" {
		slog.Warn("harvester.url is empty, only existing sessions can be leased")
		return harvest.Func(func(context.Context, string) ([]sessions.Cookie, error) {
			return nil, errNoHarvester
		})
	}
	remote := harvest.NewHTTPHarvester(config.Harvester.Url, config.Harvester.Timeout)
	sites := ParseCommaSeparated(config.Harvester.Sites)
	slog.Info("Using remote harvester", "url", config.Harvester.Url, "sites", sites)
	return harvest.Logged(harvest.NewAllowlist(remote, sites))
}
