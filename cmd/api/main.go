package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cardwise-api/internal/advisor"
	"cardwise-api/internal/auth"
	"cardwise-api/internal/cache"
	"cardwise-api/internal/certs"
	"cardwise-api/internal/config"
	"cardwise-api/internal/database"
	"cardwise-api/internal/events"
	"cardwise-api/internal/features"
	"cardwise-api/internal/handler"
	"cardwise-api/internal/metrics"
	"cardwise-api/internal/middleware"
	"cardwise-api/internal/service"
	"cardwise-api/internal/tracing"
)

func main() {
	configFile := flag.String("config", "", "Path to JSON config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// .env is optional; real environments set variables directly
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Cache: Redis when an address is configured, in-process otherwise.
	var cacheImpl cache.Cache
	if cfg.Cache.Enabled {
		if cfg.Cache.RedisAddr != "" {
			redisCache, err := cache.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
			if err != nil {
				logger.Warn("redis unavailable, falling back to in-memory cache", "error", err)
				cacheImpl = cache.NewInMemoryCache()
			} else {
				defer redisCache.Close()
				cacheImpl = redisCache
			}
		} else {
			cacheImpl = cache.NewInMemoryCache()
		}
	}

	if _, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Environment: cfg.Tracing.Environment,
	}); err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(ctx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	adv, err := advisor.New(context.Background(), cfg.Advisor.APIKey, cfg.Advisor.Model)
	if err != nil {
		logger.Error("failed to initialize advisor", "error", err)
		os.Exit(1)
	}
	if !adv.Enabled() {
		logger.Info("advisor disabled, no API key configured")
	}

	flags := features.NewManager()
	flags.Register(features.FeatureCacheEnabled, cfg.Cache.Enabled, "Enable caching layer")
	flags.Register(features.FeatureSearchCache, cfg.Cache.Enabled, "Enable caching of search results")
	flags.Register(features.FeatureEventHooksEnabled, true, "Enable event-driven hooks")
	flags.Register(features.FeatureChatEnabled, adv.Enabled(), "Enable the AI card advisor")
	defer flags.Shutdown()

	eventManager := events.NewManager(flags.IsEnabled(features.FeatureEventHooksEnabled))
	defer eventManager.Shutdown()
	eventManager.Subscribe(events.EventCardSaved, func(ctx context.Context, e events.Event) error {
		logger.Debug("event", "type", string(e.Type))
		return nil
	})

	collector := metrics.New(db)
	registry := prometheus.NewRegistry()
	collector.Register(registry)

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL())

	svc := service.NewService(service.Options{
		DB:             db,
		Tokens:         tokens,
		Advisor:        adv,
		Cache:          cacheImpl,
		Events:         eventManager,
		Flags:          flags,
		Metrics:        collector,
		Logger:         logger,
		CacheTTL:       cfg.Cache.CacheTTL(),
		AdvisorTimeout: cfg.Advisor.AdvisorTimeout(),
	})

	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
		Logger:      logger,
	})

	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
		defer rateLimiter.Stop()
	}

	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware())

	if rateLimiter != nil {
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.Security.AllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Routes
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
	})

	r.Route("/cards", func(r chi.Router) {
		r.Get("/", h.ListCards)
		r.Get("/search", h.SearchCards)
		r.Get("/{card_id}", h.GetCard)
	})

	r.Route("/user", func(r chi.Router) {
		r.Use(middleware.RequireAuth(tokens))
		r.Get("/profile", h.GetProfile)
		r.Get("/cards", h.GetUserCards)
		r.Post("/cards", h.AddUserCard)
		r.Delete("/cards/{card_id}", h.RemoveUserCard)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.OptionalAuth(tokens))
		r.Post("/feedback", h.SubmitFeedback)
		r.Post("/missing-card", h.SubmitMissingCard)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(tokens))
		r.Post("/chat", h.Chat)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		if err := collector.Refresh(r.Context()); err != nil {
			logger.Warn("metrics refresh failed", "error", err)
		}
		metricsHandler.ServeHTTP(w, r)
	})

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.Server.EnableTLS {
		tlsConfig, err := certs.LoadTLSConfig(cfg.Server.CertFile, cfg.Server.KeyFile, "./certs")
		if err != nil {
			logger.Error("failed to load TLS configuration", "error", err)
			os.Exit(1)
		}
		server.TLSConfig = tlsConfig
		if cfg.Server.CertFile == "" || cfg.Server.KeyFile == "" {
			logger.Warn("no certificate files provided, using self-signed certificate")
		}
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
		close(done)
	}()

	logger.Info("starting server",
		"addr", addr,
		"tls", cfg.Server.EnableTLS,
		"database", cfg.Database.Path,
	)

	if cfg.Server.EnableTLS {
		// Certificates already live in TLSConfig
		err = server.ListenAndServeTLS("", "")
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	<-done
}
