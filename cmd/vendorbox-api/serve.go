package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"vendorbox/internal/api"
	"vendorbox/internal/auth"
	"vendorbox/internal/config"
	"vendorbox/internal/db"
	"vendorbox/internal/jobs"
	"vendorbox/internal/memstore"
	"vendorbox/internal/metrics"
	"vendorbox/internal/normalize"
	"vendorbox/internal/pubsub"
	"vendorbox/internal/schema"
	"vendorbox/internal/service"
	"vendorbox/internal/ws"
	"vendorbox/migrations"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, websocket hub and job workers",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address")
	serveCmd.Flags().String("redis-addr", "", "Redis address; empty disables the bus journal and jobs")
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "apply database migrations before serving")
	_ = v.BindPFlag(config.KeyAddr, serveCmd.Flags().Lookup("addr"))
	_ = v.BindPFlag(config.KeyRedisAddr, serveCmd.Flags().Lookup("redis-addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var checks []func(context.Context) error

	// Persistence
	var store service.Store
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("Using in-memory store, data is lost on exit")
		store = memstore.New()
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		if autoMigrate {
			sqlDB := stdlib.OpenDBFromPool(pool.Pool)
			err := migrations.Up(sqlDB, cfg.MigrationsDir)
			sqlDB.Close()
			if err != nil {
				return err
			}
			logger.Info("Migrations applied")
		}
		store = pool.Queries
		checks = append(checks, pool.Ping)
	}

	// Redis
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		checks = append(checks, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// WebSocket hub and event bus
	hub := ws.NewHub(logger)
	go hub.Run(ctx)
	bus := pubsub.New(rdb, logger)
	bus.SetHub(hub)
	bus.SetRecorder(m)
	if j := bus.Journal(); j != nil {
		hub.SetJournal(j)
	}

	// Services
	engine := normalize.NewEngine(normalize.Observers{m, normalize.LogObserver(logger)})
	schemas := service.NewSchemaService(store, schema.NewCompilerWithCache(cfg.SchemaCacheSize), bus, logger)
	vendors := service.NewVendorService(store, schemas, engine, bus, logger)
	requests := service.NewEditRequestService(store, schemas, engine, bus, logger)
	users := service.NewUserService(store, bus, logger)

	// Background jobs
	if rdb != nil {
		jobServer, jobClient := jobs.NewJobServer(cfg.RedisAddr, requests, vendors, logger)
		if err := jobServer.Start(); err != nil {
			return fmt.Errorf("failed to start job server: %w", err)
		}
		defer jobServer.Stop()

		jc := service.NewAsynqJobClient(jobClient)
		vendors.SetJobClient(jc)
		requests.SetJobClient(jc, cfg.ReminderDelay)
	} else {
		logger.Warn("Redis disabled, reminders and audits will not run")
	}

	// HTTP router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Timeout middleware - skip for WebSocket upgrades
	r.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, req)
				return
			}
			timeout.ServeHTTP(w, req)
		})
	})

	jwtConfig := auth.NewJWTConfig(cfg.JWTSecret, cfg.DevAuthHeaders)
	jwtConfig.Accounts = users

	r.Mount("/", api.Routes(api.Dependencies{
		Schemas:  schemas,
		Vendors:  vendors,
		Requests: requests,
		Users:    users,
		Hub:      hub,
		Auth:     jwtConfig,
		TokenTTL: cfg.TokenTTL,
		Metrics:  m,
		Gatherer: reg,
		Log:      logger,
		Ready: func(ctx context.Context) error {
			for _, check := range checks {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	}))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	logger.Info("Starting server", zap.String("addr", cfg.Addr), zap.String("store", cfg.Store))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server stopped")
	return nil
}
