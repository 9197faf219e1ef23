package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"payrun/internal/domain/audit"
	"payrun/internal/domain/payitem"
	"payrun/internal/domain/payroll"
	"payrun/internal/domain/payslip"
	"payrun/internal/domain/posting"
	"payrun/internal/domain/taxtable"
	"payrun/internal/platform/config"
	"payrun/internal/platform/crypto"
	"payrun/internal/platform/db"
	"payrun/internal/platform/jobs"
	"payrun/internal/platform/logger"
	"payrun/internal/platform/metrics"
	"payrun/internal/transport/http/api"
	payrunhandler "payrun/internal/transport/http/handlers/payrun"
	"payrun/internal/transport/http/middleware"
)

const sweepBatch = 20

type App struct {
	Config    config.Config
	DB        *db.Pool
	Router    http.Handler
	Payroll   *payroll.Service
	Payslips  *payslip.Generator
	TaxTables *taxtable.Store
	Jobs      *jobs.Service
	Metrics   *metrics.Collector

	log zerolog.Logger
}

// New connects to the database, applies migrations when configured and
// wires the services and the router.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if cfg.RunMigrations {
		if err := db.Migrate(ctx, pool, db.Migrations()); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
	}

	app, err := build(cfg, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if cfg.TaxTableFile != "" {
		n, err := taxtable.ImportFile(ctx, app.TaxTables, cfg.TaxTableFile)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("import tax tables: %w", err)
		}
		app.log.Info().Int("tables", n).Str("file", cfg.TaxTableFile).Msg("tax tables imported")
	}
	return app, nil
}

func build(cfg config.Config, pool *db.Pool) (*App, error) {
	sealer, err := crypto.New(cfg.DataEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("payslip encryption: %w", err)
	}

	collector := metrics.New()
	runStore := payroll.NewStore(pool)
	taxTables := taxtable.NewStore(pool)
	poster := posting.NewService(runStore, posting.NewStore(pool), logger.WithComponent("posting"))
	generator := payslip.NewGenerator(runStore, payslip.NewStore(pool), sealer, cfg.PayslipDir, logger.WithComponent("payslip"))

	service := payroll.NewService(payroll.Deps{
		Store:    runStore,
		Tx:       db.Transactor{Pool: pool},
		Tables:   taxTables,
		Items:    payitem.NewStore(pool),
		Poster:   poster,
		Payslips: generator,
		Audit:    audit.New(pool),
		Observer: collector,
		Logger:   logger.WithComponent("payroll"),
	})

	app := &App{
		Config:    cfg,
		DB:        pool,
		Payroll:   service,
		Payslips:  generator,
		TaxTables: taxTables,
		Jobs:      jobs.New(jobs.PGRecorder{DB: pool}, logger.WithComponent("jobs")),
		Metrics:   collector,
		log:       logger.WithComponent("server"),
	}
	app.Router = app.routes(payrunhandler.NewHandler(service, generator, middleware.NewIdempotencyStore(pool), logger.WithComponent("http")))
	return app, nil
}

func (a *App) routes(payruns *payrunhandler.Handler) http.Handler {
	cfg := a.Config
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(logger.WithComponent("http"), a.Metrics))
	router.Use(chimw.Recoverer)
	router.Use(middleware.SecureHeaders(cfg.IsProduction()))
	if len(cfg.CORSAllowedOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.DB.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if cfg.MetricsEnabled {
		router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			api.Success(w, a.Metrics.Snapshot(), middleware.GetRequestID(r.Context()))
		})
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
		r.Use(middleware.Auth(cfg.JWTSecret, logger.WithComponent("auth")))
		r.Use(middleware.MutationRateLimit(cfg.RateLimitPerMinute, time.Minute))
		payruns.RegisterRoutes(r)
	})
	return router
}

func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
}

// Run serves HTTP and the payslip sweep until ctx is cancelled, then shuts
// down within the configured timeout.
func (a *App) Run(ctx context.Context) error {
	a.Jobs.Start(ctx)
	a.Jobs.Every(ctx, a.Config.PayslipSweepInterval, jobs.JobPayslipSweep, func(ctx context.Context) (any, error) {
		return a.Payslips.Sweep(ctx, sweepBatch)
	})

	srv := &http.Server{
		Addr:              a.Config.Addr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.Config.Addr).Msg("payrun server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
	defer cancel()
	a.log.Info().Msg("shutting down")
	return srv.Shutdown(shutdownCtx)
}
