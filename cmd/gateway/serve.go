package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/vnmchuo/careerkit-gateway/config"
	"github.com/vnmchuo/careerkit-gateway/internal/auth"
	"github.com/vnmchuo/careerkit-gateway/internal/billing"
	"github.com/vnmchuo/careerkit-gateway/internal/documents"
	"github.com/vnmchuo/careerkit-gateway/internal/fingerprint"
	"github.com/vnmchuo/careerkit-gateway/internal/httpapi"
	"github.com/vnmchuo/careerkit-gateway/internal/ledger"
	"github.com/vnmchuo/careerkit-gateway/internal/logger"
	"github.com/vnmchuo/careerkit-gateway/internal/migrations"
	"github.com/vnmchuo/careerkit-gateway/internal/orchestrator"
	"github.com/vnmchuo/careerkit-gateway/internal/provider"
	"github.com/vnmchuo/careerkit-gateway/internal/provider/claude"
	"github.com/vnmchuo/careerkit-gateway/internal/provider/gemini"
	"github.com/vnmchuo/careerkit-gateway/internal/provider/ocrspace"
	"github.com/vnmchuo/careerkit-gateway/internal/provider/openai"
	"github.com/vnmchuo/careerkit-gateway/internal/quota"
	"github.com/vnmchuo/careerkit-gateway/internal/seeder"
	"github.com/vnmchuo/careerkit-gateway/internal/storage"
	"github.com/vnmchuo/careerkit-gateway/internal/telemetry"
	"github.com/vnmchuo/careerkit-gateway/internal/worker"
	"github.com/vnmchuo/careerkit-gateway/pkg/ratelimit"
)

const fingerprintTTL = 90 * 24 * time.Hour

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log, err := logger.New(cfg.LogJSON, cfg.LogDebug)
			if err != nil {
				return fmt.Errorf("failed to init logger: %w", err)
			}
			defer func() { _ = log.Sync() }()

			return serve(cmd.Context(), cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// 1. Telemetry
	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.Options{
		ServiceName: serviceName,
		Exporter:    cfg.OTELExporterType,
		Endpoint:    cfg.OTELExporterEndpoint,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to init tracer: %w", err)
	}
	defer shutdownTracer()

	// 2. Routing overrides
	routing, err := config.LoadRouting(cfg.RoutingFile)
	if err != nil {
		return err
	}
	catalog, err := routing.Catalog()
	if err != nil {
		return err
	}
	estimator, err := routing.Estimator()
	if err != nil {
		return err
	}
	chains, err := routing.ProviderChains()
	if err != nil {
		return err
	}

	// 3. PostgreSQL
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("failed to connect postgres: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping postgres: %w", err)
	}
	log.Info("postgres connected")

	if cfg.RunMigrations {
		if err := migrations.Up(ctx, pool); err != nil {
			return err
		}
		log.Info("migrations applied")
	}

	// 4. Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	log.Info("redis connected")

	// 5. Stores
	authStore := auth.NewPostgresStore(pool)
	billingStore := billing.NewPostgresStore(pool)
	docStore := documents.NewPostgresStore(pool)

	blobs, err := newBlobStorage(cfg, log)
	if err != nil {
		return err
	}
	var fpStore fingerprint.Store = fingerprint.NewPostgresStore(pool)
	if cfg.FingerprintBackend == "redis" {
		fpStore = fingerprint.NewRedisStore(rdb, fingerprintTTL)
	}

	// 6. Providers
	registry, err := newRegistry(ctx, cfg, log)
	if err != nil {
		return err
	}

	// 7. Metering and routing
	l := ledger.New(ledger.NewPostgresStore(pool), catalog, ledger.WithLogger(log))
	auditWriter, err := worker.NewAuditWriter(billingStore, worker.DefaultConfig(), log)
	if err != nil {
		return err
	}
	defer func() {
		if err := auditWriter.Close(); err != nil {
			log.Warn("audit writer did not drain", zap.Error(err))
		}
	}()

	tracer := otel.GetTracerProvider().Tracer(serviceName)
	router := orchestrator.NewRouter(orchestrator.Deps{
		Registry:  registry,
		Ledger:    l,
		Gate:      quota.NewGate(l, log),
		Catalog:   catalog,
		Estimator: estimator,
		Chains:    chains,
		Dedup:     fingerprint.NewDeduper(fpStore, blobs, log),
		Audit:     auditWriter,
	},
		orchestrator.WithTimeout(cfg.ProviderTimeout),
		orchestrator.WithTracer(tracer),
		orchestrator.WithLogger(log),
	)

	// 8. HTTP
	handler := httpapi.NewHandler(httpapi.Deps{
		Router:    router,
		Ledger:    l,
		Catalog:   catalog,
		Documents: docStore,
		Audit:     billingStore,
		Users:     authStore,
		Limiter:   ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitTPM),
		Tracer:    tracer,
		Logger:    log,
	})

	if cfg.RunSeed {
		seeder.Seed(ctx, authStore, docStore, log)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(auth.NewMiddleware(authStore, rdb, log)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway starting", zap.String("port", cfg.Port), zap.Strings("providers", registry.Names()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	log.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func newBlobStorage(cfg *config.Config, log *zap.Logger) (storage.Storage, error) {
	if cfg.StorageBackend == "s3" {
		return storage.NewS3Storage(storage.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		}, log)
	}
	return storage.NewLocalStorage(cfg.StorageLocalPath, log)
}

// newRegistry registers every provider that has credentials configured.
func newRegistry(ctx context.Context, cfg *config.Config, log *zap.Logger) (*provider.Registry, error) {
	var adapters []provider.Adapter

	if cfg.OCRSpaceAPIKey != "" {
		adapters = append(adapters, ocrspace.New(cfg.OCRSpaceAPIKey))
	}
	if cfg.GeminiAPIKey != "" {
		g, err := gemini.New(ctx, cfg.GeminiAPIKey, "")
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, g)
	}
	if cfg.OpenAIAPIKey != "" {
		adapters = append(adapters, openai.New(cfg.OpenAIAPIKey, ""))
	}
	if cfg.AnthropicAPIKey != "" {
		adapters = append(adapters, claude.New(cfg.AnthropicAPIKey, ""))
	}
	if len(adapters) == 0 {
		log.Warn("no provider credentials configured; every routed call will fail")
	}
	for _, a := range adapters {
		fields := []zap.Field{zap.String("ai_provider", a.Name())}
		if m, ok := a.(interface{ Model() string }); ok {
			fields = append(fields, zap.String("model", m.Model()))
		}
		log.Info("provider registered", fields...)
	}

	return provider.NewRegistry(adapters...)
}
