// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opentrusty/tenancy/internal/audit"
	"github.com/opentrusty/tenancy/internal/config"
	"github.com/opentrusty/tenancy/internal/identity"
	"github.com/opentrusty/tenancy/internal/item"
	"github.com/opentrusty/tenancy/internal/observability/logger"
	"github.com/opentrusty/tenancy/internal/observability/metrics"
	"github.com/opentrusty/tenancy/internal/observability/tracing"
	"github.com/opentrusty/tenancy/internal/schema"
	"github.com/opentrusty/tenancy/internal/store/postgres"
	"github.com/opentrusty/tenancy/internal/store/redis"
	"github.com/opentrusty/tenancy/internal/tenant"
	"github.com/opentrusty/tenancy/internal/token"
	transportHTTP "github.com/opentrusty/tenancy/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateServer(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting multi-tenant server")

	if err := run(cfg); err != nil {
		slog.Error("server failed", logger.Error(err))
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer tracer.Shutdown(ctx)

	// Initialize meter
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize meter: %w", err)
	}
	instruments, err := meter.Instruments()
	if err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}

	// Initialize database
	dbCfg := postgres.FromConfig(cfg.Database)
	db, err := postgres.New(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	sqlDB, err := postgres.OpenSQL(ctx, dbCfg)
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	slog.Info("connected to database")

	schemas, err := schema.NewManager(sqlDB,
		schema.Config{AllowDrop: cfg.Tenancy.AllowSchemaDrop},
		schema.WithProvisionHistogram(instruments.ProvisionDuration),
		schema.WithTracer(tracer.GetTracer()),
	)
	if err != nil {
		return err
	}
	if err := schemas.MigratePublic(ctx); err != nil {
		return fmt.Errorf("failed to migrate directory: %w", err)
	}

	// Initialize services
	auditLogger := audit.NewSlogLogger()
	tenantService := tenant.NewService(postgres.NewTenantRepository(db), schemas, auditLogger,
		tenant.WithProvisionLease(cfg.Tenancy.ProvisionLease))
	if _, created, err := tenantService.EnsurePublic(ctx, cfg.Tenancy.PublicDomain); err != nil {
		slog.Warn("public tenant not ensured", logger.Domain(cfg.Tenancy.PublicDomain), logger.Error(err))
	} else if created {
		slog.Info("public tenant created", logger.Domain(cfg.Tenancy.PublicDomain))
	}

	passwordHasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)
	identityService := identity.NewService(postgres.NewUserRepository(), passwordHasher, auditLogger)
	itemService := item.NewService(postgres.NewItemRepository(), cfg.Tenancy.PageSize)

	blacklist, closeBlacklist, err := newBlacklist(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBlacklist()

	issuer, err := token.NewIssuer(token.Config{
		SigningKey:             []byte(cfg.Token.SigningKey),
		AccessLifetime:         cfg.Token.AccessLifetime,
		RefreshLifetime:        cfg.Token.RefreshLifetime,
		RotateRefresh:          cfg.Token.RotateRefresh,
		BlacklistAfterRotation: cfg.Token.BlacklistAfterRotation,
	}, blacklist)
	if err != nil {
		return err
	}

	handlerCfg := transportHTTP.HandlerConfig{
		AdminToken:      cfg.Admin.APIToken,
		UpdateLastLogin: cfg.Token.UpdateLastLogin,
		RequestTimeout:  cfg.Server.RequestTimeout,

		CORSOrigins:          cfg.CORS.AllowedOrigins,
		CORSAllowCredentials: cfg.CORS.AllowCredentials,
	}
	if cfg.Observability.MetricsEnabled {
		httpMetrics := metrics.NewHTTPMetrics()
		handlerCfg.HTTPMetrics = httpMetrics
		handlerCfg.MetricsHandler = httpMetrics.Handler()
	}

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(
		tenantService,
		identityService,
		itemService,
		issuer,
		db,
		auditLogger,
		instruments,
		handlerCfg,
	)

	trusted := make([]netip.Prefix, 0, len(cfg.RateLimit.TrustedProxies))
	for _, p := range cfg.RateLimit.TrustedProxies {
		prefix, err := config.ParsePrefix(p)
		if err != nil {
			return err
		}
		trusted = append(trusted, prefix)
	}
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, trusted...)
	defer rateLimiter.Stop()

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      transportHTTP.NewRouter(handler, rateLimiter),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"), logger.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// newBlacklist selects the refresh-token blacklist. Redis is used when an
// address is configured; otherwise revocations are kept in process memory,
// which holds only while a single instance serves the token endpoint.
func newBlacklist(ctx context.Context, cfg *config.Config) (token.Blacklist, func(), error) {
	if !cfg.Token.BlacklistAfterRotation {
		return token.NopBlacklist{}, func() {}, nil
	}
	if cfg.Redis.Addr == "" {
		slog.Warn("token blacklist kept in memory; revocations are not shared between instances",
			logger.Component("token"))
		return token.NewMemoryBlacklist(), func() {}, nil
	}

	client := redis.NewClient(cfg.Redis)
	bl := redis.NewBlacklist(client)
	if err := bl.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to reach token blacklist: %w", err)
	}
	return bl, func() { _ = client.Close() }, nil
}
