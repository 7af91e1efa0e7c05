package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/coilworks/optserve/internal/compute"
	"github.com/coilworks/optserve/internal/logger"
	"github.com/coilworks/optserve/internal/orchestrator"
	"github.com/coilworks/optserve/internal/server"
	"github.com/coilworks/optserve/internal/store"
	memorystore "github.com/coilworks/optserve/internal/store/memory"
	postgresstore "github.com/coilworks/optserve/internal/store/postgres"
	"github.com/coilworks/optserve/internal/telemetry"
)

type ServerCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"OPTSERVE_LISTEN"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"http://localhost" env:"OPTSERVE_CORS_ORIGINS"`

	// Auth configuration
	JWTSecret string `help:"secret key for HMAC signing of API tokens" env:"OPTSERVE_JWT_SECRET"`
	NoAuth    bool   `help:"disable authentication for API endpoints (development only)" default:"false" env:"OPTSERVE_NO_AUTH"`

	// Operational modes
	Tracing bool `help:"enable metrics export" default:"false" env:"OPTSERVE_TRACING"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"OPTSERVE_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
	Compute       ComputeFlags       `embed:"" prefix:"compute-"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"OPTSERVE_POSTGRES_AUTO_MIGRATE"`
}

// ComputeFlags configures the external compute service client.
type ComputeFlags struct {
	URL            string        `help:"compute service base URL" env:"OPTSERVE_COMPUTE_URL" default:"http://localhost:9090"`
	AttemptTimeout time.Duration `help:"timeout for a single compute attempt" default:"2m" env:"OPTSERVE_COMPUTE_ATTEMPT_TIMEOUT"`
	OverallTimeout time.Duration `help:"overall deadline for a compute call including retries" default:"10m" env:"OPTSERVE_COMPUTE_OVERALL_TIMEOUT"`
	MaxAttempts    int           `help:"total attempts per compute call" default:"4" env:"OPTSERVE_COMPUTE_MAX_ATTEMPTS"`
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx := context.Background()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if !c.NoAuth && len(c.JWTSecret) < 32 {
		return errors.New("JWT secret must be at least 32 bytes (256 bits) for HMAC-SHA256, or pass --no-auth")
	}

	// Setup telemetry if enabled
	if c.Tracing {
		log.Info().Msg("Metrics export is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "optserve-server", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	// Create stores based on store type
	var stores store.Store

	switch c.StoreType {
	case "postgres":
		poolCfg := &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
		}
		pgStore, err := postgresstore.NewStore(ctx, poolCfg, c.PostgresStore.AutoMigrate)
		if err != nil {
			return fmt.Errorf("failed to create postgres store: %w", err)
		}
		defer pgStore.Close()
		stores = pgStore
		log.Info().Msg("Using PostgreSQL stores with shared connection pool")

	default:
		stores = memorystore.NewStore()
		log.Info().Msg("Using in-memory stores")
	}

	computeClient, err := compute.NewClient(compute.Config{
		BaseURL:        c.Compute.URL,
		AttemptTimeout: c.Compute.AttemptTimeout,
		OverallTimeout: c.Compute.OverallTimeout,
		MaxAttempts:    c.Compute.MaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("failed to create compute client: %w", err)
	}

	orch := orchestrator.New(stores, computeClient)

	apiServer := server.New(stores, orch, computeClient)
	handler := apiServer.Routes(log, []byte(c.JWTSecret), c.NoAuth)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   c.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	handler = corsHandler.Handler(handler)

	httpServer := configureHTTPServer(c.Listen, handler)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", c.Listen).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown HTTP server")
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to drain in-flight jobs")
	}

	return nil
}
