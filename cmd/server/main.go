// Package main is the entry point for the shopshelf server.
//
// The bootstrap sequence is:
//  1. Load configuration from environment variables.
//  2. Connect to PostgreSQL via pgxpool and apply migrations.
//  3. Build the catalog snapshot store and the collection service, both
//     kept fresh by LISTEN/NOTIFY invalidation.
//  4. Wire up the API key token validator.
//  5. Start the storefront HTTP server and, if configured, the Tailscale
//     admin portal.
//  6. Wait for SIGINT/SIGTERM, then gracefully shut down.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rowanvale/shopshelf/internal/admin"
	"github.com/rowanvale/shopshelf/internal/catalog"
	"github.com/rowanvale/shopshelf/internal/config"
	"github.com/rowanvale/shopshelf/internal/logging"
	"github.com/rowanvale/shopshelf/internal/metrics"
	"github.com/rowanvale/shopshelf/internal/middleware"
	"github.com/rowanvale/shopshelf/internal/repository"
	"github.com/rowanvale/shopshelf/internal/server"
	"github.com/rowanvale/shopshelf/internal/service"
	"github.com/rowanvale/shopshelf/internal/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"tailscale.com/tsnet"
)

const (
	shutdownTimeout       = 10 * time.Second
	httpReadHeaderTimeout = 5 * time.Second
	httpReadTimeout       = 30 * time.Second
	httpIdleTimeout       = 2 * time.Minute
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.LogLevel)
	slog.SetDefault(log)

	shutdownTracer, err := tracing.Init(context.Background())
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("tracer shutdown error", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := runMigrations(pool); err != nil {
		return err
	}

	repo := repository.NewPostgresRepository(pool)
	m := metrics.New()
	metrics.RegisterPoolMetrics(m.Registry, pool)

	cat, err := catalog.New(ctx, repo,
		catalog.WithLogger(log),
		catalog.WithOnReload(m.CatalogReloaded),
	)
	if err != nil {
		return fmt.Errorf("init catalog: %w", err)
	}
	go func() {
		if err := cat.Watch(ctx, repo, cfg.CatalogResyncInterval); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("catalog watch stopped", "error", err)
		}
	}()

	svc, err := service.New(ctx, repo, cat,
		service.WithMetrics(m),
		service.WithPageSizeLimits(cfg.DefaultPageSize, cfg.MaxPageSize),
	)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	authThrottle := middleware.NewAuthThrottle(ctx, middleware.ThrottleConfig{
		FailuresPerMinute: cfg.AuthRateLimit,
		MaxTrackedClients: cfg.AuthMaxTrackedIPs,
	})
	defer authThrottle.Stop()

	tokenValidator := &apiKeyTokenValidator{lookup: repo}
	apiHandler := server.NewHTTPHandlerWithOptions(svc, m.Handler(), server.WithMaxJSONBodySize(cfg.MaxJSONBodySize))
	httpHandler := newHTTPHandler(apiHandler, tokenValidator,
		middleware.WithOnAuthFailure(func() { m.AuthFailuresTotal.Inc() }),
		middleware.WithAuthThrottle(authThrottle),
	)
	httpHandler = middleware.HTTPRequestLogging(log)(m.InstrumentHandler(httpHandler))

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(httpHandler, "shopshelf-http"),
		ReadHeaderTimeout: httpReadHeaderTimeout,
		ReadTimeout:       httpReadTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	// -------------------------------------------------------------------------
	// Admin Portal (Tailscale)
	// -------------------------------------------------------------------------
	var tsServer *tsnet.Server

	if cfg.AdminHostname != "" {
		if cfg.TSAuthKey == "" {
			return errors.New("ADMIN_HOSTNAME is set but TS_AUTH_KEY is missing")
		}

		dir := cfg.TSStateDir
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create ts-state dir: %w", err)
		}

		tsServer = &tsnet.Server{
			Hostname: cfg.AdminHostname,
			AuthKey:  cfg.TSAuthKey,
			Dir:      dir,
			Logf:     func(format string, args ...any) { log.Debug(fmt.Sprintf(format, args...), "component", "tailscale") },
		}

		sessionMgr := admin.NewSessionManager(ctx, repo, cfg.SessionSecret)
		adminHandler := admin.NewHandler(repo, svc, cat, sessionMgr, log)

		adminLis, err := tsServer.Listen("tcp", ":80") // Standard HTTP port on tailnet IP
		if err != nil {
			return fmt.Errorf("listen tailnet: %w", err)
		}
		log.Info("admin portal listening", "hostname", cfg.AdminHostname, "transport", "tailscale")

		adminServer := &http.Server{Handler: adminHandler}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := adminServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("admin server shutdown error", "error", err)
			}
		}()
		go func() {
			if err := adminServer.Serve(adminLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("admin server error", "error", err)
			}
		}()
	}

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen HTTP %s: %w", cfg.HTTPAddr, err)
	}
	defer httpListener.Close()

	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()

	log.Info("server started", "http_addr", cfg.HTTPAddr)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveErrCh:
	}
	stop()

	log.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		if serveErr != nil {
			return serveErr
		}
		return fmt.Errorf("shutdown HTTP: %w", err)
	}

	if tsServer != nil {
		tsServer.Close()
	}

	return serveErr
}

// newHTTPHandler protects the versioned API behind bearer auth while leaving
// health and metrics endpoints public.
func newHTTPHandler(apiHandler http.Handler, tokenValidator middleware.TokenValidator, opts ...middleware.AuthOption) http.Handler {
	protectedAPIHandler := middleware.HTTPBearerAuthMiddleware(tokenValidator, opts...)(apiHandler)

	mux := http.NewServeMux()
	mux.Handle("/v1/", protectedAPIHandler)
	mux.Handle("GET /healthz", apiHandler)
	mux.Handle("GET /metrics", apiHandler)

	return mux
}

type apiKeyHashLookup interface {
	ValidateAPIKey(ctx context.Context, id string) (string, error)
}

type apiKeyTokenValidator struct {
	lookup apiKeyHashLookup
}

// ValidateToken checks a "keyID.secret" bearer token against the stored key
// hash and returns the key ID.
func (v *apiKeyTokenValidator) ValidateToken(ctx context.Context, token string) (string, error) {
	if v == nil || v.lookup == nil {
		return "", errors.New("api key validator is nil")
	}

	keyID, rawSecret, found := strings.Cut(token, ".")
	if !found || strings.TrimSpace(keyID) == "" || rawSecret == "" {
		return "", errors.New("invalid token format")
	}

	keyHash, err := v.lookup.ValidateAPIKey(ctx, keyID)
	if err != nil {
		return "", fmt.Errorf("lookup key hash: %w", err)
	}
	if !middleware.APIKeyMatchesHash(keyHash, rawSecret) {
		return "", errors.New("invalid token")
	}

	return keyID, nil
}
