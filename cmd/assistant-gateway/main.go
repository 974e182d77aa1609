// Package main provides the entry point for the assistant gateway.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/sarvinshrivastava/assistant-gateway/internal/config"
	"github.com/sarvinshrivastava/assistant-gateway/internal/server"
	"github.com/sarvinshrivastava/assistant-gateway/pkg/assistant"
	"github.com/sarvinshrivastava/assistant-gateway/pkg/audit"
	auditpg "github.com/sarvinshrivastava/assistant-gateway/pkg/audit/postgres"
	"github.com/sarvinshrivastava/assistant-gateway/pkg/database/migrate"
	"github.com/sarvinshrivastava/assistant-gateway/pkg/gate"
	"github.com/sarvinshrivastava/assistant-gateway/pkg/health"
	"github.com/sarvinshrivastava/assistant-gateway/pkg/permission"
	"github.com/sarvinshrivastava/assistant-gateway/pkg/ratelimit"
	"github.com/sarvinshrivastava/assistant-gateway/pkg/session"
)

// Version is set at build time.
var Version = "dev"

// shutdownTimeout bounds the graceful drain of the admin HTTP server.
const shutdownTimeout = 15 * time.Second

// auditCleanupInterval is how often old Postgres audit events are pruned.
const auditCleanupInterval = 24 * time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	showVersion bool
}

func parseFlags() options {
	opts := options{}
	flag.StringVar(&opts.configPath, "config", "config.yaml", "Path to configuration file")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("assistant-gateway version %s\n", Version)
		return nil
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := setupSignalHandler()
	checker := health.NewChecker()

	limiter, err := buildLimiter(cfg)
	if err != nil {
		return err
	}

	logger, db, err := buildAuditLogger(cfg, checker)
	if err != nil {
		_ = limiter.Close()
		return err
	}

	g := gate.New(
		gate.Config{
			AdminExempt:      cfg.RateLimit.AdminExempt,
			FailureThreshold: cfg.Security.FailureThreshold,
			FailureWindow:    time.Duration(cfg.Security.FailureWindowSeconds) * time.Second,
			AutoRestrict:     time.Duration(cfg.Security.AutoRestrictMinutes) * time.Minute,
			SweepInterval:    cfg.Sessions.CleanupInterval(),
		},
		permission.NewResolver(permission.Config{
			AdminUsers:         cfg.Permissions.AdminUsers,
			TrustedUsers:       cfg.Permissions.TrustedUsers,
			AllowedServers:     cfg.Permissions.AllowedServers,
			RestrictedCommands: cfg.Permissions.RestrictedCommands,
		}),
		permission.NewRegistry(),
		limiter,
		session.NewStore(session.Config{
			Timeout:             cfg.Sessions.Timeout(),
			MaxSessions:         cfg.Sessions.MaxConcurrent,
			ConversationTimeout: cfg.Sessions.ConversationTimeout(),
		}),
		logger,
	)
	defer func() {
		if err := g.Close(); err != nil {
			slog.Error("gateway: close failed", "error", err)
		}
		if db != nil {
			_ = db.Close()
		}
	}()

	backend, err := connectAssistant(ctx, cfg, checker)
	if err != nil {
		return err
	}
	if backend != nil {
		defer func() { _ = backend.Close() }()
	}

	adminSrv := server.NewServer(cfg.Server.Addr, server.NewHandler(g, logger, checker, adminAuth(cfg)))
	errCh := make(chan error, 1)
	go func() { errCh <- adminSrv.Start() }()

	checker.SetReady()
	slog.Info("gateway: started", "version", Version, "addr", cfg.Server.Addr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("admin server: %w", err)
	}

	checker.SetDraining()
	slog.Info("gateway: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return adminSrv.Shutdown(shutdownCtx)
}

// buildLimiter constructs the configured rate-limit backend.
func buildLimiter(cfg *config.Config) (ratelimit.Limiter, error) {
	limitCfg := ratelimit.Config{
		MaxRequests: cfg.RateLimit.MaxRequests,
		Window:      time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
	}

	switch cfg.RateLimit.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.Redis.Addr,
			Password: cfg.RateLimit.Redis.Password,
			DB:       cfg.RateLimit.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		slog.Info("gateway: using redis rate limiter", "addr", cfg.RateLimit.Redis.Addr)
		return ratelimit.NewRedis(client, limitCfg), nil
	default:
		limiter := ratelimit.NewSlidingWindow(limitCfg)
		limiter.StartSweep(0)
		return limiter, nil
	}
}

// buildAuditLogger constructs the configured audit backend wrapped in the
// async writer. The returned *sql.DB is non-nil only for Postgres and is
// owned by the caller.
func buildAuditLogger(cfg *config.Config, checker *health.Checker) (audit.Logger, *sql.DB, error) {
	if cfg.Audit.Backend != "postgres" {
		return audit.NewAsyncLogger(audit.NewMemoryLog(cfg.Audit.MemoryRetention), cfg.Audit.QueueSize), nil, nil
	}

	db, err := sql.Open("postgres", cfg.Audit.DatabaseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("opening audit database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("pinging audit database: %w", err)
	}
	if err := migrate.Run(db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	store := auditpg.New(db, auditpg.Config{RetentionDays: cfg.Audit.RetentionDays})
	store.StartCleanupRoutine(auditCleanupInterval)
	checker.AddProbe("database", db.PingContext)
	slog.Info("gateway: using postgres audit log", "retention_days", cfg.Audit.RetentionDays)

	return audit.NewAsyncLogger(store, cfg.Audit.QueueSize), db, nil
}

// connectAssistant dials the assistant backend when one is configured and
// wires its health ping.
func connectAssistant(ctx context.Context, cfg *config.Config, checker *health.Checker) (*assistant.Client, error) {
	if cfg.Assistant.Endpoint == "" {
		slog.Warn("gateway: no assistant endpoint configured, running gate-only")
		return nil, nil
	}

	backend, err := assistant.Dial(ctx, assistant.Config{
		Endpoint:     cfg.Assistant.Endpoint,
		Tool:         cfg.Assistant.Tool,
		HistoryLimit: cfg.Assistant.HistoryLimit,
	})
	if err != nil {
		return nil, err
	}

	backend.StartPing(ctx, cfg.Assistant.PingInterval())
	checker.AddProbe("assistant", backend.Ping)
	return backend, nil
}

// adminAuth builds the admin API auth middleware from configured
// credentials. With none configured the API rejects all callers.
func adminAuth(cfg *config.Config) func(http.Handler) http.Handler {
	var chain server.ChainAuthenticators
	if len(cfg.Server.APIKeyHashes) > 0 {
		chain = append(chain, &server.APIKeyAuthenticator{Hashes: cfg.Server.APIKeyHashes})
	}
	if cfg.Server.JWTSigningKey != "" {
		chain = append(chain, &server.JWTAuthenticator{SigningKey: []byte(cfg.Server.JWTSigningKey)})
	}
	if len(chain) == 0 {
		return server.RequireAdmin(nil)
	}
	return server.RequireAdmin(chain)
}
