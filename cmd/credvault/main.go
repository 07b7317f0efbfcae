package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/credvault/internal/config"
	"github.com/p-blackswan/credvault/internal/credential"
	"github.com/p-blackswan/credvault/internal/crypto"
	"github.com/p-blackswan/credvault/internal/docstore"
	"github.com/p-blackswan/credvault/internal/health"
	"github.com/p-blackswan/credvault/internal/metrics"
	"github.com/p-blackswan/credvault/internal/mgmt"
	"github.com/p-blackswan/credvault/internal/policy"
	slackpkg "github.com/p-blackswan/credvault/internal/slack"
	"github.com/p-blackswan/credvault/internal/supervisor"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("mgmt_addr", cfg.MgmtListenAddr).
		Str("namespace", cfg.StoreNamespace).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Msg("starting credvault")

	if cfg.UsingDevSecret() {
		logger.Warn().Msg("ENCRYPTION_SECRET not set — using insecure development secret, stored credentials are NOT protected")
	}

	// Context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Encryption codec (key derived once at startup)
	codec, err := crypto.NewCodec(cfg.EncryptionSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init encryption codec")
	}

	// Durable document store
	store, err := docstore.NewSQLiteStore(cfg.StoreDSN, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open document store")
	}
	defer store.Close()

	// Metrics
	m := metrics.New()

	// Initialization supervisor — verifies the store end to end before
	// credential operations are admitted.
	sup := supervisor.New(store, supervisor.Config{
		MaxAttempts: cfg.InitMaxAttempts,
		BaseDelay:   cfg.InitBaseDelay,
		MaxDelay:    cfg.InitMaxDelay,
	}, m, logger)
	sup.Start(ctx)

	// Workspace policy (optional)
	var pol *policy.Policy
	if cfg.PolicyPath != "" {
		pol, err = policy.Load(cfg.PolicyPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.PolicyPath).Msg("failed to load workspace policy")
		}
		logger.Info().Str("path", cfg.PolicyPath).Msg("workspace policy loaded")
	}

	// Credential store facade
	cache := credential.NewCache(cfg.CacheCapacity)
	creds := credential.NewService(store, sup, codec, cache, pol, credential.Config{
		Namespace:    cfg.StoreNamespace,
		TTL:          cfg.CredentialTTL,
		ReadyTimeout: cfg.ReadyTimeout,
	}, m, logger)

	// Health checker
	checker := health.NewChecker(logger)
	checker.Register("docstore", func(ctx context.Context) health.Status {
		if err := store.Ping(ctx); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})
	checker.Register("init", func(ctx context.Context) health.Status {
		switch sup.State() {
		case supervisor.StateReady:
			return health.StatusOK
		case supervisor.StateFailed:
			return health.StatusDown
		default:
			return health.StatusDegraded
		}
	})

	// WaitGroup for in-flight work
	var wg sync.WaitGroup

	// --- Management API ---
	mgmtServer := mgmt.NewServer(mgmt.ServerConfig{
		ListenAddr: cfg.MgmtListenAddr,
		AuthConfig: mgmt.AuthConfig{
			Mode:      cfg.MgmtAuthMode,
			APIKey:    cfg.MgmtAPIKey,
			JWTSecret: cfg.MgmtJWTSecret,
		},
		RateLimit: mgmt.RateLimitConfig{
			RPS:   cfg.MgmtRateLimitRPS,
			Burst: cfg.MgmtRateLimitBurst,
		},
		CORSOrigins: cfg.MgmtCORSOrigins,
	}, creds, checker, m, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mgmtServer.Listen(); err != nil {
			logger.Error().Err(err).Msg("management API server error")
		}
	}()

	// Start Slack Socket Mode (optional — only if tokens provided)
	if cfg.SlackEnabled() {
		slackHandler := slackpkg.NewHandler(creds, nil, cfg.SlackCommand, logger)
		slackApp, slackErr := slackpkg.NewApp(cfg.SlackBotToken, cfg.SlackAppToken, logger, slackHandler)
		if slackErr != nil {
			logger.Error().Err(slackErr).Msg("failed to init Slack app (non-fatal)")
		} else {
			logger.Info().Str("command", cfg.SlackCommand).Msg("Slack Socket Mode enabled")
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := slackApp.Run(ctx); err != nil {
					logger.Error().Err(err).Msg("Slack Socket Mode error")
				}
			}()
		}
	} else {
		logger.Info().Msg("Slack not configured — running in API-only mode")
	}

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	// Cancel context to signal all goroutines
	cancel()

	if err := mgmtServer.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("management API server shutdown error")
	}

	// Wait for in-flight work to complete
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("credvault stopped")
}
