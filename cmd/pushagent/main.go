// Package main runs the channel registration agent with its control API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pushlane/pushlane/internal/agent"
	"github.com/pushlane/pushlane/internal/api"
	"github.com/pushlane/pushlane/internal/api/middleware"
	"github.com/pushlane/pushlane/internal/auth"
	"github.com/pushlane/pushlane/internal/backend"
	"github.com/pushlane/pushlane/internal/channel"
	"github.com/pushlane/pushlane/internal/config"
	"github.com/pushlane/pushlane/internal/database"
	"github.com/pushlane/pushlane/internal/job"
	"github.com/pushlane/pushlane/internal/resilience"
	"github.com/pushlane/pushlane/internal/store"
	"github.com/pushlane/pushlane/internal/telemetry"
	"github.com/pushlane/pushlane/internal/worker"
)

// Version is set at compile time via ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "path to pushagent.yaml")
	mintToken := flag.String("mint-token", "", "print a control token for this subject and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)

	if *mintToken != "" {
		token, expiresAt, err := controlTokens(cfg).GenerateToken(*mintToken, "")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to mint control token")
		}
		fmt.Println(token)
		log.Info().Time("expires_at", expiresAt).Msg("control token minted")
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("agent stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("agent stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Env.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Env.Log.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log = zerolog.New(os.Stdout)
	}

	return log.Level(level).
		With().
		Timestamp().
		Str("service", cfg.Env.ServiceName).
		Str("version", Version).
		Logger()
}

func controlTokens(cfg *config.Config) *auth.JWTService {
	return auth.NewJWTService(auth.JWTConfig{SigningKey: cfg.Control.JWTSigningKey})
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	log.Info().
		Str("environment", cfg.Env.Name).
		Str("device_type", cfg.Device.Type).
		Str("store", cfg.Store.Driver).
		Msg("starting registration agent")

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Env.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Env.Name,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown telemetry")
		}
	}()

	agentMetrics, err := telemetry.NewMetrics(tp.Meter)
	if err != nil {
		return fmt.Errorf("initialize agent metrics: %w", err)
	}
	httpMetrics, err := middleware.NewMetrics(tp.Meter)
	if err != nil {
		return fmt.Errorf("initialize http metrics: %w", err)
	}

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := resilience.NewRegistry()
	clientCfg := resilience.DefaultClientConfig(backend.ClientName)
	clientCfg.Timeout = cfg.Backend.Timeout
	clientCfg.CircuitBreaker.Timeout = cfg.Backend.CircuitBreakerTimeout
	clientCfg.CircuitBreaker.OnStateChange = resilience.LogStateChange(log)
	clientCfg.Registry = registry
	clientCfg.Logger = log

	backendClient := backend.NewClient(backend.ClientConfig{
		BaseURL:    cfg.Backend.BaseURL,
		AppKey:     cfg.Backend.AppKey,
		AppSecret:  cfg.Backend.AppSecret,
		Vendor:     cfg.Backend.Vendor,
		HTTPClient: resilience.NewClient(clientCfg),
		Logger:     log,
	})

	runner := job.NewRunner(job.RunnerConfig{
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
		Logger:          log,
	})

	reg := cfg.Registration
	a, err := agent.New(ctx, agent.Config{
		Store:      st,
		Backend:    backendClient,
		Dispatcher: runner,
		Device: channel.DeviceAttributes{
			DeviceType: channel.DeviceType(cfg.Device.Type),
			Timezone:   cfg.Device.Timezone,
			Language:   cfg.Device.Language,
			Country:    cfg.Device.Country,
		},
		Defaults: agent.Defaults{
			PushEnabled:                   true,
			ChannelTagRegistrationEnabled: reg.TagRegistration,
			PushTokenRegistrationEnabled:  reg.TokenRegistration,
			AnalyticsEnabled:              reg.Analytics,
			ChannelCreationDelayEnabled:   reg.ChannelCreationDelay,
		},
		PushTransportAllowed:      reg.PushTransportAllowed(),
		ClearNamedUserOnReinstall: reg.ClearNamedUserOnReinstall,
		AllowNamedUserSetTags:     reg.AllowNamedUserSetTags,
		ReregistrationInterval:    reg.ReregistrationInterval,
		Metrics:                   agentMetrics,
		Logger:                    log,
	})
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}

	runner.Start(ctx, a)
	defer runner.Stop()
	a.Start()

	errCh := make(chan error, 2)

	if cfg.PubSub.Enabled {
		handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:      cfg.PubSub.ProjectID,
			SubscriptionID: cfg.PubSub.SubscriptionID,
			Triggers: worker.NewTriggers(worker.TriggersConfig{
				Dispatcher: runner,
				Channel:    a,
				NamedUser:  a.NamedUser(),
				Logger:     log,
			}),
			Logger: log,
		})
		if err != nil {
			return err
		}
		defer func() { _ = handler.Close() }()

		go func() {
			if err := handler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("pubsub receive: %w", err)
			}
		}()
	}

	if cfg.Control.JWTSigningKey == "" {
		log.Warn().Msg("control.jwtSigningKey is not set, control API will reject every request")
	}

	server := &http.Server{
		Addr: ":" + strconv.Itoa(cfg.Control.Port),
		Handler: api.NewRouter(api.RouterConfig{
			Version:    Version,
			Logger:     log,
			Metrics:    httpMetrics,
			Agent:      a,
			Registry:   registry,
			Tokens:     controlTokens(cfg),
			RateLimit:  middleware.ControlRateLimit(cfg.Control.RateLimit),
			RequireTLS: cfg.Control.RequireTLS,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("control API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("control API: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Control.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("control API forced to shutdown")
	}
	return runErr
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, func(), error) {
	if cfg.Store.Driver != config.StorePostgres {
		log.Warn().Msg("using in-memory store, registration state is lost on restart")
		return store.NewInMemoryStore(), func() {}, nil
	}

	dbCfg := cfg.Store.Postgres
	pool, err := database.Connect(ctx, dbCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	pg := store.NewPostgresStore(pool, cfg.Store.Namespace)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("prepare store schema: %w", err)
	}

	log.Info().
		Str("host", dbCfg.Host).
		Int("port", dbCfg.Port).
		Str("database", dbCfg.Database).
		Str("namespace", cfg.Store.Namespace).
		Msg("database connected")
	return pg, pool.Close, nil
}
