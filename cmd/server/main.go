package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/relay"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/store"
	"github.com/Tyrowin/roomchat/internal/telemetry"
)

const serviceName = "roomchat"

func main() {
	// Variables already set in the environment win over .env entries.
	dotenvErr := godotenv.Load()

	cfg, err := server.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "roomchat: %v\n", err)
		os.Exit(2)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	if dotenvErr != nil && !errors.Is(dotenvErr, fs.ErrNotExist) {
		logger.Warn("could not load .env file", "error", dotenvErr)
	}

	if cfg.SecretKey == "change-me" {
		logger.Warn("SECRET_KEY is the development default; set it before exposing the server")
	}

	app, shutdownTracing, err := build(cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := app.ListenAndServe(); err != nil {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"chat-server": func(ctx context.Context) error {
				logger.Info("graceful shutdown initiated")
				return app.Shutdown(ctx)
			},
			"tracing": shutdownTracing,
		},
	)

	exitCode := <-wait
	logger.Info("server exited", "code", exitCode)
	os.Exit(exitCode)
}

func build(cfg server.Config, logger *slog.Logger) (*server.App, func(context.Context) error, error) {
	ctx := context.Background()

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return nil, nil, err
	}

	st, err := store.Open(cfg.DatabaseURL, store.Options{Logger: logger, LogSQL: cfg.SlogLevel() < slog.LevelInfo})
	if err != nil {
		return nil, nil, err
	}

	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		SecretKey: cfg.SecretKey,
		Algorithm: cfg.Algorithm,
		TTL:       cfg.TokenTTL(),
	})
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	accounts := auth.NewService(st, auth.NewPasswordHasher(cfg.BcryptCost), tokens, logger)

	rl, err := relay.Open(ctx, cfg.RelayBackend, relay.Options{
		RedisAddr: cfg.RedisAddr,
		NATSURL:   cfg.NATSURL,
		Logger:    logger,
	})
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	deps := server.Deps{
		Accounts:      accounts,
		Authenticator: accounts,
		Rooms:         st,
		History:       st,
		Store:         st,
		Logger:        logger,
	}
	if rl != nil {
		deps.Relay = rl
		logger.Info("broadcast relay enabled", "backend", string(cfg.RelayBackend))
	}

	app, err := server.New(cfg, deps)
	if err != nil {
		if rl != nil {
			_ = rl.Close()
		}
		_ = st.Close()
		return nil, nil, err
	}
	return app, shutdownTracing, nil
}

func newLogger(cfg server.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
