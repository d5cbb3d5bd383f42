package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-session-service/audit"
	"github.com/jrsteele09/go-session-service/auth"
	"github.com/jrsteele09/go-session-service/federation"
	"github.com/jrsteele09/go-session-service/identity"
	"github.com/jrsteele09/go-session-service/identity/repofake"
	"github.com/jrsteele09/go-session-service/internal/config"
	"github.com/jrsteele09/go-session-service/server"
	"github.com/jrsteele09/go-session-service/token"
	"github.com/jrsteele09/go-session-service/token/refresh"
	"github.com/jrsteele09/go-session-service/token/refresh/postgresledger"
	"github.com/jrsteele09/go-session-service/token/refresh/redisledger"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Fatal().Err(err).Msg("error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	cfg, err := config.New()
	if err != nil {
		return err
	}
	displayAppname(cfg.AppName)

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.Env == "DEV" {
		logger = logger.Level(zerolog.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ledger, err := newLedger(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "ledger")
	}

	// The directory is an external collaborator; the in-memory fake keeps
	// the service runnable standalone.
	var directory identity.Directory = repofake.NewFakeDirectory()

	verifier, err := auth.NewVerifier(directory)
	if err != nil {
		return err
	}

	auditLogger := audit.NewZerologLogger(logger)
	tokens, err := token.NewManager(ledger, directory, token.NewHMACSigner(cfg.SigningKey),
		token.WithTokenTTLs(cfg.AccessTokenTTL, cfg.RefreshTokenTTL),
		token.WithIssuer(cfg.Issuer),
		token.WithAuditLogger(auditLogger),
	)
	if err != nil {
		return err
	}

	sweeper := token.NewSweeper(ledger, logger,
		token.WithSweepInterval(cfg.SweepInterval),
		token.WithRetention(cfg.SweepRetention),
		token.WithBatchSize(cfg.SweepBatchSize),
	)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	options := []server.Option{server.WithAuditLogger(auditLogger)}
	if cfg.OIDC.Enabled() {
		provider, err := federation.NewOIDCProvider(ctx, cfg.OIDC.Name, cfg.OIDC.IssuerURL,
			cfg.OIDC.ClientID, cfg.OIDC.ClientSecret,
			cfg.BaseURL+"/oauth/"+cfg.OIDC.Name+"/callback")
		if err != nil {
			return errors.Wrap(err, "oidc provider")
		}
		options = append(options, server.WithProviders(federation.NewRegistry(provider)))
	}

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: server.New(cfg, verifier, tokens, directory, logger, options...),
	}
	go listenAndServe(srv, logger)
	waitForStopSignal()
	return shutdown(srv)
}

func newLedger(ctx context.Context, cfg *config.Config) (refresh.Ledger, error) {
	switch cfg.LedgerBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, errors.Wrap(err, "redis ping")
		}
		return redisledger.New(client), nil
	case "postgres":
		return postgresledger.Open(ctx, cfg.PostgresDSN)
	case "memory":
		return refresh.NewInMemoryLedger(), nil
	default:
		return nil, errors.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}

func listenAndServe(srv *http.Server, logger zerolog.Logger) {
	logger.Info().Str("addr", srv.Addr).Msg("server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("server.ListenAndServe")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
