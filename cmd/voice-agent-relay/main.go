package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/deepgram-starters/voice-agent-relay/internal/auth"
	"github.com/deepgram-starters/voice-agent-relay/internal/config"
	"github.com/deepgram-starters/voice-agent-relay/internal/httpserver"
	"github.com/deepgram-starters/voice-agent-relay/internal/metrics"
	"github.com/deepgram-starters/voice-agent-relay/internal/relay"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting voice-agent-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"agent_ws_url", cfg.AgentWSURL,
		"require_nonce", cfg.RequireNonce,
		"nonce_ttl", cfg.NonceTTL,
		"token_ttl", cfg.TokenTTL,
		"max_sessions", cfg.MaxSessions,
		"allowed_origins", cfg.AllowedOrigins,
	)

	logStartupSecurityWarnings(logger, cfg)

	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		secret = auth.NewRandomSecret()
	}
	tokens := auth.NewTokenIssuer(secret, cfg.TokenTTL)
	nonces := auth.NewNonceStore(cfg.NonceTTL)
	m := metrics.New()
	sessions := relay.NewSessionManager(cfg.MaxSessions, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go nonces.Run(ctx, cfg.NonceSweepEvery)

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, nonces, tokens, m)
	srv.Mux().Handle("GET /api/voice-agent", relay.NewServer(cfg, logger, tokens, sessions, m, nil))

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	sessions.CloseAll()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, built string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the
	// Go build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if built == "" {
					built = s.Value
				}
			}
		}
	}
	return commit, built
}
