package main

import (
	"log/slog"

	"github.com/deepgram-starters/voice-agent-relay/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if !cfg.RequireNonce {
		logger.Warn("startup security warning: SESSION_SECRET is not set; nonce exchange is disabled and session tokens are signed with an ephemeral key",
			"warning_code", "session_secret_unset",
			"mode", cfg.Mode,
		)
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && !cfg.RequireNonce {
		logger.Warn("startup security warning: running with --mode=prod without SESSION_SECRET",
			"warning_code", "relaxed_auth_in_prod",
			"mode", cfg.Mode,
		)
	}
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
