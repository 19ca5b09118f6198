package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenAddr      = "LISTEN_ADDR"
	envVarMode            = "MODE"
	envVarLogFormat       = "LOG_FORMAT"
	envVarLogLevel        = "LOG_LEVEL"
	envVarShutdownTimeout = "SHUTDOWN_TIMEOUT"

	// Upstream voice agent.
	envVarDeepgramAPIKey         = "DEEPGRAM_API_KEY"
	envVarAgentWSURL             = "AGENT_WS_URL"
	envVarUpstreamConnectTimeout = "UPSTREAM_CONNECT_TIMEOUT"

	// Session credential protocol.
	envVarSessionSecret   = "SESSION_SECRET"
	envVarNonceTTL        = "NONCE_TTL"
	envVarNonceSweepEvery = "NONCE_SWEEP_INTERVAL"
	envVarTokenTTL        = "TOKEN_TTL"

	// Relay hardening.
	envVarMaxSessions           = "MAX_SESSIONS"
	envVarAllowedOrigins        = "ALLOWED_ORIGINS"
	envVarClientMaxMessageBytes = "CLIENT_MAX_MESSAGE_BYTES"

	envVarMetadataPath = "METADATA_PATH"
)

const (
	DefaultListenAddr             = "127.0.0.1:8080"
	DefaultShutdown               = 15 * time.Second
	DefaultAgentWSURL             = "wss://agent.deepgram.com/v1/agent/converse"
	DefaultUpstreamConnectTimeout = 10 * time.Second

	DefaultNonceTTL        = 5 * time.Minute
	DefaultNonceSweepEvery = 60 * time.Second
	DefaultTokenTTL        = time.Hour

	DefaultClientMaxMessageBytes = int64(1 << 20) // 1MiB
	DefaultMetadataPath          = "metadata.json"

	DefaultMode Mode = ModeDev
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Config carries every runtime knob for the relay. Instances are plain values
// so tests can construct isolated configurations without touching the
// environment.
type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// DeepgramAPIKey is the server-held upstream credential. It is attached to
	// the outbound leg only and never reaches the browser.
	DeepgramAPIKey         string
	AgentWSURL             string
	UpstreamConnectTimeout time.Duration

	// SessionSecret signs session tokens. When empty, a process-lifetime
	// random secret is generated at startup and RequireNonce is false.
	SessionSecret string
	// RequireNonce makes the nonce exchange mandatory before token issuance.
	// It is an explicit flag (derived from SESSION_SECRET presence at load
	// time) so the policy is visible and testable independent of environment.
	RequireNonce bool

	NonceTTL        time.Duration
	NonceSweepEvery time.Duration
	TokenTTL        time.Duration

	// MaxSessions caps concurrent relay sessions. Zero means unlimited.
	MaxSessions           int
	AllowedOrigins        []string
	ClientMaxMessageBytes int64

	MetadataPath string
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, _ := lookup(envVarLogFormat)
	logFormatDefault := envLogFormat
	if logFormatDefault == "" {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, _ := lookup(envVarLogLevel)
	logLevelDefault := envLogLevel
	if logLevelDefault == "" {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	apiKey := envOrDefault(lookup, envVarDeepgramAPIKey, "")
	agentWSURL := envOrDefault(lookup, envVarAgentWSURL, DefaultAgentWSURL)
	sessionSecret := envOrDefault(lookup, envVarSessionSecret, "")
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	metadataPath := envOrDefault(lookup, envVarMetadataPath, DefaultMetadataPath)

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	upstreamConnectTimeout, err := envDurationOrDefault(lookup, envVarUpstreamConnectTimeout, DefaultUpstreamConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	nonceTTL, err := envDurationOrDefault(lookup, envVarNonceTTL, DefaultNonceTTL)
	if err != nil {
		return Config{}, err
	}
	nonceSweepEvery, err := envDurationOrDefault(lookup, envVarNonceSweepEvery, DefaultNonceSweepEvery)
	if err != nil {
		return Config{}, err
	}
	tokenTTL, err := envDurationOrDefault(lookup, envVarTokenTTL, DefaultTokenTTL)
	if err != nil {
		return Config{}, err
	}
	maxSessions, err := envIntOrDefault(lookup, envVarMaxSessions, 0)
	if err != nil {
		return Config{}, err
	}
	clientMaxMessageBytes, err := envIntOrDefault(lookup, envVarClientMaxMessageBytes, int(DefaultClientMaxMessageBytes))
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("voice-agent-relay", flag.ContinueOnError)
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "TCP address to listen on")
	modeStr := fs.String("mode", modeDefault, "runtime mode: dev or prod")
	logFormatStr := fs.String("log-format", logFormatDefault, "log format: text or json")
	logLevelStr := fs.String("log-level", logLevelDefault, "log level: debug, info, warn, error")
	fs.StringVar(&agentWSURL, "agent-ws-url", agentWSURL, "upstream voice agent WebSocket URL")
	fs.StringVar(&metadataPath, "metadata-path", metadataPath, "path to the deployment metadata JSON file")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(*modeStr)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(*logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(*logLevelStr)
	if err != nil {
		return Config{}, err
	}
	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,

		DeepgramAPIKey:         apiKey,
		AgentWSURL:             agentWSURL,
		UpstreamConnectTimeout: upstreamConnectTimeout,

		SessionSecret: sessionSecret,
		RequireNonce:  sessionSecret != "",

		NonceTTL:        nonceTTL,
		NonceSweepEvery: nonceSweepEvery,
		TokenTTL:        tokenTTL,

		MaxSessions:           maxSessions,
		AllowedOrigins:        allowedOrigins,
		ClientMaxMessageBytes: int64(clientMaxMessageBytes),

		MetadataPath: metadataPath,
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%s must not be empty", envVarListenAddr)
	}
	if c.DeepgramAPIKey == "" {
		return fmt.Errorf("%s is required", envVarDeepgramAPIKey)
	}
	u, err := url.Parse(c.AgentWSURL)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", envVarAgentWSURL, c.AgentWSURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid %s %q: scheme must be ws or wss", envVarAgentWSURL, c.AgentWSURL)
	}
	if c.NonceTTL <= 0 {
		return fmt.Errorf("%s must be positive", envVarNonceTTL)
	}
	if c.NonceSweepEvery <= 0 {
		return fmt.Errorf("%s must be positive", envVarNonceSweepEvery)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("%s must be positive", envVarTokenTTL)
	}
	if c.MaxSessions < 0 {
		return fmt.Errorf("%s must not be negative", envVarMaxSessions)
	}
	if c.ClientMaxMessageBytes <= 0 {
		return fmt.Errorf("%s must be positive", envVarClientMaxMessageBytes)
	}
	return nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		o := strings.TrimSpace(p)
		if o == "" {
			continue
		}
		if o == "*" {
			origins = append(origins, o)
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid %s entry %q", envVarAllowedOrigins, o)
		}
		origins = append(origins, strings.ToLower(u.Scheme)+"://"+strings.ToLower(u.Host))
	}
	if len(origins) == 0 {
		return nil, nil
	}
	return origins, nil
}
