package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/deepgram-starters/voice-agent-relay/internal/auth"
	"github.com/deepgram-starters/voice-agent-relay/internal/config"
	"github.com/deepgram-starters/voice-agent-relay/internal/metrics"
)

func testConfig() config.Config {
	return config.Config{
		ListenAddr:      "127.0.0.1:0",
		Mode:            config.ModeDev,
		LogFormat:       config.LogFormatText,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: 2 * time.Second,
		DeepgramAPIKey:  "dg-test-key",
		NonceTTL:        5 * time.Minute,
		TokenTTL:        time.Hour,
		RequireNonce:    true,
		MetadataPath:    "metadata.json",
	}
}

func startTestServer(t *testing.T, cfg config.Config) (baseURL string, issuer *auth.TokenIssuer) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	nonces := auth.NewNonceStore(cfg.NonceTTL)
	issuer = auth.NewTokenIssuer([]byte("httpserver-test-secret"), cfg.TokenTTL)
	srv := New(cfg, log, BuildInfo{Commit: "abc", BuildTime: "time"}, nonces, issuer, metrics.New())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})

	return "http://" + ln.Addr().String(), issuer
}

var nonceMetaRe = regexp.MustCompile(`<meta name="session-nonce" content="([0-9a-f]{32})">`)

func fetchNonce(t *testing.T, baseURL string) string {
	t.Helper()

	resp, err := http.Get(baseURL + "/")
	if err != nil {
		t.Fatalf("get bootstrap page: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Fatalf("content-type=%q", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	match := nonceMetaRe.FindSubmatch(body)
	if match == nil {
		t.Fatalf("no session-nonce meta tag in page:\n%s", body)
	}
	return string(match[1])
}

func exchangeNonce(t *testing.T, baseURL, nonce string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/session", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if nonce != "" {
		req.Header.Set("X-Session-Nonce", nonce)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func TestBootstrapPageIssuesFreshNonce(t *testing.T) {
	baseURL, _ := startTestServer(t, testConfig())

	a := fetchNonce(t, baseURL)
	b := fetchNonce(t, baseURL)
	if a == b {
		t.Fatalf("two page loads returned the same nonce %q", a)
	}
}

func TestSessionExchange(t *testing.T) {
	baseURL, issuer := startTestServer(t, testConfig())

	t.Run("missing nonce", func(t *testing.T) {
		resp := exchangeNonce(t, baseURL, "")
		defer resp.Body.Close()
		assertAuthError(t, resp, "INVALID_NONCE")
	})

	t.Run("bogus nonce", func(t *testing.T) {
		resp := exchangeNonce(t, baseURL, "deadbeefdeadbeefdeadbeefdeadbeef")
		defer resp.Body.Close()
		assertAuthError(t, resp, "INVALID_NONCE")
	})

	t.Run("valid nonce is single use", func(t *testing.T) {
		nonce := fetchNonce(t, baseURL)

		resp := exchangeNonce(t, baseURL, nonce)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
		var body tokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Token == "" {
			t.Fatalf("empty token")
		}
		if !issuer.VerifyToken(body.Token) {
			t.Fatalf("issued token does not verify")
		}

		again := exchangeNonce(t, baseURL, nonce)
		defer again.Body.Close()
		assertAuthError(t, again, "INVALID_NONCE")
	})
}

func TestSessionExchangeRelaxedMode(t *testing.T) {
	cfg := testConfig()
	cfg.RequireNonce = false
	baseURL, issuer := startTestServer(t, cfg)

	resp := exchangeNonce(t, baseURL, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want %d (relaxed mode mints unconditionally)", resp.StatusCode, http.StatusOK)
	}
	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !issuer.VerifyToken(body.Token) {
		t.Fatalf("issued token does not verify")
	}
}

func assertAuthError(t *testing.T, resp *http.Response, wantCode string) {
	t.Helper()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusForbidden)
	}
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Type != "AuthenticationError" {
		t.Fatalf("error type=%q, want AuthenticationError", body.Error.Type)
	}
	if body.Error.Code != wantCode {
		t.Fatalf("error code=%q, want %q", body.Error.Code, wantCode)
	}
	if body.Error.Message == "" {
		t.Fatalf("error message empty")
	}
}

func TestMetadata(t *testing.T) {
	t.Run("serves file verbatim", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "metadata.json")
		content := `{"name":"voice-agent-relay","region":"local"}`
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write metadata: %v", err)
		}

		cfg := testConfig()
		cfg.MetadataPath = path
		baseURL, _ := startTestServer(t, cfg)

		resp, err := http.Get(baseURL + "/api/metadata")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(body) != content {
			t.Fatalf("body=%q, want %q", body, content)
		}
	})

	t.Run("missing file is an explicit error", func(t *testing.T) {
		cfg := testConfig()
		cfg.MetadataPath = filepath.Join(t.TempDir(), "does-not-exist.json")
		baseURL, _ := startTestServer(t, cfg)

		resp, err := http.Get(baseURL + "/api/metadata")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusInternalServerError {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusInternalServerError)
		}
		var body errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Error.Code != "METADATA_UNAVAILABLE" {
			t.Fatalf("code=%q, want METADATA_UNAVAILABLE", body.Error.Code)
		}
	})
}

func TestOpsEndpoints(t *testing.T) {
	baseURL, _ := startTestServer(t, testConfig())

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/healthz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/readyz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("version", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/version")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		var got BuildInfo
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		want := BuildInfo{Commit: "abc", BuildTime: "time"}
		if got != want {
			t.Fatalf("got=%+v, want=%+v", got, want)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/metrics")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
	})
}
