package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deepgram-starters/voice-agent-relay/internal/auth"
	"github.com/deepgram-starters/voice-agent-relay/internal/config"
	"github.com/deepgram-starters/voice-agent-relay/internal/metrics"
)

const writeWait = 1 * time.Second

// sessionState tracks where a relay session is in its lifecycle. Transitions
// are linear except for the two early exits: Authenticating -> Closed on auth
// failure and OutboundConnecting -> Closed on upstream connect failure.
type sessionState int

const (
	statePending sessionState = iota
	stateAuthenticating
	stateOutboundConnecting
	stateRelaying
	stateClosing
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateAuthenticating:
		return "authenticating"
	case stateOutboundConnecting:
		return "outbound_connecting"
	case stateRelaying:
		return "relaying"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Server implements GET /api/voice-agent: it authenticates the upgrade via
// the access_token subprotocol, opens the outbound leg to the upstream voice
// agent, and forwards frames in both directions until either side closes.
//
// Frames are opaque to the relay: payloads, frame boundaries, and the
// text/binary distinction pass through unmodified, in order, per direction.
type Server struct {
	cfg       config.Config
	log       *slog.Logger
	tokens    *auth.TokenIssuer
	sessions  *SessionManager
	metrics   *metrics.Metrics
	connector Connector
	upgrader  websocket.Upgrader
}

func NewServer(cfg config.Config, logger *slog.Logger, tokens *auth.TokenIssuer, sessions *SessionManager, m *metrics.Metrics, connector Connector) *Server {
	if connector == nil {
		connector = NewConnector(cfg.UpstreamConnectTimeout)
	}
	s := &Server{
		cfg:       cfg,
		log:       logger,
		tokens:    tokens,
		sessions:  sessions,
		metrics:   m,
		connector: connector,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	originHeader := strings.TrimSpace(r.Header.Get("Origin"))
	if originHeader == "" {
		return true
	}
	normalized, host, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}
	if len(s.cfg.AllowedOrigins) > 0 {
		for _, allowed := range s.cfg.AllowedOrigins {
			if allowed == "*" || allowed == normalized {
				return true
			}
		}
		return false
	}
	// Default policy: same host as the request.
	return strings.EqualFold(host, r.Host)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.metrics.Inc(metrics.RelayConnections)

	// Pending: a malformed (non-upgrade) request is a protocol error
	// rejected before any session exists.
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}

	// Authenticating.
	token, subprotocol, err := auth.TokenFromSubprotocols(websocket.Subprotocols(r))
	if err != nil || !s.tokens.VerifyToken(token) {
		s.metrics.Inc(metrics.RelayAuthFailures)
		s.log.Info("relay auth rejected", "remote_addr", r.RemoteAddr)
		http.Error(w, "invalid or missing session token", http.StatusUnauthorized)
		return
	}

	// The subprotocol negotiation contract requires echoing the offer the
	// client authenticated with.
	clientConn, err := s.upgrader.Upgrade(w, r, http.Header{
		"Sec-WebSocket-Protocol": {subprotocol},
	})
	if err != nil {
		return
	}
	defer clientConn.Close()

	if s.cfg.ClientMaxMessageBytes > 0 {
		clientConn.SetReadLimit(s.cfg.ClientMaxMessageBytes)
	}

	sess, err := s.sessions.CreateSession()
	if errors.Is(err, ErrTooManySessions) {
		s.sendErrorFrame(clientConn, CodeTooManySessions, "too many concurrent sessions")
		writeClose(clientConn, websocket.CloseTryAgainLater, "too many concurrent sessions")
		return
	}
	if err != nil {
		writeClose(clientConn, websocket.CloseInternalServerErr, "failed to allocate session")
		return
	}
	defer sess.Close()

	log := s.log.With("session_id", sess.ID(), "remote_addr", r.RemoteAddr)
	log.Debug("session state", "state", stateOutboundConnecting.String())

	upstreamConn, err := s.connectUpstream(r.URL.RawQuery)
	if err != nil {
		s.metrics.Inc(metrics.UpstreamConnectFailures)
		code, desc := classifyConnectError(err)
		log.Warn("upstream connect failed", "err", err, "code", code)
		s.sendErrorFrame(clientConn, code, desc)
		writeClose(clientConn, websocket.CloseInternalServerErr, desc)
		return
	}
	defer upstreamConn.Close()

	log.Info("relay session open", "state", stateRelaying.String())
	s.relayFrames(sess, clientConn, upstreamConn)
	log.Info("relay session closed", "state", stateClosed.String())
}

// connectUpstream dials the voice agent endpoint, forwarding the client's
// query parameters verbatim. The server-held service credential is attached
// to this leg only; the client's session token never crosses it.
func (s *Server) connectUpstream(rawQuery string) (*websocket.Conn, error) {
	u, err := url.Parse(s.cfg.AgentWSURL)
	if err != nil {
		return nil, &connectError{cause: err}
	}
	u.RawQuery = rawQuery

	header := http.Header{}
	header.Set("Authorization", "Token "+s.cfg.DeepgramAPIKey)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.UpstreamConnectTimeout)
	defer cancel()

	conn, resp, err := s.connector.Connect(ctx, u.String(), header)
	if err != nil {
		ce := &connectError{cause: err}
		if resp != nil {
			ce.upstreamStatus = resp.StatusCode
		}
		return nil, ce
	}
	return conn, nil
}

type connectError struct {
	cause          error
	upstreamStatus int
}

func (e *connectError) Error() string { return e.cause.Error() }
func (e *connectError) Unwrap() error { return e.cause }

func classifyConnectError(err error) (code, description string) {
	var ce *connectError
	if errors.As(err, &ce) && ce.upstreamStatus != 0 {
		return CodeDeepgramError, fmt.Sprintf("voice agent refused the connection (status %d)", ce.upstreamStatus)
	}
	return CodeConnectionFailed, "could not reach the voice agent"
}

// relayFrames runs one forwarding goroutine per direction and couples the
// lifetimes of the two legs: the first read error (close, network failure, or
// oversized frame) tears both connections down, which unblocks the surviving
// direction within the transport's close handshake.
func (s *Server) relayFrames(sess *Session, clientConn, upstreamConn *websocket.Conn) {
	firstExit := make(chan struct{})
	var once sync.Once
	exited := func() { once.Do(func() { close(firstExit) }) }

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer exited()
		s.pump(clientConn, upstreamConn, metrics.FramesClientToUpstream)
	}()
	go func() {
		defer wg.Done()
		defer exited()
		s.pump(upstreamConn, clientConn, metrics.FramesUpstreamToClient)
	}()

	select {
	case <-firstExit:
	case <-sess.Done():
	}

	// Closing: drop both transports so the other pump unblocks promptly.
	_ = clientConn.Close()
	_ = upstreamConn.Close()
	wg.Wait()
}

// pump forwards frames from src to dst one at a time, preserving the frame
// type. On a read error it relays the peer's close code to dst before
// returning.
func (s *Server) pump(src, dst *websocket.Conn, counter string) {
	for {
		msgType, msg, err := src.ReadMessage()
		if err != nil {
			code, reason := closeCodeFor(err)
			writeClose(dst, code, reason)
			return
		}
		_ = dst.SetWriteDeadline(time.Now().Add(writeWait))
		if err := dst.WriteMessage(msgType, msg); err != nil {
			return
		}
		s.metrics.Inc(counter)
	}
}

// closeCodeFor maps a read error to a close code that may legally be sent on
// the wire. 1005 and 1006 are reserved for local reporting and are translated.
func closeCodeFor(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNoStatusReceived:
			return websocket.CloseNormalClosure, ""
		case websocket.CloseAbnormalClosure:
			return websocket.CloseInternalServerErr, "peer connection lost"
		default:
			return ce.Code, ce.Text
		}
	}
	return websocket.CloseInternalServerErr, "relay terminated"
}

func (s *Server) sendErrorFrame(conn *websocket.Conn, code, description string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(newErrorFrame(code, description))
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

// normalizeOrigin validates and canonicalizes a browser Origin header into
// scheme://host[:port], dropping default ports. The special value "null" is
// passed through.
func normalizeOrigin(originHeader string) (normalized, host string, ok bool) {
	if originHeader == "null" {
		return "null", "", true
	}
	u, err := url.Parse(originHeader)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}
	host = strings.ToLower(u.Host)
	if (scheme == "http" && strings.HasSuffix(host, ":80")) || (scheme == "https" && strings.HasSuffix(host, ":443")) {
		host = host[:strings.LastIndex(host, ":")]
	}
	return scheme + "://" + host, host, true
}
