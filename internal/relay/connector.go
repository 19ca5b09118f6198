package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Connector opens the outbound WebSocket leg to the upstream voice agent.
// The returned response is non-nil when the upstream answered the handshake
// with a non-101 status, which lets callers distinguish an upstream rejection
// from a plain network failure.
type Connector interface {
	Connect(ctx context.Context, rawURL string, header http.Header) (*websocket.Conn, *http.Response, error)
}

type wsConnector struct {
	dialer *websocket.Dialer
}

func NewConnector(handshakeTimeout time.Duration) Connector {
	return wsConnector{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

func (c wsConnector) Connect(ctx context.Context, rawURL string, header http.Header) (*websocket.Conn, *http.Response, error) {
	return c.dialer.DialContext(ctx, rawURL, header)
}
