package auth

import (
	"errors"
	"strings"
)

// SubprotocolPrefix is the marker the browser prepends to the session token
// in the Sec-WebSocket-Protocol offer. Browser WebSocket clients cannot set
// arbitrary headers, so the subprotocol list is the only place a handshake
// credential fits.
const SubprotocolPrefix = "access_token."

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// TokenFromSubprotocols scans the subprotocols offered during the upgrade for
// an access_token entry and returns the bare token plus the full subprotocol
// string to echo back on accept.
func TokenFromSubprotocols(offered []string) (token, subprotocol string, err error) {
	for _, proto := range offered {
		rest, ok := strings.CutPrefix(proto, SubprotocolPrefix)
		if !ok {
			continue
		}
		if rest == "" {
			return "", "", ErrInvalidCredentials
		}
		return rest, proto, nil
	}
	return "", "", ErrMissingCredentials
}
