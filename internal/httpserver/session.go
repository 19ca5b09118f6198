package httpserver

import (
	"net/http"

	"github.com/deepgram-starters/voice-agent-relay/internal/metrics"
)

const nonceHeader = "X-Session-Nonce"

type apiError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// handleSession exchanges a page nonce for a session token. When nonce
// verification is not mandatory (no external SESSION_SECRET), a token is
// minted unconditionally. Failures are terminal for the attempt: the client
// restarts the bootstrap flow, the server never retries.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.cfg.RequireNonce {
		nonce := r.Header.Get(nonceHeader)
		if nonce == "" || !s.nonces.Consume(nonce) {
			s.m.Inc(metrics.NoncesRejected)
			WriteJSON(w, http.StatusForbidden, errorResponse{Error: apiError{
				Type:    "AuthenticationError",
				Code:    "INVALID_NONCE",
				Message: "invalid or expired session nonce; reload the page and try again",
			}})
			return
		}
		s.m.Inc(metrics.NoncesConsumed)
	}

	token, err := s.tokens.CreateToken()
	if err != nil {
		s.log.Error("mint session token", "err", err)
		WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: apiError{
			Type:    "InternalError",
			Code:    "TOKEN_MINT_FAILED",
			Message: "could not create a session token",
		}})
		return
	}
	s.m.Inc(metrics.TokensIssued)

	WriteJSON(w, http.StatusOK, tokenResponse{Token: token})
}
