package httpserver

import (
	"html/template"
	"net/http"

	"github.com/deepgram-starters/voice-agent-relay/internal/metrics"
)

// The entry page carries the single-use nonce in a meta tag. The client
// application reads it and trades it for a session token at /api/session.
const bootstrapPage = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta name="session-nonce" content="{{.Nonce}}">
<title>Deepgram Voice Agent</title>
</head>
<body>
<main id="app" data-session-endpoint="/api/session" data-agent-endpoint="/api/voice-agent"></main>
<script type="module" src="/assets/app.js"></script>
</body>
</html>
`

var bootstrapTmpl = template.Must(template.New("bootstrap").Parse(bootstrapPage))

func (s *Server) handleBootstrapPage(w http.ResponseWriter, r *http.Request) {
	nonce := s.nonces.Issue()
	s.m.Inc(metrics.NoncesIssued)

	// The embedded nonce is single-use; cached copies would be dead on
	// arrival.
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := bootstrapTmpl.Execute(w, struct{ Nonce string }{Nonce: nonce}); err != nil {
		s.log.Error("render bootstrap page", "err", err)
	}
}
