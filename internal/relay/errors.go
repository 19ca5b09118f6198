package relay

import "errors"

// Machine-readable codes carried in error frames sent to the client.
const (
	CodeDeepgramError    = "DEEPGRAM_ERROR"
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeTooManySessions  = "TOO_MANY_SESSIONS"
)

var ErrTooManySessions = errors.New("too many sessions")

// ErrorFrame is the structured error frame sent over the client-facing socket
// before teardown, so the client can react instead of observing a silent
// disconnect.
type ErrorFrame struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Code        string `json:"code"`
}

func newErrorFrame(code, description string) ErrorFrame {
	return ErrorFrame{Type: "Error", Description: description, Code: code}
}
