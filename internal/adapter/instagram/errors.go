package instagram

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	codeOAuth          = 190
	codeWindowClosed   = 10
	subcodeOutOfWindow = 2018278
	typeOAuthException = "OAuthException"
)

// GraphError is the error object returned by the Meta Graph API.
type GraphError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Subcode    int    `json:"error_subcode"`
	Type       string `json:"type"`
	Message    string `json:"message"`
	TraceID    string `json:"fbtrace_id"`
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph api error (status %d, code %d, subcode %d, type %s): %s", e.StatusCode, e.Code, e.Subcode, e.Type, e.Message)
}

// IsTokenExpired reports whether err means the access token is no longer valid.
func IsTokenExpired(err error) bool {
	ge, ok := errors.AsType[*GraphError](err)
	return ok && (ge.Code == codeOAuth || ge.Type == typeOAuthException)
}

// IsWindowClosed reports whether err means the 24h messaging window has closed.
func IsWindowClosed(err error) bool {
	ge, ok := errors.AsType[*GraphError](err)
	return ok && (ge.Code == codeWindowClosed || ge.Subcode == subcodeOutOfWindow)
}

func parseGraphError(status int, body []byte) *GraphError {
	var envelope struct {
		Error *GraphError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		return &GraphError{StatusCode: status, Message: truncate(string(body), 200)}
	}
	envelope.Error.StatusCode = status
	return envelope.Error
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
