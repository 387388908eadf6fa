package server

import (
	"errors"
	"strings"
)

// Connection kinds served by the websocket endpoints.
const (
	kindRequest = "request"
	kindChat    = "chat"
	kindNotify  = "notify"
)

var errSendFailed = errors.New("send buffer full or connection closed")

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
