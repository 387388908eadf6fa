package server

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

// RequestHandler upgrades to the request stream.
func (s *Server) RequestHandler(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, kindRequest, func(*Conn) Handler {
		return &requestSession{srv: s}
	})
}

// ChatHandler upgrades to the chat and file signalling stream.
func (s *Server) ChatHandler(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, kindChat, func(c *Conn) Handler {
		return &chatSession{srv: s, conn: c}
	})
}

// NotifyHandler upgrades to the notification push stream.
func (s *Server) NotifyHandler(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, kindNotify, func(c *Conn) Handler {
		return &notifySession{srv: s, conn: c}
	})
}

// serveWS validates the method, upgrades the connection and registers it
// with the hub, which launches the pumps.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, kind string, newHandler func(*Conn) Handler) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{"function": "serveWS", "kind": kind, "remote": r.RemoteAddr}).
			WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := newConn(ws, s.hub, r.RemoteAddr, kind, s.cfg)
	c.handler = newHandler(c)
	if !s.hub.registerConn(c) {
		_ = ws.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Presence server is running!")
}
