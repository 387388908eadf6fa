package server

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// newHTTPServer creates the HTTP server hosting the websocket endpoints.
func newHTTPServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// shutdownHTTP stops accepting connections and waits for in-flight plain
// HTTP requests. Upgraded websocket connections are closed by the hub.
func shutdownHTTP(server *http.Server, timeout time.Duration) error {
	log := logrus.WithField("function", "shutdownHTTP")
	log.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown error")
		return err
	}

	log.Info("HTTP server shutdown completed")
	return nil
}
