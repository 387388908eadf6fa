package server

import "net/http"

// Routes returns the HTTP handler serving the health check and the three
// websocket streams.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/ws/request", s.RequestHandler)
	mux.HandleFunc("/ws/chat", s.ChatHandler)
	mux.HandleFunc("/ws/notify", s.NotifyHandler)
	return mux
}
