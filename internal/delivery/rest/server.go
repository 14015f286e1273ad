// Path: internal/delivery/rest/server.go
package rest

import (
	"context"
	"net/http"
	"time"
)

// Server is the HTTP server for the read-only status API.
type Server struct {
	httpServer *http.Server
}

// NewServer creates and configures a new status server listening on addr.
func NewServer(addr string, source progressSource) *Server {
	statusHandlers := NewStatusHandlers(source)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", statusHandlers.GetStatus)
	mux.HandleFunc("GET /healthz", statusHandlers.Healthz)

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  15 * time.Second,
		},
	}
}

// Handler exposes the routes, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
