// Package health serves the liveness endpoint hosting platforms poll.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"
)

type Server struct {
	addr      string
	name      string
	startedAt time.Time
	server    *http.Server
	mux       *http.ServeMux
}

type response struct {
	Status     string  `json:"status"`
	Name       string  `json:"name"`
	UptimeSecs float64 `json:"uptime_seconds"`
}

// NewServer configures the server without starting it.
func NewServer(addr, name string) *Server {
	s := &Server{
		addr:      addr,
		name:      name,
		startedAt: time.Now(),
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("/", s.handleHealth)
	s.mux.HandleFunc("/health", s.handleHealth)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start listens in the background and returns once the port is open. The
// server shuts down when ctx ends.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("health server: listen %s: %w", s.addr, err)
	}

	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("[health] listening on %s", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[health] server stopped: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		log.Printf("[health] shutdown error: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/health" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	resp := response{
		Status:     "ok",
		Name:       s.name,
		UptimeSecs: time.Since(s.startedAt).Seconds(),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[health] encode response: %v", err)
	}
}
