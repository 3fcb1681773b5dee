package query

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/felixgeelhaar/rewind/internal/observe"
)

// Handler returns the HTTP API for s.
func Handler(s *Surface) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Get("/context", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.CurrentContext(s.Now()))
	})
	router.Post("/analyze", func(w http.ResponseWriter, r *http.Request) {
		queued := s.Trigger()
		writeJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
	})
	return router
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Server serves Handler on a listen address until its context ends.
type Server struct {
	addr string
	srv  *http.Server
	obs  *observe.Observer
}

func NewServer(addr string, s *Surface, obs *observe.Observer) *Server {
	return &Server{
		addr: addr,
		obs:  obs,
		srv: &http.Server{
			Handler:           Handler(s),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Serve listens on the configured address and blocks until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln and shuts down gracefully when ctx is done.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.obs.Log().Info().Str("addr", ln.Addr().String()).Msg("query server listening")

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
