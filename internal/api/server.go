// Package api exposes the thin HTTP surface: source/media management
// endpoints that trigger orchestrator work, and the live status websocket.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"localtube/internal/ports"
	"localtube/internal/tasks"
)

type Server struct {
	router   chi.Router
	store    ports.Store
	orch     *tasks.Orchestrator
	mediaDir string
	log      zerolog.Logger
}

func NewServer(store ports.Store, orch *tasks.Orchestrator, mediaDir string, log zerolog.Logger) *Server {
	s := &Server{
		store:    store,
		orch:     orch,
		mediaDir: mediaDir,
		log:      log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/sources", s.listSources)
		r.Post("/sources", s.createSource)
		r.Delete("/sources/{id}", s.deleteSource)
		r.Get("/medias", s.listMedia)
		r.Post("/medias", s.createMedia)
		r.Delete("/medias/{id}", s.deleteMedia)
		r.Get("/status", s.statusSnapshot)
		r.Get("/metrics", s.metricsView)
	})
	r.Get("/ws/status", s.statusWS)

	s.router = r
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	httpServer := http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     s.router,
		ReadTimeout: 60 * time.Second,
		// no WriteTimeout: websocket connections outlive any sane value
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Int("port", port).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// Handler exposes the router (used by tests).
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}
