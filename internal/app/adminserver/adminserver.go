// Package adminserver exposes the runtime's operational surface: a
// liveness probe and a read-only snapshot of locally-attached
// sessions. Grounded on the teacher's router.go/middleware/cors.go
// pair (internal/http/router, internal/http/middleware), trimmed from
// a full REST API surface down to the two endpoints an operator needs
// to watch this instance — message/group/chat send endpoints are out
// of this repo's scope (see SPEC_FULL.md Non-goals).
package adminserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"waconnect/internal/pool"
	"waconnect/pkg/logger"
)

type Server struct {
	*chi.Mux
	pool *pool.Pool
	log  logger.Logger
}

func New(p *pool.Pool, log logger.Logger) *Server {
	s := &Server{
		Mux:  chi.NewRouter(),
		pool: p,
		log:  log.WithComponent("adminserver"),
	}

	s.Use(middleware.RequestID)
	s.Use(middleware.RealIP)
	s.Use(middleware.Recoverer)
	s.Use(middleware.Timeout(30 * time.Second))
	s.Use(newCORS())

	s.Get("/healthz", s.health)
	s.Get("/debug/sessions", s.debugSessions)

	return s
}

func newCORS() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Accept"},
		MaxAge:         300,
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type sessionSnapshot struct {
	Key   string `json:"key"`
	Phase string `json:"phase"`
	WaJID string `json:"waJid,omitempty"`
}

// debugSessions reports every session key attached on this instance
// and its current phase — a read-only operator view, never a command
// surface.
func (s *Server) debugSessions(w http.ResponseWriter, r *http.Request) {
	keys := s.pool.Keys()
	out := make([]sessionSnapshot, 0, len(keys))
	for _, key := range keys {
		record, err := s.pool.Status(r.Context(), key)
		if err != nil {
			continue
		}
		out = append(out, sessionSnapshot{
			Key:   key.String(),
			Phase: string(record.Phase),
			WaJID: record.WaJID,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
