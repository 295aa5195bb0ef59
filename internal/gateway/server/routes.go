package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"tcmdiag/internal/gateway/handler"
	"tcmdiag/internal/gateway/middleware"
)

func NewMux(sessions *handler.SessionHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLog)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS)

	r.Get("/healthz", handler.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stages", sessions.Stages)
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessions.Start)
			r.Get("/", sessions.List)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", sessions.Get)
				r.Post("/advance", sessions.Advance)
				r.Put("/draft", sessions.SaveDraft)
				r.Post("/abandon", sessions.Abandon)
				r.Post("/media", sessions.UploadMedia)
				r.Get("/watch", sessions.Watch)
			})
		})
	})
	return r
}
