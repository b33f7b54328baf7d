package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/blogview/internal/board"
	"github.com/starford/blogview/internal/query"
	"github.com/starford/blogview/internal/session"
)

// Deps are the collaborators the router mounts.
type Deps struct {
	Sessions *session.Store
	Cache    *query.Client
	Source   board.Source
	// Events, if non-nil, is mounted at GET /events.
	Events      Events
	AuthEnabled bool
	Token       string
	MaxPage     int
}

// NewRouter creates a chi router with the pages, the JSON API under /api
// and the health checks mounted.
func NewRouter(d Deps) chi.Router {
	h := NewHandler(d.Sessions, d.Events)
	ah := NewAPIHandler(d.Cache, d.Source, d.MaxPage)

	r := chi.NewRouter()

	r.Get("/", h.Index)
	r.Post("/pages/next", h.NextPage)
	r.Post("/pages/prev", h.PrevPage)
	r.Post("/posts/{id}/select", h.SelectPost)
	r.Post("/posts/{id}/delete", h.DeletePost)
	r.Post("/posts/{id}/title", h.UpdateTitle)

	if d.Events != nil {
		r.Get("/events", d.Events.ServeHTTP)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(d.AuthEnabled, d.Token))
		r.Get("/posts", ah.ListPosts)
		r.Get("/posts/{id}/comments", ah.ListComments)
	})

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": d.Sessions.Len(), "cached_queries": d.Cache.Len()})
	})

	return r
}
