// Package web serves the post browser: server-rendered pages keyed to a
// session cookie, a small JSON read API, and the SSE change stream.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/blogview/internal/apperr"
	"github.com/starford/blogview/internal/board"
	"github.com/starford/blogview/internal/session"
)

// Events is the change stream pages listen on. Seq counts settled changes.
type Events interface {
	http.Handler
	Seq() uint64
}

// Handler holds the page handlers.
type Handler struct {
	sessions *session.Store
	events   Events
}

// NewHandler creates a page handler backed by sessions. events may be nil,
// in which case pages never reload themselves.
func NewHandler(sessions *session.Store, events Events) *Handler {
	return &Handler{sessions: sessions, events: events}
}

// indexPage is the list view plus the change sequence it was built at.
type indexPage struct {
	board.ListView
	Seq uint64
}

func pathID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		return 0, fmt.Errorf("post id %q: %w", chi.URLParam(r, "id"), apperr.ErrInvalidInput)
	}
	return id, nil
}

func backToIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Index handles GET /.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	p := h.sessions.Load(w, r)
	// Read the sequence first: a change settling while the view is built
	// then shows up as newer than the page.
	var seq uint64
	if h.events != nil {
		seq = h.events.Seq()
	}
	renderHTML(w, http.StatusOK, "index", indexPage{ListView: p.View(r.Context()), Seq: seq})
}

// NextPage handles POST /pages/next.
func (h *Handler) NextPage(w http.ResponseWriter, r *http.Request) {
	h.sessions.Load(w, r).Next()
	backToIndex(w, r)
}

// PrevPage handles POST /pages/prev.
func (h *Handler) PrevPage(w http.ResponseWriter, r *http.Request) {
	h.sessions.Load(w, r).Prev()
	backToIndex(w, r)
}

// SelectPost handles POST /posts/{id}/select.
func (h *Handler) SelectPost(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p := h.sessions.Load(w, r)
	if err := p.SelectID(r.Context(), id); err != nil {
		slog.Info("select post failed", slog.Int("id", id), slog.String("error", err.Error()))
	}
	backToIndex(w, r)
}

// DeletePost handles POST /posts/{id}/delete.
func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	p, ok := h.selectedBoard(w, r)
	if !ok {
		return
	}
	// The action is pending before the redirect; the outcome arrives as a
	// banner once the page reloads.
	done, err := p.StartDelete(context.WithoutCancel(r.Context()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	go logOutcome(done, p.DeleteAction().Name(), func() error { return p.DeleteAction().State().Err })
	backToIndex(w, r)
}

// UpdateTitle handles POST /posts/{id}/title.
func (h *Handler) UpdateTitle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	p, ok := h.selectedBoard(w, r)
	if !ok {
		return
	}
	done, err := p.StartUpdate(context.WithoutCancel(r.Context()), r.PostForm.Get("title"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	go logOutcome(done, p.UpdateAction().Name(), func() error { return p.UpdateAction().State().Err })
	backToIndex(w, r)
}

func logOutcome(done <-chan struct{}, name string, result func() error) {
	<-done
	if err := result(); err != nil {
		slog.Info("post action failed", slog.String("action", name), slog.String("error", err.Error()))
	}
}

// selectedBoard loads the visitor's board and checks that the post in the
// URL is the selected one.
func (h *Handler) selectedBoard(w http.ResponseWriter, r *http.Request) (*board.Posts, bool) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	p := h.sessions.Load(w, r)
	post, ok := p.Selected()
	if !ok || post.ID != id {
		http.Error(w, "post is not selected", http.StatusConflict)
		return nil, false
	}
	return p, true
}
