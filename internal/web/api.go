package web

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/blogview/internal/apperr"
	"github.com/starford/blogview/internal/board"
	"github.com/starford/blogview/internal/models"
	"github.com/starford/blogview/internal/query"
)

// APIHandler serves cached reads as JSON.
type APIHandler struct {
	cache   *query.Client
	src     board.Source
	maxPage int
}

// NewAPIHandler creates a JSON handler reading through cache.
func NewAPIHandler(cache *query.Client, src board.Source, maxPage int) *APIHandler {
	if maxPage < 1 {
		maxPage = board.DefaultMaxPage
	}
	return &APIHandler{cache: cache, src: src, maxPage: maxPage}
}

// PostsResponse is one page of posts.
type PostsResponse struct {
	Page    int           `json:"page"`
	MaxPage int           `json:"max_page"`
	Posts   []models.Post `json:"posts"`
}

// CommentsResponse lists one post's comments.
type CommentsResponse struct {
	PostID   int              `json:"post_id"`
	Comments []models.Comment `json:"comments"`
}

// ListPosts handles GET /api/posts?page=N.
func (h *APIHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("page must be an integer"))
			return
		}
		page = n
	}
	if err := validation.Validate(page, validation.Required, validation.Min(1), validation.Max(h.maxPage)); err != nil {
		writeError(w, fmt.Errorf("page: %w: %w", apperr.ErrInvalidInput, err))
		return
	}

	posts, err := query.FetchAs(r.Context(), h.cache, board.PostsKey(page), func(ctx context.Context) ([]models.Post, error) {
		return h.src.FetchPosts(ctx, page)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if page < h.maxPage {
		h.cache.Prefetch(board.PostsKey(page+1), board.PostsFetcher(h.src, page+1))
	}
	writeJSON(w, http.StatusOK, PostsResponse{Page: page, MaxPage: h.maxPage, Posts: posts})
}

// ListComments handles GET /api/posts/{id}/comments.
func (h *APIHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	comments, err := query.FetchAs(r.Context(), h.cache, board.CommentsKey(id), func(ctx context.Context) ([]models.Comment, error) {
		return h.src.FetchComments(ctx, id)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CommentsResponse{PostID: id, Comments: comments})
}
