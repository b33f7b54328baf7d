// Package testutil provides a fake posts API for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/starford/blogview/internal/models"
)

// FakeAPI is an in-memory JSONPlaceholder-style server.
type FakeAPI struct {
	Server *httptest.Server

	mu       sync.Mutex
	posts    []models.Post
	comments map[int][]models.Comment
	hits     map[string]int
	failures map[string]int
	gate     chan struct{}
}

// NewFakeAPI starts a server holding numPosts generated posts. Each post has
// one comment. The server is closed on test cleanup.
func NewFakeAPI(t *testing.T, numPosts int) *FakeAPI {
	t.Helper()
	f := &FakeAPI{
		comments: make(map[int][]models.Comment),
		hits:     make(map[string]int),
		failures: make(map[string]int),
	}
	for i := 1; i <= numPosts; i++ {
		f.posts = append(f.posts, models.Post{
			ID:     i,
			UserID: 1 + (i-1)/10,
			Title:  fmt.Sprintf("post %d", i),
			Body:   fmt.Sprintf("body of post %d", i),
		})
		f.comments[i] = []models.Comment{{
			ID:     i,
			PostID: i,
			Name:   "comment",
			Email:  fmt.Sprintf("reader%d@example.com", i),
			Body:   fmt.Sprintf("comment on %d", i),
		}}
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the base URL of the fake server.
func (f *FakeAPI) URL() string {
	return f.Server.URL
}

// SetPosts replaces the stored posts.
func (f *FakeAPI) SetPosts(posts []models.Post) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = posts
}

// SetComments replaces the comments of one post.
func (f *FakeAPI) SetComments(postID int, comments []models.Comment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[postID] = comments
}

// FailWith makes every request whose "METHOD /path" starts with route answer
// with status. A status of 0 clears the failure.
func (f *FakeAPI) FailWith(route string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status == 0 {
		delete(f.failures, route)
		return
	}
	f.failures[route] = status
}

// Hold blocks every request until the returned release func is called.
func (f *FakeAPI) Hold() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.gate = nil
			f.mu.Unlock()
			close(gate)
		})
	}
}

// Hits returns how many requests matched "METHOD /path?query".
func (f *FakeAPI) Hits(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[route]
}

func (f *FakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	route := r.Method + " " + r.URL.Path
	if r.URL.RawQuery != "" {
		route += "?" + r.URL.RawQuery
	}

	f.mu.Lock()
	f.hits[route]++
	gate := f.gate
	status := 0
	for prefix, code := range f.failures {
		if strings.HasPrefix(route, prefix) {
			status = code
		}
	}
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/posts":
		f.listPosts(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/comments":
		postID, _ := strconv.Atoi(r.URL.Query().Get("postId"))
		f.mu.Lock()
		comments := f.comments[postID]
		f.mu.Unlock()
		if comments == nil {
			comments = []models.Comment{}
		}
		writeJSON(w, http.StatusOK, comments)
	case strings.HasPrefix(r.URL.Path, "/posts/"):
		f.postByID(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *FakeAPI) listPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("_page"))
	limit, _ := strconv.Atoi(q.Get("_limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	start := (page - 1) * limit
	out := []models.Post{}
	if start < len(f.posts) {
		end := min(start+limit, len(f.posts))
		out = append(out, f.posts[start:end]...)
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeAPI) postByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/posts/"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	idx := -1
	for i, p := range f.posts {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodDelete:
		writeJSON(w, http.StatusOK, map[string]any{})
	case http.MethodPatch:
		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		post := f.posts[idx]
		post.Title = req.Title
		writeJSON(w, http.StatusOK, post)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, f.posts[idx])
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
