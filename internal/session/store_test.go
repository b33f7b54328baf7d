package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/starford/blogview/internal/board"
	"github.com/starford/blogview/internal/query"
)

func testStore(ttl time.Duration) (*Store, *int) {
	created := 0
	cache := query.NewClient()
	return NewStore(ttl, func() *board.Posts {
		created++
		return board.NewPosts(nil, cache, board.Options{})
	}), &created
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == CookieName {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func TestNewVisitorGetsSession(t *testing.T) {
	s, created := testStore(time.Minute)

	w := httptest.NewRecorder()
	p := s.Load(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if p == nil || *created != 1 {
		t.Fatalf("board=%v created=%d", p, *created)
	}
	c := sessionCookie(t, w)
	if !c.HttpOnly || c.Path != "/" {
		t.Errorf("cookie = %+v", c)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d", s.Len())
	}
}

func TestReturningVisitorKeepsBoard(t *testing.T) {
	s, created := testStore(time.Minute)

	w := httptest.NewRecorder()
	first := s.Load(w, httptest.NewRequest(http.MethodGet, "/", nil))
	first.Next()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(sessionCookie(t, w))
	second := s.Load(httptest.NewRecorder(), req)
	if second != first || second.Page() != 2 {
		t.Fatalf("board not reused: same=%v page=%d", second == first, second.Page())
	}
	if *created != 1 {
		t.Errorf("created = %d", *created)
	}
}

func TestForgedCookieStartsNewSession(t *testing.T) {
	s, created := testStore(time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "not-a-uuid"})
	w := httptest.NewRecorder()
	s.Load(w, req)
	if *created != 1 {
		t.Fatalf("created = %d", *created)
	}
	if c := sessionCookie(t, w); c.Value == "not-a-uuid" {
		t.Error("forged id accepted")
	}
}

func TestExpiredSessionReplaced(t *testing.T) {
	s, created := testStore(20 * time.Millisecond)

	w := httptest.NewRecorder()
	s.Load(w, httptest.NewRequest(http.MethodGet, "/", nil))
	time.Sleep(50 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(sessionCookie(t, w))
	s.Load(httptest.NewRecorder(), req)
	if *created != 2 {
		t.Errorf("created = %d, want 2", *created)
	}
}
