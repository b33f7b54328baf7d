// Package session maps browser cookies to per-visitor board state.
package session

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/starford/blogview/internal/board"
)

// CookieName is the name of the session cookie.
const CookieName = "blogview_session"

// DefaultTTL applies when NewStore gets a non-positive ttl.
const DefaultTTL = 30 * time.Minute

// Factory builds the board of a new visitor.
type Factory func() *board.Posts

// Store keeps one board per session id. Sessions expire after ttl without a
// request.
type Store struct {
	mu      sync.Mutex
	items   *gocache.Cache
	ttl     time.Duration
	factory Factory
}

// NewStore creates an empty session store.
func NewStore(ttl time.Duration, factory Factory) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		items:   gocache.New(ttl, ttl),
		ttl:     ttl,
		factory: factory,
	}
}

// Load returns the board of the requesting visitor, creating a session and
// setting its cookie when the request carries none or an expired one.
func (s *Store) Load(w http.ResponseWriter, r *http.Request) *board.Posts {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, err := r.Cookie(CookieName); err == nil {
		if _, perr := uuid.Parse(c.Value); perr == nil {
			if v, ok := s.items.Get(c.Value); ok {
				if p, ok := v.(*board.Posts); ok {
					s.items.Set(c.Value, p, gocache.DefaultExpiration)
					s.setCookie(w, c.Value)
					return p
				}
			}
		}
	}

	id := uuid.NewString()
	p := s.factory()
	s.items.Set(id, p, gocache.DefaultExpiration)
	s.setCookie(w, id)
	return p
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	return s.items.ItemCount()
}

func (s *Store) setCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.ttl / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
