// Package query implements a keyed fetch cache with stale-while-revalidate
// semantics, request deduplication, prefetching, and mutation lifecycles.
//
// A Client holds at most one entry per Key. Entries are fresh for the stale
// time after their last successful fetch and are served without a network
// round trip while fresh. Stale entries are served immediately while a
// background refetch runs. Entries not touched for the GC time are dropped.
//
// Fetches run on a context owned by the Client, not by the caller: a caller
// that gives up waiting does not abort the request, and the late result
// still lands in the cache.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/starford/blogview/internal/apperr"
)

// Defaults applied when the corresponding option is not set.
const (
	DefaultStaleTime  = 0
	DefaultGCTime     = 5 * time.Minute
	DefaultRenderWait = 2 * time.Second
)

// Fetcher loads the value for one key.
type Fetcher func(ctx context.Context) (any, error)

// Func adapts a typed loader to a Fetcher.
func Func[T any](fn func(ctx context.Context) (T, error)) Fetcher {
	return func(ctx context.Context) (any, error) {
		return fn(ctx)
	}
}

type entry struct {
	key         Key
	status      Status
	data        any
	err         error
	updatedAt   time.Time
	errorAt     time.Time
	fetching    bool
	invalidated bool
}

// Client is the query cache. It is safe for concurrent use.
type Client struct {
	mu         sync.Mutex
	entries    *gocache.Cache
	group      singleflight.Group
	staleTime  time.Duration
	gcTime     time.Duration
	renderWait time.Duration
	listeners  []Listener
	logger     *slog.Logger
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Client.
type Option func(*Client)

// WithStaleTime sets how long a successful fetch stays fresh.
func WithStaleTime(d time.Duration) Option {
	return func(c *Client) {
		c.staleTime = d
	}
}

// WithGCTime sets how long an untouched entry is kept. Zero or negative
// keeps entries forever.
func WithGCTime(d time.Duration) Option {
	return func(c *Client) {
		c.gcTime = d
	}
}

// WithRenderWait bounds how long Query waits for a first fetch before
// returning a pending snapshot. Zero makes Query never wait.
func WithRenderWait(d time.Duration) Option {
	return func(c *Client) {
		c.renderWait = d
	}
}

// WithListener registers a transition observer.
func WithListener(l Listener) Option {
	return func(c *Client) {
		if l != nil {
			c.listeners = append(c.listeners, l)
		}
	}
}

// WithLogger sets the logger used for fetch diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient creates an empty query cache.
func NewClient(opts ...Option) *Client {
	c := &Client{
		staleTime:  DefaultStaleTime,
		gcTime:     DefaultGCTime,
		renderWait: DefaultRenderWait,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	expiration := c.gcTime
	cleanup := c.gcTime / 2
	if c.gcTime <= 0 {
		expiration = gocache.NoExpiration
		cleanup = 0
	} else if cleanup < time.Second {
		cleanup = time.Second
	}
	c.entries = gocache.New(expiration, cleanup)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Close cancels every background fetch. The cache stays readable.
func (c *Client) Close() {
	c.cancel()
}

// SetStaleTime changes the stale time for subsequent reads.
func (c *Client) SetStaleTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staleTime = d
}

// StaleTime returns the current stale time.
func (c *Client) StaleTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.staleTime
}

// Len returns the number of live entries.
func (c *Client) Len() int {
	return c.entries.ItemCount()
}

// Query returns the entry for key, fetching it when needed.
//
// A fresh entry is returned as is. A stale entry with data is returned
// immediately and revalidated in the background. Otherwise a fetch is started
// and Query waits up to the render wait (or until ctx is done) before
// returning whatever the entry holds at that point.
func (c *Client) Query(ctx context.Context, key Key, fn Fetcher) State {
	c.mu.Lock()
	e, ok := c.getLocked(key)
	now := c.now()
	if ok && e.status == StatusSuccess && !c.staleLocked(e, now) {
		c.touchLocked(e)
		s := c.snapshotLocked(e, now)
		c.mu.Unlock()
		return s
	}
	if ok && !e.updatedAt.IsZero() {
		c.touchLocked(e)
		s := c.snapshotLocked(e, now)
		fetching := e.fetching
		c.mu.Unlock()
		if !fetching {
			c.startFetch(key, fn)
		}
		s.Fetching = true
		return s
	}
	c.mu.Unlock()

	done := c.startFetch(key, fn)
	if c.renderWait > 0 {
		timer := time.NewTimer(c.renderWait)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
		case <-ctx.Done():
		}
	}
	return c.Peek(key)
}

// Fetch returns fresh data for key, fetching and waiting for it otherwise.
// Concurrent callers for the same key share one request.
func (c *Client) Fetch(ctx context.Context, key Key, fn Fetcher) (any, error) {
	c.mu.Lock()
	if e, ok := c.getLocked(key); ok && e.status == StatusSuccess && !c.staleLocked(e, c.now()) {
		c.touchLocked(e)
		data := e.data
		c.mu.Unlock()
		return data, nil
	}
	c.mu.Unlock()

	select {
	case res := <-c.startFetch(key, fn):
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FetchAs is the typed form of Client.Fetch. A cached value of another type
// is reported as apperr.ErrInvalidInput.
func FetchAs[T any](ctx context.Context, c *Client, key Key, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.Fetch(ctx, key, Func(fn))
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("query: %s holds %T, want %T: %w", key, v, zero, apperr.ErrInvalidInput)
	}
	return out, nil
}

// Prefetch starts a background fetch for key unless the entry is fresh or a
// fetch is already in flight. It never blocks.
func (c *Client) Prefetch(key Key, fn Fetcher) {
	c.mu.Lock()
	if e, ok := c.getLocked(key); ok {
		if e.fetching || (e.status == StatusSuccess && !c.staleLocked(e, c.now())) {
			c.mu.Unlock()
			return
		}
	}
	c.mu.Unlock()

	c.logger.Debug("query: prefetch", slog.String("key", key.String()))
	c.startFetch(key, fn)
}

// Peek returns the current snapshot without fetching. A missing entry is
// reported with StatusIdle.
func (c *Client) Peek(key Key) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.getLocked(key)
	if !ok {
		return State{Key: key, Status: StatusIdle}
	}
	return c.snapshotLocked(e, c.now())
}

// SetData stores data for key as if it had just been fetched.
func (c *Client) SetData(key Key, data any) {
	c.mu.Lock()
	e := c.entryLocked(key)
	e.status = StatusSuccess
	e.data = data
	e.err = nil
	e.updatedAt = c.now()
	e.invalidated = false
	c.touchLocked(e)
	ev := Event{Key: key, Status: e.status, Fetching: e.fetching}
	c.mu.Unlock()
	c.emit(ev)
}

// Remove drops the entry for key.
func (c *Client) Remove(key Key) {
	c.entries.Delete(key.String())
}

// Invalidate marks every entry whose key starts with prefix as stale and
// returns how many were marked. Marked entries are refetched on next read.
func (c *Client) Invalidate(prefix Key) int {
	c.mu.Lock()
	var events []Event
	for _, item := range c.entries.Items() {
		e, ok := item.Object.(*entry)
		if !ok || !e.key.HasPrefix(prefix) {
			continue
		}
		e.invalidated = true
		events = append(events, Event{Key: e.key, Status: e.status, Fetching: e.fetching})
	}
	c.mu.Unlock()

	for _, ev := range events {
		c.emit(ev)
	}
	c.logger.Debug("query: invalidated", slog.String("prefix", prefix.String()), slog.Int("count", len(events)))
	return len(events)
}

// Dehydrate exports every entry holding data from a successful fetch.
func (c *Client) Dehydrate() []Dehydrated {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Dehydrated
	for _, item := range c.entries.Items() {
		e, ok := item.Object.(*entry)
		if !ok || e.updatedAt.IsZero() {
			continue
		}
		out = append(out, Dehydrated{Key: e.key, Data: e.data, UpdatedAt: e.updatedAt})
	}
	return out
}

// Hydrate imports entries. An existing entry with newer data wins.
// Imported entries are stale, so their first read revalidates them.
func (c *Client) Hydrate(items []Dehydrated) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, it := range items {
		if len(it.Key) == 0 {
			continue
		}
		e := c.entryLocked(it.Key)
		if !e.updatedAt.IsZero() && !e.updatedAt.Before(it.UpdatedAt) {
			continue
		}
		e.status = StatusSuccess
		e.data = it.Data
		e.err = nil
		e.updatedAt = it.UpdatedAt
		e.invalidated = true
		c.touchLocked(e)
		n++
	}
	return n
}

func (c *Client) startFetch(key Key, fn Fetcher) <-chan singleflight.Result {
	c.mu.Lock()
	e := c.entryLocked(key)
	e.fetching = true
	c.touchLocked(e)
	ev := Event{Key: key, Status: e.status, Fetching: true}
	c.mu.Unlock()
	c.emit(ev)

	k := key.String()
	return c.group.DoChan(k, func() (any, error) {
		start := c.now()
		data, err := fn(c.ctx)
		c.settle(key, data, err)
		if err != nil {
			c.logger.Debug("query: fetch failed",
				slog.String("key", k),
				slog.String("error", err.Error()))
		} else {
			c.logger.Debug("query: fetched",
				slog.String("key", k),
				slog.Duration("took", c.now().Sub(start)))
		}
		return data, err
	})
}

func (c *Client) settle(key Key, data any, err error) {
	c.mu.Lock()
	e := c.entryLocked(key)
	e.fetching = false
	if err != nil {
		e.status = StatusError
		e.err = err
		e.errorAt = c.now()
	} else {
		e.status = StatusSuccess
		e.data = data
		e.err = nil
		e.updatedAt = c.now()
		e.invalidated = false
	}
	c.touchLocked(e)
	ev := Event{Key: key, Status: e.status}
	c.mu.Unlock()
	c.emit(ev)
}

func (c *Client) emit(ev Event) {
	for _, l := range c.listeners {
		l(ev)
	}
}

func (c *Client) getLocked(key Key) (*entry, bool) {
	v, ok := c.entries.Get(key.String())
	if !ok {
		return nil, false
	}
	e, ok := v.(*entry)
	return e, ok
}

// entryLocked returns the entry for key, creating a pending one if needed.
func (c *Client) entryLocked(key Key) *entry {
	if e, ok := c.getLocked(key); ok {
		return e
	}
	e := &entry{key: key, status: StatusPending}
	c.touchLocked(e)
	return e
}

// touchLocked re-stores e, which restarts its GC countdown.
func (c *Client) touchLocked(e *entry) {
	c.entries.Set(e.key.String(), e, gocache.DefaultExpiration)
}

func (c *Client) staleLocked(e *entry, now time.Time) bool {
	if e.invalidated || e.updatedAt.IsZero() {
		return true
	}
	return now.Sub(e.updatedAt) >= c.staleTime
}

func (c *Client) snapshotLocked(e *entry, now time.Time) State {
	return State{
		Key:       e.key,
		Status:    e.status,
		Data:      e.data,
		Err:       e.err,
		UpdatedAt: e.updatedAt,
		ErrorAt:   e.errorAt,
		Fetching:  e.fetching,
		Stale:     c.staleLocked(e, now),
	}
}
