// Package sse implements a Server-Sent Events broker that tells open pages
// when cached data or action state changed.
//
// Every settled change bumps a sequence number. Pages render the sequence
// they were built at; a board.refresh event carries the current one, so a
// page that connects late still learns it is behind.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// Event types.
const (
	TypeQuery    = "query.updated"
	TypeMutation = "mutation.updated"
	TypeRefresh  = "board.refresh"
)

// DefaultRefreshInterval applies when NewBroker gets a non-positive interval.
const DefaultRefreshInterval = 500 * time.Millisecond

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Refresh is the payload of a board.refresh event.
type Refresh struct {
	Seq uint64 `json:"seq"`
}

// Subscription is one connected listener. C is closed when the subscription
// is cancelled or the broker closes.
type Subscription struct {
	C <-chan []byte

	out    chan []byte
	broker *Broker
}

// Cancel removes the subscription.
func (s *Subscription) Cancel() {
	send(s.broker, s.broker.leave, s)
}

type change struct {
	event   Event
	settled bool
}

// Broker fans events out to subscribers. One goroutine owns the subscriber
// set and the refresh timer; everything else reaches it over channels.
type Broker struct {
	interval time.Duration
	seq      atomic.Uint64

	join    chan *Subscription
	leave   chan *Subscription
	events  chan change
	counts  chan chan int
	quit    chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that sends at most one board.refresh per
// interval. Changes landing inside the interval are flushed when it ends.
func NewBroker(interval time.Duration) *Broker {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	b := &Broker{
		interval: interval,
		join:     make(chan *Subscription),
		leave:    make(chan *Subscription),
		events:   make(chan change, 256),
		counts:   make(chan chan int),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go b.loop()
	return b
}

// Seq returns the number of settled changes seen so far.
func (b *Broker) Seq() uint64 {
	return b.seq.Load()
}

func encode(ev Event) []byte {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return nil
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Type, payload))
}

func (b *Broker) refreshFrame() []byte {
	return encode(Event{Type: TypeRefresh, Data: Refresh{Seq: b.Seq()}})
}

func (b *Broker) loop() {
	defer close(b.stopped)

	subs := mapset.NewThreadUnsafeSet[*Subscription]()
	fanout := func(frame []byte) {
		if frame == nil {
			return
		}
		subs.Each(func(s *Subscription) bool {
			select {
			case s.out <- frame:
			default:
				// Full buffer: the page misses this frame but the next
				// refresh carries the latest sequence.
			}
			return false
		})
	}

	var (
		lastRefresh time.Time
		dirty       bool
		flush       *time.Timer
		flushC      <-chan time.Time
	)
	refresh := func() {
		lastRefresh = time.Now()
		dirty = false
		fanout(b.refreshFrame())
	}

	for {
		select {
		case <-b.quit:
			if flush != nil {
				flush.Stop()
			}
			subs.Each(func(s *Subscription) bool {
				close(s.out)
				return false
			})
			subs.Clear()
			return

		case s := <-b.join:
			subs.Add(s)

		case s := <-b.leave:
			if subs.Contains(s) {
				subs.Remove(s)
				close(s.out)
			}

		case resp := <-b.counts:
			resp <- subs.Cardinality()

		case c := <-b.events:
			fanout(encode(c.event))
			if !c.settled {
				continue
			}
			if wait := b.interval - time.Since(lastRefresh); wait > 0 {
				dirty = true
				if flushC == nil {
					flush = time.NewTimer(wait)
					flushC = flush.C
				}
				continue
			}
			refresh()

		case <-flushC:
			flush, flushC = nil, nil
			if dirty {
				refresh()
			}
		}
	}
}

// send hands v to the loop unless the broker is closed.
func send[T any](b *Broker, ch chan T, v T) bool {
	if b.closed.Load() {
		return false
	}
	select {
	case ch <- v:
		return true
	case <-b.stopped:
		return false
	}
}

// Close stops the loop and closes every subscription.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.quit)
	}
	<-b.stopped
}

// Subscribe registers a listener. On a closed broker the returned
// subscription's channel is already closed.
func (b *Broker) Subscribe() *Subscription {
	out := make(chan []byte, 64)
	s := &Subscription{C: out, out: out, broker: b}
	if !send(b, b.join, s) {
		close(out)
	}
	return s
}

// ClientCount returns the number of live subscriptions.
func (b *Broker) ClientCount() int {
	resp := make(chan int, 1)
	if !send(b, b.counts, resp) {
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to every subscriber as is.
func (b *Broker) Publish(event Event) {
	send(b, b.events, change{event: event})
}

// PublishQueryEvent announces a cache entry transition. A settled transition
// (data or error landed) bumps the sequence and schedules a board.refresh.
func (b *Broker) PublishQueryEvent(key, status string, settled bool) {
	b.publishChange(Event{Type: TypeQuery, Data: map[string]string{"key": key, "status": status}}, settled)
}

// PublishMutationEvent announces an action transition. Success and error
// count as settled.
func (b *Broker) PublishMutationEvent(name, status string) {
	settled := status == "success" || status == "error"
	b.publishChange(Event{Type: TypeMutation, Data: map[string]string{"name": name, "status": status}}, settled)
}

func (b *Broker) publishChange(ev Event, settled bool) {
	if b.closed.Load() {
		return
	}
	if settled {
		b.seq.Add(1)
	}
	send(b, b.events, change{event: ev, settled: settled})
}

// ServeHTTP streams events. The first frame is a board.refresh with the
// current sequence so a page that missed changes while connecting catches up.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := b.Subscribe()
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b.refreshFrame())
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-sub.C:
			if !ok {
				return
			}
			_, _ = w.Write(frame)
			flusher.Flush()
		}
	}
}
