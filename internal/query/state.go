package query

import "time"

// Status is the lifecycle position of a query or mutation.
type Status int

const (
	StatusIdle Status = iota
	StatusPending
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// State is a point-in-time snapshot of a cache entry.
//
// Status is pending until the first successful fetch. A failed refetch moves
// Status to error but keeps Data from the last success.
type State struct {
	Key       Key
	Status    Status
	Data      any
	Err       error
	UpdatedAt time.Time
	ErrorAt   time.Time
	Fetching  bool
	Stale     bool
}

// HasData reports whether the entry holds a value from a successful fetch.
func (s State) HasData() bool {
	return !s.UpdatedAt.IsZero()
}

// Loading reports whether there is nothing to show yet.
func (s State) Loading() bool {
	return !s.HasData() && s.Status != StatusError
}

// DataAs returns the snapshot's data as T.
func DataAs[T any](s State) (T, bool) {
	v, ok := s.Data.(T)
	return v, ok
}

// Event is delivered to listeners on every entry transition.
type Event struct {
	Key      Key
	Status   Status
	Fetching bool
}

// Settled reports whether the transition landed data or an error, as opposed
// to a fetch starting.
func (e Event) Settled() bool {
	return !e.Fetching && e.Status != StatusPending
}

// Listener observes cache transitions. It is called outside the client lock
// and must not block.
type Listener func(Event)

// Dehydrated is the exportable form of a successful entry.
type Dehydrated struct {
	Key       Key
	Data      any
	UpdatedAt time.Time
}
