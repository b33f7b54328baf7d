package query

import (
	"context"
	"sync"
	"time"
)

// MutationFunc performs a write.
type MutationFunc[V, R any] func(ctx context.Context, vars V) (R, error)

// MutationState is a snapshot of a mutation's lifecycle.
type MutationState[V, R any] struct {
	Status      Status
	Vars        V
	Data        R
	Err         error
	SubmittedAt time.Time
}

func (s MutationState[V, R]) Idle() bool      { return s.Status == StatusIdle }
func (s MutationState[V, R]) Pending() bool   { return s.Status == StatusPending }
func (s MutationState[V, R]) Succeeded() bool { return s.Status == StatusSuccess }
func (s MutationState[V, R]) Failed() bool    { return s.Status == StatusError }

// Mutation is a named write operation with an idle/pending/success/error
// lifecycle. It is safe for concurrent use; the latest Mutate or Reset wins.
type Mutation[V, R any] struct {
	name      string
	fn        MutationFunc[V, R]
	onSuccess []func(V, R)
	onChange  []func(name string, status Status)

	mu    sync.Mutex
	state MutationState[V, R]
	gen   uint64
}

// MutationOption configures a Mutation.
type MutationOption[V, R any] func(*Mutation[V, R])

// OnSuccess registers a callback run after a successful, non-superseded
// mutation.
func OnSuccess[V, R any](fn func(V, R)) MutationOption[V, R] {
	return func(m *Mutation[V, R]) {
		m.onSuccess = append(m.onSuccess, fn)
	}
}

// OnChange registers a callback run on every status transition.
func OnChange[V, R any](fn func(name string, status Status)) MutationOption[V, R] {
	return func(m *Mutation[V, R]) {
		m.onChange = append(m.onChange, fn)
	}
}

// NewMutation creates an idle mutation.
func NewMutation[V, R any](name string, fn MutationFunc[V, R], opts ...MutationOption[V, R]) *Mutation[V, R] {
	m := &Mutation[V, R]{name: name, fn: fn}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the mutation's name.
func (m *Mutation[V, R]) Name() string {
	return m.name
}

// State returns the current snapshot.
func (m *Mutation[V, R]) State() MutationState[V, R] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Mutate runs the write and records its outcome. If Reset or another Mutate
// happens before the write returns, the outcome is returned to the caller but
// not recorded.
func (m *Mutation[V, R]) Mutate(ctx context.Context, vars V) (R, error) {
	gen := m.begin(vars)
	data, err := m.fn(ctx, vars)
	m.finish(gen, vars, data, err)
	return data, err
}

// Start moves the mutation to pending before it returns and runs the write in
// the background. The returned channel is closed once the outcome is recorded
// or discarded.
func (m *Mutation[V, R]) Start(ctx context.Context, vars V) <-chan struct{} {
	gen := m.begin(vars)
	done := make(chan struct{})
	go func() {
		defer close(done)
		data, err := m.fn(ctx, vars)
		m.finish(gen, vars, data, err)
	}()
	return done
}

func (m *Mutation[V, R]) begin(vars V) uint64 {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.state = MutationState[V, R]{Status: StatusPending, Vars: vars, SubmittedAt: time.Now()}
	m.mu.Unlock()
	m.changed(StatusPending)
	return gen
}

func (m *Mutation[V, R]) finish(gen uint64, vars V, data R, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
		m.state.Err = err
	} else {
		m.state.Data = data
	}
	m.state.Status = status
	m.mu.Unlock()

	if err == nil {
		for _, fn := range m.onSuccess {
			fn(vars, data)
		}
	}
	m.changed(status)
}

// Reset returns the mutation to idle and orphans any in-flight write.
func (m *Mutation[V, R]) Reset() {
	m.mu.Lock()
	m.gen++
	wasIdle := m.state.Status == StatusIdle
	m.state = MutationState[V, R]{}
	m.mu.Unlock()
	if !wasIdle {
		m.changed(StatusIdle)
	}
}

func (m *Mutation[V, R]) changed(status Status) {
	for _, fn := range m.onChange {
		fn(m.name, status)
	}
}
