package memstore

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/probablyarth/callgate"
)

// Store is an in-memory callgate.Store. Reads are lock-free snapshots;
// dispatches are serialized.
type Store struct {
	mu       sync.Mutex
	state    atomic.Pointer[State]
	reducers []Reducer
	logger   *slog.Logger

	subMu  sync.RWMutex
	subs   map[uint64]func(callgate.Action)
	nextID uint64
}

var _ callgate.Store = (*Store)(nil)

// Option configures a Store created by New.
type Option func(*Store)

// WithReducer adds a reducer that runs after the built-in one, in the order
// given.
func WithReducer(r Reducer) Option {
	return func(s *Store) {
		if r != nil {
			s.reducers = append(s.reducers, r)
		}
	}
}

// WithInitialState seeds the store. Nil maps are replaced with empty ones.
func WithInitialState(st *State) Option {
	return func(s *Store) {
		if st == nil {
			return
		}
		seed := emptyState()
		if st.Cache != nil {
			seed.Cache = st.Cache
		}
		if st.Requests != nil {
			seed.Requests = st.Requests
		}
		if st.Errors != nil {
			seed.Errors = st.Errors
		}
		if st.Values != nil {
			seed.Values = st.Values
		}
		s.state.Store(seed)
	}
}

// WithLogger logs every reduced action at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{subs: make(map[uint64]func(callgate.Action))}
	s.state.Store(emptyState())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetState implements callgate.Store. The result is always a *State.
func (s *Store) GetState() any {
	return s.state.Load()
}

// Snapshot returns the current state.
func (s *Store) Snapshot() *State {
	return s.state.Load()
}

// Dispatch implements callgate.Store. A callgate.Thunk is invoked with the
// store and its result returned. Any other action is reduced, then every
// subscriber is notified, and the action itself is returned.
func (s *Store) Dispatch(action callgate.Action) any {
	if action == nil {
		return nil
	}
	if thunk, ok := action.(callgate.Thunk); ok {
		return thunk(s)
	}

	s.reduce(action)

	if s.logger != nil {
		s.logger.LogAttrs(context.Background(), slog.LevelDebug, "dispatch",
			slog.String("type", action.ActionType()))
	}
	s.notify(action)
	return action
}

func (s *Store) reduce(action callgate.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := Reduce(s.state.Load(), action)
	for _, r := range s.reducers {
		next = r(next, action)
	}
	s.state.Store(next)
}

// Subscribe registers fn to be called after every reduced action. Calls
// happen on the dispatching goroutine, after the state has been updated.
func (s *Store) Subscribe(fn func(callgate.Action)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(action callgate.Action) {
	s.subMu.RLock()
	fns := make([]func(callgate.Action), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(action)
	}
}
