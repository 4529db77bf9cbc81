package memstore

import (
	"maps"

	"github.com/probablyarth/callgate"
)

// State is an immutable snapshot of the store. Reducers never modify a
// State in place; they return a new one sharing unchanged maps.
type State struct {
	Cache    map[string]callgate.CacheEntry
	Requests map[string]callgate.RequestEntry
	Errors   map[string]error
	Values   map[string]any
}

func emptyState() *State {
	return &State{
		Cache:    map[string]callgate.CacheEntry{},
		Requests: map[string]callgate.RequestEntry{},
		Errors:   map[string]error{},
		Values:   map[string]any{},
	}
}

// CacheEntry implements callgate.CacheReader.
func (s *State) CacheEntry(key string) (callgate.CacheEntry, bool) {
	e, ok := s.Cache[key]
	return e, ok
}

// RequestEntry implements callgate.RequestReader.
func (s *State) RequestEntry(key string) (callgate.RequestEntry, bool) {
	e, ok := s.Requests[key]
	return e, ok
}

// Value returns the value recorded for key by a SetValue action.
func (s *State) Value(key string) (any, bool) {
	v, ok := s.Values[key]
	return v, ok
}

// Err returns the failure recorded for key by the last request-error, or nil.
func (s *State) Err(key string) error {
	return s.Errors[key]
}

// Inflight returns the running outcome recorded for key, or nil.
func (s *State) Inflight(key string) callgate.Handle {
	return s.Requests[key].Inflight
}

// Clone returns a shallow copy whose maps can be modified freely.
// Custom reducers use it before writing.
func (s *State) Clone() *State {
	return &State{
		Cache:    maps.Clone(s.Cache),
		Requests: maps.Clone(s.Requests),
		Errors:   maps.Clone(s.Errors),
		Values:   maps.Clone(s.Values),
	}
}
