package memstore

import (
	"maps"

	"github.com/probablyarth/callgate"
)

// TypeSetValue is the action type of SetValue.
const TypeSetValue = "value-set"

// SetValue records a fetched value under Key. It is the usual action
// returned by a Gate's onResult callback.
type SetValue struct {
	Key   string
	Value any
}

func (SetValue) ActionType() string { return TypeSetValue }

// Reducer computes the next state for an action. It must not modify state.
type Reducer func(state *State, action callgate.Action) *State

// Reduce is the built-in reducer for the actions callgate dispatches plus
// SetValue. Unknown actions return state unchanged.
func Reduce(state *State, action callgate.Action) *State {
	next := *state
	switch a := action.(type) {
	case callgate.CacheSet:
		next.Cache = with(state.Cache, a.Key, callgate.CacheEntry{Timestamp: a.Timestamp})
	case callgate.RequestBegin:
		next.Requests = with(state.Requests, a.Key, callgate.RequestEntry{Inflight: a.Outcome})
		next.Errors = without(state.Errors, a.Key)
	case callgate.RequestEnd:
		next.Requests = without(state.Requests, a.Key)
	case callgate.RequestError:
		next.Requests = without(state.Requests, a.Key)
		next.Errors = with(state.Errors, a.Key, a.Err)
	case SetValue:
		next.Values = with(state.Values, a.Key, a.Value)
	default:
		return state
	}
	return &next
}

func with[V any](m map[string]V, key string, v V) map[string]V {
	out := make(map[string]V, len(m)+1)
	maps.Copy(out, m)
	out[key] = v
	return out
}

func without[V any](m map[string]V, key string) map[string]V {
	if _, ok := m[key]; !ok {
		return m
	}
	out := maps.Clone(m)
	delete(out, key)
	return out
}
