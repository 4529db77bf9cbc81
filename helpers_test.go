package callgate_test

import (
	"sync"
	"testing"
	"time"

	"github.com/probablyarth/callgate"
	"github.com/probablyarth/callgate/memstore"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// recorder captures every action reduced by a memstore.
type recorder struct {
	mu      sync.Mutex
	actions []callgate.Action
}

func record(t *testing.T, s *memstore.Store) *recorder {
	t.Helper()
	r := &recorder{}
	t.Cleanup(s.Subscribe(r.add))
	return r
}

func (r *recorder) add(a callgate.Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
}

func (r *recorder) all() []callgate.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]callgate.Action(nil), r.actions...)
}

func (r *recorder) types() []string {
	var out []string
	for _, a := range r.all() {
		out = append(out, a.ActionType())
	}
	return out
}

func (r *recorder) count(typ string) int {
	n := 0
	for _, a := range r.all() {
		if a.ActionType() == typ {
			n++
		}
	}
	return n
}

func setValue(key string) func(string) callgate.Action {
	return func(v string) callgate.Action {
		return memstore.SetValue{Key: key, Value: v}
	}
}

func identity(s string) string { return s }
