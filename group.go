package callgate

import (
	"reflect"
	"sync"

	"golang.org/x/sync/singleflight"
)

// storeGroups hands out one singleflight.Group per store, so every Dedupe
// stage dispatching to the same store checks and records in-flight work
// through the same group. An entry lives only while a claim holds it.
type storeGroups struct {
	mu     sync.Mutex
	groups map[Store]*storeGroup
}

type storeGroup struct {
	group singleflight.Group
	refs  int
}

var defaultGroups = &storeGroups{groups: make(map[Store]*storeGroup)}

// acquire returns the group for s and the func that releases it. A store
// whose dynamic type cannot be a map key gets fallback instead.
func (sg *storeGroups) acquire(s Store, fallback *singleflight.Group) (*singleflight.Group, func()) {
	if t := reflect.TypeOf(s); t == nil || !t.Comparable() {
		return fallback, func() {}
	}

	sg.mu.Lock()
	e, ok := sg.groups[s]
	if !ok {
		e = &storeGroup{}
		sg.groups[s] = e
	}
	e.refs++
	sg.mu.Unlock()

	var once sync.Once
	return &e.group, func() {
		once.Do(func() {
			sg.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(sg.groups, s)
			}
			sg.mu.Unlock()
		})
	}
}

func (sg *storeGroups) len() int {
	sg.mu.Lock()
	defer sg.mu.Unlock()
	return len(sg.groups)
}

// present reports whether h holds a usable handle. A typed nil pointer
// inside a non-nil Handle counts as absent.
func present(h Handle) bool {
	if h == nil {
		return false
	}
	v := reflect.ValueOf(h)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.Interface, reflect.Slice:
		return !v.IsNil()
	}
	return true
}
