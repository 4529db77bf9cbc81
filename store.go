package callgate

import "time"

// Store is the external state container the pipeline reads and writes.
// GetState must return a snapshot that is safe to read without locking.
// Dispatch hands an action to the store's reducers and returns a value:
// the action itself for plain actions, the thunk's result for a Thunk.
type Store interface {
	GetState() any
	Dispatch(action Action) any
}

// Action is a recordable state change handed to Store.Dispatch.
type Action interface {
	ActionType() string
}

// Action types emitted by the pipeline.
const (
	TypeCacheSet     = "cache-set"
	TypeRequestBegin = "request-begin"
	TypeRequestEnd   = "request-end"
	TypeRequestError = "request-error"
	TypeThunk        = "thunk"
)

// CacheSet records that key was fetched successfully at Timestamp.
type CacheSet struct {
	Key       string
	Timestamp time.Time
}

func (CacheSet) ActionType() string { return TypeCacheSet }

// RequestBegin records that an execution for Key is in flight.
type RequestBegin struct {
	Key     string
	Outcome Handle
}

func (RequestBegin) ActionType() string { return TypeRequestBegin }

// RequestEnd records that the in-flight execution for Key succeeded.
type RequestEnd struct {
	Key string
}

func (RequestEnd) ActionType() string { return TypeRequestEnd }

// RequestError records that the in-flight execution for Key failed with Err.
type RequestError struct {
	Key string
	Err error
}

func (RequestError) ActionType() string { return TypeRequestError }

// Thunk is an action a thunk-aware store invokes with itself instead of
// reducing. Dispatch returns whatever the thunk returns.
type Thunk func(s Store) any

func (Thunk) ActionType() string { return TypeThunk }

// CacheEntry is the per-key freshness record read by the default TTL selector.
type CacheEntry struct {
	Timestamp time.Time
}

// RequestEntry is the per-key in-flight record read by the default
// in-flight selector.
type RequestEntry struct {
	Inflight Handle
}

// CacheReader is implemented by states that carry cache entries.
type CacheReader interface {
	CacheEntry(key string) (CacheEntry, bool)
}

// RequestReader is implemented by states that carry in-flight records.
type RequestReader interface {
	RequestEntry(key string) (RequestEntry, bool)
}

// DefaultTTLSelector returns the cached timestamp for key, or the zero time
// when state has no entry or does not implement CacheReader.
func DefaultTTLSelector(state any, key string) time.Time {
	r, ok := state.(CacheReader)
	if !ok {
		return time.Time{}
	}
	entry, _ := r.CacheEntry(key)
	return entry.Timestamp
}

// DefaultInflightSelector returns the in-flight handle for key, or nil.
func DefaultInflightSelector(state any, key string) Handle {
	r, ok := state.(RequestReader)
	if !ok {
		return nil
	}
	entry, _ := r.RequestEntry(key)
	return entry.Inflight
}

func defaultCacheSet(key string, ts time.Time) Action {
	return CacheSet{Key: key, Timestamp: ts}
}

func defaultBegin(key string, h Handle) Action {
	return RequestBegin{Key: key, Outcome: h}
}

func defaultEnd(key string) Action {
	return RequestEnd{Key: key}
}

func defaultError(key string, err error) Action {
	return RequestError{Key: key, Err: err}
}
