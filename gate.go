package callgate

import (
	"context"
	"time"
)

// Gate skips the wrapped operation while the last recorded fetch for the
// call's key is fresh.
//
// On a miss the operation runs; on success Gate dispatches onResult(value)
// and a cache-set action, in that order. On failure nothing is dispatched
// and the error is returned unchanged. The gated operation always returns
// the zero T: callers read fetched data from the store, not from the call.
//
// onResult may be nil when the wrapped operation records its own result.
func Gate[A, T any](onResult func(T) Action, opts ...Option) Stage[A, T] {
	cfg := newConfig(opts)
	return func(inner Operation[A, T]) Operation[A, T] {
		if inner.err != nil {
			return inner
		}
		if inner.key == nil {
			return inner.withErr(ErrNoKeyFunc)
		}
		return Operation[A, T]{
			name: inner.name,
			key:  inner.key,
			call: func(ctx context.Context, s Store, args A) (T, error) {
				var zero T
				key := inner.key(args)

				// Fast path: recorded recently enough.
				if fresh(cfg.ttl, cfg.ttlSelector(s.GetState(), key), cfg.clock()) {
					cfg.emit(EventHit, inner.name, key, nil)
					return zero, nil
				}
				cfg.emit(EventMiss, inner.name, key, nil)

				value, err := inner.Call(ctx, s, args)
				if err != nil {
					return zero, err
				}
				if onResult != nil {
					if a := onResult(value); a != nil {
						s.Dispatch(a)
					}
				}
				s.Dispatch(cfg.cacheSet(key, cfg.clock()))
				return zero, nil
			},
		}
	}
}

// fresh reports whether a fetch recorded at last is still valid at now.
// A zero last means never cached; ttl <= 0 means always stale.
func fresh(ttl time.Duration, last, now time.Time) bool {
	if ttl <= 0 || last.IsZero() {
		return false
	}
	return now.Sub(last) <= ttl
}
