package callgate

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Dedupe lets at most one execution of the wrapped operation run per key.
//
// A call first looks for an in-flight handle for its key in the store. If
// one exists the call attaches to it: nothing new runs and nothing is
// dispatched. Otherwise the operation starts in its own goroutine, and a
// begin action carrying the outcome is dispatched before the call returns.
// When the execution settles an end or error action is dispatched, and only
// then do attached callers see the result.
//
// The lookup and the begin dispatch run inside a singleflight group shared
// by every Dedupe stage on the same store, so concurrent callers cannot both
// miss. WithGroup overrides the group.
//
// The execution is detached from the initiating caller's cancellation so a
// caller that gives up does not fail the others.
func Dedupe[A, T any](opts ...Option) Stage[A, T] {
	cfg := newConfig(opts)
	fallback := new(singleflight.Group)
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
			start: func(ctx context.Context, s Store, args A) *Outcome[T] {
				key := inner.key(args)

				group, release := cfg.group, func() {}
				if group == nil {
					group, release = defaultGroups.acquire(s, fallback)
				}
				h, out := claim[T](group, release, cfg, s, key)
				if out == nil {
					cfg.emit(EventDedup, inner.name, key, nil)
					return attach[T](h)
				}
				cfg.emit(EventBegin, inner.name, key, nil)

				runCtx := context.WithoutCancel(ctx)
				go func() {
					value, err := protect(func() (T, error) {
						return inner.Call(runCtx, s, args)
					})
					if err != nil {
						s.Dispatch(cfg.fail(key, err))
						cfg.emit(EventError, inner.name, key, err)
					} else {
						s.Dispatch(cfg.end(key))
						cfg.emit(EventEnd, inner.name, key, nil)
					}
					out.settle(value, err)
				}()
				return out
			},
		}
	}
}

// claim returns the in-flight handle for key. When there is none it creates
// an outcome, dispatches begin and returns the outcome as created too.
// Callers that arrive while a claim is running share its handle.
func claim[T any](group *singleflight.Group, release func(), cfg *config, s Store, key string) (h Handle, created *Outcome[T]) {
	defer release()
	v, _, _ := group.Do(key, func() (any, error) {
		if h := cfg.inflightSelector(s.GetState(), key); present(h) {
			return h, nil
		}
		created = newOutcome[T]()
		s.Dispatch(cfg.begin(key, created))
		return Handle(created), nil
	})
	return v.(Handle), created
}
