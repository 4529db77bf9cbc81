// Package callgate adds TTL caching and in-flight deduplication to fetch
// functions that record their results in an external state store.
//
// The store is read through [Store.GetState] and written only by
// dispatching actions through [Store.Dispatch]. callgate never returns
// fetched data to its callers; the data lands in the store and is read from
// there.
//
// Wrap a fetch with [New], then compose stages with [Compose]. [Tag] must
// come first; [Gate] and [Dedupe] need the key it attaches:
//
//	var userKey = callgate.Prefixed("user", func(id string) string { return id })
//
//	fetch, err := callgate.Compose(callgate.New("user", fetchUser),
//		callgate.Tag[string, *User](userKey),
//		callgate.Gate[string, *User](storeUser, callgate.WithTTL(time.Minute)),
//		callgate.Dedupe[string, *User](),
//	)
//
//	_, err = fetch.Call(ctx, store, "42")
//
// Gate skips the fetch while the key's cache-set timestamp is within the
// TTL. Dedupe lets concurrent callers for the same key share one execution
// and records it in the store with request-begin, request-end and
// request-error actions. Dedupe is normally outermost, so concurrent
// callers also share a single freshness check.
//
// The memstore package provides a store with reducers for every action
// callgate dispatches.
package callgate
