package callgate_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/probablyarth/callgate"
	"github.com/probablyarth/callgate/memstore"
)

// blocking returns a deduplicated operation that waits for release before
// returning result and err.
func blocking(t *testing.T, calls *atomic.Int32, release <-chan struct{}, result string, err error, opts ...callgate.Option) callgate.Operation[string, string] {
	t.Helper()
	fetch := callgate.New("item", func(ctx context.Context, s callgate.Store, id string) (string, error) {
		calls.Add(1)
		<-release
		return result, err
	})
	op, cerr := callgate.Compose(fetch,
		callgate.Tag[string, string](callgate.Prefixed("item", identity)),
		callgate.Dedupe[string, string](opts...),
	)
	require.NoError(t, cerr)
	return op
}

func TestDedupeConcurrentSameKey(t *testing.T) {
	store := memstore.New()
	rec := record(t, store)
	var calls atomic.Int32
	release := make(chan struct{})
	op := blocking(t, &calls, release, "shared", nil)

	ctx := context.Background()
	first := op.Start(ctx, store, "1")
	second := op.Start(ctx, store, "1")

	assert.Equal(t, []string{callgate.TypeRequestBegin}, rec.types(), "begin is recorded before Start returns")
	assert.NotNil(t, store.Snapshot().Inflight("item:1"))

	close(release)

	v1, err1 := first.Await(ctx)
	v2, err2 := second.Await(ctx)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, "shared", v1)
	assert.Equal(t, "shared", v2)
	assert.Equal(t, int32(1), calls.Load())

	assert.Equal(t, []string{callgate.TypeRequestBegin, callgate.TypeRequestEnd}, rec.types())
	assert.Nil(t, store.Snapshot().Inflight("item:1"), "in-flight record is cleared once settled")
}

func TestDedupeManyCallers(t *testing.T) {
	store := memstore.New()
	rec := record(t, store)
	var calls atomic.Int32
	release := make(chan struct{})

	var begins, dedups atomic.Int32
	observer := callgate.ObserverFunc(func(e callgate.EventData) {
		switch e.Event {
		case callgate.EventBegin:
			begins.Add(1)
		case callgate.EventDedup:
			dedups.Add(1)
		}
	})
	op := blocking(t, &calls, release, "v", nil, callgate.WithObserver(observer))

	const n = 50
	results := make([]string, n)
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			v, err := op.Call(context.Background(), store, "same")
			results[i] = v
			return err
		})
	}

	require.Eventually(t, func() bool {
		return begins.Load()+dedups.Load() == n
	}, 5*time.Second, time.Millisecond)
	close(release)

	require.NoError(t, g.Wait())
	for i, v := range results {
		assert.Equal(t, "v", v, "caller %d", i)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), begins.Load())
	assert.Equal(t, 1, rec.count(callgate.TypeRequestBegin))
	assert.Equal(t, 1, rec.count(callgate.TypeRequestEnd))
}

func TestDedupeDifferentKeysRunIndependently(t *testing.T) {
	store := memstore.New()
	var calls atomic.Int32
	release := make(chan struct{})
	op := blocking(t, &calls, release, "v", nil)

	ctx := context.Background()
	a := op.Start(ctx, store, "a")
	b := op.Start(ctx, store, "b")
	close(release)

	_, err := a.Await(ctx)
	require.NoError(t, err)
	_, err = b.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDedupeFailure(t *testing.T) {
	store := memstore.New()
	rec := record(t, store)
	var calls atomic.Int32
	release := make(chan struct{})
	errReject := errors.New("error")
	op := blocking(t, &calls, release, "", errReject)

	ctx := context.Background()
	first := op.Start(ctx, store, "1")
	second := op.Start(ctx, store, "1")
	close(release)

	_, err1 := first.Await(ctx)
	_, err2 := second.Await(ctx)
	assert.Same(t, errReject, err1)
	assert.Same(t, errReject, err2)

	assert.Equal(t, 1, rec.count(callgate.TypeRequestError))
	assert.Zero(t, rec.count(callgate.TypeRequestEnd))
	assert.Contains(t, rec.all(), callgate.Action(callgate.RequestError{Key: "item:1", Err: errReject}))

	snap := store.Snapshot()
	assert.Nil(t, snap.Inflight("item:1"))
	assert.Same(t, errReject, snap.Err("item:1"))

	// A later call starts a fresh execution.
	_, err := op.Call(ctx, store, "1")
	assert.ErrorIs(t, err, errReject)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDedupeAttachesToExistingHandle(t *testing.T) {
	store := memstore.New()
	release := make(chan struct{})
	existing := callgate.Go(func() (string, error) {
		<-release
		return "existing", nil
	})
	store.Dispatch(callgate.RequestBegin{Key: "item:1", Outcome: existing})
	rec := record(t, store)

	var calls atomic.Int32
	op := blocking(t, &calls, make(chan struct{}), "fresh", nil)

	out := op.Start(context.Background(), store, "1")
	close(release)

	v, err := out.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "existing", v)
	assert.Zero(t, calls.Load())
	assert.Empty(t, rec.all(), "attaching is silent")
}

func TestDedupeForeignHandleTypeMismatch(t *testing.T) {
	store := memstore.New()
	store.Dispatch(callgate.RequestBegin{Key: "item:1", Outcome: callgate.Resolved(42)})

	var calls atomic.Int32
	op := blocking(t, &calls, make(chan struct{}), "x", nil)

	_, err := op.Call(context.Background(), store, "1")
	assert.ErrorIs(t, err, callgate.ErrOutcomeType)
	assert.Zero(t, calls.Load())
}

func TestDedupeWaiterCancellationDoesNotCancelExecution(t *testing.T) {
	store := memstore.New()
	var calls atomic.Int32
	release := make(chan struct{})

	var sawCancel atomic.Bool
	fetch := callgate.New("item", func(ctx context.Context, s callgate.Store, id string) (string, error) {
		calls.Add(1)
		<-release
		sawCancel.Store(ctx.Err() != nil)
		return "done", nil
	})
	op := callgate.Must(callgate.Compose(fetch,
		callgate.Tag[string, string](identity),
		callgate.Dedupe[string, string](),
	))

	ctx, cancel := context.WithCancel(context.Background())
	initiator := op.Start(ctx, store, "1")
	other := op.Start(context.Background(), store, "1")

	cancel()
	_, err := initiator.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	v, err := other.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.False(t, sawCancel.Load(), "execution must not see the initiator's cancellation")
	assert.Equal(t, int32(1), calls.Load())
}

func TestDedupePanicBecomesError(t *testing.T) {
	store := memstore.New()
	rec := record(t, store)
	release := make(chan struct{})

	fetch := callgate.New("item", func(ctx context.Context, s callgate.Store, id string) (string, error) {
		<-release
		panic("kaboom")
	})
	op := callgate.Must(callgate.Compose(fetch,
		callgate.Tag[string, string](identity),
		callgate.Dedupe[string, string](),
	))

	ctx := context.Background()
	first := op.Start(ctx, store, "1")
	second := op.Start(ctx, store, "1")
	close(release)

	_, err1 := first.Await(ctx)
	_, err2 := second.Await(ctx)

	var pe *callgate.PanicError
	require.ErrorAs(t, err1, &pe)
	assert.Equal(t, "kaboom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
	assert.Same(t, err1, err2)

	assert.Equal(t, 1, rec.count(callgate.TypeRequestError))
	assert.Nil(t, store.Snapshot().Inflight("1"))
}

func TestDedupeEventOrder(t *testing.T) {
	store := memstore.New()
	var mu sync.Mutex
	var events []callgate.Event
	observer := callgate.ObserverFunc(func(e callgate.EventData) {
		mu.Lock()
		events = append(events, e.Event)
		mu.Unlock()
	})

	var calls atomic.Int32
	release := make(chan struct{})
	op := blocking(t, &calls, release, "v", nil, callgate.WithObserver(observer))

	ctx := context.Background()
	first := op.Start(ctx, store, "1")
	second := op.Start(ctx, store, "1")
	close(release)
	_, _ = first.Await(ctx)
	_, _ = second.Await(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []callgate.Event{callgate.EventBegin, callgate.EventDedup, callgate.EventEnd}, events)
}

func TestDedupeCustomActions(t *testing.T) {
	store := memstore.New()
	rec := record(t, store)

	var inflight sync.Map
	op := callgate.Must(callgate.Compose(
		callgate.New("item", func(ctx context.Context, s callgate.Store, id string) (string, error) { return "v", nil }),
		callgate.Tag[string, string](identity),
		callgate.Dedupe[string, string](
			callgate.WithInflightSelector(func(state any, key string) callgate.Handle {
				h, ok := inflight.Load(key)
				if !ok {
					return nil
				}
				return h.(callgate.Handle)
			}),
			callgate.WithBeginAction(func(key string, h callgate.Handle) callgate.Action {
				inflight.Store(key, h)
				return memstore.SetValue{Key: "begin", Value: key}
			}),
			callgate.WithEndAction(func(key string) callgate.Action {
				inflight.Delete(key)
				return memstore.SetValue{Key: "end", Value: key}
			}),
		),
	))

	_, err := op.Call(context.Background(), store, "k")
	require.NoError(t, err)
	assert.Equal(t, []callgate.Action{
		memstore.SetValue{Key: "begin", Value: "k"},
		memstore.SetValue{Key: "end", Value: "k"},
	}, rec.all())
}

// slowSelector wraps the default in-flight selector so its first lookup
// blocks until release is closed. entered is closed once that lookup starts.
func slowSelector(entered chan<- struct{}, release <-chan struct{}) callgate.Option {
	var first sync.Once
	return callgate.WithInflightSelector(func(state any, key string) callgate.Handle {
		first.Do(func() {
			close(entered)
			<-release
		})
		return callgate.DefaultInflightSelector(state, key)
	})
}

func TestDedupeSeparatePipelinesShareStore(t *testing.T) {
	store := memstore.New()
	var calls atomic.Int32
	release := make(chan struct{})
	entered := make(chan struct{})
	lookup := make(chan struct{})

	sel := slowSelector(entered, lookup)
	a := blocking(t, &calls, release, "v", nil, sel)
	b := blocking(t, &calls, release, "v", nil, sel)

	ctx := context.Background()
	outs := make(chan *callgate.Outcome[string], 2)
	go func() { outs <- a.Start(ctx, store, "1") }()
	<-entered
	go func() { outs <- b.Start(ctx, store, "1") }()

	// b must not get past the check while a is still inside it.
	time.Sleep(20 * time.Millisecond)
	close(lookup)

	oa, ob := <-outs, <-outs
	close(release)
	_, err := oa.Await(ctx)
	require.NoError(t, err)
	_, err = ob.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "pipelines on one store share executions")
}

func TestDedupeSeparateStoresRunSeparately(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	op := blocking(t, &calls, release, "v", nil)

	ctx := context.Background()
	first, second := memstore.New(), memstore.New()
	oa := op.Start(ctx, first, "1")
	ob := op.Start(ctx, second, "1")
	close(release)

	_, err := oa.Await(ctx)
	require.NoError(t, err)
	_, err = ob.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

// taggedStore is a store value that cannot be used as a map key.
type taggedStore struct {
	*memstore.Store
	tags []string
}

func TestDedupeWithGroup(t *testing.T) {
	store := taggedStore{Store: memstore.New(), tags: []string{"eu"}}
	var group singleflight.Group
	var calls atomic.Int32
	release := make(chan struct{})

	a := blocking(t, &calls, release, "v", nil, callgate.WithGroup(&group))
	b := blocking(t, &calls, release, "v", nil, callgate.WithGroup(&group))

	ctx := context.Background()
	oa := a.Start(ctx, store, "1")
	ob := b.Start(ctx, store, "1")
	close(release)

	_, err := oa.Await(ctx)
	require.NoError(t, err)
	_, err = ob.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Nil(t, store.Snapshot().Inflight("item:1"))
}

func TestDedupeTypedNilHandleIsAbsent(t *testing.T) {
	store := memstore.New()
	var mu sync.Mutex
	running := map[string]*callgate.Outcome[string]{}

	var calls atomic.Int32
	release := make(chan struct{})
	close(release)
	op := blocking(t, &calls, release, "v", nil,
		callgate.WithInflightSelector(func(_ any, key string) callgate.Handle {
			mu.Lock()
			defer mu.Unlock()
			return running[key]
		}),
		callgate.WithBeginAction(func(key string, h callgate.Handle) callgate.Action {
			mu.Lock()
			defer mu.Unlock()
			running[key] = h.(*callgate.Outcome[string])
			return callgate.RequestBegin{Key: key, Outcome: h}
		}),
		callgate.WithEndAction(func(key string) callgate.Action {
			mu.Lock()
			defer mu.Unlock()
			delete(running, key)
			return callgate.RequestEnd{Key: key}
		}),
	)

	v, err := op.Call(context.Background(), store, "1")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	v, err = op.Call(context.Background(), store, "1")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDedupeBeginPanicDoesNotWedgeKey(t *testing.T) {
	var armed sync.Once
	store := memstore.New(memstore.WithReducer(func(st *memstore.State, a callgate.Action) *memstore.State {
		if a.ActionType() == callgate.TypeRequestBegin {
			armed.Do(func() { panic("reducer failed") })
		}
		return st
	}))

	var calls atomic.Int32
	release := make(chan struct{})
	close(release)
	op := blocking(t, &calls, release, "v", nil)

	assert.Panics(t, func() { op.Start(context.Background(), store, "1") })

	done := make(chan struct{})
	go func() {
		defer close(done)
		v, err := op.Call(context.Background(), store, "1")
		assert.NoError(t, err)
		assert.Equal(t, "v", v)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("key stayed locked after a panicking begin dispatch")
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestPipelineDedupeAroundGate(t *testing.T) {
	store := memstore.New()
	rec := record(t, store)
	var calls atomic.Int32
	release := make(chan struct{})

	fetch := callgate.New("food", func(ctx context.Context, s callgate.Store, id string) (string, error) {
		calls.Add(1)
		<-release
		return "hotdogs", nil
	})
	op := callgate.Must(callgate.Compose(fetch,
		callgate.Tag[string, string](callgate.Prefixed("food", identity)),
		callgate.Gate[string, string](setValue("food"), callgate.WithTTL(time.Minute), callgate.WithClock(fixedClock(epoch))),
		callgate.Dedupe[string, string](),
	))

	ctx := context.Background()
	first := op.Start(ctx, store, "1")
	second := op.Start(ctx, store, "1")
	close(release)
	_, err := first.Await(ctx)
	require.NoError(t, err)
	_, err = second.Await(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{
		callgate.TypeRequestBegin,
		memstore.TypeSetValue,
		callgate.TypeCacheSet,
		callgate.TypeRequestEnd,
	}, rec.types())

	// Fresh now: the next call runs the pipeline but not the fetch.
	_, err = op.Call(ctx, store, "1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, rec.count(callgate.TypeCacheSet))

	v, _ := store.Snapshot().Value("food")
	assert.Equal(t, "hotdogs", v)
}
