package callgate

import "context"

// Func is a fetch wrapped by the pipeline. It receives the store explicitly
// so it can read state or dispatch actions of its own.
type Func[A, T any] func(ctx context.Context, s Store, args A) (T, error)

// Operation is a callable plus the metadata pipeline stages need. Stages
// never modify an Operation; they return a new one.
type Operation[A, T any] struct {
	name  string
	call  Func[A, T]
	start func(ctx context.Context, s Store, args A) *Outcome[T]
	key   KeyFunc[A]
	err   error
}

// Stage wraps an Operation. See Tag, Gate and Dedupe.
type Stage[A, T any] func(Operation[A, T]) Operation[A, T]

// New returns an untagged Operation around fn. The name appears in errors
// and observer events.
func New[A, T any](name string, fn Func[A, T]) Operation[A, T] {
	op := Operation[A, T]{name: name, call: fn}
	if fn == nil {
		op.err = configError(name, ErrNilFunc)
	}
	return op
}

// Compose applies stages to base from left to right and returns the first
// configuration error any of them reports.
//
//	op, err := callgate.Compose(callgate.New("user", fetchUser),
//		callgate.Tag[string, *User](userKey),
//		callgate.Gate[string, *User](storeUser, callgate.WithTTL(time.Minute)),
//		callgate.Dedupe[string, *User](),
//	)
func Compose[A, T any](base Operation[A, T], stages ...Stage[A, T]) (Operation[A, T], error) {
	op := base
	for _, stage := range stages {
		op = stage(op)
		if op.err != nil {
			return op, op.err
		}
	}
	return op, op.err
}

// Must panics if err is non-nil. It is meant for package-level pipelines.
func Must[A, T any](op Operation[A, T], err error) Operation[A, T] {
	if err != nil {
		panic(err)
	}
	return op
}

// Name returns the name given to New.
func (o Operation[A, T]) Name() string { return o.name }

// Err returns the configuration error carried by o, if any.
func (o Operation[A, T]) Err() error { return o.err }

// Keyed reports whether o carries a key function.
func (o Operation[A, T]) Keyed() bool { return o.key != nil }

// Key derives the request identity for args.
func (o Operation[A, T]) Key(args A) (string, error) {
	if o.key == nil {
		return "", configError(o.name, ErrNoKeyFunc)
	}
	return o.key(args), nil
}

// Call runs the operation and waits for its result. A misconfigured
// operation returns its configuration error without running anything.
func (o Operation[A, T]) Call(ctx context.Context, s Store, args A) (T, error) {
	if o.err != nil {
		var zero T
		return zero, o.err
	}
	if o.start != nil {
		return o.start(ctx, s, args).Await(ctx)
	}
	return o.call(ctx, s, args)
}

// Start runs the operation asynchronously. For a deduplicated operation the
// in-flight record has already been dispatched when Start returns.
func (o Operation[A, T]) Start(ctx context.Context, s Store, args A) *Outcome[T] {
	if o.err != nil {
		return Failed[T](o.err)
	}
	if o.start != nil {
		return o.start(ctx, s, args)
	}
	return Go(func() (T, error) {
		return o.call(ctx, s, args)
	})
}

// Thunk returns an action that starts the operation when dispatched to a
// thunk-aware store. Dispatch then returns the *Outcome[T].
func (o Operation[A, T]) Thunk(ctx context.Context, args A) Thunk {
	return func(s Store) any {
		return o.Start(ctx, s, args)
	}
}

func (o Operation[A, T]) withErr(err error) Operation[A, T] {
	o.err = configError(o.name, err)
	return o
}
