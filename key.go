package callgate

import (
	"fmt"
	"strings"
)

const delimiter = ":"

// KeyFunc derives a request identity from call arguments. It must be pure:
// the same arguments always produce the same key.
type KeyFunc[A any] func(args A) string

// Tag attaches keyFn to an operation so Gate and Dedupe can derive keys.
// The tagged operation behaves exactly like the original when called.
func Tag[A, T any](keyFn KeyFunc[A]) Stage[A, T] {
	return func(op Operation[A, T]) Operation[A, T] {
		if op.err != nil {
			return op
		}
		if keyFn == nil {
			return op.withErr(ErrNilKeyFunc)
		}
		op.key = keyFn
		return op
	}
}

// Prefixed returns a KeyFunc that namespaces the identifier produced by id
// under name, e.g. "user:42".
func Prefixed[A any](name string, id func(A) string) KeyFunc[A] {
	return func(args A) string {
		return name + delimiter + id(args)
	}
}

// Join builds a key from name and the formatted parts, separated by ":".
func Join(name string, parts ...any) string {
	var b strings.Builder
	b.WriteString(name)
	for _, p := range parts {
		b.WriteString(delimiter)
		fmt.Fprint(&b, p)
	}
	return b.String()
}
