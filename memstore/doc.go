// Package memstore is an in-memory store for callgate pipelines.
//
// State is kept as immutable snapshots: every dispatch builds a new State
// and swaps it in, so GetState never blocks and a snapshot never changes
// after it is returned. The built-in reducer tracks cache timestamps,
// in-flight requests, the last error per key and fetched values.
package memstore
