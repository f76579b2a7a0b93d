// Package derived memoizes expensive pure functions of the current registry
// snapshot, such as the flattened type table, so each logical snapshot is
// computed once no matter how many consumers ask for it.
//
// Entries are stamped with the registry generation observed at computation
// start; a stamp mismatch forces recomputation. Concurrent requests for the
// same key share a single in-flight computation (single-flight), and failed
// computations are never cached. Per-context caches live in an expiring LRU
// so short-lived processing contexts do not leak memory; contexts should
// still call Release at teardown.
package derived
