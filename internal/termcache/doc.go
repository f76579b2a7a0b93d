// Package termcache provides the durable write-behind cache for terminology
// lookup results.
//
// The whole cache is loaded from its JSON snapshot at startup and owned in
// memory from then on; the snapshot is a write target, never a read-through
// path. Put updates memory and marks the entry dirty without touching disk;
// a background flusher persists dirty entries on a fixed interval, writing
// the snapshot atomically (temp file then rename) under a cross-process file
// lock. Close performs a final synchronous flush, bounding the durability
// window to at most one flush interval on abnormal termination.
package termcache
