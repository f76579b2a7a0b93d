// Package daemon wires the resource registry, caches, bulk loader, and
// pipeline workers into a single-instance background service. The daemon
// holds a file lock for its lifetime and guarantees orderly shutdown: workers
// stop first, then the bulk loader drains, then the terminology cache takes
// its final flush.
package daemon
