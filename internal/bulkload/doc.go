// Package bulkload accumulates row insertions destined for the relational
// sink and commits them as few large transactions instead of one transaction
// per row.
//
// Enqueue is memory-only. Flush replays the queue FIFO inside a single
// transaction using prepared statements reused across rows, and clears the
// queue only after the commit succeeds; any row failure rolls the whole
// transaction back and leaves the queue intact, so the sink never shows a
// partial batch. A span (Begin/End) lets several logical passes share one
// outer transaction, with threshold-triggered executes inside the span
// bounding peak memory without extra commits.
package bulkload
