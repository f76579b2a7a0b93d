// Package pipeline hosts the processing run: it owns the processing context
// that scopes the registry and derived-computation cache, ingests resource
// files into the registry, and drives a worker pool that resolves resources,
// records lookup results in the write-behind cache, and enqueues sink rows
// for bulk loading.
package pipeline
