// Package registry holds the authoritative, deduplicated set of versioned
// canonical resources for one processing run.
//
// Resources are identified by (url, version). The registry keeps a forward
// index keyed by that pair and a reverse index keyed by sequence id, so
// insertion, replacement, and removal are constant-time and listing never
// scans for duplicates. Every structural mutation advances a generation
// counter that downstream caches use to validate freshness cheaply.
package registry
