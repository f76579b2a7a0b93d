// Package services defines shared utilities consumed by the caching
// components and the pipeline host.
//
// Key responsibilities:
//   - Context helpers that stamp run identifiers, component names, and
//     canonical URLs for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     into recoverable (retry next cycle) versus fatal outcomes.
//
// Use these helpers when wiring new component logic so operational behaviour
// (error handling, observability, retries) stays uniform across the pipeline.
package services
