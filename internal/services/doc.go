// Package services defines shared utilities consumed by the archive, materials,
// and transcription pipelines.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, source keys, entry IDs, and stage
//     names for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     into retryable, per-entry, per-source, and process-fatal classes.
//   - Retry hints carried alongside errors so vendor Retry-After values reach
//     the retry policy.
//
// Use these helpers when wiring new pipeline code so error handling and
// observability stay uniform across source types.
package services
