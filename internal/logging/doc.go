// Package logging assembles structured slog loggers and formatting helpers used
// across gitloop.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so pipeline code can tag log lines with
// run IDs, source keys, entry IDs, and stages. The package also provides a
// no-op logger for tests and wiring code that cannot fail.
package logging
