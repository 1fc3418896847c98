// Package archive keeps the per-source record of every feed entry gitloop has
// seen and drives incremental archiving runs.
//
// Each source owns a directory <archive_dir>/<type>/<key>/ holding one
// <id>.json detail record per entry and an index.json summarizing them. The
// index is the dedup authority: an id present in it is never fetched again
// unless a run is forced. Detail records are written before the index, so a
// crash can leave details the index does not list yet; Load reconciles them
// back in, and Recover rebuilds a corrupt index from the details alone.
//
// Engine walks an Adapter's candidates newest-first, skips known ids, fetches
// details for the rest with bounded retries, and persists once at the end.
package archive
