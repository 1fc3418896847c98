// Package config loads, normalizes, and validates gitloop configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// GROQ_API_KEY, NTFY_TOPIC, SOURCE_TYPE, SOURCE_KEY and FORCE_REPROCESS. The Config type
// centralizes the source list and every knob the archive, materials, and
// transcription pipelines need.
//
// Load failures are tagged with services.ErrConfiguration so the CLI can exit
// nonzero before any source is touched.
package config
