// Command gitloop archives YouTube channels, podcasts, blogs and news feeds
// into local JSON indexes and turns the archived entries into Markdown
// writing materials.
//
// Typical use:
//
//	gitloop config init
//	gitloop run
//	gitloop status
//
// SOURCE_TYPE, SOURCE_KEY and FORCE_REPROCESS set the defaults of the
// --type, --source and --force flags. The exit status is 1 when the
// configuration cannot be loaded or an index is corrupt beyond recovery, and
// 0 otherwise, including runs where individual entries failed.
package main
