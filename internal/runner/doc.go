// Package runner drives the archive and materials phases across the
// configured sources.
//
// Each source runs under its own flock so two gitloop processes never write
// the same index, gets a fresh run id stamped into its context, and leaves a
// row in the ledger. Sources are independent: a failure in one is reported in
// the Summary and the loop moves on. Only configuration errors and index
// corruption that Recover could not repair make a Summary fatal.
package runner
