// Package textutil provides the small text helpers shared by the archive and
// transcript packages: token fingerprints with cosine similarity for
// comparing overlapping transcript segments, and filesystem-safe identifier
// derivation for feed entries.
package textutil
