// Package ledger persists run history and the transcript cache in an
// embedded SQLite database under the state directory.
//
// The archive itself stays in plain JSON files; the ledger only records what
// each run did and remembers finished transcripts so a re-run of the
// materials phase never pays for the same audio twice. Schema changes are
// embedded SQL files applied in order and tracked in schema_migrations.
package ledger
