// Package transcript models timed transcripts and assembles them from
// per-chunk speech-to-text results or caption files.
package transcript
