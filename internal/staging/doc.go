// Package staging manages the audio staging area where podcast downloads and
// chunk directories live while a transcription is in flight.
//
// A finished transcription removes its own files; CleanStale reclaims what an
// interrupted run left behind.
package staging
