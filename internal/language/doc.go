// Package language provides language code normalization and matching.
//
// Config values, caption track names from yt-dlp, and languages reported by
// transcription backends all pass through here so "eng", "en-US", and
// "english" compare equal.
package language
