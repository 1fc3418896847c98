// Package transcription turns podcast and video audio into timestamped
// transcripts.
//
// Two backends implement Transcriber: Client talks to an OpenAI-compatible
// speech-to-text API (Groq by default) with a per-request upload ceiling,
// and WhisperX runs the whisperx CLI locally through uvx with no ceiling.
//
// Pipeline wraps a backend with everything a long recording needs: the
// ledger transcript cache, direct-URL transcription for small files, audio
// download and probing, chunk planning against the byte ceiling, a bounded
// worker pool, and stitching the chunk results back onto one timeline.
// A chunk rejected as too large aborts the run; any other chunk failure is
// recorded as a gap in the stitched transcript.
package transcription
