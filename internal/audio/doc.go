// Package audio splits long recordings into overlapping chunks that fit a
// transcription backend's upload ceiling.
//
// Plan is pure arithmetic over durations; Chunker turns a plan into files
// with ffmpeg. Chunks are re-encoded as mono 16 kHz FLAC and planned at
// ChunkBytesPerSecond, raw PCM plus headroom, regardless of the source codec.
package audio
