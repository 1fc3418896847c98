package audio

import (
	"fmt"
	"time"

	"gitloop/internal/config"
	"gitloop/internal/services"
)

// ChunkBytesPerSecond is the byte rate chunk plans assume for the encoded
// FLAC output.
const ChunkBytesPerSecond = config.ChunkBytesPerSecond

// Chunk is one contiguous slice of the source recording.
type Chunk struct {
	Index int
	Start time.Duration
	End   time.Duration
	// OverlapWithPrevious is how much of this chunk repeats the tail of the
	// previous one. Zero for the first chunk.
	OverlapWithPrevious time.Duration
	// Path is set once the chunk has been extracted.
	Path string
}

// Duration returns the chunk length.
func (c Chunk) Duration() time.Duration {
	return c.End - c.Start
}

// MaxChunkDuration converts a per-request byte ceiling into the longest chunk
// that fits it at the given rate.
func MaxChunkDuration(byteCeiling int64, bytesPerSecond float64) (time.Duration, error) {
	if bytesPerSecond <= 0 {
		return 0, services.Wrap(services.ErrConfiguration, "audio", "plan", fmt.Sprintf("invalid byte rate %.2f", bytesPerSecond), nil)
	}
	if byteCeiling <= 0 {
		return 0, services.Wrap(services.ErrConfiguration, "audio", "plan", fmt.Sprintf("invalid byte ceiling %d", byteCeiling), nil)
	}
	seconds := float64(byteCeiling) / bytesPerSecond
	return time.Duration(seconds * float64(time.Second)).Truncate(time.Millisecond), nil
}

// Plan splits a recording of length total into chunks of at most maxChunk,
// each overlapping its predecessor by overlap. Chunk k covers
// [k*step, min(k*step+maxChunk, total)) with step = maxChunk - overlap. A
// recording no longer than maxChunk is a single chunk without overlap.
func Plan(total, maxChunk, overlap time.Duration) ([]Chunk, error) {
	switch {
	case total <= 0:
		return nil, planError("duration %s must be positive", total)
	case maxChunk <= 0:
		return nil, planError("max chunk %s must be positive", maxChunk)
	case overlap < 0:
		return nil, planError("overlap %s must not be negative", overlap)
	case overlap >= maxChunk:
		return nil, planError("overlap %s must be shorter than max chunk %s", overlap, maxChunk)
	}
	if total <= maxChunk {
		return []Chunk{{Index: 0, Start: 0, End: total}}, nil
	}

	step := maxChunk - overlap
	count := int((total + step - 1) / step)
	chunks := make([]Chunk, 0, count)
	for k := 0; k < count; k++ {
		start := time.Duration(k) * step
		if start >= total {
			break
		}
		end := min(start+maxChunk, total)
		chunk := Chunk{Index: k, Start: start, End: end}
		if k > 0 {
			chunk.OverlapWithPrevious = chunks[k-1].End - start
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func planError(format string, args ...any) error {
	return services.Wrap(services.ErrConfiguration, "audio", "plan", fmt.Sprintf(format, args...), nil)
}
