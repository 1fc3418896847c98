package transcript

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"gitloop/internal/audio"
	"gitloop/internal/textutil"
)

// Tie-break rules for overlapping duplicates whose wording differs.
const (
	TieBreakEarlier = "earlier"
	TieBreakLonger  = "longer"
)

const (
	defaultMergeSimilarity = 0.85
	minMergeTolerance      = time.Second
)

// ChunkResult is the transcription outcome of one chunk. Segment times are
// relative to the chunk start. A non-nil Err marks the chunk as failed.
type ChunkResult struct {
	Index    int
	Segments []Segment
	Language string
	Err      error
}

// StitchOptions tunes duplicate detection at chunk boundaries.
type StitchOptions struct {
	// MergeTolerance is how far apart two segment starts may be and still
	// count as the same utterance. Zero derives it from the overlap.
	MergeTolerance time.Duration
	// MergeSimilarity is the cosine similarity at or above which two
	// segments are duplicates.
	MergeSimilarity float64
	// TieBreak picks which wording survives a merge.
	TieBreak string
}

type placed struct {
	Segment
	chunk int
}

// Stitch merges per-chunk results into one transcript on the absolute
// timeline. Failed or missing chunks become gap markers covering the chunk's
// full range; their neighbours keep their own segments.
func Stitch(chunks []audio.Chunk, results []ChunkResult, opts StitchOptions) Transcript {
	byIndex := make(map[int]ChunkResult, len(results))
	for _, r := range results {
		byIndex[r.Index] = r
	}
	failed := make([]bool, len(chunks))
	for k, chunk := range chunks {
		r, ok := byIndex[chunk.Index]
		failed[k] = !ok || r.Err != nil
	}

	out := Transcript{SourceKind: KindSpeechToText}
	var segs []placed
	var maxOverlap time.Duration
	for k, chunk := range chunks {
		maxOverlap = max(maxOverlap, chunk.OverlapWithPrevious)
		if failed[k] {
			segs = append(segs, placed{Segment: Segment{Gap: true, Start: chunk.Start, End: chunk.End}, chunk: k})
			continue
		}
		r := byIndex[chunk.Index]
		if out.Language == "" && strings.TrimSpace(r.Language) != "" {
			out.Language = strings.TrimSpace(r.Language)
		}
		cutoff := chunk.Start + chunk.OverlapWithPrevious/2
		trimHead := k > 0 && chunk.OverlapWithPrevious > 0 && !failed[k-1]
		for _, seg := range r.Segments {
			text := strings.TrimSpace(seg.Text)
			if text == "" {
				continue
			}
			start := chunk.Start + max(seg.Start, 0)
			end := min(chunk.Start+seg.End, chunk.End)
			if start >= chunk.End {
				continue
			}
			if end <= start {
				end = start
			}
			if trimHead && start < cutoff {
				continue
			}
			segs = append(segs, placed{Segment: Segment{Text: text, Start: start, End: end}, chunk: k})
		}
	}

	sort.SliceStable(segs, func(i, j int) bool {
		if segs[i].Start != segs[j].Start {
			return segs[i].Start < segs[j].Start
		}
		return segs[i].Gap && !segs[j].Gap
	})

	tolerance := opts.MergeTolerance
	if tolerance <= 0 {
		tolerance = max(maxOverlap/2, minMergeTolerance)
	}
	similarity := opts.MergeSimilarity
	if similarity <= 0 {
		similarity = defaultMergeSimilarity
	}

	merged := make([]placed, 0, len(segs))
	lastText := -1
	for _, seg := range segs {
		if seg.Gap {
			merged = append(merged, seg)
			continue
		}
		if lastText >= 0 {
			prev := &merged[lastText]
			if prev.chunk != seg.chunk && absDuration(seg.Start-prev.Start) <= tolerance && duplicates(prev.Text, seg.Text, similarity) {
				*prev = mergePair(*prev, seg, opts.TieBreak)
				continue
			}
			if seg.Start < prev.End {
				if seg.Start > prev.Start {
					prev.End = seg.Start
				} else {
					// Same start, different words: keep both in one segment.
					prev.Text = prev.Text + " " + seg.Text
					prev.End = max(prev.End, seg.End)
					continue
				}
			}
		}
		merged = append(merged, seg)
		lastText = len(merged) - 1
	}

	out.Segments = make([]Segment, len(merged))
	for i, seg := range merged {
		out.Segments[i] = seg.Segment
	}
	return out
}

func duplicates(a, b string, threshold float64) bool {
	if textutil.SameOrContained(a, b) {
		return true
	}
	return textutil.Similarity(a, b) >= threshold
}

func mergePair(a, b placed, tieBreak string) placed {
	keep := a
	switch tieBreak {
	case TieBreakLonger:
		if utf8.RuneCountInString(b.Text) > utf8.RuneCountInString(a.Text) {
			keep = b
		}
	default:
		if b.chunk < a.chunk {
			keep = b
		}
	}
	keep.Start = min(a.Start, b.Start)
	keep.End = max(a.End, b.End)
	return keep
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
