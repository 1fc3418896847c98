package transcript

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitloop/internal/audio"
)

func sec(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func seg(text string, start, end float64) Segment {
	return Segment{Text: text, Start: sec(start), End: sec(end)}
}

// threeChunks plans 165s of audio into 60s chunks with a 5s overlap:
// [0,60) [55,115) [110,165).
func threeChunks(t *testing.T) []audio.Chunk {
	t.Helper()
	chunks, err := audio.Plan(165*time.Second, 60*time.Second, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	return chunks
}

func TestStitchRoundTripDeduplicatesBoundaryText(t *testing.T) {
	chunks := threeChunks(t)
	results := []ChunkResult{
		{Index: 0, Language: "en", Segments: []Segment{
			seg("welcome to the show", 0, 4),
			seg("today we talk about databases", 20, 25),
			seg("the boundary sentence lives here", 56, 59),
		}},
		{Index: 1, Segments: []Segment{
			// Same utterance as chunk 0 at absolute 56s; starts before the midpoint.
			seg("the boundary sentence lives here", 1, 4),
			seg("second chunk body", 20, 24),
			seg("another boundary phrase", 56, 59),
		}},
		{Index: 2, Segments: []Segment{
			// Absolute 113s, after the 112.5s midpoint: kept, then merged.
			seg("another boundary phrase", 3, 5),
			seg("closing remarks", 30, 35),
		}},
	}

	got := Stitch(chunks, results, StitchOptions{})

	assert.Equal(t, "en", got.Language)
	assert.Equal(t, KindSpeechToText, got.SourceKind)
	assert.Equal(t, 1, strings.Count(got.Text(), "the boundary sentence lives here"))
	assert.Equal(t, 1, strings.Count(got.Text(), "another boundary phrase"))

	var boundary, phrase Segment
	for _, s := range got.Segments {
		switch s.Text {
		case "the boundary sentence lives here":
			boundary = s
		case "another boundary phrase":
			phrase = s
		}
	}
	assert.Equal(t, 56*time.Second, boundary.Start)
	assert.Equal(t, 111*time.Second, phrase.Start, "chunk 1 offset is 55s")
	assert.Equal(t, 115*time.Second, phrase.End, "merge keeps the later end")

	for i := 1; i < len(got.Segments); i++ {
		prev, cur := got.Segments[i-1], got.Segments[i]
		assert.LessOrEqual(t, prev.Start, cur.Start, "ordered")
		assert.LessOrEqual(t, prev.End, cur.Start, "non-overlapping")
	}
	closing := got.Segments[len(got.Segments)-1]
	assert.Equal(t, "closing remarks", closing.Text)
	assert.Equal(t, 140*time.Second, closing.Start)
}

func TestStitchMarksFailedChunkAsGap(t *testing.T) {
	chunks := threeChunks(t)
	results := []ChunkResult{
		{Index: 0, Segments: []Segment{seg("first part", 10, 12)}},
		{Index: 1, Err: errors.New("transcription service error")},
		{Index: 2, Segments: []Segment{seg("overlap words", 1, 2), seg("third part", 10, 12)}},
	}

	got := Stitch(chunks, results, StitchOptions{})

	gaps := got.Gaps()
	require.Len(t, gaps, 1)
	assert.Equal(t, chunks[1].Start, gaps[0].Start)
	assert.Equal(t, chunks[1].End, gaps[0].End)

	texts := map[string]Segment{}
	for _, s := range got.Segments {
		if !s.Gap {
			texts[s.Text] = s
		}
	}
	assert.Equal(t, 10*time.Second, texts["first part"].Start)
	assert.Equal(t, 120*time.Second, texts["third part"].Start)
	overlap, ok := texts["overlap words"]
	require.True(t, ok, "segments inside the overlap survive when the previous chunk failed")
	assert.Equal(t, 111*time.Second, overlap.Start)

	assert.Contains(t, got.Text(), "[transcript gap 00:00:55-00:01:55]")
}

func TestStitchMissingResultIsGap(t *testing.T) {
	chunks := threeChunks(t)
	got := Stitch(chunks, []ChunkResult{{Index: 0, Segments: []Segment{seg("only", 0, 1)}}}, StitchOptions{})
	require.Len(t, got.Gaps(), 2)
	assert.False(t, got.Empty())
}

func TestStitchSingleChunkPassesThrough(t *testing.T) {
	chunks, err := audio.Plan(30*time.Second, time.Minute, 5*time.Second)
	require.NoError(t, err)
	got := Stitch(chunks, []ChunkResult{{Index: 0, Language: "de", Segments: []Segment{
		seg("eins", 0, 2), seg("zwei", 2, 4), seg("  ", 4, 5),
	}}}, StitchOptions{})
	require.Len(t, got.Segments, 2)
	assert.Equal(t, "eins\n\nzwei", got.Text())
	assert.Equal(t, "de", got.Language)
}

func TestStitchTieBreak(t *testing.T) {
	chunks := threeChunks(t)[:2]
	results := []ChunkResult{
		{Index: 0, Segments: []Segment{seg("we shipped the release on friday", 58, 60)}},
		{Index: 1, Segments: []Segment{seg("we shipped the new release on friday night", 3, 6)}},
	}

	earlier := Stitch(chunks, results, StitchOptions{MergeSimilarity: 0.6})
	require.Len(t, earlier.Segments, 1)
	assert.Equal(t, "we shipped the release on friday", earlier.Segments[0].Text)
	assert.Equal(t, 58*time.Second, earlier.Segments[0].Start)
	assert.Equal(t, 61*time.Second, earlier.Segments[0].End)

	longer := Stitch(chunks, results, StitchOptions{MergeSimilarity: 0.6, TieBreak: TieBreakLonger})
	require.Len(t, longer.Segments, 1)
	assert.Equal(t, "we shipped the new release on friday night", longer.Segments[0].Text)
}

func TestStitchClipsOverlappingDistinctSegments(t *testing.T) {
	chunks, err := audio.Plan(30*time.Second, time.Minute, 0)
	require.NoError(t, err)
	got := Stitch(chunks, []ChunkResult{{Index: 0, Segments: []Segment{
		seg("alpha beta", 0, 5), seg("gamma delta", 3, 8),
	}}}, StitchOptions{})
	require.Len(t, got.Segments, 2)
	assert.Equal(t, 3*time.Second, got.Segments[0].End)
	assert.Equal(t, 3*time.Second, got.Segments[1].Start)
}

func TestParseVTTCollapsesRollingLines(t *testing.T) {
	input := "\ufeffWEBVTT\nKind: captions\nLanguage: en\n\n" +
		"00:00:00.000 --> 00:00:02.000 align:start position:0%\n \nhello<00:00:00.500><c> world</c>\n\n" +
		"00:00:02.000 --> 00:00:02.010 align:start position:0%\nhello world\n \n\n" +
		"00:00:02.010 --> 00:00:04.500 align:start position:0%\nhello world\nhow are {\\an8}you &amp; me\n\n" +
		"NOTE this is ignored\nstill ignored\n\n" +
		"3\n01:02.000 --> 01:03.250\nshort form timestamp\n"

	segs, err := ParseVTT(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, segs, 3)
	assert.Equal(t, Segment{Text: "hello world", Start: 0, End: 2 * time.Second}, segs[0])
	assert.Equal(t, "how are you & me", segs[1].Text)
	assert.Equal(t, 2010*time.Millisecond, segs[1].Start)
	assert.Equal(t, 62*time.Second, segs[2].Start)
	assert.Equal(t, 63250*time.Millisecond, segs[2].End)
}

func TestParseVTTRejectsBadTiming(t *testing.T) {
	_, err := ParseVTT(strings.NewReader("WEBVTT\n\nxx:00 --> 00:01.000\ntext\n"))
	assert.Error(t, err)
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatTimestamp(-time.Second))
	assert.Equal(t, "01:01:01", FormatTimestamp(time.Hour+time.Minute+time.Second+900*time.Millisecond))
}
