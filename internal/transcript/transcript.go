package transcript

import (
	"fmt"
	"strings"
	"time"
)

// SourceKind says where a transcript came from.
type SourceKind string

const (
	KindCaptions     SourceKind = "captions"
	KindSpeechToText SourceKind = "speech_to_text"
)

// Segment is a span of text on the absolute timeline. A Gap segment marks a
// range whose audio could not be transcribed and carries no text.
type Segment struct {
	Text  string        `json:"text,omitempty"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Gap   bool          `json:"gap,omitempty"`
}

// Transcript is an ordered list of segments.
type Transcript struct {
	Segments      []Segment  `json:"segments"`
	Language      string     `json:"language,omitempty"`
	SourceKind    SourceKind `json:"source_kind"`
	AutoGenerated bool       `json:"auto_generated,omitempty"`
}

// Gaps returns the gap markers in order.
func (t Transcript) Gaps() []Segment {
	var gaps []Segment
	for _, seg := range t.Segments {
		if seg.Gap {
			gaps = append(gaps, seg)
		}
	}
	return gaps
}

// Empty reports whether the transcript has no text.
func (t Transcript) Empty() bool {
	for _, seg := range t.Segments {
		if !seg.Gap && strings.TrimSpace(seg.Text) != "" {
			return false
		}
	}
	return true
}

// Text renders the transcript as paragraphs, one per segment, with gap
// markers in place of untranscribed ranges.
func (t Transcript) Text() string {
	var b strings.Builder
	for _, seg := range t.Segments {
		var line string
		if seg.Gap {
			line = GapMarker(seg)
		} else {
			line = strings.TrimSpace(seg.Text)
		}
		if line == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(line)
	}
	return b.String()
}

// GapMarker renders the placeholder for a gap segment.
func GapMarker(seg Segment) string {
	return fmt.Sprintf("[transcript gap %s-%s]", FormatTimestamp(seg.Start), FormatTimestamp(seg.End))
}

// FormatTimestamp renders d as hh:mm:ss.
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}
