package transcript

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	vttTagPattern   = regexp.MustCompile(`<[^>]*>`)
	vttBracePattern = regexp.MustCompile(`\{[^}]*\}`)
	vttSpacePattern = regexp.MustCompile(`\s+`)
)

// ParseVTT reads WebVTT captions into segments. Headers, notes, styles and
// cue settings are ignored, inline tags are stripped, and the rolling
// duplicate lines of auto-generated captions are collapsed so each line of
// speech appears once.
func ParseVTT(r io.Reader) ([]Segment, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		segments []Segment
		inCue    bool
		skipping bool
		cue      Segment
		lines    []string
		lastLine string
	)
	flush := func() {
		if !inCue {
			return
		}
		inCue = false
		var fresh []string
		for _, line := range lines {
			if line == lastLine {
				continue
			}
			fresh = append(fresh, line)
			lastLine = line
		}
		lines = lines[:0]
		if len(fresh) == 0 {
			return
		}
		cue.Text = strings.Join(fresh, " ")
		segments = append(segments, cue)
	}

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimRight(scanner.Text(), "\r")
		line := strings.TrimSpace(raw)
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		if raw == "" {
			flush()
			skipping = false
			continue
		}
		if line == "" {
			continue
		}
		if skipping {
			continue
		}
		if strings.Contains(line, "-->") {
			flush()
			start, end, err := parseCueTiming(line)
			if err != nil {
				return nil, fmt.Errorf("vtt line %d: %w", lineNo, err)
			}
			cue = Segment{Start: start, End: end}
			inCue = true
			continue
		}
		if inCue {
			if text := cleanCueText(line); text != "" {
				lines = append(lines, text)
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, "WEBVTT"),
			strings.HasPrefix(line, "NOTE"),
			strings.HasPrefix(line, "STYLE"),
			strings.HasPrefix(line, "REGION"):
			skipping = true
		}
		// Header fields such as "Kind:" and cue identifiers are ignored.
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return segments, nil
}

func cleanCueText(line string) string {
	line = vttTagPattern.ReplaceAllString(line, "")
	line = vttBracePattern.ReplaceAllString(line, "")
	line = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&nbsp;", " ", "&#39;", "'", "&quot;", `"`).Replace(line)
	return strings.TrimSpace(vttSpacePattern.ReplaceAllString(line, " "))
}

func parseCueTiming(line string) (time.Duration, time.Duration, error) {
	parts := strings.SplitN(line, "-->", 2)
	start, err := parseVTTTimestamp(parts[0])
	if err != nil {
		return 0, 0, err
	}
	rest := strings.Fields(parts[1])
	if len(rest) == 0 {
		return 0, 0, fmt.Errorf("missing cue end in %q", line)
	}
	end, err := parseVTTTimestamp(rest[0])
	if err != nil {
		return 0, 0, err
	}
	if end < start {
		end = start
	}
	return start, end, nil
}

// parseVTTTimestamp accepts hh:mm:ss.mmm and mm:ss.mmm.
func parseVTTTimestamp(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	fields := strings.Split(value, ":")
	if len(fields) < 2 || len(fields) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	var hours int64
	if len(fields) == 3 {
		h, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q", value)
		}
		hours = h
		fields = fields[1:]
	}
	minutes, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	seconds, err := strconv.ParseFloat(strings.Replace(fields[1], ",", ".", 1), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	total := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
	total += time.Duration(seconds*1000+0.5) * time.Millisecond
	return total, nil
}
