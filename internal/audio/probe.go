package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gitloop/internal/services"
)

// Info describes a probed audio file.
type Info struct {
	Duration time.Duration
	BitRate  int64 // bits per second, 0 if unknown
	Size     int64
	Format   string
}

type ffprobeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
		Size       string `json:"size"`
	} `json:"format"`
}

// Probe reads duration and bit rate of path with ffprobe.
func Probe(ctx context.Context, run services.CommandRunner, ffprobe, path string) (Info, error) {
	if run == nil {
		run = services.ExecCommand
	}
	out, err := run(ctx, ffprobe,
		"-v", "error",
		"-show_format",
		"-of", "json",
		path,
	)
	if err != nil {
		return Info{}, services.Wrap(services.ErrExternalTool, "audio", "probe", path, err)
	}
	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return Info{}, services.Wrap(services.ErrExternalTool, "audio", "probe", "decode ffprobe output", err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(parsed.Format.Duration), 64)
	if err != nil || seconds <= 0 {
		return Info{}, services.Wrap(services.ErrExternalTool, "audio", "probe", fmt.Sprintf("no usable duration in %q", parsed.Format.Duration), err)
	}
	info := Info{
		Duration: time.Duration(math.Round(seconds * float64(time.Second))),
		Format:   parsed.Format.FormatName,
	}
	info.BitRate, _ = strconv.ParseInt(strings.TrimSpace(parsed.Format.BitRate), 10, 64)
	info.Size, _ = strconv.ParseInt(strings.TrimSpace(parsed.Format.Size), 10, 64)
	if info.Size == 0 {
		if st, statErr := os.Stat(path); statErr == nil {
			info.Size = st.Size()
		}
	}
	return info, nil
}
