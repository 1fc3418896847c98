// Package deps reports whether the external binaries gitloop shells out to
// are installed.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"gitloop/internal/config"
)

// Requirement defines an external binary gitloop relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// Requirements derives the binaries the configured sources and transcription
// backend need. Tools no enabled source uses are reported as optional.
func Requirements(cfg *config.Config) []Requirement {
	var hasYouTube, hasPodcast bool
	for _, src := range cfg.Select(config.Filters{}) {
		switch src.Type {
		case config.SourceYouTube:
			hasYouTube = true
		case config.SourcePodcast:
			hasPodcast = true
		}
	}
	backend := cfg.Transcription.Backend
	needsAudio := hasPodcast && backend != config.BackendNone
	return []Requirement{
		{
			Name:        "yt-dlp",
			Command:     cfg.Tools.YtDlp,
			Description: "YouTube metadata and caption download",
			Optional:    !hasYouTube,
		},
		{
			Name:        "FFmpeg",
			Command:     cfg.Tools.FFmpeg,
			Description: "Audio chunk extraction",
			Optional:    !needsAudio,
		},
		{
			Name:        "FFprobe",
			Command:     cfg.Tools.FFprobe,
			Description: "Audio duration and bitrate probing",
			Optional:    !needsAudio,
		},
		{
			Name:        "uvx",
			Command:     cfg.Tools.UVX,
			Description: "Runs WhisperX for local transcription",
			Optional:    backend != config.BackendWhisperX,
		},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch {
		case cmd == "":
			status.Detail = "command not configured"
		default:
			if resolved, err := exec.LookPath(cmd); err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", cmd)
			} else {
				status.Command = resolved
				status.Available = true
			}
		}
		results = append(results, status)
	}
	return results
}

// MissingRequired returns the required dependencies that are unavailable.
func MissingRequired(statuses []Status) []Status {
	var missing []Status
	for _, status := range statuses {
		if !status.Optional && !status.Available {
			missing = append(missing, status)
		}
	}
	return missing
}
