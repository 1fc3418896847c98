package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gitloop/internal/fileutil"
	"gitloop/internal/language"
	"gitloop/internal/services"
	"gitloop/internal/transcript"
)

// WhisperX command-line constants.
const (
	DefaultWhisperXModel = "large-v3-turbo"
	pypiIndexURL         = "https://pypi.org/simple"
	whisperXBatchSize    = "4"
	whisperXChunkSize    = "15"
	whisperXBeamSize     = "5"
	cpuDevice            = "cpu"
	cpuComputeType       = "float32"
)

// WhisperXConfig captures runtime settings for local WhisperX runs.
type WhisperXConfig struct {
	UVX   string
	Model string
}

// WhisperX transcribes local audio files with the whisperx CLI run via uvx.
type WhisperX struct {
	cfg WhisperXConfig
	run services.CommandRunner
}

// NewWhisperX returns a local WhisperX backend. A nil runner executes uvx
// directly.
func NewWhisperX(cfg WhisperXConfig, run services.CommandRunner) *WhisperX {
	if cfg.UVX == "" {
		cfg.UVX = "uvx"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultWhisperXModel
	}
	if run == nil {
		run = services.ExecCommand
	}
	return &WhisperX{cfg: cfg, run: run}
}

// Name identifies the backend in logs and the transcript cache.
func (w *WhisperX) Name() string { return "whisperx" }

// Capabilities reports that WhisperX needs a local file and has no ceiling.
func (w *WhisperX) Capabilities() Capabilities { return Capabilities{} }

// Transcribe runs whisperx on req.Path, or on req.Audio spooled to a temp
// file, and parses the JSON segments it writes next to its output.
func (w *WhisperX) Transcribe(ctx context.Context, req Request) (Result, error) {
	outputDir, err := os.MkdirTemp("", "gitloop-whisperx-")
	if err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "whisperx", "transcribe", "create output dir", err)
	}
	defer os.RemoveAll(outputDir)

	source := req.Path
	if len(req.Audio) > 0 {
		name := req.FileName
		if name == "" {
			name = "audio.flac"
		}
		source = filepath.Join(outputDir, "input-"+filepath.Base(name))
		if err := fileutil.WriteFileAtomic(source, req.Audio, 0o644); err != nil {
			return Result{}, services.Wrap(services.ErrExternalTool, "whisperx", "transcribe", "spool audio", err)
		}
	}
	if source == "" {
		return Result{}, services.Wrap(services.ErrConfiguration, "whisperx", "transcribe", "local audio file required", nil)
	}

	if _, err := w.run(ctx, w.cfg.UVX, w.buildArgs(source, outputDir, req.Language)...); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("whisperx: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	segments, lang, err := loadWhisperXJSON(filepath.Join(outputDir, base+".json"))
	if err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "whisperx", "parse output", "", err)
	}
	result := Result{Segments: segments, Language: language.Base(lang)}
	if n := len(segments); n > 0 {
		result.Duration = segments[n-1].End
	}
	if result.Language == "" {
		result.Language = language.Base(req.Language)
	}
	return result, nil
}

func (w *WhisperX) buildArgs(source, outputDir, lang string) []string {
	args := []string{
		"--index-url", pypiIndexURL,
		"whisperx",
		source,
		"--model", w.cfg.Model,
		"--batch_size", whisperXBatchSize,
		"--chunk_size", whisperXChunkSize,
		"--beam_size", whisperXBeamSize,
		"--output_dir", outputDir,
		"--output_format", "json",
		"--segment_resolution", "sentence",
		"--device", cpuDevice,
		"--compute_type", cpuComputeType,
	}
	if code := language.Base(lang); code != "" {
		args = append(args, "--language", code)
	}
	return args
}

type whisperXPayload struct {
	Language string `json:"language"`
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"segments"`
}

func loadWhisperXJSON(path string) ([]transcript.Segment, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	var payload whisperXPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, "", fmt.Errorf("parse whisperx json: %w", err)
	}
	segments := make([]transcript.Segment, 0, len(payload.Segments))
	for _, seg := range payload.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		segments = append(segments, transcript.Segment{
			Text:  text,
			Start: seconds(seg.Start),
			End:   seconds(seg.End),
		})
	}
	return segments, payload.Language, nil
}
