package transcription

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitloop/internal/services"
)

func TestWhisperXRunsUVXAndParsesSegments(t *testing.T) {
	source := filepath.Join(t.TempDir(), "chunk_002.flac")
	require.NoError(t, os.WriteFile(source, []byte("fLaC"), 0o644))

	var gotArgs []string
	run := func(_ context.Context, name string, args ...string) ([]byte, error) {
		assert.Equal(t, "uvx", name)
		gotArgs = args
		outDir := args[slices.Index(args, "--output_dir")+1]
		payload := `{"language":"de","segments":[{"text":" Hallo ","start":0.5,"end":2.0},{"text":"  ","start":2,"end":3},{"text":"Welt","start":3.0,"end":4.5}]}`
		return nil, os.WriteFile(filepath.Join(outDir, "chunk_002.json"), []byte(payload), 0o644)
	}

	backend := NewWhisperX(WhisperXConfig{}, run)
	result, err := backend.Transcribe(context.Background(), Request{Path: source, Language: "de-AT"})
	require.NoError(t, err)

	assert.Equal(t, "de", result.Language)
	require.Len(t, result.Segments, 2)
	assert.Equal(t, "Hallo", result.Segments[0].Text)
	assert.Equal(t, 500*time.Millisecond, result.Segments[0].Start)
	assert.Equal(t, 4500*time.Millisecond, result.Duration)
	assert.Contains(t, gotArgs, source)
	assert.Equal(t, DefaultWhisperXModel, gotArgs[slices.Index(gotArgs, "--model")+1])
	assert.Equal(t, "de", gotArgs[slices.Index(gotArgs, "--language")+1])
	assert.Equal(t, Capabilities{}, backend.Capabilities())
}

func TestWhisperXSurfacesToolFailure(t *testing.T) {
	run := func(context.Context, string, ...string) ([]byte, error) {
		return nil, services.Wrap(services.ErrExternalTool, "exec", "uvx", "CUDA out of memory", nil)
	}
	backend := NewWhisperX(WhisperXConfig{UVX: "uvx"}, run)
	_, err := backend.Transcribe(context.Background(), Request{Audio: []byte("x"), FileName: "a.flac"})
	assert.ErrorIs(t, err, services.ErrExternalTool)
}
