package materials

import (
	"context"

	"gitloop/internal/archive"
	"gitloop/internal/config"
	"gitloop/internal/sources"
	"gitloop/internal/transcription"
)

// PodcastFetcher transcribes an episode's enclosure.
type PodcastFetcher struct {
	audio AudioTranscriber
}

// Fetch transcribes the episode audio. The show notes are used when the
// source does not extract transcripts or no backend is configured.
func (f *PodcastFetcher) Fetch(ctx context.Context, src config.Source, entry archive.Entry) (Material, error) {
	audioURL := sources.AudioURL(entry)
	if !src.Options.ExtractTranscript || f.audio == nil || audioURL == "" {
		return showNotes(entry)
	}
	t, err := f.audio.TranscribeAudio(ctx, transcription.AudioJob{
		EntryID:  entry.ID,
		URL:      audioURL,
		Language: preferredLanguage(src),
	})
	if err != nil {
		return Material{}, err
	}
	return fromTranscript(KindTranscript, t), nil
}

func showNotes(entry archive.Entry) (Material, error) {
	m, err := feedContent(entry)
	if err != nil {
		return Material{}, unavailable("podcast", entry.ID, "no audio transcript and no show notes")
	}
	m.Kind = KindShowNotes
	return m, nil
}
