package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gitloop/internal/transcript"
)

// LookupTranscript returns the cached transcript for key.
func (s *Store) LookupTranscript(ctx context.Context, key string) (transcript.Transcript, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT transcript_json FROM transcripts WHERE cache_key = ?", key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return transcript.Transcript{}, false, nil
	}
	if err != nil {
		return transcript.Transcript{}, false, fmt.Errorf("lookup transcript: %w", err)
	}
	var t transcript.Transcript
	if err := json.Unmarshal([]byte(payload), &t); err != nil {
		// A row we cannot decode is as good as a miss; it will be replaced.
		return transcript.Transcript{}, false, nil
	}
	return t, true, nil
}

// SaveTranscript stores t under key, replacing any previous row.
func (s *Store) SaveTranscript(ctx context.Context, key, entryID, audioURL, backend string, t transcript.Transcript) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	_, err = s.exec(ctx,
		`INSERT OR REPLACE INTO transcripts (
            cache_key, entry_id, audio_url, backend, language, gap_count, transcript_json, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key,
		entryID,
		audioURL,
		backend,
		nullableString(t.Language),
		len(t.Gaps()),
		string(payload),
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

// ClearTranscripts deletes every cached transcript and returns the count.
func (s *Store) ClearTranscripts(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, "DELETE FROM transcripts")
	if err != nil {
		return 0, fmt.Errorf("clear transcripts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear transcripts: %w", err)
	}
	return n, nil
}

// TranscriptCount returns the number of cached transcripts.
func (s *Store) TranscriptCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM transcripts").Scan(&n); err != nil {
		return 0, fmt.Errorf("count transcripts: %w", err)
	}
	return n, nil
}
