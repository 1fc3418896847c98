package archive

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSkipEntry marks a candidate the adapter deliberately does not archive,
// such as a YouTube Short. Skipped candidates are not recorded.
var ErrSkipEntry = errors.New("entry skipped")

const indexFileName = "index.json"

// Entry is one archived item with its type-specific payload.
type Entry struct {
	ID         string         `json:"id"`
	SourceKey  string         `json:"source_key"`
	SourceType string         `json:"source_type"`
	Title      string         `json:"title"`
	URL        string         `json:"url,omitempty"`
	Published  string         `json:"published,omitempty"`
	ArchivedAt time.Time      `json:"archived_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Candidate is a listing item not yet fetched in detail. Raw carries whatever
// the adapter needs to build the detail without another request.
type Candidate struct {
	ID        string
	Title     string
	URL       string
	Published string
	Raw       any
}

// IndexEntry is the summary of an entry kept in index.json.
type IndexEntry struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Published  string    `json:"published,omitempty"`
	File       string    `json:"file"`
	ArchivedAt time.Time `json:"archived_at"`
}

// ValidID reports whether id can name a detail record file.
func ValidID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return errors.New("empty entry id")
	case strings.ContainsAny(id, `/\`):
		return fmt.Errorf("entry id %q contains a path separator", id)
	case strings.HasPrefix(id, "."):
		return fmt.Errorf("entry id %q starts with a dot", id)
	case id+".json" == indexFileName:
		return fmt.Errorf("entry id %q collides with the index file", id)
	}
	return nil
}

func detailFileName(id string) string {
	return id + ".json"
}

// PayloadString returns a string payload field or "".
func (e Entry) PayloadString(key string) string {
	if e.Payload == nil {
		return ""
	}
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}
