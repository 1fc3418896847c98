package archive

import (
	"slices"
	"time"

	"gitloop/internal/config"
)

// Index is the in-memory form of a source's index.json.
type Index struct {
	SourceKey    string
	SourceName   string
	SourceType   string
	SourceURL    string
	CreatedAt    time.Time
	LastUpdated  time.Time
	TotalEntries int
	Entries      []IndexEntry

	positions map[string]int
	staged    []Entry
	stagedPos map[string]int
}

// indexFile is the JSON shape of index.json. archived_ids duplicates the
// entry ids for readers that only need membership.
type indexFile struct {
	SourceKey    string       `json:"source_key"`
	SourceName   string       `json:"source_name"`
	SourceType   string       `json:"source_type"`
	SourceURL    string       `json:"source_url"`
	CreatedAt    time.Time    `json:"created_at"`
	LastUpdated  time.Time    `json:"last_updated"`
	TotalEntries int          `json:"total_entries"`
	ArchivedIDs  []string     `json:"archived_ids"`
	Entries      []IndexEntry `json:"entries"`
}

// NewIndex returns an empty index for src.
func NewIndex(src config.Source) *Index {
	return &Index{
		SourceKey:  src.Key,
		SourceName: src.DisplayName(),
		SourceType: src.Type,
		SourceURL:  src.URL,
		positions:  make(map[string]int),
		stagedPos:  make(map[string]int),
	}
}

func (idx *Index) ensureMaps() {
	if idx.positions == nil {
		idx.positions = make(map[string]int, len(idx.Entries))
		for i, e := range idx.Entries {
			idx.positions[e.ID] = i
		}
	}
	if idx.stagedPos == nil {
		idx.stagedPos = make(map[string]int)
	}
}

// Contains reports whether id is archived.
func (idx *Index) Contains(id string) bool {
	idx.ensureMaps()
	_, ok := idx.positions[id]
	return ok
}

// Len returns the number of archived entries.
func (idx *Index) Len() int {
	return len(idx.Entries)
}

// IDs returns archived ids in index order.
func (idx *Index) IDs() []string {
	ids := make([]string, len(idx.Entries))
	for i, e := range idx.Entries {
		ids[i] = e.ID
	}
	return ids
}

// Record upserts entry and stages its detail record for the next Persist.
// Re-recording an id keeps the archived_at of the first recording. It reports
// whether the id was new.
func (idx *Index) Record(entry Entry) bool {
	idx.ensureMaps()
	stamp := entry.ArchivedAt
	if stamp.IsZero() {
		stamp = time.Now().UTC()
	}
	pos, exists := idx.positions[entry.ID]
	if exists {
		entry.ArchivedAt = idx.Entries[pos].ArchivedAt
		idx.Entries[pos].Title = entry.Title
		idx.Entries[pos].Published = entry.Published
	} else {
		entry.ArchivedAt = stamp
		idx.positions[entry.ID] = len(idx.Entries)
		idx.Entries = append(idx.Entries, IndexEntry{
			ID:         entry.ID,
			Title:      entry.Title,
			Published:  entry.Published,
			File:       detailFileName(entry.ID),
			ArchivedAt: stamp,
		})
	}
	if sp, ok := idx.stagedPos[entry.ID]; ok {
		idx.staged[sp] = entry
	} else {
		idx.stagedPos[entry.ID] = len(idx.staged)
		idx.staged = append(idx.staged, entry)
	}
	idx.TotalEntries = len(idx.Entries)
	if stamp.After(idx.LastUpdated) {
		idx.LastUpdated = stamp
	}
	return !exists
}

// adopt adds an entry whose detail is already on disk without staging it.
func (idx *Index) adopt(entry Entry) {
	idx.ensureMaps()
	if _, ok := idx.positions[entry.ID]; ok {
		return
	}
	idx.positions[entry.ID] = len(idx.Entries)
	idx.Entries = append(idx.Entries, IndexEntry{
		ID:         entry.ID,
		Title:      entry.Title,
		Published:  entry.Published,
		File:       detailFileName(entry.ID),
		ArchivedAt: entry.ArchivedAt,
	})
	idx.TotalEntries = len(idx.Entries)
	if entry.ArchivedAt.After(idx.LastUpdated) {
		idx.LastUpdated = entry.ArchivedAt
	}
}

// Staged returns the entries waiting for Persist.
func (idx *Index) Staged() []Entry {
	return slices.Clone(idx.staged)
}

func (idx *Index) clearStaged() {
	idx.staged = nil
	idx.stagedPos = make(map[string]int)
}

func (idx *Index) toFile() indexFile {
	return indexFile{
		SourceKey:    idx.SourceKey,
		SourceName:   idx.SourceName,
		SourceType:   idx.SourceType,
		SourceURL:    idx.SourceURL,
		CreatedAt:    idx.CreatedAt,
		LastUpdated:  idx.LastUpdated,
		TotalEntries: len(idx.Entries),
		ArchivedIDs:  idx.IDs(),
		Entries:      slices.Clone(idx.Entries),
	}
}

func fromFile(f indexFile, src config.Source) *Index {
	idx := NewIndex(src)
	idx.CreatedAt = f.CreatedAt
	idx.LastUpdated = f.LastUpdated
	for _, e := range f.Entries {
		if e.ID == "" {
			continue
		}
		if _, dup := idx.positions[e.ID]; dup {
			continue
		}
		if e.File == "" {
			e.File = detailFileName(e.ID)
		}
		idx.positions[e.ID] = len(idx.Entries)
		idx.Entries = append(idx.Entries, e)
	}
	// Older indexes may list ids without entry summaries.
	for _, id := range f.ArchivedIDs {
		if _, ok := idx.positions[id]; ok || id == "" {
			continue
		}
		idx.positions[id] = len(idx.Entries)
		idx.Entries = append(idx.Entries, IndexEntry{ID: id, File: detailFileName(id)})
	}
	idx.TotalEntries = len(idx.Entries)
	return idx
}
