package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gitloop/internal/config"
	"gitloop/internal/fileutil"
	"gitloop/internal/logging"
	"gitloop/internal/services"
)

// IndexStore loads and persists a source's index.
type IndexStore interface {
	Load(ctx context.Context) (*Index, error)
	Persist(ctx context.Context, idx *Index) error
}

// Store is the file-backed IndexStore for one source.
type Store struct {
	dir    string
	src    config.Source
	logger *slog.Logger
	now    func() time.Time
}

// SourceDir returns <root>/<type>/<key>.
func SourceDir(root string, src config.Source) string {
	return filepath.Join(root, src.Type, src.Key)
}

// NewStore returns the store for src under the archive root.
func NewStore(root string, src config.Source, logger *slog.Logger) *Store {
	return &Store{
		dir:    SourceDir(root, src),
		src:    src,
		logger: logging.NewComponentLogger(logger, "archive-store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Dir returns the source directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) indexPath() string { return filepath.Join(s.dir, indexFileName) }

// Load reads index.json. A missing index yields an empty one rebuilt from any
// detail records already present; an unparseable index yields
// services.ErrCorruptIndex. Detail records missing from the index are added.
func (s *Store) Load(ctx context.Context) (*Index, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.indexPath())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		idx := NewIndex(s.src)
		idx.CreatedAt = s.now()
		if err := s.reconcile(idx); err != nil {
			return nil, err
		}
		return idx, nil
	case err != nil:
		return nil, services.Wrap(services.ErrCorruptIndex, "archive", "load index", s.indexPath(), err)
	}

	var file indexFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, services.Wrap(services.ErrCorruptIndex, "archive", "parse index", s.indexPath(), err)
	}
	idx := fromFile(file, s.src)
	if idx.CreatedAt.IsZero() {
		idx.CreatedAt = s.now()
	}
	if err := s.reconcile(idx); err != nil {
		return nil, err
	}
	return idx, nil
}

// reconcile adopts detail records the index does not list. Unreadable
// records are logged and left for Recover.
func (s *Store) reconcile(idx *Index) error {
	ids, err := s.detailIDs()
	if err != nil {
		return err
	}
	adopted := 0
	for _, id := range ids {
		if idx.Contains(id) {
			continue
		}
		entry, err := s.readDetail(id)
		if err != nil {
			logging.WarnWithContext(s.logger, "unreadable detail record during reconcile", "archive_reconcile",
				logging.String(logging.FieldEntryID, id),
				logging.Error(err),
				logging.String(logging.FieldImpact, "entry stays out of the index until repaired"),
				logging.String(logging.FieldErrorHint, "run `gitloop recover` after inspecting the file"),
			)
			continue
		}
		idx.adopt(entry)
		adopted++
	}
	if adopted > 0 {
		s.logger.Info("reconciled detail records into index",
			logging.String(logging.FieldSourceKey, s.src.Key),
			logging.Int("adopted", adopted),
		)
	}
	return nil
}

// Persist writes every staged detail record, then the index. Each write is
// atomic; the first failure aborts the rest and leaves the staged set intact.
func (s *Store) Persist(ctx context.Context, idx *Index) error {
	for _, entry := range idx.staged {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.writeJSON(filepath.Join(s.dir, detailFileName(entry.ID)), entry); err != nil {
			return services.Wrap(services.ErrExternalTool, "archive", "write detail", entry.ID, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.writeJSON(s.indexPath(), idx.toFile()); err != nil {
		return services.Wrap(services.ErrExternalTool, "archive", "write index", s.indexPath(), err)
	}
	idx.clearStaged()
	return nil
}

// Recover rebuilds the index purely from detail records, ordered by
// archived_at, and writes it. Any unreadable record fails the recovery.
func (s *Store) Recover(ctx context.Context) (*Index, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, err := s.detailIDs()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		entry, err := s.readDetail(id)
		if err != nil {
			return nil, services.Wrap(services.ErrCorruptIndex, "archive", "recover", "unreadable detail "+id, err)
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].ArchivedAt.Equal(entries[j].ArchivedAt) {
			return entries[i].ArchivedAt.Before(entries[j].ArchivedAt)
		}
		return entries[i].ID < entries[j].ID
	})
	idx := NewIndex(s.src)
	idx.CreatedAt = s.now()
	for _, entry := range entries {
		idx.adopt(entry)
	}
	if err := s.writeJSON(s.indexPath(), idx.toFile()); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "archive", "write recovered index", s.indexPath(), err)
	}
	s.logger.Info("rebuilt index from detail records",
		logging.String(logging.FieldSourceKey, s.src.Key),
		logging.Int("entries", idx.Len()),
	)
	return idx, nil
}

// Entry reads one detail record.
func (s *Store) Entry(ctx context.Context, id string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if err := ValidID(id); err != nil {
		return Entry{}, err
	}
	return s.readDetail(id)
}

func (s *Store) readDetail(id string) (Entry, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, detailFileName(id)))
	if err != nil {
		return Entry{}, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode %s: %w", detailFileName(id), err)
	}
	if entry.ID == "" {
		entry.ID = id
	}
	if entry.ID != id {
		return Entry{}, fmt.Errorf("detail %s declares id %q", detailFileName(id), entry.ID)
	}
	return entry, nil
}

// detailIDs lists ids of detail records in the source directory, sorted.
func (s *Store) detailIDs() ([]string, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "archive", "list details", s.dir, err)
	}
	ids := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || name == indexFileName || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return fileutil.WriteFileAtomic(path, data, 0o644)
}
