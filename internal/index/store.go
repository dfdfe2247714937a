package index

import (
	"os"

	"github.com/pkg/errors"

	"github.com/pardatabase/pardatabase/internal/hashing"
	"github.com/pardatabase/pardatabase/internal/logging"
	"github.com/pardatabase/pardatabase/internal/parity"
	"github.com/pardatabase/pardatabase/internal/record"
	"github.com/pardatabase/pardatabase/internal/rotation"
)

// DefaultBackupLimit is the default number of rotating backups the store
// keeps.
const DefaultBackupLimit = 8

// rotationSeparator produces the on-disk backup layout
// database.1.zst … database.8.zst.
const rotationSeparator = "."

// Store is the single-process owner of the index's records, vault entries,
// and meta header. It is not safe for concurrent use from multiple
// goroutines; the engine driving it is single-threaded.
type Store struct {
	path         string
	root         string
	backupLimit  int
	logger       *logging.Logger
	idx          *wireIndex
	dirty        bool
	reverseIndex map[string]map[string]bool // digest -> set of referencing paths
}

// Open loads an index at path (rooted at root, for migration purposes),
// or creates a fresh empty one if no candidate in the rotation sequence
// parses.
func Open(path, root string, backupLimit int, algorithm hashing.Algorithm, truncateWidth int, logger *logging.Logger) (*Store, error) {
	if backupLimit <= 0 {
		backupLimit = DefaultBackupLimit
	}

	s := &Store{path: path, root: root, backupLimit: backupLimit, logger: logger}

	idx, loaded := s.load()
	if !loaded {
		idx = &wireIndex{
			Meta: Meta{
				Version:           currentVersion,
				HashAlgorithmName: algorithm.Name(),
				TruncateWidth:     truncateWidth,
				Encoding:          "hex",
			},
			Records: make(map[string]*record.FileRecord),
			Vault:   make(map[string]*parity.Entry),
		}
	}
	s.idx = idx
	s.rebuildReverseIndex()
	return s, nil
}

// load walks the rotation sequence newest-first, parsing each candidate in
// turn, and returns the first successful parse. If nothing parses but the
// primary file exists, it is rotated out of the way so the next run starts
// clean rather than silently overwriting it.
func (s *Store) load() (*wireIndex, bool) {
	candidates := rotation.Sequence(s.path, s.backupLimit, rotationSeparator)

	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err != nil {
			continue
		}
		idx, err := unmarshal(data)
		if err != nil {
			s.logger.Warn(errors.Wrapf(err, "discarding unreadable index candidate %s", candidate))
			continue
		}
		if err := migrate(idx, s.root); err != nil {
			s.logger.Warn(errors.Wrapf(err, "discarding index candidate %s", candidate))
			continue
		}
		return idx, true
	}

	if _, err := os.Lstat(s.path); err == nil {
		if _, err := rotation.Rotate(s.path, s.backupLimit, rotationSeparator); err != nil {
			s.logger.Warn(errors.Wrap(err, "unable to rotate unparsable primary index out of the way"))
		}
	}
	return nil, false
}

// Save writes the index to disk, rotating backups first. A positive
// minInterval turns the call into a rate-limited checkpoint: it's a no-op
// unless at least that many seconds have elapsed since the last successful
// save. minInterval 0 forces the write.
func (s *Store) Save(minInterval float64, now float64) error {
	if minInterval > 0 && now-s.idx.Meta.LastSaveTime < minInterval {
		return nil
	}

	if _, err := rotation.Rotate(s.path, s.backupLimit, rotationSeparator); err != nil {
		return errors.Wrap(err, "unable to rotate index backups")
	}

	s.idx.Meta.LastSaveTime = now
	data, err := marshal(s.idx, s.idx.Meta.TruncateWidth)
	if err != nil {
		return err
	}

	if err := writeFileSync(s.path, data); err != nil {
		return errors.Wrap(err, "unable to write index")
	}

	// Recovery must always have two copies: seed the first backup slot with
	// the fresh file if rotation left it empty.
	secondary := rotation.Sequence(s.path, s.backupLimit, rotationSeparator)[1]
	if _, err := os.Lstat(secondary); err != nil {
		if err := copyFileBytes(s.path, secondary); err != nil {
			s.logger.Warn(errors.Wrap(err, "unable to seed secondary backup"))
		}
	}

	s.dirty = false
	return nil
}

func writeFileSync(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func copyFileBytes(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0644)
}

// Record returns the existing record at relPath, or nil.
func (s *Store) Record(relPath string) *record.FileRecord {
	return s.idx.Records[relPath]
}

// PutRecord inserts or replaces the record at its own Path, marking the
// store dirty.
func (s *Store) PutRecord(rec *record.FileRecord) {
	if existing := s.idx.Records[rec.Path]; existing != nil && existing.HasDigest() {
		s.unreference(existing.Digest, rec.Path)
	}
	s.idx.Records[rec.Path] = rec
	if rec.HasDigest() {
		s.reference(rec.Digest, rec.Path)
	}
	s.dirty = true
}

// DeleteRecord removes the record at relPath, decrementing the reverse
// index reference count for its digest if it had one.
func (s *Store) DeleteRecord(relPath string) {
	existing := s.idx.Records[relPath]
	if existing == nil {
		return
	}
	if existing.HasDigest() {
		s.unreference(existing.Digest, relPath)
	}
	delete(s.idx.Records, relPath)
	s.dirty = true
}

// AllRecords returns every record currently in the index. The returned
// slice is a fresh snapshot of the membership, but its elements are the
// stored records themselves: mutating one in place changes the index
// without updating the digest reverse index, which only PutRecord keeps in
// step.
func (s *Store) AllRecords() []*record.FileRecord {
	out := make([]*record.FileRecord, 0, len(s.idx.Records))
	for _, rec := range s.idx.Records {
		out = append(out, rec)
	}
	return out
}

// VaultEntry returns the vault entry for digest, or nil.
func (s *Store) VaultEntry(digest string) *parity.Entry {
	return s.idx.Vault[digest]
}

// HasVaultEntry reports whether digest already has a vault entry.
func (s *Store) HasVaultEntry(digest string) bool {
	_, ok := s.idx.Vault[digest]
	return ok
}

// PutVaultEntry inserts or replaces entry under its own FileDigest.
func (s *Store) PutVaultEntry(entry *parity.Entry) {
	s.idx.Vault[entry.FileDigest] = entry
	s.dirty = true
}

// DeleteVaultEntry removes the vault entry for digest.
func (s *Store) DeleteVaultEntry(digest string) {
	delete(s.idx.Vault, digest)
	s.dirty = true
}

// ReferencingPaths returns the set of paths currently referencing digest,
// from the reverse index the cleaner relies on.
func (s *Store) ReferencingPaths(digest string) []string {
	set := s.reverseIndex[digest]
	out := make([]string, 0, len(set))
	for path := range set {
		out = append(out, path)
	}
	return out
}

// ReferenceCount returns the number of records currently referencing
// digest.
func (s *Store) ReferenceCount(digest string) int {
	return len(s.reverseIndex[digest])
}

// UnreferencedVaultDigests returns every vault digest with no current
// referencing record.
func (s *Store) UnreferencedVaultDigests() []string {
	var out []string
	for digest := range s.idx.Vault {
		if s.ReferenceCount(digest) == 0 {
			out = append(out, digest)
		}
	}
	return out
}

// Dirty reports whether the store has unsaved mutations.
func (s *Store) Dirty() bool {
	return s.dirty
}

// MarkDirty flags the store as having unsaved mutations, as reported by
// Dirty. Save does not consult the flag; a Save with minInterval 0 always
// writes.
func (s *Store) MarkDirty() {
	s.dirty = true
}

// Meta returns a copy of the index's current meta header.
func (s *Store) Meta() Meta {
	return s.idx.Meta
}

func (s *Store) rebuildReverseIndex() {
	s.reverseIndex = make(map[string]map[string]bool)
	for path, rec := range s.idx.Records {
		if rec.HasDigest() {
			s.reference(rec.Digest, path)
		}
	}
}

func (s *Store) reference(digest, path string) {
	set := s.reverseIndex[digest]
	if set == nil {
		set = make(map[string]bool)
		s.reverseIndex[digest] = set
	}
	set[path] = true
}

func (s *Store) unreference(digest, path string) {
	set := s.reverseIndex[digest]
	if set == nil {
		return
	}
	delete(set, path)
	if len(set) == 0 {
		delete(s.reverseIndex, digest)
	}
}

// Path returns the primary index file path, mainly for logging/diagnostics.
func (s *Store) Path() string {
	return s.path
}
