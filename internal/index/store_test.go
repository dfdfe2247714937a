package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pardatabase/pardatabase/internal/hashing"
	"github.com/pardatabase/pardatabase/internal/parity"
	"github.com/pardatabase/pardatabase/internal/record"
)

func TestOpenFreshCreatesEmptyIndex(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "database.zst"), dir, 0, hashing.AlgorithmSHA512, 64, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(store.AllRecords()) != 0 {
		t.Errorf("expected a fresh index to have no records")
	}
	if store.Meta().Version != currentVersion {
		t.Errorf("fresh index version = %q, want %q", store.Meta().Version, currentVersion)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "database.zst")

	store, err := Open(path, dir, 0, hashing.AlgorithmSHA512, 64, nil)
	if err != nil {
		t.Fatal(err)
	}

	rec := record.New("a.bin", 123.456, 100)
	rec.Digest = "abcdef0123456789"
	store.PutRecord(rec)
	store.PutVaultEntry(&parity.Entry{FileDigest: rec.Digest})

	if err := store.Save(0, 1000); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	reloaded, err := Open(path, dir, 0, hashing.AlgorithmSHA512, 64, nil)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	got := reloaded.Record("a.bin")
	if got == nil {
		t.Fatal("expected record a.bin to survive round trip")
	}
	if got.Digest != rec.Digest || got.Size != rec.Size {
		t.Errorf("reloaded record = %+v, want digest %q size %d", got, rec.Digest, rec.Size)
	}
	if !reloaded.HasVaultEntry(rec.Digest) {
		t.Error("expected vault entry to survive round trip")
	}
}

func TestSaveRateLimited(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "database.zst")

	store, err := Open(path, dir, 0, hashing.AlgorithmSHA512, 64, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(0, 1000); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Lstat(path); err != nil {
		t.Fatalf("expected index file to exist after first save: %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(3600, 1001); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Lstat(path); err == nil {
		t.Error("expected rate-limited save to skip writing")
	}
}

func TestLoadPrefersNewestBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "database.zst")

	store, err := Open(path, dir, 4, hashing.AlgorithmSHA512, 64, nil)
	if err != nil {
		t.Fatal(err)
	}
	store.PutRecord(record.New("old.bin", 1, 1))
	if err := store.Save(0, 1); err != nil {
		t.Fatal(err)
	}
	store.PutRecord(record.New("new.bin", 2, 2))
	if err := store.Save(0, 2); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Open(path, dir, 4, hashing.AlgorithmSHA512, 64, nil)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Record("new.bin") == nil {
		t.Error("expected the newest save's content to be loaded")
	}
}

func tamper(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Corrupt a byte well past the header lines, inside the compressed payload.
	corrupted := append([]byte(nil), data...)
	corrupted[len(corrupted)-1] ^= 0xFF
	if err := os.WriteFile(path, corrupted, 0644); err != nil {
		t.Fatal(err)
	}
}

// TestLoadFallsBackToSecondaryOnTamperedPrimary covers the corrupt-primary
// recovery path: the first save seeds the .1 slot with a second copy, so
// tampering with the primary must not lose any data.
func TestLoadFallsBackToSecondaryOnTamperedPrimary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "database.zst")

	store, err := Open(path, dir, 2, hashing.AlgorithmSHA512, 64, nil)
	if err != nil {
		t.Fatal(err)
	}
	store.PutRecord(record.New("a.bin", 1, 1))
	if err := store.Save(0, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Lstat(filepath.Join(dir, "database.1.zst")); err != nil {
		t.Fatalf("expected the first save to seed the secondary backup: %v", err)
	}

	tamper(t, path)

	reloaded, err := Open(path, dir, 2, hashing.AlgorithmSHA512, 64, nil)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Record("a.bin") == nil {
		t.Error("expected the secondary backup to supply the full data")
	}
}

// TestLoadStartsCleanWhenAllCandidatesTampered verifies the load protocol's
// last resort: nothing parses, so the corrupt primary is rotated aside and
// the store starts empty rather than overwriting it silently.
func TestLoadStartsCleanWhenAllCandidatesTampered(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "database.zst")

	store, err := Open(path, dir, 2, hashing.AlgorithmSHA512, 64, nil)
	if err != nil {
		t.Fatal(err)
	}
	store.PutRecord(record.New("a.bin", 1, 1))
	if err := store.Save(0, 1); err != nil {
		t.Fatal(err)
	}

	tamper(t, path)
	tamper(t, filepath.Join(dir, "database.1.zst"))

	reloaded, err := Open(path, dir, 2, hashing.AlgorithmSHA512, 64, nil)
	if err != nil {
		t.Fatalf("open should fall back to a fresh index rather than error: %v", err)
	}
	if reloaded.Record("a.bin") != nil {
		t.Error("expected tampered candidates to be discarded, not loaded")
	}
	if _, err := os.Lstat(path); err == nil {
		t.Error("expected the unparsable primary to be rotated out of the way")
	}
}

// TestMigrateRewritesAbsolutePaths exercises the 1.0→1.1 migration step:
// absolute stored paths are rewritten relative to the scan root, and the
// version is bumped through the rest of the ladder.
func TestMigrateRewritesAbsolutePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "database.zst")

	old := &wireIndex{
		Meta:    Meta{Version: "1.0"},
		Records: map[string]*record.FileRecord{},
		Vault:   map[string]*parity.Entry{},
	}
	abs := filepath.Join(dir, "sub", "a.bin")
	old.Records[abs] = &record.FileRecord{Path: abs, MTime: 1, Size: 1}

	data, err := marshal(old, 64)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	store, err := Open(path, dir, 2, hashing.AlgorithmSHA512, 64, nil)
	if err != nil {
		t.Fatal(err)
	}
	rec := store.Record("sub/a.bin")
	if rec == nil {
		t.Fatal("expected the absolute path to be rewritten relative to the root")
	}
	if rec.Path != "sub/a.bin" {
		t.Errorf("migrated path = %q, want %q", rec.Path, "sub/a.bin")
	}
	if store.Meta().Version != currentVersion {
		t.Errorf("migrated version = %q, want %q", store.Meta().Version, currentVersion)
	}
}

// TestLoadRefusesUnknownFutureVersion verifies the ladder is monotonic: a
// version this build doesn't know is treated as unreadable.
func TestLoadRefusesUnknownFutureVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "database.zst")

	future := &wireIndex{
		Meta:    Meta{Version: "9.9"},
		Records: map[string]*record.FileRecord{},
		Vault:   map[string]*parity.Entry{},
	}
	data, err := marshal(future, 64)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	store, err := Open(path, dir, 2, hashing.AlgorithmSHA512, 64, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(store.AllRecords()) != 0 {
		t.Error("a future-versioned index must not be loaded")
	}
}

func TestReverseIndexReferenceCounting(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "database.zst"), dir, 0, hashing.AlgorithmSHA512, 64, nil)
	if err != nil {
		t.Fatal(err)
	}

	digest := "sharedDigest"
	a := record.New("a.bin", 1, 1)
	a.Digest = digest
	b := record.New("b.bin", 1, 1)
	b.Digest = digest
	store.PutRecord(a)
	store.PutRecord(b)

	if store.ReferenceCount(digest) != 2 {
		t.Errorf("reference count = %d, want 2", store.ReferenceCount(digest))
	}

	store.DeleteRecord("a.bin")
	if store.ReferenceCount(digest) != 1 {
		t.Errorf("reference count after delete = %d, want 1", store.ReferenceCount(digest))
	}

	store.PutVaultEntry(&parity.Entry{FileDigest: digest})
	if len(store.UnreferencedVaultDigests()) != 0 {
		t.Error("digest is still referenced by b.bin, should not be unreferenced")
	}

	store.DeleteRecord("b.bin")
	unreferenced := store.UnreferencedVaultDigests()
	if len(unreferenced) != 1 || unreferenced[0] != digest {
		t.Errorf("unreferenced digests = %v, want [%q]", unreferenced, digest)
	}
}
