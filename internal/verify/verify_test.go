package verify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pardatabase/pardatabase/internal/hashing"
	"github.com/pardatabase/pardatabase/internal/index"
	"github.com/pardatabase/pardatabase/internal/parity"
	"github.com/pardatabase/pardatabase/internal/record"
)

func newTestStore(t *testing.T, root string) *index.Store {
	t.Helper()
	store, err := index.Open(filepath.Join(root, "database.zst"), root, 0, hashing.AlgorithmSHA256, 64, nil)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestVerifyDetectsCorruption(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.bin")
	if err := os.WriteFile(path, []byte("original content"), 0644); err != nil {
		t.Fatal(err)
	}

	hasher := hashing.NewHasher(hashing.AlgorithmSHA256, 64)
	digest, err := hasher.Hash(path)
	if err != nil {
		t.Fatal(err)
	}

	store := newTestStore(t, root)
	info, _ := os.Stat(path)
	rec := record.New("a.bin", float64(info.ModTime().UnixNano())/1e9, info.Size())
	rec.Digest = digest
	store.PutRecord(rec)

	vault, err := parity.New(root, hasher, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Corrupt the file on disk without updating the record, and hold its
	// mtime back so it's read as bit-rot, not a stale/updated file.
	if err := os.WriteFile(path, []byte("corrupted!!!!!!!"), 0644); err != nil {
		t.Fatal(err)
	}
	mtime := info.ModTime()
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	verifier := New(root, hasher, store, vault, nil)
	result, err := verifier.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Corrupted) != 1 || result.Corrupted[0] != "a.bin" {
		t.Errorf("expected a.bin reported corrupted, got %v", result.Corrupted)
	}
}

func TestVerifyDetectsStaleMTime(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.bin")
	if err := os.WriteFile(path, []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}

	hasher := hashing.NewHasher(hashing.AlgorithmSHA256, 64)
	store := newTestStore(t, root)

	rec := record.New("a.bin", 1.0, 2)
	rec.Digest = "deadbeef"
	store.PutRecord(rec)

	vault, err := parity.New(root, hasher, nil)
	if err != nil {
		t.Fatal(err)
	}

	verifier := New(root, hasher, store, vault, nil)
	result, err := verifier.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Stale) != 1 || result.Stale[0] != "a.bin" {
		t.Errorf("expected a.bin reported stale, got %v", result.Stale)
	}
	if len(result.Corrupted) != 0 {
		t.Errorf("a stale file should not also be reported corrupted, got %v", result.Corrupted)
	}
}

func TestVerifySkipsNoDigestRecords(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.bin")
	if err := os.WriteFile(path, []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}

	hasher := hashing.NewHasher(hashing.AlgorithmSHA256, 64)
	store := newTestStore(t, root)
	store.PutRecord(record.New("a.bin", 1, 1))

	vault, err := parity.New(root, hasher, nil)
	if err != nil {
		t.Fatal(err)
	}

	verifier := New(root, hasher, store, vault, nil)
	result, err := verifier.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if result.SkippedNoDigest != 1 {
		t.Errorf("SkippedNoDigest = %d, want 1", result.SkippedNoDigest)
	}
}

// fakePar2Repairer simulates the external par2 tool by writing known-good
// bytes to the target path, so the Repairer's digest re-check can be tested
// without shelling out to a real binary.
type fakePar2Repairer struct {
	restoredContent []byte
}

func (f *fakePar2Repairer) Repair(dir, firstArtifact, target string) error {
	return os.WriteFile(target, f.restoredContent, 0644)
}

func TestRepairRestoresAndUpdatesRecord(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.bin")
	goodContent := []byte("the original uncorrupted bytes")
	if err := os.WriteFile(path, goodContent, 0644); err != nil {
		t.Fatal(err)
	}

	hasher := hashing.NewHasher(hashing.AlgorithmSHA256, 64)
	digest, err := hasher.Hash(path)
	if err != nil {
		t.Fatal(err)
	}

	store := newTestStore(t, root)
	info, _ := os.Stat(path)
	rec := record.New("a.bin", float64(info.ModTime().UnixNano())/1e9, info.Size())
	rec.Digest = digest
	store.PutRecord(rec)

	vault, err := parity.New(root, hasher, nil)
	if err != nil {
		t.Fatal(err)
	}

	artifactSrc := filepath.Join(t.TempDir(), "fake-artifact")
	if err := os.WriteFile(artifactSrc, []byte("parity bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	entry, err := vault.Put(nil, artifactSrc, digest, ".0.par2")
	if err != nil {
		t.Fatal(err)
	}
	store.PutVaultEntry(entry)

	// Corrupt the live file; the fake repairer will "restore" it.
	if err := os.WriteFile(path, []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}

	fake := &fakePar2Repairer{restoredContent: goodContent}
	repairer := NewRepairer(root, hasher, store, vault, fake, nil)

	if err := repairer.Repair("a.bin"); err != nil {
		t.Fatalf("repair failed: %v", err)
	}

	restored, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(restored) != string(goodContent) {
		t.Errorf("restored content = %q, want %q", restored, goodContent)
	}
}

func TestRepairRejectsUnknownName(t *testing.T) {
	root := t.TempDir()
	hasher := hashing.NewHasher(hashing.AlgorithmSHA256, 64)
	store := newTestStore(t, root)
	vault, err := parity.New(root, hasher, nil)
	if err != nil {
		t.Fatal(err)
	}
	repairer := NewRepairer(root, hasher, store, vault, &fakePar2Repairer{}, nil)

	if err := repairer.Repair("nope.bin"); err == nil {
		t.Error("expected an error for a name with no indexed record")
	}
}
