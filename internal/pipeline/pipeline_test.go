package pipeline

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/pardatabase/pardatabase/internal/hashing"
	"github.com/pardatabase/pardatabase/internal/index"
	"github.com/pardatabase/pardatabase/internal/parity"
	"github.com/pardatabase/pardatabase/internal/process"
	"github.com/pardatabase/pardatabase/internal/record"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
}

func newStore(t *testing.T, root string) *index.Store {
	t.Helper()
	store, err := index.Open(filepath.Join(root, "database.zst"), root, 0, hashing.AlgorithmSHA512, 64, nil)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

// fakePar2 installs a shell script named par2 at the head of PATH and
// returns a Par2 resolved to it, so pipeline tests never depend on a real
// parity tool being installed.
func fakePar2(t *testing.T, script string) *process.Par2 {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake parity tool is a POSIX shell script")
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "par2"), []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	par2, err := process.NewPar2(nil)
	if err != nil {
		t.Fatal(err)
	}
	return par2
}

// createScript emits one artifact named after the tool contract's -a
// argument, mimicking a successful par2 create run.
const createScript = `#!/bin/sh
while [ "$1" != "-a" ]; do shift; done
echo parity-bytes > "$2"
`

// slowScript blocks until terminated, for exercising the parallel race's
// early-quit path.
const slowScript = `#!/bin/sh
trap 'exit 130' INT TERM
sleep 10 &
wait $!
`

func TestHashPipelineUpdatesRecord(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "some contents")

	store := newStore(t, root)
	hasher := hashing.NewHasher(hashing.AlgorithmSHA512, 64)
	rec := record.New("a.txt", 0, 0)
	store.PutRecord(rec)

	p := NewHashPipeline(root, hasher, store, nil)
	if errs := p.Run([]*record.FileRecord{rec}); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	updated := store.Record("a.txt")
	if !updated.HasDigest() {
		t.Fatal("expected the record to have a digest after hashing")
	}
	if updated.Size != int64(len("some contents")) {
		t.Errorf("size = %d, want %d", updated.Size, len("some contents"))
	}
	if updated.MTime == 0 {
		t.Error("expected the record's mtime to be refreshed from the filesystem")
	}
}

func TestHashPipelineRecordsIOErrorSentinel(t *testing.T) {
	root := t.TempDir()

	store := newStore(t, root)
	hasher := hashing.NewHasher(hashing.AlgorithmSHA512, 64)
	rec := record.New("missing.txt", 0, 0)
	store.PutRecord(rec)

	p := NewHashPipeline(root, hasher, store, nil)
	errs := p.Run([]*record.FileRecord{rec})
	if len(errs) != 1 {
		t.Fatalf("expected one error for the unreadable file, got %v", errs)
	}
	if got := store.Record("missing.txt").Digest; got != record.IOErrorSentinel {
		t.Errorf("digest = %q, want the io-error sentinel", got)
	}
}

func TestParityPipelineSequentialInstall(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "big.bin"), strings.Repeat("payload", 1024))

	store := newStore(t, root)
	hasher := hashing.NewHasher(hashing.AlgorithmSHA512, 64)
	vault, err := parity.New(filepath.Join(root, ".pardatabase"), hasher, nil)
	if err != nil {
		t.Fatal(err)
	}
	par2 := fakePar2(t, createScript)

	rec := record.New("big.bin", 0, 0)
	store.PutRecord(rec)

	p := NewParityPipeline(root, hasher, vault, store, par2, "", nil)
	p.Sequential = true
	if errs := p.Run([]*record.FileRecord{rec}); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	digest := store.Record("big.bin").Digest
	if digest == "" || digest == record.IOErrorSentinel {
		t.Fatalf("unexpected digest %q", digest)
	}
	entry := store.VaultEntry(digest)
	if entry == nil {
		t.Fatal("expected a vault entry after installation")
	}
	if len(entry.Artifacts) != 1 {
		t.Fatalf("expected exactly one artifact, got %d", len(entry.Artifacts))
	}
	if !strings.HasSuffix(entry.Artifacts[0].Name, ".0.par2") {
		t.Errorf("artifact name %q does not carry the .0.par2 suffix", entry.Artifacts[0].Name)
	}
	if _, err := os.Stat(vault.Locate(entry.Artifacts[0].Name)); err != nil {
		t.Errorf("installed artifact missing on disk: %v", err)
	}

	// The temporary artifact must have been moved out of the target's
	// directory, not copied.
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".par2") {
			t.Errorf("temporary artifact %q left behind in the target directory", e.Name())
		}
	}
}

func TestParityPipelineSequentialDedup(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "dup.bin")
	writeFile(t, path, strings.Repeat("same bytes", 512))

	store := newStore(t, root)
	hasher := hashing.NewHasher(hashing.AlgorithmSHA512, 64)
	vault, err := parity.New(filepath.Join(root, ".pardatabase"), hasher, nil)
	if err != nil {
		t.Fatal(err)
	}

	// The fake tool records that it was invoked, so the test can prove the
	// vault hit short-circuited the parity run entirely.
	par2 := fakePar2(t, "#!/bin/sh\ntouch invoked.marker\n")

	digest, err := hasher.Hash(path)
	if err != nil {
		t.Fatal(err)
	}
	store.PutVaultEntry(&parity.Entry{FileDigest: digest})

	rec := record.New("dup.bin", 0, 0)
	store.PutRecord(rec)

	p := NewParityPipeline(root, hasher, vault, store, par2, "", nil)
	p.Sequential = true
	if errs := p.Run([]*record.FileRecord{rec}); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	if _, err := os.Stat(filepath.Join(root, "invoked.marker")); err == nil {
		t.Error("parity tool was invoked despite a vault hit")
	}
	if got := store.Record("dup.bin").Digest; got != digest {
		t.Errorf("digest = %q, want %q", got, digest)
	}
}

func TestParityPipelineParallelAutoDegrade(t *testing.T) {
	root := t.TempDir()

	store := newStore(t, root)
	hasher := hashing.NewHasher(hashing.AlgorithmSHA512, 64)
	vault, err := parity.New(filepath.Join(root, ".pardatabase"), hasher, nil)
	if err != nil {
		t.Fatal(err)
	}
	par2 := fakePar2(t, slowScript)

	// Five files whose digests are already in the vault: every parallel
	// attempt must early-quit, and the fifth must flip the pipeline to
	// sequential mode.
	var records []*record.FileRecord
	for _, name := range []string{"v.bin", "w.bin", "x.bin", "y.bin", "z.bin"} {
		path := filepath.Join(root, name)
		writeFile(t, path, "content of "+name)
		digest, err := hasher.Hash(path)
		if err != nil {
			t.Fatal(err)
		}
		store.PutVaultEntry(&parity.Entry{FileDigest: digest})
		rec := record.New(name, 0, 0)
		store.PutRecord(rec)
		records = append(records, rec)
	}

	p := NewParityPipeline(root, hasher, vault, store, par2, "", nil)
	if errs := p.Run(records); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	if p.mode != modeSequential {
		t.Error("expected the pipeline to degrade to sequential mode after five consecutive early quits")
	}
	if p.consecutiveEarlyQuits != earlyQuitDegradeThreshold {
		t.Errorf("consecutiveEarlyQuits = %d, want %d", p.consecutiveEarlyQuits, earlyQuitDegradeThreshold)
	}

	// Early quits must leave no temporary artifacts behind.
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".par2") {
			t.Errorf("early quit left temporary artifact %q behind", e.Name())
		}
	}
}

func TestParityPipelineToolFailureStillRecordsDigest(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "fail.bin")
	writeFile(t, path, strings.Repeat("doomed", 256))

	store := newStore(t, root)
	hasher := hashing.NewHasher(hashing.AlgorithmSHA512, 64)
	vault, err := parity.New(filepath.Join(root, ".pardatabase"), hasher, nil)
	if err != nil {
		t.Fatal(err)
	}
	par2 := fakePar2(t, "#!/bin/sh\nexit 2\n")

	rec := record.New("fail.bin", 0, 0)
	store.PutRecord(rec)

	p := NewParityPipeline(root, hasher, vault, store, par2, "", nil)
	p.Sequential = true
	errs := p.Run([]*record.FileRecord{rec})
	if len(errs) != 1 {
		t.Fatalf("expected one error from the failing tool, got %v", errs)
	}

	digest := store.Record("fail.bin").Digest
	if digest == "" || digest == record.IOErrorSentinel {
		t.Errorf("expected the digest to survive the tool failure, got %q", digest)
	}
	if store.HasVaultEntry(digest) {
		t.Error("no vault entry should exist after a failed parity run")
	}
}

func TestParityPipelineSingleCharRename(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "q")
	writeFile(t, path, strings.Repeat("single", 512))

	store := newStore(t, root)
	hasher := hashing.NewHasher(hashing.AlgorithmSHA512, 64)
	vault, err := parity.New(filepath.Join(root, ".pardatabase"), hasher, nil)
	if err != nil {
		t.Fatal(err)
	}
	par2 := fakePar2(t, createScript)

	rec := record.New("q", 0, 0)
	store.PutRecord(rec)

	p := NewParityPipeline(root, hasher, vault, store, par2, "", nil)
	p.Sequential = true
	p.SingleCharFix = true
	if errs := p.Run([]*record.FileRecord{rec}); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	// The original name must be restored on disk and in the index.
	if _, err := os.Stat(path); err != nil {
		t.Errorf("file was not renamed back after the workaround: %v", err)
	}
	if _, err := os.Stat(path + renameSuffix); err == nil {
		t.Error("temporary rename name still present after the run")
	}
	if store.Record("q") == nil {
		t.Error("index record was not restored to the original path")
	}
	if store.Record("q"+renameSuffix) != nil {
		t.Error("index still holds a record under the temporary rename name")
	}
}
