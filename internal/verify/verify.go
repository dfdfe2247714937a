// Package verify implements bit-rot detection and repair: re-hashing every
// indexed file against its stored digest, and restoring a named file from
// its vault artifacts via the external parity tool.
package verify

import (
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/pardatabase/pardatabase/internal/hashing"
	"github.com/pardatabase/pardatabase/internal/index"
	"github.com/pardatabase/pardatabase/internal/logging"
	"github.com/pardatabase/pardatabase/internal/parity"
)

// staleMTimeTolerance is the maximum difference, in seconds, between a
// record's stored mtime and the file's on-disk mtime before the file is
// considered "updated without rescan" rather than bit-rotted.
const staleMTimeTolerance = 0.001

// Result is the outcome of a single Verifier.Verify call.
type Result struct {
	// Corrupted holds the relative paths whose recomputed digest no longer
	// matches the stored one.
	Corrupted []string
	// Stale holds paths reported as "updated without rescan": their on-disk
	// mtime is newer than the stored one by more than the tolerance.
	Stale []string
	// SkippedNoDigest is the count of records skipped because they have
	// never been successfully hashed.
	SkippedNoDigest int
	// VaultResults is the Parity Vault's own verification outcome.
	VaultResults []parity.VerifyResult
}

// Verifier re-hashes every indexed file and cross-checks the Parity Vault.
type Verifier struct {
	root   string
	hasher *hashing.Hasher
	store  *index.Store
	vault  *parity.Vault
	logger *logging.Logger
}

// New constructs a Verifier.
func New(root string, hasher *hashing.Hasher, store *index.Store, vault *parity.Vault, logger *logging.Logger) *Verifier {
	return &Verifier{root: root, hasher: hasher, store: store, vault: vault, logger: logger}
}

// Verify re-hashes every indexed file whose path exists and cross-checks
// the vault's artifacts.
func (v *Verifier) Verify() (*Result, error) {
	result := &Result{}

	for _, rec := range v.store.AllRecords() {
		path := rec.FullPath(v.root)
		info, err := os.Lstat(path)
		if err != nil {
			// Nonexistent files are the cleaner's concern, not the
			// verifier's.
			continue
		}

		if !rec.HasDigest() {
			result.SkippedNoDigest++
			continue
		}

		onDiskMTime := float64(info.ModTime().UnixNano()) / 1e9
		if onDiskMTime-rec.MTime > staleMTimeTolerance {
			result.Stale = append(result.Stale, rec.Path)
			continue
		}

		actual, err := v.hasher.Hash(path)
		if err != nil {
			return nil, err
		}
		ok, err := hashing.Compare(rec.Digest, actual)
		if err != nil {
			v.logger.Warn(err)
			continue
		}
		if !ok {
			result.Corrupted = append(result.Corrupted, rec.Path)
		}
	}

	entries := make([]*parity.Entry, 0)
	for _, digest := range v.vaultDigests() {
		if entry := v.store.VaultEntry(digest); entry != nil {
			entries = append(entries, entry)
		}
	}
	vaultResults, err := v.vault.Verify(entries)
	if err != nil {
		return nil, err
	}
	result.VaultResults = vaultResults

	// Entries with missing artifact files are dropped from the index, which
	// also marks the store dirty so the next save persists the removal.
	for _, vr := range vaultResults {
		if vr.Missing {
			v.store.DeleteVaultEntry(vr.FileDigest)
		}
	}

	return result, nil
}

func (v *Verifier) vaultDigests() []string {
	var digests []string
	seen := make(map[string]bool)
	for _, rec := range v.store.AllRecords() {
		if rec.HasDigest() && v.store.HasVaultEntry(rec.Digest) && !seen[rec.Digest] {
			seen[rec.Digest] = true
			digests = append(digests, rec.Digest)
		}
	}
	return digests
}

// Repairer resolves a named file to its vault artifacts and drives the
// external repair tool.
type Repairer struct {
	root   string
	hasher *hashing.Hasher
	store  *index.Store
	vault  *parity.Vault
	par2   Par2Repairer
	logger *logging.Logger
}

// Par2Repairer is the subset of internal/process.Par2 the Repairer needs,
// narrowed so tests can substitute a fake.
type Par2Repairer interface {
	Repair(dir, firstArtifact, target string) error
}

// NewRepairer constructs a Repairer.
func NewRepairer(root string, hasher *hashing.Hasher, store *index.Store, vault *parity.Vault, par2 Par2Repairer, logger *logging.Logger) *Repairer {
	return &Repairer{root: root, hasher: hasher, store: store, vault: vault, par2: par2, logger: logger}
}

// Repair restores the named file from its vault artifacts: name is resolved
// to a relative path (exact match against the index), and must refer to an
// existing, indexed file. On success the record is re-hashed and refreshed;
// the materialised artifact copies are removed, the vault originals
// untouched.
func (r *Repairer) Repair(name string) error {
	rec := r.store.Record(name)
	if rec == nil {
		return fmt.Errorf("%q is not an indexed path", name)
	}
	path := rec.FullPath(r.root)
	if _, err := os.Lstat(path); err != nil {
		return errors.Wrapf(err, "indexed file %q does not exist", name)
	}
	if !rec.HasDigest() {
		return fmt.Errorf("%q has never been successfully hashed", name)
	}

	entry := r.store.VaultEntry(rec.Digest)
	if entry == nil {
		return fmt.Errorf("%q has no parity artifacts in the vault", name)
	}

	dir := os.TempDir()
	workDir, err := os.MkdirTemp(dir, "pardatabase-repair-*")
	if err != nil {
		return errors.Wrap(err, "unable to create repair workspace")
	}
	defer os.RemoveAll(workDir)

	materialized, err := r.vault.Get(entry, workDir, parity.OverwriteDecline)
	if err != nil {
		return errors.Wrap(err, "unable to materialize vault artifacts")
	}
	if len(materialized) == 0 {
		return fmt.Errorf("unable to materialize vault artifacts for %q", name)
	}

	firstArtifact := parity.SortedArtifactNames(entry)[0]

	if err := r.par2.Repair(workDir, firstArtifactInWorkDir(materialized, firstArtifact), path); err != nil {
		return errors.Wrap(err, "repair failed")
	}

	digest, err := r.hasher.Hash(path)
	if err != nil {
		return err
	}
	ok, err := hashing.Compare(rec.Digest, digest)
	if err != nil || !ok {
		return fmt.Errorf("repaired file still does not match stored digest for %q", name)
	}

	updated := rec.Clone()
	updated.Digest = digest
	if info, err := os.Lstat(path); err == nil {
		updated.Size = info.Size()
		updated.MTime = float64(info.ModTime().UnixNano()) / 1e9
	}
	r.store.PutRecord(updated)

	for _, m := range materialized {
		if err := os.Remove(m); err != nil {
			r.logger.Warn(err)
		}
	}

	return nil
}

// firstArtifactInWorkDir returns the materialized path whose base name
// matches the vault entry's lexicographically-first artifact name.
func firstArtifactInWorkDir(materialized []string, firstArtifactName string) string {
	base := firstArtifactName
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '/' {
			base = base[i+1:]
			break
		}
	}
	for _, m := range materialized {
		if len(m) >= len(base) && m[len(m)-len(base):] == base {
			return m
		}
	}
	if len(materialized) > 0 {
		return materialized[0]
	}
	return ""
}
