// Package clean implements the vault's garbage collector: a two-phase sweep
// that drops index records for files that no longer exist and removes vault
// entries no longer referenced by any record.
package clean

import (
	"os"

	"github.com/pardatabase/pardatabase/internal/index"
	"github.com/pardatabase/pardatabase/internal/parity"
)

// Result summarizes one Cleaner.Clean call.
type Result struct {
	// RecordsDropped is the number of FileRecords removed because their
	// file no longer exists.
	RecordsDropped int
	// VaultEntriesDropped is the number of VaultEntrys removed because no
	// record referenced their digest.
	VaultEntriesDropped int
	// ArtifactsRemoved is the total number of on-disk artifact files
	// removed across both phases.
	ArtifactsRemoved int
}

// Cleaner sweeps the index and vault for orphaned entries.
type Cleaner struct {
	root  string
	store *index.Store
	vault *parity.Vault

	// DryRun reports what would be removed without touching the index or
	// the vault.
	DryRun bool
}

// New constructs a Cleaner.
func New(root string, store *index.Store, vault *parity.Vault) *Cleaner {
	return &Cleaner{root: root, store: store, vault: vault}
}

// Clean runs the two-phase sweep.
func (c *Cleaner) Clean() Result {
	if c.DryRun {
		return c.plan()
	}

	var result Result

	// Phase 1: drop records for files that no longer exist, cleaning the
	// vault when the last reference to a digest is dropped.
	for _, rec := range c.store.AllRecords() {
		path := rec.FullPath(c.root)
		if _, err := os.Lstat(path); err == nil {
			continue
		}

		digest := rec.Digest
		c.store.DeleteRecord(rec.Path)
		result.RecordsDropped++

		if digest == "" || !rec.HasDigest() {
			continue
		}
		if c.store.ReferenceCount(digest) == 0 {
			if entry := c.store.VaultEntry(digest); entry != nil {
				result.ArtifactsRemoved += c.vault.Clean(entry)
				c.store.DeleteVaultEntry(digest)
				result.VaultEntriesDropped++
			}
		}
	}

	// Phase 2 (belt-and-braces): clean any vault entry left with zero
	// referencing records, in case phase 1 missed one (e.g. a record whose
	// digest was later reused by a different path that itself was already
	// gone).
	for _, digest := range c.store.UnreferencedVaultDigests() {
		entry := c.store.VaultEntry(digest)
		if entry == nil {
			continue
		}
		result.ArtifactsRemoved += c.vault.Clean(entry)
		c.store.DeleteVaultEntry(digest)
		result.VaultEntriesDropped++
	}

	return result
}

// plan computes the same counts Clean would produce, simulating the
// reference-count drops instead of applying them.
func (c *Cleaner) plan() Result {
	var result Result

	dropped := make(map[string]int)
	for _, rec := range c.store.AllRecords() {
		if _, err := os.Lstat(rec.FullPath(c.root)); err == nil {
			continue
		}
		result.RecordsDropped++
		if rec.HasDigest() {
			dropped[rec.Digest]++
		}
	}

	for digest, drops := range dropped {
		if c.store.ReferenceCount(digest) > drops {
			continue
		}
		if entry := c.store.VaultEntry(digest); entry != nil {
			result.VaultEntriesDropped++
			result.ArtifactsRemoved += len(entry.Artifacts)
		}
	}

	// Entries already unreferenced before this sweep never appear in
	// dropped, so the two loops can't double-count.
	for _, digest := range c.store.UnreferencedVaultDigests() {
		if entry := c.store.VaultEntry(digest); entry != nil {
			result.VaultEntriesDropped++
			result.ArtifactsRemoved += len(entry.Artifacts)
		}
	}

	return result
}
