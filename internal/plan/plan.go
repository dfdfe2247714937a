// Package plan implements the scanner: it diffs the filesystem, as seen
// through two independent walker filter profiles, against the index,
// producing two disjoint work lists.
package plan

import (
	"github.com/pardatabase/pardatabase/internal/index"
	"github.com/pardatabase/pardatabase/internal/record"
	"github.com/pardatabase/pardatabase/internal/walk"
)

// Plan is the result of a single scan: two disjoint lists of records that
// still need work.
type Plan struct {
	// NeedsHash holds records matched only by the scan profile.
	NeedsHash []*record.FileRecord
	// NeedsParity holds records matched by the parity profile. Per the
	// tie-break rule, a path matched by both profiles appears here only.
	NeedsParity []*record.FileRecord
}

// Scanner drives the two walks and consults an index.Store to decide what
// work remains.
type Scanner struct {
	root  string
	store *index.Store
}

// New constructs a Scanner over root, consulting store for existing records
// and vault membership.
func New(root string, store *index.Store) *Scanner {
	return &Scanner{root: root, store: store}
}

// Plan walks root under both scanWalker and parityWalker, synthesising
// fresh FileRecords for newly discovered paths (inserted into the index
// immediately, so the cleaner always sees a complete reference set) and
// classifying every matched path into NeedsHash or NeedsParity. Each walker
// traverses the tree exactly once, so
// a plan is a consistent point-in-time view even if the tree is mutated
// between calls.
func (s *Scanner) Plan(scanWalker, parityWalker *walk.Walker) (*Plan, error) {
	var scanEntries []walk.Entry
	if err := scanWalker.Walk(func(entry walk.Entry) error {
		scanEntries = append(scanEntries, entry)
		return nil
	}); err != nil {
		return nil, err
	}

	var parityEntries []walk.Entry
	paritySeen := make(map[string]bool)
	if err := parityWalker.Walk(func(entry walk.Entry) error {
		parityEntries = append(parityEntries, entry)
		paritySeen[entry.RelPath] = true
		return nil
	}); err != nil {
		return nil, err
	}

	plan := &Plan{}
	classified := make(map[string]bool)

	visit := func(entry walk.Entry, inParity bool) {
		if classified[entry.RelPath] {
			return
		}
		classified[entry.RelPath] = true

		rec, isNew := s.recordFor(entry)
		if isNew {
			s.store.PutRecord(rec)
		}

		changed := isNew || !rec.HasDigest() || rec.MTime != statMTime(entry)

		if inParity {
			inVault := rec.HasDigest() && s.store.HasVaultEntry(rec.Digest)
			if changed || !inVault {
				plan.NeedsParity = append(plan.NeedsParity, rec)
			}
		} else if changed {
			plan.NeedsHash = append(plan.NeedsHash, rec)
		}
	}

	// The tie-break rule routes any path matched by both profiles to
	// NeedsParity only.
	for _, entry := range scanEntries {
		visit(entry, paritySeen[entry.RelPath])
	}
	for _, entry := range parityEntries {
		visit(entry, true)
	}

	return plan, nil
}

// recordFor returns the existing record for entry, or synthesises and
// returns a fresh one, reporting isNew.
func (s *Scanner) recordFor(entry walk.Entry) (rec *record.FileRecord, isNew bool) {
	if existing := s.store.Record(entry.RelPath); existing != nil {
		return existing, false
	}
	return record.New(entry.RelPath, statMTime(entry), entry.Info.Size()), true
}

func statMTime(entry walk.Entry) float64 {
	return float64(entry.Info.ModTime().UnixNano()) / 1e9
}
