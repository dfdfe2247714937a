// Package pipeline implements the two consumers of a scan plan: the hash
// pipeline, which refreshes digests, and the parity pipeline, which drives
// the external parity tool and installs its artifacts into the vault.
package pipeline

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pardatabase/pardatabase/internal/hashing"
	"github.com/pardatabase/pardatabase/internal/index"
	"github.com/pardatabase/pardatabase/internal/logging"
	"github.com/pardatabase/pardatabase/internal/record"
)

// HashPipeline sequentially hashes the records in a Scanner's needs_hash
// list.
type HashPipeline struct {
	root   string
	hasher *hashing.Hasher
	store  *index.Store
	logger *logging.Logger
	// Delay is the thermal-pacing multiplier: after each hash, the pipeline
	// sleeps Delay times the read duration so sustained scans don't saturate
	// the disk.
	Delay float64
}

// NewHashPipeline constructs a HashPipeline rooted at root.
func NewHashPipeline(root string, hasher *hashing.Hasher, store *index.Store, logger *logging.Logger) *HashPipeline {
	return &HashPipeline{root: root, hasher: hasher, store: store, logger: logger}
}

// Run hashes every record in records, updating the index in place, and
// returns the list of per-record failures; the run continues past them. On
// interruption (SIGINT/SIGTERM) it flushes the index and exits the process
// cleanly.
func (p *HashPipeline) Run(records []*record.FileRecord) []error {
	interrupted := make(chan os.Signal, 1)
	signal.Notify(interrupted, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupted)

	done := make(chan struct{})
	go func() {
		select {
		case <-interrupted:
			p.store.Save(0, nowSeconds())
			os.Exit(130)
		case <-done:
		}
	}()
	defer close(done)

	var errs []error
	for _, rec := range records {
		if err := p.hashOne(rec); err != nil {
			p.logger.Warn(err)
			errs = append(errs, err)
		}
	}
	return errs
}

func (p *HashPipeline) hashOne(rec *record.FileRecord) error {
	path := rec.FullPath(p.root)
	start := time.Now()
	digest, err := p.hasher.Hash(path)
	elapsed := time.Since(start)
	if err != nil {
		return err
	}
	if digest == record.IOErrorSentinel {
		// Record the sentinel so the failure is visible in the index, then
		// surface the failure to the run's error list.
		updated := rec.Clone()
		updated.Digest = digest
		p.store.PutRecord(updated)
		return fmt.Errorf("unable to read %s while hashing", rec.Path)
	}

	info, err := os.Lstat(path)
	if err != nil {
		return err
	}

	updated := rec.Clone()
	updated.Digest = digest
	updated.Size = info.Size()
	updated.MTime = float64(info.ModTime().UnixNano()) / 1e9
	p.store.PutRecord(updated)

	if p.Delay > 0 {
		time.Sleep(time.Duration(p.Delay * float64(elapsed)))
	}
	return nil
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
