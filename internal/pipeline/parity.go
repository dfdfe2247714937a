package pipeline

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	"github.com/pardatabase/pardatabase/internal/hashing"
	"github.com/pardatabase/pardatabase/internal/index"
	"github.com/pardatabase/pardatabase/internal/logging"
	"github.com/pardatabase/pardatabase/internal/parity"
	"github.com/pardatabase/pardatabase/internal/process"
	"github.com/pardatabase/pardatabase/internal/record"
)

// mode is the parity pipeline's current operating mode.
type mode int

const (
	modeParallel mode = iota
	modeSequential
)

// earlyQuitDegradeThreshold is the number of consecutive early quits that
// triggers a permanent switch to sequential mode for the rest of the run:
// at that point every parity child is being thrown away, so starting them
// eagerly just wastes I/O.
const earlyQuitDegradeThreshold = 5

// checkpointInterval is how many completed records elapse between
// checkpoint save attempts.
const checkpointInterval = 10

// renameSuffix is appended to single-character base names while the parity
// tool runs, working around tools that mis-handle such names.
const renameSuffix = ".pardatabase.tmp.rename"

// ParityPipeline drives the hash/parity race for the scanner's
// needs-parity list.
type ParityPipeline struct {
	root    string
	hasher  *hashing.Hasher
	vault   *parity.Vault
	store   *index.Store
	par2    *process.Par2
	logger  *logging.Logger
	options string

	// Sequential forces sequential mode from the start (CLI --sequential).
	Sequential bool
	// SingleCharFix enables the single-character base name workaround.
	SingleCharFix bool

	mode                  mode
	consecutiveEarlyQuits int
	completed             int
}

// NewParityPipeline constructs a ParityPipeline.
func NewParityPipeline(root string, hasher *hashing.Hasher, vault *parity.Vault, store *index.Store, par2 *process.Par2, options string, logger *logging.Logger) *ParityPipeline {
	return &ParityPipeline{root: root, hasher: hasher, vault: vault, store: store, par2: par2, options: options, logger: logger}
}

// Run drives the pipeline over records. Per-record failures (a parity
// child's non-zero exit, an unreadable file) are logged, collected into the
// returned error list, and skipped; they never abort the run.
func (p *ParityPipeline) Run(records []*record.FileRecord) []error {
	if p.Sequential {
		p.mode = modeSequential
	}

	interrupted := make(chan os.Signal, 1)
	signal.Notify(interrupted, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupted)

	var errs []error
	for _, rec := range records {
		if err := p.step(rec, interrupted); err != nil {
			p.logger.Warn(err)
			errs = append(errs, err)
		}

		p.completed++
		if p.completed%checkpointInterval == 0 {
			if err := p.store.Save(3600, nowSeconds()); err != nil {
				p.logger.Warn(err)
			}
		}
	}

	return errs
}

// step runs the hash/parity race for a single record, per the current
// mode.
func (p *ParityPipeline) step(rec *record.FileRecord, interrupted chan os.Signal) error {
	path := rec.FullPath(p.root)
	dir := filepath.Dir(path)
	baseName := filepath.Base(path)

	renamed := false
	if p.SingleCharFix && len(baseName) == 1 {
		renamedPath := path + renameSuffix
		if err := os.Rename(path, renamedPath); err != nil {
			return errors.Wrap(err, "unable to apply single-character workaround")
		}
		renamed = true
		baseName = filepath.Base(renamedPath)
		path = renamedPath
		p.store.DeleteRecord(rec.Path)
		rec = rec.Clone()
		rec.Path = rec.Path + renameSuffix
		p.store.PutRecord(rec)
	}

	restore := func() {
		if !renamed {
			return
		}
		original := strings.TrimSuffix(path, renameSuffix)
		if err := os.Rename(path, original); err != nil {
			return
		}
		// Re-key whatever the step recorded under the temporary name back to
		// the original path, so the index never persists a temporary name.
		current := p.store.Record(rec.Path)
		if current == nil {
			current = rec
		}
		p.store.DeleteRecord(current.Path)
		restored := current.Clone()
		restored.Path = strings.TrimSuffix(current.Path, renameSuffix)
		p.store.PutRecord(restored)
	}

	if p.mode == modeSequential {
		err := p.stepSequential(rec, dir, baseName, path, interrupted, restore)
		restore()
		return err
	}
	err := p.stepParallel(rec, dir, baseName, path, interrupted, restore)
	restore()
	return err
}

// stepSequential hashes first, consults the vault, and only launches the
// parity creator on a miss.
func (p *ParityPipeline) stepSequential(rec *record.FileRecord, dir, baseName, path string, interrupted chan os.Signal, restore func()) error {
	digest, err := p.hasher.Hash(path)
	if err != nil {
		return err
	}
	if digest == record.IOErrorSentinel {
		p.updateDigest(rec, digest)
		return fmt.Errorf("unable to read %s while hashing", rec.Path)
	}

	if p.store.HasVaultEntry(digest) {
		p.updateDigest(rec, digest)
		return nil
	}

	prefix := process.CreatePrefix()
	task, err := p.par2.Create(dir, baseName, p.options, prefix)
	if err != nil {
		return errors.Wrap(err, "unable to start parity tool")
	}

	if err := p.waitOrInterrupt(task, dir, prefix, interrupted, restore); err != nil {
		return err
	}
	if err := task.Wait(); err != nil {
		// The digest was produced before the tool ran, so it's still
		// recorded; the file is just left un-parity-protected.
		p.removeArtifacts(dir, prefix)
		p.updateDigest(rec, digest)
		return errors.Wrapf(err, "parity tool failed for %s", rec.Path)
	}

	return p.install(rec, dir, prefix, digest)
}

// stepParallel launches the parity creator and the hasher concurrently over
// the same file, so the bytes are read once while both results are
// produced. If the digest turns out to already be in the vault, the parity
// child's work is discarded.
func (p *ParityPipeline) stepParallel(rec *record.FileRecord, dir, baseName, path string, interrupted chan os.Signal, restore func()) error {
	prefix := process.CreatePrefix()
	task, err := p.par2.Create(dir, baseName, p.options, prefix)
	if err != nil {
		return errors.Wrap(err, "unable to start parity tool")
	}

	type hashResult struct {
		digest string
		err    error
	}
	hashDone := make(chan hashResult, 1)
	go func() {
		digest, err := p.hasher.Hash(path)
		hashDone <- hashResult{digest, err}
	}()

	var result hashResult
	select {
	case result = <-hashDone:
	case sig := <-interrupted:
		p.handleInterrupt(sig, task, dir, prefix, restore)
		return nil
	}
	if result.err != nil {
		task.Terminate()
		task.Wait()
		p.removeArtifacts(dir, prefix)
		return result.err
	}
	if result.digest == record.IOErrorSentinel {
		task.Terminate()
		task.Wait()
		p.removeArtifacts(dir, prefix)
		p.updateDigest(rec, result.digest)
		return fmt.Errorf("unable to read %s while hashing", rec.Path)
	}

	if p.store.HasVaultEntry(result.digest) {
		p.quitEarly(task, dir, prefix)
		p.updateDigest(rec, result.digest)
		return nil
	}

	p.consecutiveEarlyQuits = 0
	select {
	case <-waitChan(task):
	case sig := <-interrupted:
		p.handleInterrupt(sig, task, dir, prefix, restore)
		return nil
	}
	if err := task.Wait(); err != nil {
		p.removeArtifacts(dir, prefix)
		p.updateDigest(rec, result.digest)
		return errors.Wrapf(err, "parity tool failed for %s", rec.Path)
	}

	return p.install(rec, dir, prefix, result.digest)
}

// quitEarly terminates an in-flight parity child whose output turned out to
// be unnecessary (the digest was already in the vault), removes whatever
// temporary artifacts it had produced, and records the early quit toward
// the auto-degrade counter.
func (p *ParityPipeline) quitEarly(task *process.Task, dir, prefix string) {
	task.Terminate()
	task.Wait()
	p.removeArtifacts(dir, prefix)

	p.consecutiveEarlyQuits++
	if p.consecutiveEarlyQuits >= earlyQuitDegradeThreshold {
		p.mode = modeSequential
		p.logger.Printf("parity pipeline: %d consecutive early quits, switching to sequential mode", p.consecutiveEarlyQuits)
	}
}

// install scans dir for the artifacts a successful Create produced and
// installs each one into the vault.
func (p *ParityPipeline) install(rec *record.FileRecord, dir, prefix, digest string) error {
	artifacts, err := process.FindArtifacts(dir, prefix)
	if err != nil {
		return err
	}
	if len(artifacts) == 0 {
		return fmt.Errorf("parity tool produced no artifacts for %s", rec.Path)
	}

	entry := p.store.VaultEntry(digest)
	for i, artifactPath := range artifacts {
		suffix := fmt.Sprintf(".%d.par2", i)
		entry, err = p.vault.Put(entry, artifactPath, digest, suffix)
		if err != nil {
			return errors.Wrap(err, "unable to install parity artifact")
		}
	}
	p.store.PutVaultEntry(entry)
	p.updateDigest(rec, digest)
	return nil
}

func (p *ParityPipeline) updateDigest(rec *record.FileRecord, digest string) {
	updated := rec.Clone()
	updated.Digest = digest
	if info, err := os.Lstat(rec.FullPath(p.root)); err == nil {
		updated.Size = info.Size()
		updated.MTime = float64(info.ModTime().UnixNano()) / 1e9
	}
	p.store.PutRecord(updated)
}

func (p *ParityPipeline) removeArtifacts(dir, prefix string) {
	artifacts, err := process.FindArtifacts(dir, prefix)
	if err != nil {
		return
	}
	for _, artifact := range artifacts {
		if err := os.Remove(artifact); err != nil {
			p.logger.Warn(err)
		}
	}
}

// waitOrInterrupt blocks until task finishes or an interrupt arrives.
func (p *ParityPipeline) waitOrInterrupt(task *process.Task, dir, prefix string, interrupted chan os.Signal, restore func()) error {
	select {
	case <-waitChan(task):
		return nil
	case sig := <-interrupted:
		p.handleInterrupt(sig, task, dir, prefix, restore)
		return fmt.Errorf("interrupted")
	}
}

// handleInterrupt performs bounded cleanup, in order: restore any renamed
// file, kill the child, save the index, remove the child's temporary
// artifacts, exit.
func (p *ParityPipeline) handleInterrupt(sig os.Signal, task *process.Task, dir, prefix string, restore func()) {
	restore()
	task.Kill()
	task.Wait()
	p.store.Save(0, nowSeconds())
	p.removeArtifacts(dir, prefix)
	os.Exit(130)
}

func waitChan(task *process.Task) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		task.Wait()
		close(done)
	}()
	return done
}
