package parity

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/pardatabase/pardatabase/internal/hashing"
	"github.com/pardatabase/pardatabase/internal/logging"
)

// OverwritePolicy controls what Vault.Get does when a destination file
// already exists. Non-interactive callers must pick a policy explicitly;
// only OverwritePrompt consults the operator.
type OverwritePolicy int

const (
	// OverwriteDecline refuses to overwrite and aborts the Get call. This is
	// the default.
	OverwriteDecline OverwritePolicy = iota
	// OverwriteAlways always overwrites existing destination files.
	OverwriteAlways
	// OverwritePrompt asks on stdin.
	OverwritePrompt
)

// Vault is the content-addressed parity store rooted at <basedir>/par2.
type Vault struct {
	root   string
	hasher *hashing.Hasher
	logger *logging.Logger
}

// New constructs a Vault rooted at basedir/par2, creating the 256 shard
// directories if they don't already exist.
func New(basedir string, hasher *hashing.Hasher, logger *logging.Logger) (*Vault, error) {
	root := filepath.Join(basedir, "par2")
	for _, shard := range ShardDirs() {
		if err := os.MkdirAll(filepath.Join(root, shard), 0755); err != nil {
			return nil, errors.Wrap(err, "unable to create shard directory")
		}
	}
	return &Vault{root: root, hasher: hasher, logger: logger}, nil
}

// Locate returns the absolute path of name within the vault.
func (v *Vault) Locate(name string) string {
	return filepath.Join(v.root, name)
}

// Put moves srcPath into the vault under the name derived from fileDigest
// and suffix, updating entry accordingly. The caller is responsible for
// persisting the resulting entry into the index; the Vault itself owns only
// the on-disk artifact files.
//
// Post-condition: exactly one file exists for (fileDigest, suffix), and
// srcPath no longer exists.
func (v *Vault) Put(entry *Entry, srcPath, fileDigest, suffix string) (*Entry, error) {
	name, err := ArtifactName(fileDigest, suffix)
	if err != nil {
		return nil, err
	}

	digest, err := v.hasher.Hash(srcPath)
	if err != nil {
		return nil, err
	}

	dest := v.Locate(name)
	if _, err := os.Lstat(dest); err == nil {
		if err := os.Remove(dest); err != nil {
			return nil, errors.Wrap(err, "unable to remove existing artifact")
		}
	}
	if err := moveFile(srcPath, dest); err != nil {
		return nil, errors.Wrap(err, "unable to install artifact")
	}

	if entry == nil {
		entry = &Entry{FileDigest: fileDigest}
	}
	entry.Artifacts = append(dropArtifact(entry.Artifacts, name), Artifact{Name: name, Digest: digest})
	return entry, nil
}

// dropArtifact removes any existing artifact with the given name, so that
// re-installing under the same (digest, suffix) replaces rather than
// duplicates the record.
func dropArtifact(artifacts []Artifact, name string) []Artifact {
	out := artifacts[:0:0]
	for _, a := range artifacts {
		if a.Name != name {
			out = append(out, a)
		}
	}
	return out
}

// Get copies every artifact belonging to entry into destDir, verifying each
// artifact's stored digest against its on-disk bytes first. A digest
// mismatch is logged but the artifact is still copied, since the repair
// tool may cope with a damaged artifact. It returns the list of destination
// paths, or an empty slice if the operator declines to overwrite an existing
// destination file under OverwriteDecline.
func (v *Vault) Get(entry *Entry, destDir string, policy OverwritePolicy) ([]string, error) {
	var destinations []string
	for _, artifact := range entry.Artifacts {
		src := v.Locate(artifact.Name)
		if _, err := os.Lstat(src); err != nil {
			return nil, errors.Wrapf(err, "missing artifact %q", artifact.Name)
		}

		actual, err := v.hasher.Hash(src)
		if err != nil {
			return nil, err
		}
		if ok, _ := hashing.Compare(artifact.Digest, actual); !ok {
			v.logger.Warn(fmt.Errorf("artifact %q failed digest validation", artifact.Name))
		}

		dest := filepath.Join(destDir, filepath.Base(artifact.Name))
		if _, err := os.Lstat(dest); err == nil {
			switch policy {
			case OverwriteDecline:
				return nil, nil
			case OverwritePrompt:
				if !promptYesNo(fmt.Sprintf("Overwrite %s? Y/N", dest)) {
					return nil, nil
				}
			case OverwriteAlways:
				// Proceed.
			}
		}

		if err := copyFile(src, dest); err != nil {
			return nil, errors.Wrap(err, "unable to copy artifact")
		}
		destinations = append(destinations, dest)
	}
	return destinations, nil
}

// Clean removes every artifact file belonging to fileDigest, tolerating
// missing files with a warning, and reports the number of artifacts
// removed. The caller drops the corresponding Entry from the index.
func (v *Vault) Clean(entry *Entry) int {
	removed := 0
	for _, artifact := range entry.Artifacts {
		path := v.Locate(artifact.Name)
		if _, err := os.Lstat(path); err != nil {
			v.logger.Warn(fmt.Errorf("missing artifact during clean: %s", artifact.Name))
			continue
		}
		if err := os.Remove(path); err != nil {
			v.logger.Warn(errors.Wrapf(err, "unable to remove artifact %s", artifact.Name))
			continue
		}
		removed++
	}
	return removed
}

// VerifyResult is the outcome of verifying a single Entry.
type VerifyResult struct {
	FileDigest string
	// Bad is true if any artifact's bytes no longer match its stored
	// digest.
	Bad bool
	// Missing is true if any artifact file was not found on disk (and the
	// entry should be dropped).
	Missing bool
}

// Verify checks every artifact of every entry for existence and digest
// validity (length-tolerant), returning one VerifyResult per entry. The
// caller is expected to drop entries with a Missing artifact from the index
// and mark the store dirty.
func (v *Vault) Verify(entries []*Entry) ([]VerifyResult, error) {
	results := make([]VerifyResult, 0, len(entries))
	for _, entry := range entries {
		result := VerifyResult{FileDigest: entry.FileDigest}
		for _, artifact := range entry.Artifacts {
			path := v.Locate(artifact.Name)
			if _, err := os.Lstat(path); err != nil {
				result.Missing = true
				continue
			}
			actual, err := v.hasher.Hash(path)
			if err != nil {
				return nil, err
			}
			if ok, _ := hashing.Compare(artifact.Digest, actual); !ok {
				result.Bad = true
			}
		}
		results = append(results, result)
	}
	return results, nil
}

func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	// Fall back to copy+remove for cross-device moves.
	if err := copyFile(src, dest); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dest), ".pardatabase-copy-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(out.Name())
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return err
	}
	return os.Rename(out.Name(), dest)
}

func promptYesNo(prompt string) bool {
	fmt.Println(prompt)
	reader := bufio.NewReader(os.Stdin)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		if strings.HasPrefix(answer, "y") {
			return true
		}
		if strings.HasPrefix(answer, "n") {
			return false
		}
	}
}

// SortedArtifactNames returns the artifact names of entry sorted
// lexicographically, the order used to choose the first artifact passed to
// the repair tool.
func SortedArtifactNames(entry *Entry) []string {
	names := make([]string, len(entry.Artifacts))
	for i, a := range entry.Artifacts {
		names[i] = a.Name
	}
	sort.Strings(names)
	return names
}
