package process

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Par2 drives the external par2-compatible parity tool. It is resolved once
// at startup and reused for every create/repair invocation.
type Par2 struct {
	// path is the resolved path to the par2 executable.
	path string
}

// NewPar2 resolves the par2 executable, returning an error if it cannot be
// found on PATH.
func NewPar2(extraPaths []string) (*Par2, error) {
	path, err := Find("par2", extraPaths)
	if err != nil {
		return nil, errors.Wrap(err, "par2 tool not found on PATH")
	}
	return &Par2{path: path}, nil
}

// CreatePrefix generates a collision-resistant prefix for the temporary
// artifact files produced by a Create invocation. Each invocation gets its
// own UUID-derived prefix so that artifacts from an aborted previous run
// are never mistaken for the current one.
func CreatePrefix() string {
	return ".pardatabase-" + uuid.NewString()[:8]
}

// Create starts (but does not wait for) a par2 "create" invocation for the
// file with the given base name, run inside dir. options is an optional
// pass-through argument string for the tool (e.g. "r5" for 5% redundancy).
// It returns the Task tracking the child; the child's output files begin
// with prefix, and the caller scans for them with FindArtifacts.
func (p *Par2) Create(dir, baseName, options, prefix string) (*Task, error) {
	args := []string{"create", "-n1", "-qq"}
	if options != "" {
		args = append(args, "-"+strings.TrimPrefix(options, "-"))
	}
	args = append(args, "-a", prefix+".par2", "--", baseName)

	cmd := exec.Command(p.path, args...)
	cmd.Dir = dir
	cmd.Stdout = nil
	cmd.Stderr = nil
	return Start(cmd)
}

// FindArtifacts scans dir for parity artifacts produced by a Create call
// with the given prefix, returning their paths in directory order.
func FindArtifacts(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "unable to list directory")
	}
	var artifacts []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".par2") {
			artifacts = append(artifacts, filepath.Join(dir, name))
		}
	}
	return artifacts, nil
}

// Repair invokes "par2 repair <firstArtifact> <target>" synchronously.
func (p *Par2) Repair(dir, firstArtifact, target string) error {
	cmd := exec.Command(p.path, "repair", firstArtifact, target)
	cmd.Dir = dir
	return cmd.Run()
}
