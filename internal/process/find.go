package process

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
)

// Find locates the named executable on PATH, or in the optionally supplied
// extra search directories.
func Find(name string, extraPaths []string) (string, error) {
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	for _, dir := range extraPaths {
		target := filepath.Join(dir, ExecutableName(name, runtime.GOOS))
		metadata, err := os.Stat(target)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", errors.Wrap(err, "unable to query file metadata")
		}
		if metadata.Mode()&os.ModeType != 0 {
			continue
		}
		return target, nil
	}

	return "", errors.New("unable to locate command")
}
