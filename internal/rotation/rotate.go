// Package rotation implements atomic N-deep backup rotation for a single
// path.
package rotation

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Sequence computes the rotation sequence for path with the given separator
// and limit, without touching the filesystem: path itself, then limit backup
// names with the slot number inserted before the final extension
// (database.csv, database.1.csv, ..., database.N.csv). It's used by loaders
// to enumerate candidate backups.
func Sequence(path string, limit int, separator string) []string {
	names := make([]string, 0, limit+1)
	names = append(names, path)
	ext := extOf(path)
	base := strings.TrimSuffix(path, ext)
	for n := 1; n <= limit; n++ {
		names = append(names, base+separator+strconv.Itoa(n)+ext)
	}
	return names
}

// extOf returns the final extension of path, including the leading dot, or
// "" if there is none. It mirrors os.path.splitext closely enough for the
// simple filenames this package deals with (database.xz, database.csv).
func extOf(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}

// Rotate shifts path through its backup sequence: the oldest slot is
// deleted (if the sequence is full), every occupied slot moves one position
// older, and path itself is left in place for the caller to overwrite. It
// returns the full sequence of names, newest first.
func Rotate(path string, limit int, separator string) ([]string, error) {
	names := Sequence(path, limit, separator)
	dest := names[len(names)-1]

	if exists(dest) {
		if err := os.Remove(dest); err != nil {
			return nil, errors.Wrap(err, "unable to remove oldest rotation slot")
		}
	}

	// Walk from oldest occupied slot to newest, renaming each one down by
	// one position.
	for i := len(names) - 2; i >= 0; i-- {
		src := names[i]
		if exists(src) {
			if err := os.Rename(src, dest); err != nil {
				return nil, fmt.Errorf("unable to rotate %q to %q: %w", src, dest, err)
			}
		}
		dest = src
	}

	return names, nil
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
