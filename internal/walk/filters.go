// Package walk implements the filtered, depth-first directory traversal
// that feeds the scanner.
package walk

import (
	"math"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filters collects the independent, composable constraints a Walker applies
// to every entry it visits.
type Filters struct {
	// MinSize and MaxSize bound the file size inclusively. MinSize is
	// floored to 1 so that zero-byte files are always skipped: there is
	// nothing to hash or parity-protect in them.
	MinSize, MaxSize int64
	// MinMTime and MaxMTime bound st_mtime inclusively.
	MinMTime, MaxMTime float64
	// SkipExts is a file-extension blacklist; ".par2" is always included.
	SkipExts []string
	// SkipMimes is a guessed-MIME substring blacklist.
	SkipMimes []string
	// SkipDirs is a case-insensitive substring blacklist applied to
	// directory names; the vault's own base-directory name is always
	// included.
	SkipDirs []string
	// SkipPaths is an exact relative-path blacklist. Entries may also be
	// doublestar glob patterns (e.g. "**/*.tmp").
	SkipPaths []string
	// SkipHidden skips names beginning with '.' or ending with '~'.
	SkipHidden bool
	// SkipCache skips names case-insensitively containing "cache".
	SkipCache bool
	// SkipSyms skips symbolic links. Defaults to true.
	SkipSyms bool
}

// DefaultFilters returns a Filters with the documented defaults: unbounded
// size/time ranges (MinSize floored to 1), ".par2" always skipped, symlinks
// always skipped.
func DefaultFilters() Filters {
	return Filters{
		MinSize:  1,
		MaxSize:  math.MaxInt64,
		MinMTime: 0,
		MaxMTime: math.MaxFloat64,
		SkipExts: []string{".par2"},
		SkipSyms: true,
	}
}

// normalize applies the invariant bounds (MinSize floor, always-present
// SkipExts/SkipDirs entries) that every Filters value must satisfy
// regardless of how it was constructed.
func (f Filters) normalize(vaultDirName string) Filters {
	if f.MinSize < 1 {
		f.MinSize = 1
	}
	if f.MaxSize == 0 {
		f.MaxSize = math.MaxInt64
	}
	if f.MaxMTime == 0 {
		f.MaxMTime = math.MaxFloat64
	}
	if !containsFold(f.SkipExts, ".par2") {
		f.SkipExts = append(append([]string{}, f.SkipExts...), ".par2")
	}
	if !containsFold(f.SkipDirs, vaultDirName) {
		f.SkipDirs = append(append([]string{}, f.SkipDirs...), vaultDirName)
	}
	return f
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

// matchesSkipPath reports whether relPath is blocked by SkipPaths, either by
// exact match or by a doublestar glob pattern.
func (f Filters) matchesSkipPath(relPath string) bool {
	for _, pattern := range f.SkipPaths {
		if pattern == relPath {
			return true
		}
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
	}
	return false
}
