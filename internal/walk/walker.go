package walk

import (
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/pardatabase/pardatabase/internal/logging"
)

// Entry is one file yielded by a Walker.
type Entry struct {
	// Path is the absolute path to the file.
	Path string
	// RelPath is the path relative to the walk root.
	RelPath string
	// Info is the file's stat information (never following symlinks).
	Info os.FileInfo
}

// Walker performs a filtered, depth-first traversal of a root directory.
// Ordering between sibling entries is unspecified.
type Walker struct {
	root    string
	filters Filters
	logger  *logging.Logger
}

// New constructs a Walker rooted at root. vaultDirName is the vault's own
// base-directory name, which is always added to the directory skip list so
// the walk never descends into the vault itself.
func New(root, vaultDirName string, filters Filters, logger *logging.Logger) *Walker {
	return &Walker{root: root, filters: filters.normalize(vaultDirName), logger: logger}
}

// Walk invokes visit for every eligible file under the walker's root.
// Returning a non-nil error from visit stops the walk and propagates the
// error.
func (w *Walker) Walk(visit func(Entry) error) error {
	return w.walkDir(w.root, visit)
}

func (w *Walker) walkDir(dir string, visit func(Entry) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		w.logger.Warn(err)
		return nil
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		relPath, err := filepath.Rel(w.root, path)
		if err != nil {
			relPath = path
		}
		relPath = filepath.ToSlash(relPath)

		info, err := entry.Info()
		if err != nil {
			w.logger.Warn(err)
			continue
		}

		if w.skip(entry, info, relPath) {
			continue
		}

		if entry.IsDir() {
			if err := w.walkDir(path, visit); err != nil {
				return err
			}
			continue
		}

		if err := visit(Entry{Path: path, RelPath: relPath, Info: info}); err != nil {
			return err
		}
	}
	return nil
}

// skip decides whether entry should be excluded from the walk. All filters
// are independent; any one of them matching excludes the entry.
func (w *Walker) skip(entry os.DirEntry, info os.FileInfo, relPath string) bool {
	name := entry.Name()
	f := w.filters

	if f.SkipSyms && info.Mode()&os.ModeSymlink != 0 {
		return true
	}

	if f.SkipHidden && (strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~")) {
		return true
	}

	if f.SkipCache && strings.Contains(strings.ToLower(name), "cache") {
		return true
	}

	if f.matchesSkipPath(relPath) {
		return true
	}

	if entry.IsDir() {
		lower := strings.ToLower(name)
		for _, skip := range f.SkipDirs {
			if strings.Contains(lower, strings.ToLower(skip)) {
				return true
			}
		}
		if !readable(filepath.Join(w.root, relPath)) {
			w.logger.Warn(unreadableError(relPath))
			return true
		}
		return false
	}

	if len(f.SkipExts) > 0 {
		ext := filepath.Ext(name)
		for _, skip := range f.SkipExts {
			if strings.EqualFold(ext, skip) {
				return true
			}
		}
	}

	if len(f.SkipMimes) > 0 {
		if guessed := mime.TypeByExtension(filepath.Ext(name)); guessed != "" {
			for _, skip := range f.SkipMimes {
				if strings.Contains(guessed, skip) {
					return true
				}
			}
		}
	}

	if !readable(filepath.Join(w.root, relPath)) {
		w.logger.Warn(unreadableError(relPath))
		return true
	}

	size := info.Size()
	if size < f.MinSize || size > f.MaxSize {
		return true
	}

	mtime := float64(info.ModTime().UnixNano()) / 1e9
	if mtime < f.MinMTime || mtime > f.MaxMTime {
		return true
	}

	return false
}

// readable performs a lightweight permission probe. Opening and immediately
// closing is the portable way to test this without a platform-specific
// access(2) call.
func readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

func unreadableError(relPath string) error {
	return &unreadablePathError{relPath: relPath}
}

type unreadablePathError struct {
	relPath string
}

func (e *unreadablePathError) Error() string {
	return "could not access " + e.relPath
}
