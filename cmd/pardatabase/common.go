package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pardatabase/pardatabase/internal/config"
	"github.com/pardatabase/pardatabase/internal/hashing"
	"github.com/pardatabase/pardatabase/internal/index"
	"github.com/pardatabase/pardatabase/internal/locking"
	"github.com/pardatabase/pardatabase/internal/logging"
	"github.com/pardatabase/pardatabase/internal/niceness"
	"github.com/pardatabase/pardatabase/internal/parity"
	"github.com/pardatabase/pardatabase/internal/process"
	"github.com/pardatabase/pardatabase/internal/walk"
)

// operationalError marks an error that occurred while actually running a
// vault operation (as opposed to a cobra flag-parsing/usage error), so that
// main can map it to exitOperational rather than exitUsage.
type operationalError struct {
	err error
}

func (e *operationalError) Error() string { return e.err.Error() }
func (e *operationalError) Unwrap() error { return e.err }

func wrapOperational(err error) error {
	if err == nil {
		return nil
	}
	return &operationalError{err: err}
}

// sharedFlags holds the common flag set accepted by every subcommand that
// operates against a vault.
type sharedFlags struct {
	basedir       string
	hashName      string
	minSize       int64
	maxSize       int64
	minScanSize   int64
	maxScanSize   int64
	options       string
	sequential    bool
	singleCharFix bool
	delay         float64
	dryRun        bool
	nice          int
	truncateWidth int
}

// applyConfig overlays global configuration values onto f for every flag the
// user didn't set explicitly, so that explicit flags always win.
func (f *sharedFlags) applyConfig(cfg *config.Configuration, flags *pflag.FlagSet) {
	if !flags.Changed("basedir") && cfg.BaseDir != "" {
		f.basedir = cfg.BaseDir
	}
	if !flags.Changed("hash") && cfg.HashAlgorithm != "" {
		f.hashName = cfg.HashAlgorithm
	}
	if !flags.Changed("min") && cfg.MinParitySize != 0 {
		f.minSize = int64(cfg.MinParitySize)
	}
	if !flags.Changed("max") && cfg.MaxParitySize != 0 {
		f.maxSize = int64(cfg.MaxParitySize)
	}
	if !flags.Changed("minscan") && cfg.MinSize != 0 {
		f.minScanSize = int64(cfg.MinSize)
	}
	if !flags.Changed("maxscan") && cfg.MaxSize != 0 {
		f.maxScanSize = int64(cfg.MaxSize)
	}
	if !flags.Changed("options") && cfg.ParityOptions != "" {
		f.options = cfg.ParityOptions
	}
	if !flags.Changed("sequential") && cfg.Sequential {
		f.sequential = true
	}
	if !flags.Changed("singlecharfix") && cfg.SingleCharFix {
		f.singleCharFix = true
	}
	if !flags.Changed("delay") && cfg.Delay != 0 {
		f.delay = cfg.Delay
	}
	if !flags.Changed("nice") && cfg.NiceLevel != 0 {
		f.nice = cfg.NiceLevel
	}
}

func registerSharedFlags(flags *pflag.FlagSet, f *sharedFlags) {
	flags.StringVar(&f.basedir, "basedir", "", "vault base directory (default: the target directory)")
	flags.StringVar(&f.hashName, "hash", "", "hash algorithm: sha1, sha256, sha512 (default), xxh64")
	flags.Int64Var(&f.minSize, "min", 1, "minimum file size eligible for parity protection, in bytes")
	flags.Int64Var(&f.maxSize, "max", 0, "maximum file size eligible for parity protection, in bytes (0 = unbounded)")
	flags.Int64Var(&f.minScanSize, "minscan", 1, "minimum file size eligible for hashing only, in bytes")
	flags.Int64Var(&f.maxScanSize, "maxscan", 0, "maximum file size eligible for hashing only, in bytes (0 = unbounded)")
	flags.StringVar(&f.options, "options", "", "pass-through option string for the parity tool")
	flags.BoolVar(&f.sequential, "sequential", false, "force sequential hash/parity mode")
	flags.BoolVar(&f.singleCharFix, "singlecharfix", false, "enable the single-character base name workaround")
	flags.Float64Var(&f.delay, "delay", 0, "post-read thermal pacing delay multiplier")
	flags.BoolVar(&f.dryRun, "dry-run", false, "report what would happen without modifying the vault or index")
	flags.IntVar(&f.nice, "nice", 0, "I/O priority level in the best-effort class, 1 (high) to 7 (lowest); negative selects the idle class, 0 leaves it unchanged (Linux only)")
	flags.IntVar(&f.truncateWidth, "truncate-width", 0, "digest truncation width in hex characters (default 64)")
}

// vaultContext bundles the components every subcommand needs once flags and
// the global configuration have been resolved.
type vaultContext struct {
	root    string
	basedir string
	logger  *logging.Logger
	hasher  *hashing.Hasher
	store   *index.Store
	vault   *parity.Vault
	par2    *process.Par2
	locker  *locking.Locker
}

// openVaultContext resolves flags against the global configuration,
// acquires the advisory lock, and opens the index and vault. target is the
// optional positional scan root (defaulting to the current directory); the
// vault base directory defaults to the target itself unless --basedir or the
// global configuration overrides it.
func openVaultContext(command *cobra.Command, f *sharedFlags, target string, needsPar2 bool) (*vaultContext, error) {
	cfg, err := loadGlobalConfig()
	if err != nil {
		return nil, err
	}
	f.applyConfig(cfg, command.Flags())

	root := target
	if root == "" {
		root = "."
	}
	if info, err := os.Stat(root); err != nil {
		return nil, errors.Wrap(err, "unable to read target")
	} else if !info.IsDir() {
		return nil, errors.Errorf("target %q is not a directory", root)
	}

	base := f.basedir
	if base == "" {
		base = root
	}
	vaultDir := filepath.Join(base, ".pardatabase")
	if err := os.MkdirAll(vaultDir, 0755); err != nil {
		return nil, errors.Wrap(err, "unable to create vault base directory")
	}

	algorithm, err := hashing.ParseAlgorithm(f.hashName)
	if err != nil {
		return nil, err
	}

	truncateWidth := f.truncateWidth
	if truncateWidth == 0 {
		truncateWidth = hashing.DefaultTruncateWidth
	}

	logger := logging.RootLogger.Sublogger("pardatabase")

	if f.nice != 0 {
		if err := niceness.Set(f.nice); err != nil {
			logger.Warn(err)
		}
	}

	locker, err := locking.NewLocker(filepath.Join(vaultDir, ".lock"), 0644)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open lock file")
	}
	if err := locker.Lock(false); err != nil {
		locker.Close()
		return nil, errors.Wrap(err, "vault is locked by another process")
	}

	hasher := hashing.NewHasher(algorithm, truncateWidth)

	store, err := index.Open(filepath.Join(vaultDir, "database.zst"), root, index.DefaultBackupLimit, algorithm, truncateWidth, logger)
	if err != nil {
		locker.Unlock()
		locker.Close()
		return nil, err
	}

	vault, err := parity.New(vaultDir, hasher, logger)
	if err != nil {
		locker.Unlock()
		locker.Close()
		return nil, err
	}

	var par2 *process.Par2
	if needsPar2 {
		par2, err = process.NewPar2(nil)
		if err != nil {
			locker.Unlock()
			locker.Close()
			// A missing parity tool exits with exitUsage, not with the
			// operational code the callers' wrapping would select.
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(exitUsage)
		}
	}

	return &vaultContext{
		root:    root,
		basedir: vaultDir,
		logger:  logger,
		hasher:  hasher,
		store:   store,
		vault:   vault,
		par2:    par2,
		locker:  locker,
	}, nil
}

func (c *vaultContext) Close() {
	c.locker.Unlock()
	c.locker.Close()
}

func loadGlobalConfig() (*config.Configuration, error) {
	path, err := config.GlobalConfigurationPath()
	if err != nil {
		return &config.Configuration{}, nil
	}
	return config.Load(path)
}

// walkers constructs the scan-profile and parity-profile Tree Walkers for
// f, rooted at root.
func (f *sharedFlags) walkers(root, vaultDirName string, logger *logging.Logger) (scan, parityWalker *walk.Walker) {
	scanFilters := walk.DefaultFilters()
	scanFilters.MinSize = f.minScanSize
	scanFilters.MaxSize = f.maxScanSize

	parityFilters := walk.DefaultFilters()
	parityFilters.MinSize = f.minSize
	parityFilters.MaxSize = f.maxSize

	return walk.New(root, vaultDirName, scanFilters, logger), walk.New(root, vaultDirName, parityFilters, logger)
}
