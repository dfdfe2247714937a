// Package index implements the vault's persistent index: a single logical
// file with N rotating backups, holding the path→FileRecord map, the
// digest→VaultEntry map, and a meta header, persisted as zstd-compressed
// JSON behind a tamper-evident checksum header line.
package index

// Meta is the index's persisted header.
type Meta struct {
	// Version is the on-disk schema version, used to drive the migration
	// ladder on load.
	Version string `json:"version"`
	// LastSaveTime is the Unix timestamp, in floating-point seconds, of the
	// save that produced this file.
	LastSaveTime float64 `json:"last_save_time"`
	// HashAlgorithmName is the canonical name of the hashing algorithm in
	// use when this index was last saved (internal/hashing.Algorithm.Name).
	HashAlgorithmName string `json:"hash_algorithm_name"`
	// TruncateWidth is the hex digest width in use when this index was last
	// saved.
	TruncateWidth int `json:"truncate_width"`
	// Encoding is always "hex", recorded for forward compatibility with a
	// possible future binary encoding.
	Encoding string `json:"encoding"`
}

// currentVersion is the newest schema version this build writes.
const currentVersion = "1.2"

// knownVersions is the monotonic migration ladder. Versions not in this
// list are refused.
var knownVersions = map[string]int{
	"1.0": 0,
	"1.1": 1,
	"1.2": 2,
}
