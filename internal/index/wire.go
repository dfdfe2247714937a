package index

import (
	"bytes"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/pardatabase/pardatabase/internal/parity"
	"github.com/pardatabase/pardatabase/internal/record"
)

// wireIndex is the on-disk shape of the index's payload: a JSON triple of
// meta, records, and vault.
type wireIndex struct {
	Meta    Meta                         `json:"meta"`
	Records map[string]*record.FileRecord `json:"records"`
	Vault   map[string]*parity.Entry     `json:"vault"`
}

// magic identifies the file format, written as a plaintext line ahead of the
// checksum and compressed payload so a human (or `file`) can recognize it.
const magic = "PARDATABASE-INDEX-1"

// marshal serialises idx to its on-disk representation: a magic line, a
// checksum line (sha512 of the uncompressed JSON, truncated to
// truncateWidth hex characters), and the zstd-compressed JSON payload. The
// checksum makes any tampering with the data content detectable on load.
func marshal(idx *wireIndex, truncateWidth int) ([]byte, error) {
	payload, err := json.Marshal(idx)
	if err != nil {
		return nil, errors.Wrap(err, "unable to encode index")
	}

	sum := sha512.Sum512(payload)
	checksum := hex.EncodeToString(sum[:])
	if truncateWidth > 0 && truncateWidth < len(checksum) {
		checksum = checksum[:truncateWidth]
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.Wrap(err, "unable to construct compressor")
	}
	compressed := encoder.EncodeAll(payload, nil)
	encoder.Close()

	var out bytes.Buffer
	out.WriteString(magic)
	out.WriteByte('\n')
	out.WriteString("#CHECKSUM:" + checksum)
	out.WriteByte('\n')
	out.Write(compressed)
	return out.Bytes(), nil
}

// unmarshal parses the on-disk representation written by marshal, verifying
// the checksum trailer before returning the decoded index.
func unmarshal(data []byte) (*wireIndex, error) {
	header, rest, ok := cutLine(data)
	if !ok || header != magic {
		return nil, fmt.Errorf("unrecognized index file format")
	}

	checksumLine, rest, ok := cutLine(rest)
	if !ok || !strings.HasPrefix(checksumLine, "#CHECKSUM:") {
		return nil, fmt.Errorf("missing checksum header")
	}
	wantChecksum := strings.TrimPrefix(checksumLine, "#CHECKSUM:")

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "unable to construct decompressor")
	}
	defer decoder.Close()

	payload, err := decoder.DecodeAll(rest, nil)
	if err != nil {
		return nil, errors.Wrap(err, "unable to decompress index")
	}

	sum := sha512.Sum512(payload)
	gotChecksum := hex.EncodeToString(sum[:])
	if len(wantChecksum) > len(gotChecksum) {
		return nil, fmt.Errorf("checksum mismatch: stored checksum longer than computed digest")
	}
	if gotChecksum[:len(wantChecksum)] != wantChecksum {
		return nil, fmt.Errorf("checksum mismatch: index file is corrupt")
	}

	var idx wireIndex
	if err := json.Unmarshal(payload, &idx); err != nil {
		return nil, errors.Wrap(err, "unable to decode index")
	}
	return &idx, nil
}

func cutLine(data []byte) (line string, rest []byte, ok bool) {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return "", nil, false
	}
	return string(data[:i]), data[i+1:], true
}

// migrate applies the version ladder in memory. root is the scan root,
// needed by the 1.0→1.1 step that rewrites absolute paths to root-relative
// ones. A version missing from knownVersions is returned as an error;
// Store.load then discards that candidate like any other unreadable one and
// moves on to the next, so an index from a newer build does not stop Open.
func migrate(idx *wireIndex, root string) error {
	rank := 0
	if idx.Meta.Version != "" {
		r, known := knownVersions[idx.Meta.Version]
		if !known {
			return fmt.Errorf("index file has unknown version %q", idx.Meta.Version)
		}
		rank = r
	}

	if rank <= knownVersions["1.0"] {
		migrateAbsoluteToRelative(idx, root)
		idx.Meta.Version = "1.1"
		rank = knownVersions["1.1"]
	}

	if rank <= knownVersions["1.1"] {
		if idx.Meta.TruncateWidth == 0 {
			idx.Meta.TruncateWidth = 64
		}
		if idx.Meta.Encoding == "" {
			idx.Meta.Encoding = "hex"
		}
		idx.Meta.Version = "1.2"
	}

	return nil
}

// migrateAbsoluteToRelative rewrites any FileRecord whose Path is absolute
// (a layout produced by pre-1.1 stores) into a path relative to root,
// renaming its map key to match.
func migrateAbsoluteToRelative(idx *wireIndex, root string) {
	if idx.Records == nil {
		return
	}
	rewritten := make(map[string]*record.FileRecord, len(idx.Records))
	for _, rec := range idx.Records {
		path := rec.Path
		if filepath.IsAbs(path) {
			if rel, err := filepath.Rel(root, path); err == nil {
				path = filepath.ToSlash(rel)
			}
		}
		rec.Path = path
		rewritten[path] = rec
	}
	idx.Records = rewritten
}
