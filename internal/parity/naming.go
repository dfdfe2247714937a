package parity

import (
	"fmt"
	"strings"
)

// shardDirs is the list of the 256 shard directory names, "00".."FF".
var shardDirs = func() []string {
	dirs := make([]string, 256)
	for i := range dirs {
		dirs[i] = fmt.Sprintf("%02X", i)
	}
	return dirs
}()

// ShardDirs returns the fixed list of 256 uppercase hex shard directory
// names that the vault pre-creates on first use.
func ShardDirs() []string {
	return shardDirs
}

// ArtifactName computes the artifact path within the vault's par2 directory
// for file digest fileDigest and suffix suffix (e.g. ".0.par2"). The name
// always begins with the uppercase first-byte shard and the next 32 hex
// characters of the digest, and ends in suffix.
func ArtifactName(fileDigest, suffix string) (string, error) {
	if len(fileDigest) < 34 {
		return "", fmt.Errorf("digest %q too short to shard", fileDigest)
	}
	shard := strings.ToUpper(fileDigest[:2])
	return shard + "/" + fileDigest[2:34] + suffix, nil
}
