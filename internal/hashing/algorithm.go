// Package hashing provides the vault's streaming digest support: the
// algorithm registry and the length-tolerant comparator used throughout the
// vault.
package hashing

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"github.com/cespare/xxhash/v2"
)

// Algorithm identifies one of the digest families the vault can use.
type Algorithm int

const (
	// AlgorithmDefault resolves to AlgorithmSHA512.
	AlgorithmDefault Algorithm = iota
	// AlgorithmSHA1 selects SHA-1.
	AlgorithmSHA1
	// AlgorithmSHA256 selects SHA-256.
	AlgorithmSHA256
	// AlgorithmSHA512 selects SHA-512, the documented fallback.
	AlgorithmSHA512
	// AlgorithmXXH64 selects the fast, non-cryptographic xxHash64 algorithm,
	// useful when bit-rot detection (not adversarial tamper-resistance) is
	// the only goal.
	AlgorithmXXH64
)

// resolved returns the concrete algorithm that AlgorithmDefault stands for.
func (a Algorithm) resolved() Algorithm {
	if a == AlgorithmDefault {
		return AlgorithmSHA512
	}
	return a
}

// Name returns the canonical lowercase name for the algorithm, used in the
// index's persisted metadata and on the CLI.
func (a Algorithm) Name() string {
	switch a.resolved() {
	case AlgorithmSHA1:
		return "sha1"
	case AlgorithmSHA256:
		return "sha256"
	case AlgorithmSHA512:
		return "sha512"
	case AlgorithmXXH64:
		return "xxh64"
	default:
		return "unknown"
	}
}

// ParseAlgorithm converts a name to an Algorithm, returning an error listing
// the valid choices if name isn't recognized.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "", "sha512":
		return AlgorithmSHA512, nil
	case "sha1":
		return AlgorithmSHA1, nil
	case "sha256":
		return AlgorithmSHA256, nil
	case "xxh64":
		return AlgorithmXXH64, nil
	default:
		return 0, fmt.Errorf("unknown hash algorithm %q, available: sha1, sha256, sha512, xxh64", name)
	}
}

// Factory returns a constructor for the algorithm's hash.Hash implementation.
func (a Algorithm) Factory() func() hash.Hash {
	switch a.resolved() {
	case AlgorithmSHA1:
		return sha1.New
	case AlgorithmSHA256:
		return sha256.New
	case AlgorithmSHA512:
		return sha512.New
	case AlgorithmXXH64:
		return func() hash.Hash { return xxhash.New() }
	default:
		panic("unresolved hashing algorithm")
	}
}
