// Package hashing computes streaming content hashes for duplicate detection.
package hashing

import (
	"errors"
	"fmt"
	"hash"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/minio/sha256-simd"
	"github.com/zeebo/blake3"
)

var ErrUnknownAlgorithm = errors.New("unknown hash algorithm")

// Algorithm identifies a content hash. The identifier is persisted with the
// scan cache, so cached hashes are only reused by scans using the same one.
type Algorithm string

const (
	Blake3 Algorithm = "blake3"
	XXHash Algorithm = "xxhash"
	SHA256 Algorithm = "sha256"

	DefaultAlgorithm = Blake3
)

// Algorithms lists the supported identifiers.
func Algorithms() []Algorithm {
	return []Algorithm{Blake3, XXHash, SHA256}
}

func ParseAlgorithm(s string) (Algorithm, error) {
	if s == "" {
		return DefaultAlgorithm, nil
	}
	alg := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	if _, err := alg.New(); err != nil {
		return "", err
	}
	return alg, nil
}

func (a Algorithm) New() (hash.Hash, error) {
	switch a {
	case Blake3:
		return blake3.New(), nil
	case XXHash:
		return xxhash.New(), nil
	case SHA256:
		return sha256.New(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, string(a))
}

func (a Algorithm) String() string {
	return string(a)
}
