// Package fingerprint maps canonical content to a fixed-width digest.
//
// Digests are change detectors, not security primitives: inputs are not
// attacker controlled, so md5 is accepted for compatibility with existing
// baselines. The default is sha256.
package fingerprint

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/hazyhaar/pagewatch/extract"
)

// ErrUnknownAlgorithm is returned by ParseAlgorithm for unsupported names.
var ErrUnknownAlgorithm = errors.New("fingerprint: unknown algorithm")

// ErrMalformed is returned by ParseDigest when the hex value is not a valid
// digest for the algorithm.
var ErrMalformed = errors.New("fingerprint: malformed digest")

// Algorithm names a hash function.
type Algorithm string

const (
	SHA256  Algorithm = "sha256"
	BLAKE2b Algorithm = "blake2b" // blake2b-256
	MD5     Algorithm = "md5"     // 128 bits; matches hashlib.md5 hex baselines
)

// Default is used by Fingerprint.
const Default = SHA256

// ParseAlgorithm validates a configured algorithm name. Empty means Default.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(name))); a {
	case "":
		return Default, nil
	case SHA256, BLAKE2b, MD5:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
}

// Size returns the digest width in bytes.
func (a Algorithm) Size() int {
	switch a {
	case MD5:
		return md5.Size
	case BLAKE2b:
		return blake2b.Size256
	default:
		return sha256.Size
	}
}

// Digest is a content fingerprint.
type Digest struct {
	Algorithm Algorithm
	Sum       []byte
}

// Hex returns the lowercase hexadecimal encoding of the sum.
func (d Digest) Hex() string { return hex.EncodeToString(d.Sum) }

// String is Hex.
func (d Digest) String() string { return d.Hex() }

// Equal compares sums. Digests of different algorithms are never equal.
func (d Digest) Equal(o Digest) bool {
	return d.Algorithm == o.Algorithm && bytes.Equal(d.Sum, o.Sum)
}

// Bytes returns the canonical byte encoding of c: UTF-8 items joined by a
// single newline, no trailing newline.
func Bytes(c extract.Content) []byte {
	return []byte(c.String())
}

// Fingerprint digests c with the Default algorithm.
func Fingerprint(c extract.Content) Digest {
	return Default.Sum(c)
}

// Sum digests c with a.
func (a Algorithm) Sum(c extract.Content) Digest {
	return a.SumBytes(Bytes(c))
}

// SumBytes digests raw bytes with a.
func (a Algorithm) SumBytes(b []byte) Digest {
	switch a {
	case MD5:
		s := md5.Sum(b)
		return Digest{Algorithm: MD5, Sum: s[:]}
	case BLAKE2b:
		s := blake2b.Sum256(b)
		return Digest{Algorithm: BLAKE2b, Sum: s[:]}
	default:
		s := sha256.Sum256(b)
		return Digest{Algorithm: SHA256, Sum: s[:]}
	}
}

// ParseDigest decodes a persisted hex digest for algorithm a.
func ParseDigest(a Algorithm, h string) (Digest, error) {
	h = strings.ToLower(strings.TrimSpace(h))
	sum, err := hex.DecodeString(h)
	if err != nil {
		return Digest{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(sum) != a.Size() {
		return Digest{}, fmt.Errorf("%w: %d bytes, %s needs %d", ErrMalformed, len(sum), a, a.Size())
	}
	return Digest{Algorithm: a, Sum: sum}, nil
}
