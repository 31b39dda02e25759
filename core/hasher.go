package core

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"errors"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// HashAlgorithm names the one-way function used to derive a credential digest.
type HashAlgorithm string

const (
	AlgorithmPBKDF2SHA256 HashAlgorithm = "pbkdf2-sha256"
	AlgorithmPBKDF2SHA512 HashAlgorithm = "pbkdf2-sha512"
	DefaultHashAlgorithm  HashAlgorithm = AlgorithmPBKDF2SHA256
)

const (
	DefaultHashIterations = 1024
	DefaultSaltLength     = 32
	DefaultDigestLength   = 32
)

var hashFunctions = map[HashAlgorithm]func() hash.Hash{
	AlgorithmPBKDF2SHA256: sha256.New,
	AlgorithmPBKDF2SHA512: sha512.New,
}

var (
	// ErrUnknownHashAlgorithm is wrapped by HashingError when the configured algorithm is not supported.
	ErrUnknownHashAlgorithm = errors.New("unknown hash algorithm")
)

// HashingError reports that a secret could not be hashed. It always aborts the login attempt.
type HashingError struct {
	Op  string
	Err error
}

func (e *HashingError) Error() string {
	return fmt.Sprintf("hashing %s: %v", e.Op, e.Err)
}

func (e *HashingError) Unwrap() error {
	return e.Err
}

// SaltedHash is a stored credential. The algorithm tag and iteration count travel
// with the digest so that hashes from an older configuration keep verifying.
type SaltedHash struct {
	Algorithm  HashAlgorithm `json:"algorithm"`
	Iterations int           `json:"iterations"`
	Digest     []byte        `json:"digest"`
	Salt       []byte        `json:"salt"`
}

func (s SaltedHash) clone() SaltedHash {
	out := s
	out.Digest = append([]byte(nil), s.Digest...)
	out.Salt = append([]byte(nil), s.Salt...)
	return out
}

// Hasher turns a raw secret into a SaltedHash.
type Hasher interface {
	Hash(secret []byte) (SaltedHash, error)
}

// CredentialHasher can also check a candidate secret against a stored hash and
// tell whether that hash was produced under an outdated configuration.
type CredentialHasher interface {
	Hasher
	Verify(candidate []byte, stored SaltedHash) bool
	NeedsRehash(stored SaltedHash) bool
}

// HasherConfig selects algorithm and sizes. Zero values fall back to the defaults.
type HasherConfig struct {
	Algorithm    HashAlgorithm
	Iterations   int
	SaltLength   int
	DigestLength int

	// Random is the salt source; crypto/rand when nil.
	Random io.Reader
}

// SecureHasher derives salted PBKDF2 digests. It is safe for concurrent use.
type SecureHasher struct {
	algorithm    HashAlgorithm
	newHash      func() hash.Hash
	iterations   int
	saltLength   int
	digestLength int
	random       io.Reader
}

// NewSecureHasher validates cfg and returns a hasher.
func NewSecureHasher(cfg HasherConfig) (*SecureHasher, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = DefaultHashAlgorithm
	}
	fn, ok := hashFunctions[cfg.Algorithm]
	if !ok {
		return nil, &HashingError{Op: "configure", Err: fmt.Errorf("%w: %s", ErrUnknownHashAlgorithm, cfg.Algorithm)}
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = DefaultHashIterations
	}
	if cfg.SaltLength <= 0 {
		cfg.SaltLength = DefaultSaltLength
	}
	if cfg.DigestLength <= 0 {
		cfg.DigestLength = DefaultDigestLength
	}
	if cfg.Random == nil {
		cfg.Random = rand.Reader
	}
	return &SecureHasher{
		algorithm:    cfg.Algorithm,
		newHash:      fn,
		iterations:   cfg.Iterations,
		saltLength:   cfg.SaltLength,
		digestLength: cfg.DigestLength,
		random:       cfg.Random,
	}, nil
}

// Algorithm returns the algorithm new hashes are produced with.
func (h *SecureHasher) Algorithm() HashAlgorithm {
	return h.algorithm
}

// Hash generates a fresh salt and derives the digest of secret.
func (h *SecureHasher) Hash(secret []byte) (SaltedHash, error) {
	salt := make([]byte, h.saltLength)
	if _, err := io.ReadFull(h.random, salt); err != nil {
		return SaltedHash{}, &HashingError{Op: "read salt", Err: err}
	}
	return SaltedHash{
		Algorithm:  h.algorithm,
		Iterations: h.iterations,
		Digest:     pbkdf2.Key(secret, salt, h.iterations, h.digestLength, h.newHash),
		Salt:       salt,
	}, nil
}

// Verify recomputes the digest of candidate with the stored salt, algorithm and
// iteration count and compares in constant time.
func (h *SecureHasher) Verify(candidate []byte, stored SaltedHash) bool {
	fn, ok := hashFunctions[stored.Algorithm]
	if !ok || stored.Iterations <= 0 || len(stored.Digest) == 0 || len(stored.Salt) == 0 {
		return false
	}
	digest := pbkdf2.Key(candidate, stored.Salt, stored.Iterations, len(stored.Digest), fn)
	return subtle.ConstantTimeCompare(digest, stored.Digest) == 1
}

// NeedsRehash reports whether stored was produced with a different configuration.
func (h *SecureHasher) NeedsRehash(stored SaltedHash) bool {
	return stored.Algorithm != h.algorithm ||
		stored.Iterations != h.iterations ||
		len(stored.Digest) != h.digestLength ||
		len(stored.Salt) != h.saltLength
}
