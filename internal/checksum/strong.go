package checksum

import (
	"crypto/sha256"
	"hash"

	"github.com/zeebo/blake3"
)

const (
	// Blake3ID identifies 256-bit BLAKE3.
	Blake3ID = "blake3"
	// SHA256ID identifies SHA-256.
	SHA256ID = "sha256"
)

func init() {
	RegisterStrong(Blake3{})
	RegisterStrong(SHA256{})
}

// Strong is a collision resistant hash. Equal digests over equal-length
// blocks are taken to mean equal content.
type Strong interface {
	ID() string
	// Size is the digest length in bytes.
	Size() int
	New() hash.Hash
}

// Sum hashes p with s.
func Sum(s Strong, p []byte) []byte {
	h := s.New()
	h.Write(p)
	return h.Sum(nil)
}

// Blake3 is the default strong hash.
type Blake3 struct{}

var _ Strong = Blake3{}

func (Blake3) ID() string     { return Blake3ID }
func (Blake3) Size() int      { return 32 }
func (Blake3) New() hash.Hash { return blake3.New() }

// SHA256 is provided for interoperability with peers that cannot use BLAKE3.
type SHA256 struct{}

var _ Strong = SHA256{}

func (SHA256) ID() string     { return SHA256ID }
func (SHA256) Size() int      { return sha256.Size }
func (SHA256) New() hash.Hash { return sha256.New() }
