package signature

import (
	"bytes"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/quantarax/deltasync/internal/checksum"
	"github.com/quantarax/deltasync/internal/chunker"
	"github.com/quantarax/deltasync/internal/errs"
)

// FileVersion is the current signature file format version.
const FileVersion = 1

// File is the portable form of a BlockedHashSet: everything a remote
// delta builder needs, and nothing of the base content itself.
type File struct {
	Version         int    `json:"version"`
	BlockSize       int    `json:"block_size"`
	WeakAlgorithm   string `json:"weak_algorithm"`
	StrongAlgorithm string `json:"strong_algorithm"`
	BaseSize        int64  `json:"base_size"`

	// Weak holds one checksum per block in block order.
	Weak []uint32 `json:"weak"`

	// Strong is the concatenation of every block's strong hash.
	Strong []byte `json:"strong"`

	// MerkleRoot is the BLAKE3 Merkle root over the strong hashes.
	MerkleRoot []byte `json:"merkle_root"`
}

var cborEncMode cbor.EncMode

var cborDecMode cbor.DecMode

func init() {
	var err error
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("signature: CBOR encoder initialization failed: " + err.Error())
	}

	cborDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("signature: CBOR decoder initialization failed: " + err.Error())
	}
}

func (s *BlockedHashSet) hashes() [][]byte {
	out := make([][]byte, s.Len())
	for i := range out {
		out[i] = s.StrongHash(i)
	}
	return out
}

// Root returns the Merkle root over the set's strong hashes.
func (s *BlockedHashSet) Root() []byte {
	return chunker.ComputeMerkleRoot(s.hashes())
}

// File captures the set in its portable form.
func (s *BlockedHashSet) File() *File {
	return &File{
		Version:         FileVersion,
		BlockSize:       s.blockSize,
		WeakAlgorithm:   s.weak.ID(),
		StrongAlgorithm: s.strong.ID(),
		BaseSize:        s.baseSize,
		Weak:            append([]uint32(nil), s.weaks...),
		Strong:          append([]byte(nil), s.strongs...),
		MerkleRoot:      s.Root(),
	}
}

// Index validates f and rebuilds the BlockedHashSet by inserting its
// blocks in order.
func (f *File) Index() (*BlockedHashSet, error) {
	if f.Version != FileVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", errs.ErrMalformedSig, f.Version, FileVersion)
	}
	if f.BlockSize <= 0 {
		return nil, fmt.Errorf("%w: block size %d", errs.ErrMalformedSig, f.BlockSize)
	}
	if f.BaseSize < 0 {
		return nil, fmt.Errorf("%w: base size %d", errs.ErrMalformedSig, f.BaseSize)
	}

	weak, err := checksum.LookupWeak(f.WeakAlgorithm)
	if err != nil {
		return nil, err
	}
	strong, err := checksum.LookupStrong(f.StrongAlgorithm)
	if err != nil {
		return nil, err
	}

	count := chunker.BlockCount(f.BaseSize, f.BlockSize)
	if int64(len(f.Weak)) != count {
		return nil, fmt.Errorf("%w: %d weak checksums for %d blocks", errs.ErrMalformedSig, len(f.Weak), count)
	}
	if len(f.Strong) != len(f.Weak)*strong.Size() {
		return nil, fmt.Errorf("%w: strong hash arena is %d bytes, want %d",
			errs.ErrMalformedSig, len(f.Strong), len(f.Weak)*strong.Size())
	}

	set, err := NewBlockedHashSet(f.BlockSize, weak, strong, len(f.Weak))
	if err != nil {
		return nil, err
	}

	size := strong.Size()
	remaining := f.BaseSize
	for i, w := range f.Weak {
		length := int64(f.BlockSize)
		if remaining < length {
			length = remaining
		}
		set.Insert(w, f.Strong[i*size:(i+1)*size], int(length))
		remaining -= length
	}

	if root := set.Root(); !bytes.Equal(root, f.MerkleRoot) {
		return nil, fmt.Errorf("%w: merkle root mismatch", errs.ErrMalformedSig)
	}

	return set, nil
}

// Marshal encodes the set as a CBOR signature file using Core
// Deterministic Encoding.
func Marshal(s *BlockedHashSet) ([]byte, error) {
	data, err := cborEncMode.Marshal(s.File())
	if err != nil {
		return nil, fmt.Errorf("encoding signature file: %w", err)
	}
	return data, nil
}

// Unmarshal decodes and validates a CBOR signature file.
func Unmarshal(data []byte) (*BlockedHashSet, error) {
	var f File
	if err := cborDecMode.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: decoding signature file: %v", errs.ErrMalformedSig, err)
	}
	return f.Index()
}

// Write encodes the set to w.
func Write(w io.Writer, s *BlockedHashSet) error {
	if err := cborEncMode.NewEncoder(w).Encode(s.File()); err != nil {
		return fmt.Errorf("encoding signature file: %w", err)
	}
	return nil
}

// Read decodes and validates one signature file from r.
func Read(r io.Reader) (*BlockedHashSet, error) {
	var f File
	if err := cborDecMode.NewDecoder(r).Decode(&f); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: empty signature file", errs.ErrMalformedSig)
		}
		return nil, fmt.Errorf("%w: decoding signature file: %v", errs.ErrMalformedSig, err)
	}
	return f.Index()
}
