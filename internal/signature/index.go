// Package signature builds and serializes the block signature index of a
// base stream: every fixed-size block keyed by its weak checksum, with the
// strong hash kept for exact verification.
package signature

import (
	"fmt"
	"iter"

	"github.com/quantarax/deltasync/internal/checksum"
	"github.com/quantarax/deltasync/internal/errs"
)

const endOfChain = -1

type chain struct {
	head, tail int32
}

// BlockedHashSet maps weak checksums to the blocks that produced them.
//
// Blocks sharing a weak checksum form a chain threaded through the next
// arena in insertion order, so lookups yield the earliest block first.
// Strong hashes live in one contiguous arena of Size() bytes per block.
//
// A set is filled once by the signature builder and is read-only after
// that; concurrent readers need no locking.
type BlockedHashSet struct {
	blockSize int
	weak      checksum.Weak
	strong    checksum.Strong
	digestLen int

	chains  map[uint32]chain
	next    []int32
	weaks   []uint32
	strongs []byte

	baseSize int64
	lastLen  int
}

// NewBlockedHashSet returns an empty set for blocks of blockSize bytes.
// capacity is a hint for the expected number of blocks.
func NewBlockedHashSet(blockSize int, weak checksum.Weak, strong checksum.Strong, capacity int) (*BlockedHashSet, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", errs.ErrInvalidBlockSize, blockSize)
	}
	if capacity < 0 {
		capacity = 0
	}
	return &BlockedHashSet{
		blockSize: blockSize,
		weak:      weak,
		strong:    strong,
		digestLen: strong.Size(),
		chains:    make(map[uint32]chain, capacity),
		next:      make([]int32, 0, capacity),
		weaks:     make([]uint32, 0, capacity),
		strongs:   make([]byte, 0, capacity*strong.Size()),
	}, nil
}

// Insert appends the next block and returns its index. length is the
// block's byte length; only the final block may be shorter than the block
// size. Violations are programmer errors and panic.
func (s *BlockedHashSet) Insert(weak uint32, strong []byte, length int) int {
	if len(strong) != s.digestLen {
		panic(fmt.Sprintf("signature: strong hash is %d bytes, want %d", len(strong), s.digestLen))
	}
	if length <= 0 || length > s.blockSize {
		panic(fmt.Sprintf("signature: block length %d outside 1..%d", length, s.blockSize))
	}
	if s.lastLen != 0 && s.lastLen < s.blockSize {
		panic("signature: insert after a short final block")
	}

	index := int32(len(s.weaks))
	s.weaks = append(s.weaks, weak)
	s.strongs = append(s.strongs, strong...)
	s.next = append(s.next, endOfChain)

	if c, ok := s.chains[weak]; ok {
		s.next[c.tail] = index
		c.tail = index
		s.chains[weak] = c
	} else {
		s.chains[weak] = chain{head: index, tail: index}
	}

	s.baseSize += int64(length)
	s.lastLen = length
	return int(index)
}

// Candidates yields, in insertion order, every block whose weak checksum
// equals weak. Strong hashes are not checked.
func (s *BlockedHashSet) Candidates(weak uint32) iter.Seq[int] {
	return func(yield func(int) bool) {
		c, ok := s.chains[weak]
		if !ok {
			return
		}
		for i := c.head; i != endOfChain; i = s.next[i] {
			if !yield(int(i)) {
				return
			}
		}
	}
}

func (s *BlockedHashSet) checkIndex(index int) {
	if index < 0 || index >= len(s.weaks) {
		panic(fmt.Errorf("%w: block %d of %d", errs.ErrBlockIndexRange, index, len(s.weaks)))
	}
}

// StrongHash returns the strong hash of block index. The slice aliases the
// arena and must not be modified. An out of range index panics.
func (s *BlockedHashSet) StrongHash(index int) []byte {
	s.checkIndex(index)
	off := index * s.digestLen
	return s.strongs[off : off+s.digestLen : off+s.digestLen]
}

// BlockLength returns the byte length of block index.
func (s *BlockedHashSet) BlockLength(index int) int {
	s.checkIndex(index)
	if index == len(s.weaks)-1 {
		return s.lastLen
	}
	return s.blockSize
}

// Len is the number of blocks.
func (s *BlockedHashSet) Len() int { return len(s.weaks) }

// BlockSize is the nominal block length.
func (s *BlockedHashSet) BlockSize() int { return s.blockSize }

// BaseSize is the total length of the indexed base stream.
func (s *BlockedHashSet) BaseSize() int64 { return s.baseSize }

// Weak returns the weak provider the set was built with.
func (s *BlockedHashSet) Weak() checksum.Weak { return s.weak }

// Strong returns the strong provider the set was built with.
func (s *BlockedHashSet) Strong() checksum.Strong { return s.strong }

// Chains reports the number of distinct weak checksums.
func (s *BlockedHashSet) Chains() int { return len(s.chains) }
