package signature

import (
	"fmt"
	"io"

	"github.com/quantarax/deltasync/internal/checksum"
	"github.com/quantarax/deltasync/internal/chunker"
)

// Build reads base block by block and returns its signature set. An empty
// stream yields an empty set. sizeHint, when positive, presizes the set.
func Build(base io.Reader, blockSize int, weak checksum.Weak, strong checksum.Strong, sizeHint int64) (*BlockedHashSet, error) {
	c, err := chunker.NewChunker(base, blockSize)
	if err != nil {
		return nil, err
	}

	set, err := NewBlockedHashSet(blockSize, weak, strong, int(chunker.BlockCount(sizeHint, blockSize)))
	if err != nil {
		return nil, err
	}

	hasher := strong.New()
	digest := make([]byte, 0, strong.Size())
	for i := 0; ; i++ {
		block, err := c.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read block %d: %w", i, err)
		}

		hasher.Reset()
		hasher.Write(block)
		digest = hasher.Sum(digest[:0])

		set.Insert(weak.Checksum(block), digest, len(block))
	}

	return set, nil
}
