package chunker

import (
	"github.com/zeebo/blake3"
)

// ComputeMerkleRoot computes the BLAKE3 Merkle root over block hashes.
// An odd node at any level is paired with itself. No hashes yield nil.
func ComputeMerkleRoot(blockHashes [][]byte) []byte {
	if len(blockHashes) == 0 {
		return nil
	}

	hashes := blockHashes
	for len(hashes) > 1 {
		nextLevel := make([][]byte, 0, (len(hashes)+1)/2)

		for i := 0; i < len(hashes); i += 2 {
			right := hashes[i]
			if i+1 < len(hashes) {
				right = hashes[i+1]
			}

			hasher := blake3.New()
			hasher.Write(hashes[i])
			hasher.Write(right)
			nextLevel = append(nextLevel, hasher.Sum(nil))
		}

		hashes = nextLevel
	}

	// a single leaf is its own root
	root := make([]byte, len(hashes[0]))
	copy(root, hashes[0])
	return root
}
