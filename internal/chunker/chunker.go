package chunker

import (
	"errors"
	"fmt"
	"io"

	"github.com/quantarax/deltasync/internal/errs"
)

// Chunker splits a stream into consecutive fixed-size blocks. Every block
// is full except possibly the last.
type Chunker struct {
	reader    io.Reader
	chunkSize int
	buffer    []byte
	done      bool
}

// NewChunker creates a new streaming chunker
func NewChunker(r io.Reader, chunkSize int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", errs.ErrInvalidBlockSize, chunkSize)
	}
	return &Chunker{
		reader:    r,
		chunkSize: chunkSize,
		buffer:    make([]byte, chunkSize),
	}, nil
}

// Next returns the next block. The returned slice is reused by the
// following call. io.EOF is returned once the stream is exhausted; an empty
// stream yields io.EOF immediately.
func (c *Chunker) Next() ([]byte, error) {
	if c.done {
		return nil, io.EOF
	}
	n, err := io.ReadFull(c.reader, c.buffer)
	switch {
	case err == nil:
		return c.buffer, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		c.done = true
		return c.buffer[:n], nil
	case errors.Is(err, io.EOF):
		c.done = true
		return nil, io.EOF
	default:
		return nil, err
	}
}

// BlockCount returns the number of blocks a stream of size bytes splits into.
// A non-positive blockSize yields 0.
func BlockCount(size int64, blockSize int) int64 {
	if size <= 0 || blockSize <= 0 {
		return 0
	}
	bs := int64(blockSize)
	return (size + bs - 1) / bs
}

// BlockReader gives random access to the blocks of a base stream.
type BlockReader struct {
	r         io.ReaderAt
	size      int64
	blockSize int
	count     int64
}

func NewBlockReader(r io.ReaderAt, size int64, blockSize int) (*BlockReader, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", errs.ErrInvalidBlockSize, blockSize)
	}
	return &BlockReader{
		r:         r,
		size:      size,
		blockSize: blockSize,
		count:     BlockCount(size, blockSize),
	}, nil
}

// Count is the number of blocks in the base stream.
func (b *BlockReader) Count() int64 {
	return b.count
}

// BlockLength is the length of block index; only the last block may be
// shorter than the block size.
func (b *BlockReader) BlockLength(index int64) int {
	offset := index * int64(b.blockSize)
	if rest := b.size - offset; rest < int64(b.blockSize) {
		return int(rest)
	}
	return b.blockSize
}

// ReadBlock reads block index into buf, growing it if needed, and returns
// the filled slice. An index past the last block is an integrity failure.
func (b *BlockReader) ReadBlock(index int64, buf []byte) ([]byte, error) {
	if index < 0 || index >= b.count {
		return nil, fmt.Errorf("%w: block %d of %d", errs.ErrBlockOutOfRange, index, b.count)
	}

	length := b.BlockLength(index)
	if cap(buf) < length {
		buf = make([]byte, length)
	}
	buf = buf[:length]

	offset := index * int64(b.blockSize)
	n, err := b.r.ReadAt(buf, offset)
	if n == length {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return nil, fmt.Errorf("failed to read block %d at offset %d: %w", index, offset, err)
}
